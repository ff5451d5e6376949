package envelope

import "errors"

// ErrorFormat names the shape an HTTP error response body was recognised as.
type ErrorFormat string

const (
	ErrorFormatEnvelope ErrorFormat = "dci-envelope"
	ErrorFormatProblem  ErrorFormat = "problem-details"
	ErrorFormatSimple   ErrorFormat = "simple"
)

var (
	ErrNotAnObject        = errors.New("error response body must be an object")
	ErrUnknownErrorFormat = errors.New("error response does not match a known error format")
)

// ClassifyErrorBody recognises the error shapes a registry may use, in
// priority order: a DCI ERR envelope, RFC 7807 problem details, then a
// plain {error|code|message} object.
func ClassifyErrorBody(body any) (ErrorFormat, error) {
	root, ok := body.(map[string]any)
	if !ok {
		return "", ErrNotAnObject
	}
	if msg, ok := root["message"].(map[string]any); ok {
		if Truthy(msg["error"]) || msg["ack_status"] == AckStatusERR {
			return ErrorFormatEnvelope, nil
		}
	}
	for _, key := range []string{"type", "title", "status", "detail"} {
		if Truthy(root[key]) {
			return ErrorFormatProblem, nil
		}
	}
	for _, key := range []string{"error", "code", "message"} {
		if Truthy(root[key]) {
			return ErrorFormatSimple, nil
		}
	}
	return "", ErrUnknownErrorFormat
}
