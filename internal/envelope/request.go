package envelope

import "encoding/json"

// RequestInfo is what the registry needs from an inbound envelope. The
// body is inspected loosely: a payload that fails schema validation is
// still answered, so nothing here assumes a well-formed envelope.
type RequestInfo struct {
	Action        string
	SenderID      string
	SenderURI     string
	ReceiverID    string
	MessageID     string
	TransactionID string
	HasHeader     bool
	HasMessage    bool
}

// Inspect extracts RequestInfo from a decoded JSON body.
func Inspect(body any) RequestInfo {
	root, _ := body.(map[string]any)
	header, _ := root["header"].(map[string]any)
	message, _ := root["message"].(map[string]any)
	return RequestInfo{
		Action:        stringField(header, "action"),
		SenderID:      stringField(header, "sender_id"),
		SenderURI:     stringField(header, "sender_uri"),
		ReceiverID:    stringField(header, "receiver_id"),
		MessageID:     stringField(header, "message_id"),
		TransactionID: stringField(message, "transaction_id"),
		HasHeader:     Truthy(root["header"]),
		HasMessage:    Truthy(root["message"]),
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Truthy applies JSON-ish truthiness: null, false, "" and zero are false,
// everything else (including empty objects and arrays) is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
