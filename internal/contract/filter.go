package contract

import (
	"strings"

	"github.com/spdci/registry-mock/internal/envelope"
)

// The SPDCI search contract declares query as a oneOf of id/type-value,
// expression and predicate shapes whose schemas overlap, so a correct
// payload can match several branches (or, through the message-level
// oneOf with EncryptedMessage, none). When every query in the request is
// shaped the way its query_type says, those oneOf failures and the
// encrypted-message required failures they cascade into are dropped.
// Anything else is left in place so genuine defects stay visible.

// encryptedMessageFields are the required properties of EncryptedMessage.
var encryptedMessageFields = map[string]bool{
	"header":        true,
	"ciphertext":    true,
	"encrypted_key": true,
	"tag":           true,
	"iv":            true,
}

func filterAmbiguousQuery(body any, errs []ValidationError) []ValidationError {
	if len(errs) == 0 || !queryMatchesDiscriminator(body) {
		return errs
	}
	kept := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		if isAmbiguityArtifact(e) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func isAmbiguityArtifact(e ValidationError) bool {
	switch {
	case e.Keyword == "oneOf" && strings.Contains(e.Path, "/query"):
		return true
	case e.Keyword == "oneOf" && e.Path == "/message":
		return true
	case e.Keyword == "required" && e.Path == "/message":
		missing, _ := e.Params["missingProperty"].(string)
		return encryptedMessageFields[missing]
	}
	return false
}

// queryMatchesDiscriminator reports whether any search criteria in the
// request carries a query structurally valid for its query_type.
func queryMatchesDiscriminator(body any) bool {
	root, _ := body.(map[string]any)
	message, _ := root["message"].(map[string]any)
	requests, _ := message["search_request"].([]any)
	for _, item := range requests {
		req, _ := item.(map[string]any)
		criteria, ok := req["search_criteria"].(map[string]any)
		if !ok {
			continue
		}
		queryType, _ := criteria["query_type"].(string)
		if queryShapeValid(queryType, criteria["query"]) {
			return true
		}
	}
	return false
}

func queryShapeValid(queryType string, query any) bool {
	switch queryType {
	case "idtype-value":
		q, ok := query.(map[string]any)
		if !ok {
			return false
		}
		_, hasValue := q["value"]
		return envelope.Truthy(q["type"]) && hasValue
	case "expression":
		q, ok := query.(map[string]any)
		return ok && envelope.Truthy(q["type"]) && envelope.Truthy(q["value"])
	case "predicate":
		_, ok := query.([]any)
		return ok
	}
	return false
}
