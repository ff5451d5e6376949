package contract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const jsonMediaType = "application/json"

// maxRefHops bounds $ref chains on request bodies and responses.
const maxRefHops = 8

type pointer []string

func (p pointer) child(tokens ...string) pointer {
	out := make(pointer, 0, len(p)+len(tokens))
	out = append(out, p...)
	return append(out, tokens...)
}

// String renders p as a JSON pointer, e.g. /paths/~1registry~1search.
func (p pointer) String() string {
	var b strings.Builder
	for _, token := range p {
		b.WriteByte('/')
		b.WriteString(escapeToken(token))
	}
	return b.String()
}

func escapeToken(token string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(token)
}

func unescapeToken(token string) string {
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(token)
}

func parseLocalRef(ref string) (pointer, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, false
	}
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	out := make(pointer, len(parts))
	for i, part := range parts {
		out[i] = unescapeToken(part)
	}
	return out, true
}

func lookup(doc any, p pointer) (any, bool) {
	node := doc
	for _, token := range p {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[token]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// resolvePath maps a request path onto a contract path: exact match, else
// the longest contract path the request path ends with.
func resolvePath(paths []string, requested string) (string, bool) {
	requested = normalizePath(requested)
	candidates := make([]string, 0, 1)
	for _, p := range paths {
		if p == requested {
			return p, true
		}
		if strings.HasSuffix(requested, p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})
	return candidates[0], true
}

// target identifies one schema lookup; it is also the compile cache key.
type target struct {
	direction Direction
	method    string
	path      string
	status    string
}

func (t target) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", t.direction, t.method, t.path, t.status)
}

func (v *Validator) resolutionError(direction Direction, method, path, status string, err error) error {
	return &ResolutionError{Direction: direction, Method: strings.ToUpper(method), Path: path, Status: status, Err: err}
}

// schemaPointer locates the JSON schema for t inside the contract document.
func (v *Validator) schemaPointer(t target) (pointer, error) {
	opPtr := pointer{"paths", t.path, t.method}
	op, ok := lookup(v.doc, opPtr)
	if !ok {
		return nil, v.resolutionError(t.direction, t.method, t.path, t.status, ErrUnknownOperation)
	}

	var holder pointer
	switch t.direction {
	case DirectionRequest:
		holder = opPtr.child("requestBody")
	default:
		opMap, _ := op.(map[string]any)
		responses, _ := opMap["responses"].(map[string]any)
		if _, ok := responses[t.status]; ok {
			holder = opPtr.child("responses", t.status)
		} else if _, ok := responses["default"]; ok {
			holder = opPtr.child("responses", "default")
		} else {
			return nil, v.resolutionError(t.direction, t.method, t.path, t.status, ErrMissingSchema)
		}
	}

	schema, ok := v.contentSchema(holder)
	if !ok {
		return nil, v.resolutionError(t.direction, t.method, t.path, t.status, ErrMissingSchema)
	}
	return schema, nil
}

// contentSchema follows local $refs from a request body or response object
// and returns the pointer to its application/json schema.
func (v *Validator) contentSchema(holder pointer) (pointer, bool) {
	for hop := 0; hop < maxRefHops; hop++ {
		node, ok := lookup(v.doc, holder)
		if !ok {
			return nil, false
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		ref, isRef := obj["$ref"].(string)
		if !isRef {
			schemaPtr := holder.child("content", jsonMediaType, "schema")
			if _, ok := lookup(v.doc, schemaPtr); !ok {
				return nil, false
			}
			return schemaPtr, true
		}
		next, ok := parseLocalRef(ref)
		if !ok {
			return nil, false
		}
		holder = next
	}
	return nil, false
}

// componentPointer finds a named schema in components/schemas, falling back
// to the JSON schema of a components/responses entry.
func (v *Validator) componentPointer(name string) (pointer, error) {
	schemaPtr := pointer{"components", "schemas", name}
	if _, ok := lookup(v.doc, schemaPtr); ok {
		return schemaPtr, nil
	}
	if p, ok := v.contentSchema(pointer{"components", "responses", name}); ok {
		return p, nil
	}
	return nil, &ResolutionError{Direction: DirectionComponent, Path: name, Err: ErrUnknownComponent}
}

func statusKey(status int) string {
	if status <= 0 {
		return "default"
	}
	return strconv.Itoa(status)
}
