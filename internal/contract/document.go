package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// DecodeJSON decodes a JSON value keeping numbers as json.Number, which
// is what the schema validator expects for exact integer checks.
func DecodeJSON(r io.Reader) (any, error) {
	return jsonschema.UnmarshalJSON(r)
}

// readDocument loads a YAML or JSON file into JSON-compatible values.
func readDocument(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data, strings.ToLower(filepath.Ext(path)))
}

func decodeDocument(data []byte, ext string) (any, error) {
	if ext == ".json" {
		return DecodeJSON(bytes.NewReader(data))
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	normalized, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	// A JSON round trip gives the same value types as a .json contract.
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	return DecodeJSON(bytes.NewReader(encoded))
}

// normalize turns YAML maps into string-keyed maps. Response codes such as
// 200 decode as integer keys and must become "200".
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// fileURL is the resource location a contract is registered under.
func fileURL(abs string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// documentLoader resolves external file references, accepting YAML as
// well as JSON.
type documentLoader struct{}

func (documentLoader) Load(location string) (any, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	return readDocument(filepath.FromSlash(u.Path))
}
