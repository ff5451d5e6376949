package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Validator answers schema questions about one loaded contract. It is safe
// for concurrent use; compiled schemas are cached for the process lifetime.
type Validator struct {
	location string
	doc      any
	openapi  string
	title    string
	version  string
	paths    []string
	printer  *message.Printer

	mu       sync.Mutex
	compiler *jsonschema.Compiler
	cache    map[string]*jsonschema.Schema
}

// Load reads and registers the contract at path. OpenAPI 3.0 documents
// are compiled with draft-04 semantics, 3.1 documents with 2020-12.
func Load(path string) (*Validator, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(abs)
	if err != nil {
		return nil, fmt.Errorf("load contract %s: %w", path, err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", ErrInvalidContract, path)
	}
	openapi, _ := root["openapi"].(string)
	if openapi == "" {
		return nil, fmt.Errorf("%w: %s has no openapi version", ErrInvalidContract, path)
	}
	paths, ok := root["paths"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no paths", ErrInvalidContract, path)
	}
	info, _ := root["info"].(map[string]any)
	title, _ := info["title"].(string)
	version, _ := info["version"].(string)

	v := &Validator{
		location: fileURL(abs),
		doc:      doc,
		openapi:  openapi,
		title:    title,
		version:  version,
		paths:    make([]string, 0, len(paths)),
		printer:  message.NewPrinter(language.English),
		cache:    map[string]*jsonschema.Schema{},
	}
	for p := range paths {
		v.paths = append(v.paths, p)
	}
	sort.Strings(v.paths)

	c := jsonschema.NewCompiler()
	if strings.HasPrefix(openapi, "3.0") {
		c.DefaultDraft(jsonschema.Draft4)
	} else {
		c.DefaultDraft(jsonschema.Draft2020)
	}
	c.AssertFormat()
	c.UseLoader(jsonschema.SchemeURLLoader{"file": documentLoader{}})
	if err := c.AddResource(v.location, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}
	v.compiler = c
	return v, nil
}

func (v *Validator) Title() string          { return v.title }
func (v *Validator) Version() string        { return v.version }
func (v *Validator) OpenAPIVersion() string { return v.openapi }

// Location is the file URL the document was registered under.
func (v *Validator) Location() string { return v.location }

func (v *Validator) Paths() []string {
	return append([]string(nil), v.paths...)
}

// Compiled reports how many schemas have been compiled so far.
func (v *Validator) Compiled() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache)
}

// ResolvePath returns the contract path a request path maps onto.
func (v *Validator) ResolvePath(path string) (string, bool) {
	return resolvePath(v.paths, path)
}

// ValidateRequest validates body against the operation's request body
// schema. The returned error is non-nil only when the contract cannot
// answer, and is then a *ResolutionError.
func (v *Validator) ValidateRequest(path, method string, body any) (Result, error) {
	t, err := v.target(DirectionRequest, path, method, "")
	if err != nil {
		return Result{}, err
	}
	errs, err := v.validate(t, body)
	if err != nil {
		return Result{}, err
	}
	return newResult(filterAmbiguousQuery(body, errs)), nil
}

// ValidateResponse validates body against the schema declared for status,
// or the operation's default response when status has no entry.
func (v *Validator) ValidateResponse(path, method string, status int, body any) (Result, error) {
	t, err := v.target(DirectionResponse, path, method, statusKey(status))
	if err != nil {
		return Result{}, err
	}
	errs, err := v.validate(t, body)
	if err != nil {
		return Result{}, err
	}
	return newResult(errs), nil
}

// ValidateComponent validates body against components/schemas/name, or the
// JSON schema of components/responses/name.
func (v *Validator) ValidateComponent(name string, body any) (Result, error) {
	ptr, err := v.componentPointer(name)
	if err != nil {
		return Result{}, err
	}
	sch, err := v.compile(target{direction: DirectionComponent, path: name}, ptr)
	if err != nil {
		return Result{}, err
	}
	errs, err := v.run(sch, body)
	if err != nil {
		return Result{}, err
	}
	return newResult(errs), nil
}

func (v *Validator) target(direction Direction, path, method, status string) (target, error) {
	method = strings.ToLower(method)
	resolved, ok := resolvePath(v.paths, path)
	if !ok {
		return target{}, v.resolutionError(direction, method, normalizePath(path), status, ErrUnknownPath)
	}
	return target{direction: direction, method: method, path: resolved, status: status}, nil
}

func (v *Validator) validate(t target, body any) ([]ValidationError, error) {
	ptr, err := v.schemaPointer(t)
	if err != nil {
		return nil, err
	}
	sch, err := v.compile(t, ptr)
	if err != nil {
		return nil, err
	}
	return v.run(sch, body)
}

// compile holds the lock across compilation so each key compiles once.
func (v *Validator) compile(t target, ptr pointer) (*jsonschema.Schema, error) {
	key := t.String()
	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok := v.cache[key]; ok {
		return sch, nil
	}
	sch, err := v.compiler.Compile(v.location + "#" + ptr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %v", ErrInvalidContract, key, err)
	}
	v.cache[key] = sch
	return sch, nil
}

func (v *Validator) run(sch *jsonschema.Schema, body any) ([]ValidationError, error) {
	inst, err := jsonValue(body)
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(inst); err != nil {
		return v.flatten(err), nil
	}
	return nil, nil
}

// jsonValue converts body into the value types produced by DecodeJSON so
// Go structs and decoded payloads validate the same way.
func jsonValue(body any) (any, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode instance: %w", err)
	}
	return DecodeJSON(bytes.NewReader(encoded))
}

func (v *Validator) flatten(err error) []ValidationError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []ValidationError{{Path: RootPath, Message: err.Error(), Keyword: "schema"}}
	}
	var out []ValidationError
	v.collect(verr, &out)
	if len(out) == 0 {
		out = append(out, ValidationError{
			Path:    instancePath(verr.InstanceLocation),
			Message: verr.ErrorKind.LocalizedString(v.printer),
			Keyword: "schema",
		})
	}
	return out
}

// collect walks the error tree. Nodes that only group or forward their
// causes ($ref, allOf, the schema root) are not reported themselves.
func (v *Validator) collect(e *jsonschema.ValidationError, out *[]ValidationError) {
	keyword := keywordOf(e.ErrorKind)
	if !isWrapper(keyword) || len(e.Causes) == 0 {
		path := instancePath(e.InstanceLocation)
		if req, ok := e.ErrorKind.(*kind.Required); ok {
			for _, missing := range req.Missing {
				*out = append(*out, ValidationError{
					Path:    path,
					Message: fmt.Sprintf("must have required property '%s'", missing),
					Keyword: "required",
					Params:  map[string]any{"missingProperty": missing},
				})
			}
		} else {
			if keyword == "" {
				keyword = "schema"
			}
			*out = append(*out, ValidationError{
				Path:    path,
				Message: e.ErrorKind.LocalizedString(v.printer),
				Keyword: keyword,
			})
		}
	}
	for _, cause := range e.Causes {
		v.collect(cause, out)
	}
}

func keywordOf(k jsonschema.ErrorKind) string {
	path := k.KeywordPath()
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

func isWrapper(keyword string) bool {
	switch keyword {
	case "", "$ref", "$dynamicRef", "$recursiveRef", "allOf":
		return true
	}
	return false
}

func instancePath(tokens []string) string {
	if len(tokens) == 0 {
		return RootPath
	}
	return pointer(tokens).String()
}
