// Package contract validates SPDCI messages against an OpenAPI document.
//
// A Validator resolves a request path, method and optional response
// status to the JSON Schema the contract declares for it, compiles that
// schema once, and reports every keyword failure as a flat list of
// ValidationError values. Request validation also removes the spurious
// oneOf failures the SPDCI search query union produces; see filter.go.
package contract

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidContract  = errors.New("invalid contract")
	ErrUnknownPath      = errors.New("path not found in contract")
	ErrUnknownOperation = errors.New("operation not found in contract")
	ErrMissingSchema    = errors.New("no application/json schema in contract")
	ErrUnknownComponent = errors.New("component not found in contract")
)

type Direction string

const (
	DirectionRequest   Direction = "request"
	DirectionResponse  Direction = "response"
	DirectionComponent Direction = "component"
)

// RootPath is reported for failures on the instance root.
const RootPath = "(root)"

type ValidationError struct {
	Path    string         `json:"path"`
	Message string         `json:"message"`
	Keyword string         `json:"keyword"`
	Params  map[string]any `json:"params,omitempty"`
}

type Result struct {
	Valid   bool              `json:"valid"`
	Errors  []ValidationError `json:"errors"`
	Warning string            `json:"warning,omitempty"`
}

// Skipped is the result for a request the contract could not be asked
// about. It counts as valid and carries the reason.
func Skipped(reason string) Result {
	return Result{Valid: true, Errors: []ValidationError{}, Warning: reason}
}

func newResult(errs []ValidationError) Result {
	if errs == nil {
		errs = []ValidationError{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ResolutionError reports that the contract has no schema for a lookup.
// It wraps one of the Err* sentinels above.
type ResolutionError struct {
	Direction Direction
	Method    string
	Path      string
	Status    string
	Err       error
}

func (e *ResolutionError) Error() string {
	target := e.Path
	if e.Method != "" {
		target = fmt.Sprintf("%s %s", e.Method, e.Path)
	}
	if e.Status != "" {
		target = fmt.Sprintf("%s (%s)", target, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Direction, target, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
