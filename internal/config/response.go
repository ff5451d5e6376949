package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInvalidConfig = errors.New("invalid response configuration")

// EndpointConfig overrides behaviour for one registry path.
type EndpointConfig struct {
	Delay            *int   `json:"delay,omitempty"`
	Status           string `json:"status,omitempty"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	StrictValidation bool   `json:"strictValidation,omitempty"`
}

// ForcesError reports whether the endpoint is configured to answer ERR.
func (e EndpointConfig) ForcesError() bool {
	return e.Status == "error"
}

type CallbackConfig struct {
	Enabled  bool    `json:"enabled"`
	FailRate float64 `json:"failRate"`
}

// ResponseConfig is the run-time tunable behaviour of the mock. Delays are
// in milliseconds, failRate is a percentage.
type ResponseConfig struct {
	DefaultDelay  int                       `json:"defaultDelay"`
	CallbackDelay int                       `json:"callbackDelay"`
	Endpoints     map[string]EndpointConfig `json:"endpoints"`
	Callbacks     CallbackConfig            `json:"callbacks"`
}

func (c ResponseConfig) Endpoint(path string) EndpointConfig {
	return c.Endpoints[path]
}

// DelayFor is the endpoint delay override when set, else the default.
func (c ResponseConfig) DelayFor(path string) time.Duration {
	ms := c.DefaultDelay
	if e, ok := c.Endpoints[path]; ok && e.Delay != nil {
		ms = *e.Delay
	}
	return time.Duration(ms) * time.Millisecond
}

func (c ResponseConfig) CallbackDelayDuration() time.Duration {
	return time.Duration(c.CallbackDelay) * time.Millisecond
}

func (c ResponseConfig) clone() ResponseConfig {
	out := c
	out.Endpoints = make(map[string]EndpointConfig, len(c.Endpoints))
	for path, e := range c.Endpoints {
		if e.Delay != nil {
			d := *e.Delay
			e.Delay = &d
		}
		out.Endpoints[path] = e
	}
	return out
}

func (c ResponseConfig) validate() error {
	if c.DefaultDelay < 0 || c.CallbackDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	if c.Callbacks.FailRate < 0 || c.Callbacks.FailRate > 100 {
		return fmt.Errorf("%w: failRate must be between 0 and 100", ErrInvalidConfig)
	}
	for path, e := range c.Endpoints {
		if e.Delay != nil && *e.Delay < 0 {
			return fmt.Errorf("%w: endpoint %s delay must not be negative", ErrInvalidConfig, path)
		}
	}
	return nil
}

// Store owns the process-wide ResponseConfig. Reads return deep copies.
type Store struct {
	mu       sync.RWMutex
	current  ResponseConfig
	defaults ResponseConfig
}

func NewStore(defaults ResponseConfig) *Store {
	defaults = defaults.clone()
	return &Store{current: defaults.clone(), defaults: defaults}
}

func (s *Store) Snapshot() ResponseConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Merge applies a JSON patch shallowly: each top-level key present in raw
// replaces that whole field. Unknown keys are ignored. An invalid patch
// leaves the configuration untouched.
func (s *Store) Merge(raw []byte) (ResponseConfig, error) {
	raw = bytes.TrimSpace(raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return s.current.clone(), nil
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(raw, &patch); err != nil {
		return ResponseConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	next := s.current.clone()
	fields := map[string]any{
		"defaultDelay":  &next.DefaultDelay,
		"callbackDelay": &next.CallbackDelay,
		"endpoints":     &next.Endpoints,
		"callbacks":     &next.Callbacks,
	}
	for key, target := range fields {
		value, ok := patch[key]
		if !ok {
			continue
		}
		switch t := target.(type) {
		case *map[string]EndpointConfig:
			*t = nil
		case *CallbackConfig:
			*t = CallbackConfig{}
		}
		if err := json.Unmarshal(value, target); err != nil {
			return ResponseConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
	}
	if next.Endpoints == nil {
		next.Endpoints = map[string]EndpointConfig{}
	}
	if err := next.validate(); err != nil {
		return ResponseConfig{}, err
	}

	s.current = next
	return next.clone(), nil
}

// Reset restores the startup defaults.
func (s *Store) Reset() ResponseConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.defaults.clone()
	return s.current.clone()
}
