// Package callbackrx is the harness side of the async flow: an HTTP
// receiver that records every callback POSTed to it and lets tests wait
// for a specific on-* action.
package callbackrx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/envelope"
)

const DefaultMaxBodyBytes = 1 << 20

var ErrNotReceived = errors.New("callback not received")

type Callback struct {
	ID            string            `json:"id"`
	Timestamp     string            `json:"timestamp"`
	Path          string            `json:"path"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body"`
	Action        string            `json:"action,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

type Options struct {
	Clock        envelope.Clock
	IDs          envelope.IDGenerator
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

type Receiver struct {
	clock   envelope.Clock
	ids     envelope.IDGenerator
	maxBody int64
	logger  zerolog.Logger

	mu        sync.Mutex
	callbacks []Callback
	// changed is closed and replaced whenever a callback arrives.
	changed chan struct{}
}

func NewReceiver(opts Options) *Receiver {
	if opts.Clock == nil {
		opts.Clock = envelope.SystemClock{}
	}
	if opts.IDs == nil {
		opts.IDs = envelope.ULIDs{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Receiver{
		clock:   opts.Clock,
		ids:     opts.IDs,
		maxBody: opts.MaxBodyBytes,
		logger:  opts.Logger.With().Str("component", "callbackrx").Logger(),
		changed: make(chan struct{}),
	}
}

func (rx *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/healthcheck":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "callbackCount": rx.Count()})
	case r.Method == http.MethodPost:
		rx.handleCallback(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (rx *Receiver) handleCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rx.maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	var body any
	if len(bytes.TrimSpace(raw)) > 0 {
		if body, err = contract.DecodeJSON(bytes.NewReader(raw)); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
			return
		}
	}

	info := envelope.Inspect(body)
	message, _ := body.(map[string]any)
	message, _ = message["message"].(map[string]any)
	correlationID, _ := message["correlation_id"].(string)

	cb := Callback{
		ID:            rx.ids.NewID(),
		Timestamp:     envelope.FormatTimestamp(rx.clock.Now()),
		Path:          r.URL.Path,
		Headers:       flattenHeaders(r.Header),
		Body:          body,
		Action:        info.Action,
		TransactionID: info.TransactionID,
		CorrelationID: correlationID,
	}
	rx.mu.Lock()
	rx.callbacks = append(rx.callbacks, cb)
	close(rx.changed)
	rx.changed = make(chan struct{})
	rx.mu.Unlock()

	action := cb.Action
	if action == "" {
		action = "unknown"
	}
	rx.logger.Info().Str("action", action).Str("path", cb.Path).Str("transaction_id", cb.TransactionID).Msg("recorded callback")
	writeJSON(w, http.StatusOK, map[string]string{"ack_status": envelope.AckStatusACK})
}

// Callbacks returns every recorded callback, oldest first.
func (rx *Receiver) Callbacks() []Callback {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return append([]Callback(nil), rx.callbacks...)
}

func (rx *Receiver) ByAction(action string) []Callback {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	var out []Callback
	for _, cb := range rx.callbacks {
		if cb.Action == action {
			out = append(out, cb)
		}
	}
	return out
}

func (rx *Receiver) Last() (Callback, bool) {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	if len(rx.callbacks) == 0 {
		return Callback{}, false
	}
	return rx.callbacks[len(rx.callbacks)-1], true
}

func (rx *Receiver) Count() int {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return len(rx.callbacks)
}

func (rx *Receiver) Clear() int {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	n := len(rx.callbacks)
	rx.callbacks = nil
	return n
}

// WaitForAction returns the first callback carrying action, waiting for
// one to arrive until ctx is done.
func (rx *Receiver) WaitForAction(ctx context.Context, action string) (Callback, error) {
	for {
		rx.mu.Lock()
		for _, cb := range rx.callbacks {
			if cb.Action == action {
				rx.mu.Unlock()
				return cb, nil
			}
		}
		changed := rx.changed
		rx.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Callback{}, fmt.Errorf("%w: action %q: %v", ErrNotReceived, action, ctx.Err())
		}
	}
}

// WaitForNext returns the first callback recorded after the call.
func (rx *Receiver) WaitForNext(ctx context.Context) (Callback, error) {
	rx.mu.Lock()
	seen := len(rx.callbacks)
	changed := rx.changed
	rx.mu.Unlock()

	select {
	case <-changed:
	case <-ctx.Done():
		return Callback{}, fmt.Errorf("%w: %v", ErrNotReceived, ctx.Err())
	}

	rx.mu.Lock()
	defer rx.mu.Unlock()
	if seen < len(rx.callbacks) {
		return rx.callbacks[seen], nil
	}
	// Cleared in between; the newest is the one that woke us.
	if len(rx.callbacks) > 0 {
		return rx.callbacks[len(rx.callbacks)-1], nil
	}
	return Callback{}, ErrNotReceived
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[strings.ToLower(name)] = values[0]
		}
	}
	return out
}
