package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/registry"
)

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	resp, err := s.registry.Handle(r.Context(), registry.Request{
		Path:   r.URL.Path,
		Method: r.Method,
		Header: r.Header,
		Body:   body,
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The client went away during the artificial delay.
		return
	case errors.Is(err, contract.ErrInvalidContract):
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if resp.Body == nil {
		w.WriteHeader(resp.Status)
	} else {
		writeJSON(w, resp.Status, resp.Body)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	resp.Complete()
}

// decodeBody parses a JSON request body. An empty body decodes to nil.
func decodeBody(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return contract.DecodeJSON(bytes.NewReader(raw))
}
