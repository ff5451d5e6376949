package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/spdci/registry-mock/internal/callback"
	"github.com/spdci/registry-mock/internal/config"
	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/envelope"
	"github.com/spdci/registry-mock/internal/recorder"
	"github.com/spdci/registry-mock/internal/registry"
)

type contractInfo struct {
	Title   string `json:"title"`
	Version string `json:"version"`
	OpenAPI string `json:"openapi"`
}

type healthResponse struct {
	Status           string        `json:"status"`
	Domain           string        `json:"domain"`
	OpenAPILoaded    bool          `json:"openApiLoaded"`
	RecordingsCount  int           `json:"recordingsCount"`
	PendingCallbacks int                  `json:"pendingCallbacks"`
	CallbackQueue    *callback.QueueStats `json:"callbackQueue,omitempty"`
	// Operations maps each registry path to whether it answers by callback.
	Operations map[string]bool `json:"operations"`
	Contract   *contractInfo   `json:"contract,omitempty"`
}

// validateResponse adds, for 4xx/5xx response checks, the error shape the
// body was recognised as.
type validateResponse struct {
	contract.Result
	ErrorFormat envelope.ErrorFormat `json:"errorFormat,omitempty"`
}

type requestsResponse struct {
	Endpoint string                     `json:"endpoint,omitempty"`
	Count    int                        `json:"count"`
	Requests []recorder.RecordedRequest `json:"requests"`
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:          "ok",
		Domain:          s.domain.Name,
		OpenAPILoaded:   s.validator != nil,
		RecordingsCount: s.recordings.Count(),
		Operations:      registry.Operations(),
	}
	if s.callbacks != nil {
		resp.PendingCallbacks = s.callbacks.Pending()
		stats := s.callbacks.QueueStats()
		resp.CallbackQueue = &stats
	}
	if s.validator != nil {
		resp.Contract = &contractInfo{
			Title:   s.validator.Title(),
			Version: s.validator.Version(),
			OpenAPI: s.validator.OpenAPIVersion(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRequests(w http.ResponseWriter, _ *http.Request) {
	requests := s.recordings.List("")
	writeJSON(w, http.StatusOK, requestsResponse{Count: len(requests), Requests: requests})
}

// handleListEndpointRequests filters by the decoded remainder of the path,
// so /admin/requests/registry%2Fsearch and /admin/requests/registry/search
// both select /registry/search.
func (s *Server) handleListEndpointRequests(w http.ResponseWriter, r *http.Request) {
	endpoint := "/" + strings.TrimPrefix(r.URL.Path, "/admin/requests/")
	requests := s.recordings.List(endpoint)
	writeJSON(w, http.StatusOK, requestsResponse{Endpoint: endpoint, Count: len(requests), Requests: requests})
}

func (s *Server) handleClearRequests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.recordings.Clear()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Snapshot())
}

func (s *Server) handleMergeConfig(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	next, err := s.config.Merge(raw)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info().Interface("config", next).Msg("response configuration updated")
	writeJSON(w, http.StatusOK, map[string]any{"updated": true, "config": next})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	cleared := s.recordings.Clear()
	s.config.Reset()
	s.logger.Info().Int("cleared", cleared).Msg("mock reset")
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (s *Server) handleTriggerCallback(w http.ResponseWriter, r *http.Request) {
	if s.callbacks == nil {
		writeError(w, http.StatusServiceUnavailable, "callbacks unavailable")
		return
	}
	raw, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		URL     string `json:"url"`
		Payload any    `json:"payload"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	if strings.TrimSpace(req.URL) == "" || !envelope.Truthy(req.Payload) {
		writeError(w, http.StatusBadRequest, "Missing url or payload")
		return
	}
	writeJSON(w, http.StatusOK, s.callbacks.Trigger(r.Context(), req.URL, req.Payload))
}

type validateRequest struct {
	Direction string          `json:"direction"`
	Path      string          `json:"path"`
	Method    string          `json:"method"`
	Status    int             `json:"status"`
	Component string          `json:"component"`
	Body      json.RawMessage `json:"body"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if s.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "OpenAPI contract not loaded")
		return
	}
	raw, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	var body any
	if len(req.Body) > 0 {
		var err error
		if body, err = contract.DecodeJSON(bytes.NewReader(req.Body)); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}

	var (
		result contract.Result
		err    error
	)
	switch contract.Direction(strings.ToLower(req.Direction)) {
	case "", contract.DirectionRequest:
		if req.Path == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}
		result, err = s.validator.ValidateRequest(req.Path, req.Method, body)
	case contract.DirectionResponse:
		if req.Path == "" || req.Status <= 0 {
			writeError(w, http.StatusBadRequest, "path and status are required")
			return
		}
		result, err = s.validator.ValidateResponse(req.Path, req.Method, req.Status, body)
	case contract.DirectionComponent:
		if req.Component == "" {
			writeError(w, http.StatusBadRequest, "component is required")
			return
		}
		result, err = s.validator.ValidateComponent(req.Component, body)
	default:
		writeError(w, http.StatusBadRequest, "direction must be request, response or component")
		return
	}
	if err != nil {
		var resolution *contract.ResolutionError
		if errors.As(err, &resolution) {
			writeError(w, http.StatusNotFound, resolution.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := validateResponse{Result: result}
	if contract.Direction(strings.ToLower(req.Direction)) == contract.DirectionResponse && req.Status >= http.StatusBadRequest {
		format, err := envelope.ClassifyErrorBody(body)
		if err != nil {
			out.Valid = false
			out.Errors = append(out.Errors, contract.ValidationError{Message: err.Error(), Keyword: "errorFormat"})
		}
		out.ErrorFormat = format
	}
	writeJSON(w, http.StatusOK, out)
}
