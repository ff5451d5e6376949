package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// Delivery is the outcome of one callback POST. Non-2xx responses and
// transport errors are both failures.
type Delivery struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Poster interface {
	Post(ctx context.Context, url string, payload any) Delivery
}

type HTTPPosterOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	// Propagator injects trace context headers. Nil sends none.
	Propagator propagation.TextMapPropagator
}

type HTTPPoster struct {
	httpClient *http.Client
	userAgent  string
	propagator propagation.TextMapPropagator
}

func NewHTTPPoster(opts HTTPPosterOptions) *HTTPPoster {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "spdci-registry-mock"
	}
	return &HTTPPoster{
		httpClient: httpClient,
		userAgent:  userAgent,
		propagator: opts.Propagator,
	}
}

// Post sends payload as JSON exactly once.
func (p *HTTPPoster) Post(ctx context.Context, url string, payload any) Delivery {
	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Delivery{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.userAgent)
	if p.propagator != nil {
		p.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Delivery{Error: err.Error()}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return Delivery{
		Success: resp.StatusCode >= 200 && resp.StatusCode <= 299,
		Status:  resp.StatusCode,
	}
}
