// Package registry answers SPDCI registry calls: it validates and records
// each request, applies the configured delay and forced failures, then
// replies synchronously or ACKs and schedules the matching on-* callback.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/spdci/registry-mock/internal/callback"
	"github.com/spdci/registry-mock/internal/config"
	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/envelope"
	"github.com/spdci/registry-mock/internal/metrics"
	"github.com/spdci/registry-mock/internal/recorder"
)

const (
	DefaultErrorCode    = envelope.CodeServer
	DefaultErrorMessage = "Configured error"
	// OtherPath labels metrics for paths the handler has no route for.
	OtherPath = "other"
)

type Validator interface {
	ValidateRequest(path, method string, body any) (contract.Result, error)
}

type Recorder interface {
	Record(in recorder.Entry) recorder.RecordedRequest
}

type Scheduler interface {
	Schedule(ctx context.Context, senderURI string, payload any, recordID string) callback.Outcome
}

type ConfigSource interface {
	Snapshot() config.ResponseConfig
}

type Options struct {
	// Validator may be nil when no contract is loaded; requests are then
	// recorded with a warning and treated as valid.
	Validator Validator
	Recorder  Recorder
	// Scheduler may be nil, in which case no callbacks are sent.
	Scheduler Scheduler
	Config    ConfigSource
	Builder   *envelope.Builder
	Domain    envelope.Domain
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	// Sleep applies the artificial delay. It must return ctx.Err() when
	// ctx ends first.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Request struct {
	Path   string
	Method string
	Header http.Header
	Body   any
}

// Response is what the transport writes. A nil Body means no body.
type Response struct {
	Status int
	Body   any

	after func()
}

// Complete runs the work that must follow the response, such as
// scheduling a callback. Call it after the response has been flushed.
func (r Response) Complete() {
	if r.after != nil {
		r.after()
	}
}

type Handler struct {
	validator Validator
	recorder  Recorder
	scheduler Scheduler
	config    ConfigSource
	builder   *envelope.Builder
	domain    envelope.Domain
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	sleep     func(context.Context, time.Duration) error
}

func NewHandler(opts Options) *Handler {
	builder := opts.Builder
	if builder == nil {
		builder = envelope.NewBuilder(nil, nil)
	}
	domain := opts.Domain
	if domain.Name == "" {
		domain, _ = envelope.LookupDomain(envelope.DefaultDomain)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if opts.Config == nil {
		opts.Config = config.NewStore(config.ResponseConfig{})
	}
	if opts.Recorder == nil {
		opts.Recorder = recorder.New(recorder.Options{})
	}
	return &Handler{
		validator: opts.Validator,
		recorder:  opts.Recorder,
		scheduler: opts.Scheduler,
		config:    opts.Config,
		builder:   builder,
		domain:    domain,
		logger:    opts.Logger.With().Str("component", "registry").Logger(),
		metrics:   opts.Metrics,
		tracer:    tracer,
		sleep:     sleep,
	}
}

// TrimPath strips trailing slashes; the empty result is "/".
func TrimPath(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	return path
}

// Handle runs one registry call. A non-nil error means no response should
// be written as a registry reply: either the contract itself is broken
// (a server fault) or ctx ended during the delay. A contract with no
// schema for the call only skips validation.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	path := TrimPath(req.Path)
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	ctx, span := h.tracer.Start(ctx, "registry.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("registry.path", path)),
	)
	defer span.End()

	info := envelope.Inspect(req.Body)
	corr := envelope.Correlation{
		TransactionID: info.TransactionID,
		CorrelationID: h.builder.NewID(),
	}
	if corr.TransactionID == "" {
		corr.TransactionID = h.builder.NewID()
	}
	span.SetAttributes(
		attribute.String("registry.action", info.Action),
		attribute.String("registry.message_id", info.MessageID),
		attribute.String("registry.transaction_id", corr.TransactionID),
		attribute.String("registry.correlation_id", corr.CorrelationID),
	)

	validation, err := h.validate(path, method, req.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contract resolution failed")
		h.logger.Error().Err(err).Str("path", path).Msg("contract cannot validate request")
		return Response{}, err
	}
	h.metrics.Request(metricPath(path), validation.Valid)
	span.SetAttributes(attribute.Bool("registry.valid", validation.Valid))

	rec := h.recorder.Record(recorder.Entry{
		Endpoint:   path,
		Method:     method,
		Header:     req.Header,
		Body:       req.Body,
		Validation: validation,
		Info:       info,
	})

	cfg := h.config.Snapshot()
	endpoint := cfg.Endpoint(path)
	if err := h.sleep(ctx, cfg.DelayFor(path)); err != nil {
		return Response{}, err
	}

	log := h.logger.With().
		Str("path", path).
		Str("record_id", rec.ID).
		Str("message_id", info.MessageID).
		Str("transaction_id", corr.TransactionID).
		Str("correlation_id", corr.CorrelationID).
		Bool("valid", validation.Valid).
		Logger()

	if !validation.Valid && endpoint.StrictValidation {
		log.Info().Int("errors", len(validation.Errors)).Msg("rejecting invalid request")
		return h.reply(path, http.StatusOK, h.builder.Err(corr.CorrelationID, envelope.CodeRequestInvalid, "Validation failed")), nil
	}
	if endpoint.ForcesError() {
		code := endpoint.ErrorCode
		if code == "" {
			code = DefaultErrorCode
		}
		msg := endpoint.ErrorMessage
		if msg == "" {
			msg = DefaultErrorMessage
		}
		log.Info().Str("code", code).Msg("answering configured error")
		return h.reply(path, http.StatusOK, h.builder.Err(corr.CorrelationID, code, msg)), nil
	}
	if !info.HasHeader {
		return h.reply(path, http.StatusOK, h.builder.Err(corr.CorrelationID, envelope.CodeRequestBad, "Missing header")), nil
	}
	if !info.HasMessage {
		return h.reply(path, http.StatusOK, h.builder.Err(corr.CorrelationID, envelope.CodeRequestBad, "Missing message")), nil
	}

	rt, ok := routes[path]
	if !ok {
		log.Info().Msg("no registry operation at path")
		return h.reply(path, http.StatusNotFound, nil), nil
	}

	// Callback ids are swapped: the registry answers as the receiver.
	payload := h.builder.Envelope(
		h.builder.CallbackHeader(rt.callbackAction, info.ReceiverID, info.SenderID),
		rt.result(h.builder, h.domain, corr),
	)
	if !rt.async {
		log.Info().Str("action", rt.callbackAction).Msg("answered synchronously")
		return h.reply(path, http.StatusOK, payload), nil
	}

	resp := h.reply(path, http.StatusAccepted, h.builder.Ack(corr.CorrelationID))
	parent := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	senderURI := info.SenderURI
	resp.after = func() {
		outcome := callback.OutcomeSkipped
		if h.scheduler != nil {
			outcome = h.scheduler.Schedule(parent, senderURI, payload, rec.ID)
		}
		log.Info().
			Str("action", rt.callbackAction).
			Str("sender_uri", senderURI).
			Str("callback", string(outcome)).
			Msg("acknowledged")
	}
	return resp, nil
}

func (h *Handler) validate(path, method string, body any) (contract.Result, error) {
	if h.validator == nil {
		return contract.Skipped("OpenAPI contract not loaded"), nil
	}
	result, err := h.validator.ValidateRequest(path, method, body)
	if errors.Is(err, contract.ErrUnknownPath) ||
		errors.Is(err, contract.ErrUnknownOperation) ||
		errors.Is(err, contract.ErrMissingSchema) {
		return contract.Skipped(fmt.Sprintf("no schema for %s %s", method, path)), nil
	}
	return result, err
}

// metricPath keeps metric label cardinality bounded: paths outside the
// route table share one series.
func metricPath(path string) string {
	if _, ok := routes[path]; ok {
		return path
	}
	return OtherPath
}

func (h *Handler) reply(path string, status int, body any) Response {
	h.metrics.Response(metricPath(path), status)
	return Response{Status: status, Body: body}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
