// Package callback delivers asynchronous on-* callbacks. Deliveries are
// delayed, optionally dropped to simulate failure, posted exactly once by
// a fixed pool of workers, and their outcome is written back onto the
// originating recording.
package callback

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/spdci/registry-mock/internal/config"
	"github.com/spdci/registry-mock/internal/envelope"
	"github.com/spdci/registry-mock/internal/metrics"
	"github.com/spdci/registry-mock/internal/recorder"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
	DefaultTimeout   = 10 * time.Second
)

type Outcome string

const (
	// OutcomeSkipped: no sender_uri, callbacks disabled, or shutting down.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDropped: the simulated failure draw hit; nothing is sent.
	OutcomeDropped   Outcome = "dropped"
	OutcomeScheduled Outcome = "scheduled"
)

type ConfigSource interface {
	Snapshot() config.ResponseConfig
}

type Attacher interface {
	AttachCallback(id string, cb recorder.Callback) bool
}

type Options struct {
	Workers int
	// Queue overrides the in-memory queue of QueueSize slots.
	Queue     Queue
	QueueSize int
	// Timeout bounds each POST.
	Timeout time.Duration
	Poster  Poster
	// Random returns a uniform draw in [0, 1).
	Random  func() float64
	Clock   envelope.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

type Dispatcher struct {
	cfg     ConfigSource
	records Attacher
	queue   Queue
	poster  Poster
	random  func() float64
	clock   envelope.Clock
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	queueCtx    context.Context
	queueCancel context.CancelFunc

	mu        sync.Mutex
	closing   bool
	pending   sync.WaitGroup
	inflight  atomic.Int64
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDispatcher(cfg ConfigSource, records Attacher, opts Options) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	queue := opts.Queue
	if queue == nil {
		queue = NewInMemoryQueue(opts.QueueSize)
	}
	poster := opts.Poster
	if poster == nil {
		poster = NewHTTPPoster(HTTPPosterOptions{Timeout: timeout})
	}
	random := opts.Random
	if random == nil {
		random = rand.Float64
	}
	clock := opts.Clock
	if clock == nil {
		clock = envelope.SystemClock{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}

	d := &Dispatcher{
		cfg:     cfg,
		records: records,
		queue:   queue,
		poster:  poster,
		random:  random,
		clock:   clock,
		timeout: timeout,
		logger:  opts.Logger.With().Str("component", "callback").Logger(),
		metrics: opts.Metrics,
		tracer:  tracer,
	}
	d.queueCtx, d.queueCancel = context.WithCancel(context.Background())
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.runWorker()
	}
	return d
}

// Schedule arranges for payload to be POSTed to senderURI after the
// configured callback delay. ctx is used only to parent the delivery span;
// cancelling it does not cancel the callback.
func (d *Dispatcher) Schedule(ctx context.Context, senderURI string, payload any, recordID string) Outcome {
	senderURI = strings.TrimSpace(senderURI)
	cfg := d.cfg.Snapshot()
	if senderURI == "" || !cfg.Callbacks.Enabled {
		d.metrics.CallbackOutcome(metrics.OutcomeSkipped)
		return OutcomeSkipped
	}
	if cfg.Callbacks.FailRate > 0 && d.random()*100 < cfg.Callbacks.FailRate {
		d.logger.Info().Str("url", senderURI).Str("record_id", recordID).Msg("simulating callback failure")
		d.metrics.CallbackOutcome(metrics.OutcomeDropped)
		return OutcomeDropped
	}

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.metrics.CallbackOutcome(metrics.OutcomeSkipped)
		return OutcomeSkipped
	}
	d.pending.Add(1)
	d.inflight.Add(1)
	d.mu.Unlock()

	task := Task{URL: senderURI, Payload: payload, RecordID: recordID, Parent: trace.SpanContextFromContext(ctx)}
	time.AfterFunc(cfg.CallbackDelayDuration(), func() {
		if d.queueCtx.Err() != nil || !d.queue.Enqueue(d.queueCtx, task) {
			d.finish()
		}
	})
	d.metrics.CallbackOutcome(metrics.OutcomeScheduled)
	return OutcomeScheduled
}

// Trigger POSTs payload to url immediately and reports the outcome. It is
// not tied to any recording.
func (d *Dispatcher) Trigger(ctx context.Context, url string, payload any) Delivery {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "callback.trigger",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("callback.url", url)),
	)
	defer span.End()

	result := d.poster.Post(ctx, url, payload)
	annotate(span, result)
	d.logger.Info().Str("url", url).Bool("success", result.Success).Int("status", result.Status).Str("error", result.Error).Msg("manual callback sent")
	return result
}

// Pending is the number of scheduled callbacks not yet delivered.
func (d *Dispatcher) Pending() int {
	return int(d.inflight.Load())
}

// QueueStats reports how full the delivery queue is.
type QueueStats struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

// QueueStats reports tasks past their delay but not yet picked up by a
// worker.
func (d *Dispatcher) QueueStats() QueueStats {
	return QueueStats{Depth: d.queue.Depth(), Capacity: d.queue.Capacity()}
}

// Close stops accepting callbacks and waits for scheduled ones to be
// delivered, giving up when ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closing = true
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.pending.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		d.queueCancel()
		d.wg.Wait()
	})
	return err
}

func (d *Dispatcher) runWorker() {
	defer d.wg.Done()
	for {
		task, ok := d.queue.Dequeue(d.queueCtx)
		if !ok {
			return
		}
		d.deliver(task)
		d.finish()
	}
}

func (d *Dispatcher) finish() {
	d.inflight.Add(-1)
	d.pending.Done()
}

func (d *Dispatcher) deliver(task Task) {
	ctx, cancel := context.WithTimeout(d.queueCtx, d.timeout)
	defer cancel()
	if task.Parent.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, task.Parent)
	}
	ctx, span := d.tracer.Start(ctx, "callback.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("callback.url", task.URL),
			attribute.String("registry.record_id", task.RecordID),
		),
	)
	defer span.End()

	start := time.Now()
	result := d.poster.Post(ctx, task.URL, task.Payload)
	d.metrics.CallbackDelivery(time.Since(start), result.Success)
	annotate(span, result)

	attached := d.records.AttachCallback(task.RecordID, recorder.Callback{
		SentAt:  envelope.FormatTimestamp(d.clock.Now()),
		URL:     task.URL,
		Success: result.Success,
		Status:  result.Status,
		Error:   result.Error,
	})

	event := d.logger.Info()
	if !result.Success {
		event = d.logger.Warn()
	}
	event.Str("url", task.URL).
		Str("record_id", task.RecordID).
		Int("status", result.Status).
		Str("error", result.Error).
		Bool("attached", attached).
		Msg("callback delivered")
}

func annotate(span trace.Span, result Delivery) {
	if result.Status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", result.Status))
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "non-2xx response"
		}
		span.SetStatus(codes.Error, msg)
	}
}
