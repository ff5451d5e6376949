// Package recorder keeps the bounded, in-memory log of registry requests
// that test harnesses use as their oracle.
package recorder

import (
	"net/http"
	"strings"
	"sync"

	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/envelope"
)

const DefaultMaxRecordings = 1000

// recordedHeaders are the only request headers kept on a recording.
var recordedHeaders = []string{"content-type", "authorization", "x-correlation-id"}

// Callback is the delivery outcome attached to a recording.
type Callback struct {
	SentAt  string `json:"sentAt"`
	URL     string `json:"url"`
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type RecordedRequest struct {
	ID            string            `json:"id"`
	Timestamp     string            `json:"timestamp"`
	Endpoint      string            `json:"endpoint"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body"`
	Validation    contract.Result   `json:"validation"`
	TransactionID string            `json:"transactionId,omitempty"`
	Action        string            `json:"action,omitempty"`
	SenderID      string            `json:"senderId,omitempty"`
	SenderURI     string            `json:"senderUri,omitempty"`
	Callback      *Callback         `json:"callback,omitempty"`
}

// Entry is the input to Record.
type Entry struct {
	Endpoint   string
	Method     string
	Header     http.Header
	Body       any
	Validation contract.Result
	Info       envelope.RequestInfo
}

type EventType string

const (
	EventRecorded EventType = "recorded"
	EventCallback EventType = "callback"
	EventCleared  EventType = "cleared"
)

type Event struct {
	Type    EventType        `json:"type"`
	Request *RecordedRequest `json:"request,omitempty"`
	Cleared int              `json:"cleared,omitempty"`
}

type Options struct {
	MaxRecordings int
	Clock         envelope.Clock
	IDs           envelope.IDGenerator
	// OnCount is called with the new size after every change.
	OnCount func(n int)
}

// Recorder is a bounded FIFO of RecordedRequest values. Recordings are
// stored by value and handed out as copies; Body and Headers are never
// mutated after Record returns.
type Recorder struct {
	mu      sync.RWMutex
	max     int
	records []RecordedRequest
	clock   envelope.Clock
	ids     envelope.IDGenerator
	onCount func(int)

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func New(opts Options) *Recorder {
	if opts.MaxRecordings <= 0 {
		opts.MaxRecordings = DefaultMaxRecordings
	}
	if opts.Clock == nil {
		opts.Clock = envelope.SystemClock{}
	}
	if opts.IDs == nil {
		opts.IDs = envelope.ULIDs{}
	}
	if opts.OnCount == nil {
		opts.OnCount = func(int) {}
	}
	return &Recorder{
		max:     opts.MaxRecordings,
		clock:   opts.Clock,
		ids:     opts.IDs,
		onCount: opts.OnCount,
		subs:    map[int]chan Event{},
	}
}

// Record appends a recording, evicting the oldest entries beyond the cap.
func (r *Recorder) Record(in Entry) RecordedRequest {
	rec := RecordedRequest{
		ID:            r.ids.NewID(),
		Timestamp:     envelope.FormatTimestamp(r.clock.Now()),
		Endpoint:      in.Endpoint,
		Method:        strings.ToUpper(in.Method),
		Headers:       filterHeaders(in.Header),
		Body:          in.Body,
		Validation:    in.Validation,
		TransactionID: in.Info.TransactionID,
		Action:        in.Info.Action,
		SenderID:      in.Info.SenderID,
		SenderURI:     in.Info.SenderURI,
	}
	if rec.Validation.Errors == nil {
		rec.Validation.Errors = []contract.ValidationError{}
	}

	r.mu.Lock()
	r.records = append(r.records, rec)
	if len(r.records) > r.max {
		r.records = r.records[len(r.records)-r.max:]
	}
	n := len(r.records)
	r.mu.Unlock()

	r.onCount(n)
	r.publish(Event{Type: EventRecorded, Request: &rec})
	return rec
}

// List returns recordings oldest first, only those for endpoint when it is
// non-empty.
func (r *Recorder) List(endpoint string) []RecordedRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordedRequest, 0, len(r.records))
	for _, rec := range r.records {
		if endpoint == "" || rec.Endpoint == endpoint {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Recorder) Get(id string) (RecordedRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(id); i >= 0 {
		return r.records[i], true
	}
	return RecordedRequest{}, false
}

func (r *Recorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Clear drops every recording and returns how many there were.
func (r *Recorder) Clear() int {
	r.mu.Lock()
	n := len(r.records)
	r.records = nil
	r.mu.Unlock()

	r.onCount(0)
	r.publish(Event{Type: EventCleared, Cleared: n})
	return n
}

// AttachCallback sets the delivery outcome on recording id. It reports
// false when the recording is gone or already has an outcome.
func (r *Recorder) AttachCallback(id string, cb Callback) bool {
	r.mu.Lock()
	i := r.indexOf(id)
	if i < 0 || r.records[i].Callback != nil {
		r.mu.Unlock()
		return false
	}
	r.records[i].Callback = &cb
	rec := r.records[i]
	r.mu.Unlock()

	r.publish(Event{Type: EventCallback, Request: &rec})
	return true
}

// indexOf searches newest first; callbacks land on recent requests.
func (r *Recorder) indexOf(id string) int {
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ID == id {
			return i
		}
	}
	return -1
}

// Subscribe delivers future events until cancel is called. A subscriber
// that falls more than buffer events behind misses events rather than
// slowing down recording.
func (r *Recorder) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Recorder) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func filterHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(recordedHeaders))
	for _, name := range recordedHeaders {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}
