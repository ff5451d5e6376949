// Package envelope builds and inspects SPDCI protocol messages: the
// {signature, header, message} envelope, ACK/ERR replies and the on-*
// result payloads a registry sends back.
package envelope

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	Version = "1.0.0"

	// MockSignature is placed on every outbound envelope. Signatures are
	// never computed or verified.
	MockSignature = "unsigned-mock"

	DefaultSenderID   = "mock-registry"
	DefaultReceiverID = "spmis-client"

	StatusSuccess = "succ"

	AckStatusACK = "ACK"
	AckStatusERR = "ERR"
)

// Error codes carried in ERR replies.
const (
	CodeRequestBad     = "err.request.bad"
	CodeRequestInvalid = "err.request.invalid"
	CodeServer         = "err.server"
)

// TimestampLayout is RFC 3339 with millisecond precision. Timestamps are
// always rendered in UTC so the offset is the literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// UUIDs generates random version 4 UUIDs.
type UUIDs struct{}

func (UUIDs) NewID() string { return uuid.NewString() }

// ULIDs generates lexically sortable ids, used where insertion order
// should be visible in the id itself.
type ULIDs struct{}

func (ULIDs) NewID() string { return ulid.Make().String() }

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

type Header struct {
	Version        string `json:"version"`
	MessageID      string `json:"message_id"`
	MessageTS      string `json:"message_ts"`
	Action         string `json:"action"`
	Status         string `json:"status,omitempty"`
	TotalCount     int    `json:"total_count"`
	CompletedCount *int   `json:"completed_count,omitempty"`
	SenderID       string `json:"sender_id"`
	SenderURI      string `json:"sender_uri,omitempty"`
	ReceiverID     string `json:"receiver_id"`
}

type Envelope struct {
	Signature string `json:"signature"`
	Header    Header `json:"header"`
	Message   any    `json:"message"`
}

type Reply struct {
	Message ReplyMessage `json:"message"`
}

type ReplyMessage struct {
	AckStatus     string      `json:"ack_status"`
	Timestamp     string      `json:"timestamp"`
	CorrelationID string      `json:"correlation_id"`
	Error         *ReplyError `json:"error,omitempty"`
}

type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Builder stamps ids and timestamps onto outgoing messages. Both
// collaborators are injected so tests see deterministic values.
type Builder struct {
	clock Clock
	ids   IDGenerator
}

func NewBuilder(clock Clock, ids IDGenerator) *Builder {
	if clock == nil {
		clock = SystemClock{}
	}
	if ids == nil {
		ids = UUIDs{}
	}
	return &Builder{clock: clock, ids: ids}
}

func (b *Builder) NewID() string {
	return b.ids.NewID()
}

func (b *Builder) Now() string {
	return FormatTimestamp(b.clock.Now())
}

// CallbackHeader builds the header of a registry-originated on-* message.
// Empty ids fall back to the mock's defaults.
func (b *Builder) CallbackHeader(action, senderID, receiverID string) Header {
	if senderID == "" {
		senderID = DefaultSenderID
	}
	if receiverID == "" {
		receiverID = DefaultReceiverID
	}
	completed := 1
	return Header{
		Version:        Version,
		MessageID:      b.NewID(),
		MessageTS:      b.Now(),
		Action:         action,
		Status:         StatusSuccess,
		TotalCount:     1,
		CompletedCount: &completed,
		SenderID:       senderID,
		ReceiverID:     receiverID,
	}
}

func (b *Builder) Envelope(header Header, message any) Envelope {
	return Envelope{Signature: MockSignature, Header: header, Message: message}
}

func (b *Builder) Ack(correlationID string) Reply {
	return Reply{Message: ReplyMessage{
		AckStatus:     AckStatusACK,
		Timestamp:     b.Now(),
		CorrelationID: correlationID,
	}}
}

func (b *Builder) Err(correlationID, code, message string) Reply {
	return Reply{Message: ReplyMessage{
		AckStatus:     AckStatusERR,
		Timestamp:     b.Now(),
		CorrelationID: correlationID,
		Error:         &ReplyError{Code: code, Message: message},
	}}
}
