package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spdci/registry-mock/internal/callback"
	"github.com/spdci/registry-mock/internal/config"
	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/envelope"
	"github.com/spdci/registry-mock/internal/metrics"
	"github.com/spdci/registry-mock/internal/recorder"
)

const fixturePath = "../contract/testdata/social_api_v1.0.0.yaml"

type scheduled struct {
	senderURI string
	payload   any
	recordID  string
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeScheduler) Schedule(_ context.Context, senderURI string, payload any, recordID string) callback.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{senderURI: senderURI, payload: payload, recordID: recordID})
	return callback.OutcomeScheduled
}

type failingValidator struct{ err error }

func (f failingValidator) ValidateRequest(string, string, any) (contract.Result, error) {
	return contract.Result{}, f.err
}

type fixture struct {
	handler   *Handler
	records   *recorder.Recorder
	store     *config.Store
	scheduler *fakeScheduler
}

func newFixture(t *testing.T, validator Validator) fixture {
	t.Helper()
	clock := envelope.FixedClock{T: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	records := recorder.New(recorder.Options{Clock: clock, IDs: envelope.NewSequentialIDs("rec")})
	store := config.NewStore(config.ResponseConfig{
		CallbackDelay: 20,
		Callbacks:     config.CallbackConfig{Enabled: true},
	})
	scheduler := &fakeScheduler{}
	domain, _ := envelope.LookupDomain("social")
	h := NewHandler(Options{
		Validator: validator,
		Recorder:  records,
		Scheduler: scheduler,
		Config:    store,
		Builder:   envelope.NewBuilder(clock, envelope.NewSequentialIDs("id")),
		Domain:    domain,
		Logger:    zerolog.Nop(),
	})
	return fixture{handler: h, records: records, store: store, scheduler: scheduler}
}

func loadValidator(t *testing.T) *contract.Validator {
	t.Helper()
	v, err := contract.Load(fixturePath)
	require.NoError(t, err)
	return v
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	v, err := contract.DecodeJSON(strings.NewReader(raw))
	require.NoError(t, err)
	return v
}

func searchBody(t *testing.T, senderURI string) any {
	t.Helper()
	return decode(t, `{
		"signature": "unsigned-stub",
		"header": {
			"version": "1.0.0",
			"message_id": "m-1",
			"message_ts": "2026-01-02T03:04:05.000Z",
			"action": "search",
			"sender_id": "spmis-client",
			"sender_uri": "`+senderURI+`",
			"receiver_id": "social-registry",
			"total_count": 1
		},
		"message": {
			"transaction_id": "txn-1",
			"search_request": [{
				"reference_id": "ref-1",
				"timestamp": "2026-01-02T03:04:05.000Z",
				"search_criteria": {
					"reg_type": "ns:org:RegistryType:Social",
					"query_type": "idtype-value",
					"query": {"type": "UIN", "value": "TEST-001"}
				}
			}]
		}
	}`)
}

// roundTrip renders v the way the transport would.
func roundTrip(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func handle(t *testing.T, f fixture, path string, body any) Response {
	t.Helper()
	resp, err := f.handler.Handle(context.Background(), Request{Path: path, Method: "POST", Body: body})
	require.NoError(t, err)
	return resp
}

func TestAsyncSearchAcksThenSchedulesCallback(t *testing.T) {
	f := newFixture(t, loadValidator(t))
	resp := handle(t, f, "/registry/search", searchBody(t, "http://127.0.0.1:3336/callback/on-search"))

	require.Equal(t, http.StatusAccepted, resp.Status)
	ack := roundTrip(t, resp.Body)["message"].(map[string]any)
	assert.Equal(t, "ACK", ack["ack_status"])
	correlationID := ack["correlation_id"].(string)
	assert.NotEmpty(t, correlationID)

	require.Empty(t, f.scheduler.calls, "nothing is scheduled before the response completes")
	resp.Complete()
	require.Len(t, f.scheduler.calls, 1)

	call := f.scheduler.calls[0]
	assert.Equal(t, "http://127.0.0.1:3336/callback/on-search", call.senderURI)
	recs := f.records.List("")
	require.Len(t, recs, 1)
	assert.Equal(t, recs[0].ID, call.recordID)
	assert.True(t, recs[0].Validation.Valid, "%+v", recs[0].Validation.Errors)

	payload := roundTrip(t, call.payload)
	assert.Equal(t, "unsigned-mock", payload["signature"])
	header := payload["header"].(map[string]any)
	assert.Equal(t, "on-search", header["action"])
	assert.Equal(t, "social-registry", header["sender_id"])
	assert.Equal(t, "spmis-client", header["receiver_id"])
	assert.Equal(t, "succ", header["status"])
	assert.EqualValues(t, 1, header["total_count"])
	assert.EqualValues(t, 1, header["completed_count"])

	message := payload["message"].(map[string]any)
	assert.Equal(t, "txn-1", message["transaction_id"])
	assert.Equal(t, correlationID, message["correlation_id"])
	data := message["search_response"].([]any)[0].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "ns:org:RegistryType:Social", data["reg_type"])
	assert.Equal(t, "Person", data["reg_record_type"])
}

func TestCallbackPayloadsMatchContract(t *testing.T) {
	v := loadValidator(t)
	f := newFixture(t, v)
	callbacks := map[string]string{
		"/registry/search":      "/registry/on-search",
		"/registry/subscribe":   "/registry/on-subscribe",
		"/registry/unsubscribe": "/registry/on-unsubscribe",
		"/registry/txn/status":  "/registry/txn/on-status",
	}
	for path, callbackPath := range callbacks {
		resp := handle(t, f, path, searchBody(t, "http://cb"))
		require.Equal(t, http.StatusAccepted, resp.Status, path)
		resp.Complete()
		call := f.scheduler.calls[len(f.scheduler.calls)-1]

		result, err := v.ValidateRequest(callbackPath, "POST", roundTrip(t, call.payload))
		require.NoError(t, err)
		assert.True(t, result.Valid, "%s: %+v", callbackPath, result.Errors)
	}
}

func TestCallbackActionsPerPath(t *testing.T) {
	f := newFixture(t, nil)
	want := map[string]string{
		"/registry/search":      "on-search",
		"/registry/subscribe":   "on-subscribe",
		"/registry/unsubscribe": "on-unsubscribe",
		"/registry/txn/status":  "txn-on-status",
	}
	for path, action := range want {
		resp := handle(t, f, path, searchBody(t, "http://cb"))
		resp.Complete()
		call := f.scheduler.calls[len(f.scheduler.calls)-1]
		header := roundTrip(t, call.payload)["header"].(map[string]any)
		assert.Equal(t, action, header["action"], path)
	}
}

func TestSyncEndpointsAnswerInline(t *testing.T) {
	v := loadValidator(t)
	f := newFixture(t, v)
	for path, action := range map[string]string{
		"/registry/sync/search":     "on-search",
		"/registry/sync/txn/status": "txn-on-status",
	} {
		resp := handle(t, f, path, searchBody(t, ""))
		require.Equal(t, http.StatusOK, resp.Status, path)
		resp.Complete()

		body := roundTrip(t, resp.Body)
		assert.Equal(t, action, body["header"].(map[string]any)["action"])
		assert.Equal(t, "txn-1", body["message"].(map[string]any)["transaction_id"])

		result, err := v.ValidateResponse(path, "POST", http.StatusOK, body)
		require.NoError(t, err)
		assert.True(t, result.Valid, "%s: %+v", path, result.Errors)
	}
	assert.Empty(t, f.scheduler.calls)
}

func TestTransactionIDGeneratedWhenMissing(t *testing.T) {
	f := newFixture(t, nil)
	resp := handle(t, f, "/registry/sync/search", map[string]any{
		"header":  map[string]any{"action": "search"},
		"message": map[string]any{"search_request": []any{}},
	})
	message := roundTrip(t, resp.Body)["message"].(map[string]any)
	assert.NotEmpty(t, message["transaction_id"])
	assert.NotEqual(t, message["transaction_id"], message["correlation_id"])
}

func TestCallbackHeaderDefaults(t *testing.T) {
	f := newFixture(t, nil)
	resp := handle(t, f, "/registry/sync/search", map[string]any{
		"header":  map[string]any{"action": "search"},
		"message": map[string]any{"transaction_id": "t"},
	})
	header := roundTrip(t, resp.Body)["header"].(map[string]any)
	assert.Equal(t, "mock-registry", header["sender_id"])
	assert.Equal(t, "spmis-client", header["receiver_id"])
}

func TestStructuralGuards(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "missing header", body: map[string]any{"message": map[string]any{}}, want: "Missing header"},
		{name: "null header", body: map[string]any{"header": nil, "message": map[string]any{}}, want: "Missing header"},
		{name: "missing message", body: map[string]any{"header": map[string]any{}}, want: "Missing message"},
		{name: "not an object", body: []any{}, want: "Missing header"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := handle(t, f, "/registry/search", tc.body)
			require.Equal(t, http.StatusOK, resp.Status)
			msg := roundTrip(t, resp.Body)["message"].(map[string]any)
			assert.Equal(t, "ERR", msg["ack_status"])
			errBody := msg["error"].(map[string]any)
			assert.Equal(t, "err.request.bad", errBody["code"])
			assert.Equal(t, tc.want, errBody["message"])
		})
	}
	assert.Equal(t, len(tests), f.records.Count(), "malformed envelopes are still recorded")
}

func TestStrictValidationRejectsInvalid(t *testing.T) {
	f := newFixture(t, loadValidator(t))
	_, err := f.store.Merge([]byte(`{"endpoints":{"/registry/search":{"strictValidation":true}}}`))
	require.NoError(t, err)

	body := map[string]any{"header": map[string]any{"action": "search"}, "message": map[string]any{}}
	resp := handle(t, f, "/registry/search", body)
	require.Equal(t, http.StatusOK, resp.Status)
	msg := roundTrip(t, resp.Body)["message"].(map[string]any)
	assert.Equal(t, "ERR", msg["ack_status"])
	assert.Equal(t, "err.request.invalid", msg["error"].(map[string]any)["code"])
	assert.Equal(t, "Validation failed", msg["error"].(map[string]any)["message"])

	recs := f.records.List("/registry/search")
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Validation.Valid)
	assert.NotEmpty(t, recs[0].Validation.Errors)
	resp.Complete()
	assert.Empty(t, f.scheduler.calls)
}

func TestInvalidRequestWithoutStrictIsAcked(t *testing.T) {
	f := newFixture(t, loadValidator(t))
	body := map[string]any{"header": map[string]any{"action": "search", "sender_uri": "http://cb"}, "message": map[string]any{}}
	resp := handle(t, f, "/registry/search", body)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.False(t, f.records.List("")[0].Validation.Valid)
}

func TestConfiguredErrorSkipsCallback(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.Merge([]byte(`{"endpoints":{"/registry/search":{"status":"error"}}}`))
	require.NoError(t, err)

	resp := handle(t, f, "/registry/search", searchBody(t, "http://cb"))
	require.Equal(t, http.StatusOK, resp.Status)
	resp.Complete()
	msg := roundTrip(t, resp.Body)["message"].(map[string]any)
	assert.Equal(t, "err.server", msg["error"].(map[string]any)["code"])
	assert.Equal(t, "Configured error", msg["error"].(map[string]any)["message"])
	assert.Empty(t, f.scheduler.calls)

	_, err = f.store.Merge([]byte(`{"endpoints":{"/registry/search":{"status":"error","errorCode":"err.custom","errorMessage":"nope"}}}`))
	require.NoError(t, err)
	resp = handle(t, f, "/registry/search", searchBody(t, "http://cb"))
	msg = roundTrip(t, resp.Body)["message"].(map[string]any)
	assert.Equal(t, "err.custom", msg["error"].(map[string]any)["code"])
	assert.Equal(t, "nope", msg["error"].(map[string]any)["message"])
}

func TestUnknownPathRecordedWithWarningThen404(t *testing.T) {
	f := newFixture(t, loadValidator(t))
	resp := handle(t, f, "/registry/unknown/", searchBody(t, "http://cb"))
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Nil(t, resp.Body)

	recs := f.records.List("/registry/unknown")
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Validation.Valid)
	assert.NotEmpty(t, recs[0].Validation.Warning)
}

func TestNoContractSkipsValidation(t *testing.T) {
	f := newFixture(t, nil)
	resp := handle(t, f, "/registry/search", map[string]any{"header": map[string]any{}, "message": map[string]any{"x": 1}})
	assert.Equal(t, http.StatusAccepted, resp.Status)
	rec := f.records.List("")[0]
	assert.True(t, rec.Validation.Valid)
	assert.Equal(t, "OpenAPI contract not loaded", rec.Validation.Warning)
}

func TestMissingSchemaRecordedWithWarning(t *testing.T) {
	for _, sentinel := range []error{contract.ErrUnknownOperation, contract.ErrMissingSchema} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			resolution := &contract.ResolutionError{Direction: contract.DirectionRequest, Method: "POST", Path: "/registry/search", Err: sentinel}
			f := newFixture(t, failingValidator{err: resolution})

			resp := handle(t, f, "/registry/search", searchBody(t, "http://cb"))
			assert.Equal(t, http.StatusAccepted, resp.Status)

			recs := f.records.List("/registry/search")
			require.Len(t, recs, 1)
			assert.True(t, recs[0].Validation.Valid)
			assert.Equal(t, "no schema for POST /registry/search", recs[0].Validation.Warning)
		})
	}
}

func TestBrokenContractIsNotRecorded(t *testing.T) {
	broken := fmt.Errorf("%w: compile request:POST /registry/search: bad $ref", contract.ErrInvalidContract)
	f := newFixture(t, failingValidator{err: broken})

	_, err := f.handler.Handle(context.Background(), Request{Path: "/registry/search", Method: "POST", Body: searchBody(t, "")})
	require.ErrorIs(t, err, contract.ErrInvalidContract)
	assert.Zero(t, f.records.Count())
}

func TestMetricsLabelUnroutedPathsAsOther(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NoError(t, m.Register())
	f := newFixture(t, nil)
	f.handler.metrics = m

	for _, path := range []string{"/registry/nope-1", "/registry/nope-2", "/anything/else"} {
		resp := handle(t, f, path, searchBody(t, ""))
		assert.Equal(t, http.StatusNotFound, resp.Status)
	}
	handle(t, f, "/registry/search", searchBody(t, ""))

	n, err := testutil.GatherAndCount(reg, "registry_mock_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(reg, "registry_mock_responses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, f.records.List("/registry/nope-1"), 1)
}

func TestDelayUsesEndpointOverride(t *testing.T) {
	f := newFixture(t, nil)
	var slept []time.Duration
	f.handler.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	_, err := f.store.Merge([]byte(`{"defaultDelay":50,"endpoints":{"/registry/sync/search":{"delay":0}}}`))
	require.NoError(t, err)

	handle(t, f, "/registry/search", searchBody(t, ""))
	handle(t, f, "/registry/sync/search", searchBody(t, ""))
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 0}, slept)
}

func TestDelayHonoursCancellation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.Merge([]byte(`{"defaultDelay":10000}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.handler.Handle(ctx, Request{Path: "/registry/search", Method: "POST", Body: searchBody(t, "")})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, f.records.Count(), "the request is recorded before the delay")
}

func TestCorrelationIDsAreUnique(t *testing.T) {
	f := newFixture(t, nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		resp := handle(t, f, "/registry/search", searchBody(t, ""))
		id := roundTrip(t, resp.Body)["message"].(map[string]any)["correlation_id"].(string)
		require.False(t, seen[id], "duplicate correlation id %s", id)
		seen[id] = true
	}
}

func TestTrimPath(t *testing.T) {
	assert.Equal(t, "/registry/search", TrimPath("/registry/search///"))
	assert.Equal(t, "/", TrimPath("/"))
	assert.Equal(t, "/", TrimPath(""))
}

func TestOperations(t *testing.T) {
	ops := Operations()
	assert.True(t, ops["/registry/search"])
	assert.False(t, ops["/registry/sync/search"])
	assert.Len(t, ops, 6)
}
