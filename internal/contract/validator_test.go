package contract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spdci/registry-mock/internal/envelope"
)

const fixturePath = "testdata/social_api_v1.0.0.yaml"

const (
	idTypeValueQuery = `{"type":"UIN","value":"TEST-001"}`
	expressionQuery  = `{"type":"ns:org:QueryType:expression","value":{"expression":{"collection":"Person"}}}`
	predicateQuery   = `[{"attribute_name":"age","operator":"gt","attribute_value":18}]`
)

func loadFixture(t *testing.T) *Validator {
	t.Helper()
	v, err := Load(fixturePath)
	require.NoError(t, err)
	return v
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	v, err := DecodeJSON(strings.NewReader(raw))
	require.NoError(t, err)
	return v
}

func searchRequest(t *testing.T, queryType, query string) any {
	t.Helper()
	return decode(t, fmt.Sprintf(`{
		"signature": "unsigned-stub",
		"header": {
			"version": "1.0.0",
			"message_id": "m-1",
			"message_ts": "2026-01-02T03:04:05.000Z",
			"action": "search",
			"sender_id": "spmis-client",
			"sender_uri": "http://127.0.0.1:3336/callback/on-search",
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
					"query_type": %q,
					"query": %s
				}
			}]
		}
	}`, queryType, query))
}

func findError(errs []ValidationError, keyword string, match func(ValidationError) bool) (ValidationError, bool) {
	for _, e := range errs {
		if e.Keyword == keyword && match(e) {
			return e, true
		}
	}
	return ValidationError{}, false
}

func TestLoadFixture(t *testing.T) {
	v := loadFixture(t)
	assert.Equal(t, "SPDCI Social Registry API", v.Title())
	assert.Equal(t, "1.0.0", v.Version())
	assert.Equal(t, "3.0.3", v.OpenAPIVersion())
	assert.Contains(t, v.Paths(), "/registry/search")
	assert.Contains(t, v.Paths(), "/registry/sync/txn/status")
	assert.True(t, strings.HasPrefix(v.Location(), "file:///"))
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	dir := t.TempDir()
	notOpenAPI := filepath.Join(dir, "plain.yaml")
	require.NoError(t, os.WriteFile(notOpenAPI, []byte("name: registry\n"), 0o644))
	_, err = Load(notOpenAPI)
	assert.ErrorIs(t, err, ErrInvalidContract)

	noPaths := filepath.Join(dir, "nopaths.yaml")
	require.NoError(t, os.WriteFile(noPaths, []byte("openapi: 3.0.3\ninfo: {title: x, version: '1'}\n"), 0o644))
	_, err = Load(noPaths)
	assert.ErrorIs(t, err, ErrInvalidContract)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("openapi: [unclosed\n"), 0o644))
	_, err = Load(broken)
	assert.Error(t, err)
}

func TestLoadJSONContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ping.json")
	doc := `{
		"openapi": "3.1.0",
		"info": {"title": "Ping", "version": "0.1.0"},
		"paths": {"/ping": {"post": {
			"requestBody": {"content": {"application/json": {"schema": {
				"type": "object", "required": ["count"], "properties": {"count": {"type": "integer"}}
			}}}},
			"responses": {"200": {"description": "ok"}}
		}}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	v, err := Load(path)
	require.NoError(t, err)

	res, err := v.ValidateRequest("/ping", "POST", decode(t, `{"count": 3}`))
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.ValidateRequest("/ping", "POST", decode(t, `{"count": 3.5}`))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	_, ok := findError(res.Errors, "type", func(e ValidationError) bool { return e.Path == "/count" })
	assert.True(t, ok, "errors: %+v", res.Errors)
}

func TestValidateRequestIdTypeValue(t *testing.T) {
	v := loadFixture(t)
	res, err := v.ValidateRequest("/registry/search", "post", searchRequest(t, "idtype-value", idTypeValueQuery))
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %+v", res.Errors)
	assert.NotNil(t, res.Errors)
	assert.Empty(t, res.Errors)
}

func TestValidateRequestFiltersAmbiguousPredicate(t *testing.T) {
	v := loadFixture(t)
	res, err := v.ValidateRequest("/registry/search", "POST", searchRequest(t, "predicate", predicateQuery))
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %+v", res.Errors)
	_, ok := findError(res.Errors, "oneOf", func(e ValidationError) bool { return strings.Contains(e.Path, "/query") })
	assert.False(t, ok)
}

func TestValidateRequestKeepsMismatchedDiscriminator(t *testing.T) {
	v := loadFixture(t)
	res, err := v.ValidateRequest("/registry/search", "post", searchRequest(t, "predicate", expressionQuery))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	e, ok := findError(res.Errors, "oneOf", func(e ValidationError) bool { return strings.Contains(e.Path, "/query") })
	require.True(t, ok, "errors: %+v", res.Errors)
	assert.Equal(t, "/message/search_request/0/search_criteria/query", e.Path)
	assert.NotEmpty(t, e.Message)
}

func TestValidateRequestRequiredSplitsPerProperty(t *testing.T) {
	v := loadFixture(t)
	res, err := v.ValidateRequest("/registry/search", "post", decode(t, `{"signature": "x"}`))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	for _, prop := range []string{"header", "message"} {
		e, ok := findError(res.Errors, "required", func(e ValidationError) bool {
			return e.Params["missingProperty"] == prop
		})
		require.True(t, ok, "missing %s in %+v", prop, res.Errors)
		assert.Equal(t, RootPath, e.Path)
		assert.Equal(t, fmt.Sprintf("must have required property '%s'", prop), e.Message)
	}
}

func TestValidateRequestReportsFormat(t *testing.T) {
	v := loadFixture(t)
	body := searchRequest(t, "idtype-value", idTypeValueQuery)
	body.(map[string]any)["header"].(map[string]any)["message_ts"] = "yesterday"

	res, err := v.ValidateRequest("/registry/search", "post", body)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	_, ok := findError(res.Errors, "format", func(e ValidationError) bool { return e.Path == "/header/message_ts" })
	assert.True(t, ok, "errors: %+v", res.Errors)
}

func TestValidateRequestReportsTypeMismatch(t *testing.T) {
	v := loadFixture(t)
	body := searchRequest(t, "idtype-value", idTypeValueQuery)
	body.(map[string]any)["header"] = "not-an-object"

	res, err := v.ValidateRequest("/registry/search", "post", body)
	require.NoError(t, err)
	_, ok := findError(res.Errors, "type", func(e ValidationError) bool { return e.Path == "/header" })
	assert.True(t, ok, "errors: %+v", res.Errors)
}

func TestResolutionErrors(t *testing.T) {
	v := loadFixture(t)

	cases := []struct {
		name   string
		call   func() error
		target error
	}{
		{"unknown path", func() error { _, err := v.ValidateRequest("/registry/nothing", "post", nil); return err }, ErrUnknownPath},
		{"unknown operation", func() error { _, err := v.ValidateRequest("/registry/search", "delete", nil); return err }, ErrUnknownOperation},
		{"request without json body", func() error { _, err := v.ValidateRequest("/search", "post", nil); return err }, ErrMissingSchema},
		{"response without content", func() error { _, err := v.ValidateResponse("/search", "get", 200, nil); return err }, ErrMissingSchema},
		{"response without default", func() error { _, err := v.ValidateResponse("/registry/on-search", "post", 500, nil); return err }, ErrMissingSchema},
		{"unknown component", func() error { _, err := v.ValidateComponent("Nope", nil); return err }, ErrUnknownComponent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
			var resErr *ResolutionError
			assert.True(t, errors.As(err, &resErr))
		})
	}
}

func TestResolutionErrorMessage(t *testing.T) {
	v := loadFixture(t)
	_, err := v.ValidateRequest("registry/nothing", "post", nil)
	require.Error(t, err)
	assert.Equal(t, "request POST /registry/nothing: path not found in contract", err.Error())
}

func TestSuffixPathResolution(t *testing.T) {
	v := loadFixture(t)

	resolved, ok := v.ResolvePath("/v2/registry/search")
	require.True(t, ok)
	assert.Equal(t, "/registry/search", resolved, "longest suffix wins over /search")

	resolved, ok = v.ResolvePath("/registry/search")
	require.True(t, ok)
	assert.Equal(t, "/registry/search", resolved)

	_, ok = v.ResolvePath("/registry/searches")
	assert.False(t, ok)

	res, err := v.ValidateRequest("/api/v1/registry/search", "post", searchRequest(t, "idtype-value", idTypeValueQuery))
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %+v", res.Errors)
}

func TestValidateResponseStatusAndDefault(t *testing.T) {
	v := loadFixture(t)
	b := envelope.NewBuilder(envelope.FixedClock{T: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, envelope.NewSequentialIDs("id"))

	res, err := v.ValidateResponse("/registry/search", "post", 202, b.Ack("corr-1"))
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %+v", res.Errors)

	res, err = v.ValidateResponse("/registry/search", "post", 202, map[string]any{"message": map[string]any{"ack_status": "MAYBE"}})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = v.ValidateResponse("/registry/search", "post", 500, map[string]any{"error": "Invalid JSON"})
	require.NoError(t, err)
	assert.True(t, res.Valid, "500 falls back to default")

	res, err = v.ValidateResponse("/registry/search", "post", 400, map[string]any{"error": 7})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestCallbackEnvelopesMatchContract(t *testing.T) {
	v := loadFixture(t)
	b := envelope.NewBuilder(envelope.FixedClock{T: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, envelope.NewSequentialIDs("id"))
	d, _ := envelope.LookupDomain("social")
	c := envelope.Correlation{TransactionID: "txn-1", CorrelationID: "corr-1"}

	cases := map[string]envelope.Envelope{
		"/registry/on-search":      b.Envelope(b.CallbackHeader("on-search", "", ""), b.SearchResult(d, c)),
		"/registry/on-subscribe":   b.Envelope(b.CallbackHeader("on-subscribe", "", ""), b.SubscribeResult(d, c)),
		"/registry/on-unsubscribe": b.Envelope(b.CallbackHeader("on-unsubscribe", "", ""), b.UnsubscribeResult(d, c)),
		"/registry/txn/on-status":  b.Envelope(b.CallbackHeader("txn-on-status", "", ""), b.TxnStatusResult(d, c)),
	}
	for path, env := range cases {
		res, err := v.ValidateRequest(path, "post", env)
		require.NoError(t, err, path)
		assert.True(t, res.Valid, "%s errors: %+v", path, res.Errors)
	}

	sync, err := v.ValidateResponse("/registry/sync/search", "post", 200, cases["/registry/on-search"])
	require.NoError(t, err)
	assert.True(t, sync.Valid, "errors: %+v", sync.Errors)
}

func TestValidateComponent(t *testing.T) {
	v := loadFixture(t)

	res, err := v.ValidateComponent("Subscription", map[string]any{"code": "sub-1", "status": "subscribe"})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.ValidateComponent("Subscription", map[string]any{"code": "sub-1", "status": "paused"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	_, ok := findError(res.Errors, "enum", func(e ValidationError) bool { return e.Path == "/status" })
	assert.True(t, ok, "errors: %+v", res.Errors)

	res, err = v.ValidateComponent("HttpErrorResponse", map[string]any{"error": "boom"})
	require.NoError(t, err)
	assert.True(t, res.Valid, "falls back to components/responses")
}

func TestCompilesOncePerKey(t *testing.T) {
	v := loadFixture(t)
	body := searchRequest(t, "idtype-value", idTypeValueQuery)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = v.ValidateRequest("/registry/search", "post", body)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, v.Compiled())

	_, err := v.ValidateRequest("/prefix/registry/search", "POST", body)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Compiled(), "suffix match shares the resolved key")

	_, err = v.ValidateResponse("/registry/search", "post", 202, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Compiled())
}
