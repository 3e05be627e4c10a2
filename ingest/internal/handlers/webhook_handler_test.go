package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/httputil"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/models"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/secrets"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/service"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/validator"
)

type mockIngester struct {
	calls []map[string]any
	err   error
}

func (m *mockIngester) Ingest(ctx context.Context, raw map[string]any) (event.Record, error) {
	m.calls = append(m.calls, raw)
	if m.err != nil {
		return event.Record{}, m.err
	}
	return event.NewRecord(event.Lead{LeadID: "l", Email: "e", Status: "new"}), nil
}

func (m *mockIngester) GetStats() models.IngestionStats {
	return models.IngestionStats{Received: int64(len(m.calls))}
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string) (bool, error) { return false, d.err }
func (d denyLimiter) Close() error                                { return nil }

type fakeBroker struct{ connected bool }

func (f fakeBroker) IsConnected() bool           { return f.connected }
func (f fakeBroker) RTT() (time.Duration, error) { return time.Millisecond, nil }

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) httputil.StatusBody {
	t.Helper()
	var body httputil.StatusBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHandleWebhookStatusCodes(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		ingestErr   error
		wantStatus  int
		wantMessage string
		wantCalled  bool
	}{
		{name: "accepted", body: `{"webhook_id":"lead_ingest"}`, wantStatus: http.StatusAccepted, wantCalled: true},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest, wantMessage: "No data received"},
		{name: "whitespace body", body: "  \n", wantStatus: http.StatusBadRequest, wantMessage: "No data received"},
		{name: "empty object", body: `{}`, wantStatus: http.StatusBadRequest, wantMessage: "No data received"},
		{name: "null", body: `null`, wantStatus: http.StatusBadRequest, wantMessage: "No data received"},
		{name: "malformed", body: `{"webhook_id":`, wantStatus: http.StatusUnprocessableEntity, wantMessage: "Malformed JSON payload"},
		{name: "trailing garbage", body: `{"a":1} {"b":2}`, wantStatus: http.StatusUnprocessableEntity, wantMessage: "Malformed JSON payload"},
		{name: "array", body: `[{"a":1}]`, wantStatus: http.StatusUnprocessableEntity, wantMessage: "Payload must be a JSON object"},
		{
			name: "schema error", body: `{"webhook_id":"lead_ingest"}`,
			ingestErr:  &validator.SchemaError{Kind: event.KindLead, Field: "email", Reason: "field required"},
			wantStatus: http.StatusUnprocessableEntity, wantMessage: "invalid lead_ingest payload: email: field required", wantCalled: true,
		},
		{
			name: "auth error", body: `{"webhook_id":"lead_ingest"}`,
			ingestErr:  &validator.AuthError{Kind: event.KindLead},
			wantStatus: http.StatusUnprocessableEntity, wantMessage: "invalid signature for webhook type: lead_ingest", wantCalled: true,
		},
		{
			name: "transport error", body: `{"webhook_id":"lead_ingest"}`,
			ingestErr:  &queue.TransportError{Op: "enqueue", Err: errors.New("broker down")},
			wantStatus: http.StatusInternalServerError, wantMessage: "Internal storage failure", wantCalled: true,
		},
		{
			name: "unexpected error", body: `{"webhook_id":"lead_ingest"}`,
			ingestErr:  errors.New("boom"),
			wantStatus: http.StatusInternalServerError, wantMessage: "Internal server error", wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &mockIngester{err: tt.ingestErr}
			h := NewWebhookHandler(ing)

			rr := post(h.HandleWebhook, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCalled, len(ing.calls) == 1)

			body := decodeStatus(t, rr)
			if tt.wantStatus == http.StatusAccepted {
				assert.Equal(t, "accepted", body.Status)
				return
			}
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tt.wantMessage, body.Message)
		})
	}
}

func TestHandleWebhookPreservesNumbers(t *testing.T) {
	ing := &mockIngester{}
	h := NewWebhookHandler(ing)

	rr := post(h.HandleWebhook, `{"webhook_id":"billing_update","amount":10.10}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, ing.calls, 1)
	assert.Equal(t, json.Number("10.10"), ing.calls[0]["amount"])
}

func TestHandleWebhookMethodNotAllowed(t *testing.T) {
	h := NewWebhookHandler(&mockIngester{})
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	h.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestHandleWebhookBodyTooLarge(t *testing.T) {
	ing := &mockIngester{}
	h := NewWebhookHandler(ing, WithMaxBodyBytes(16))

	rr := post(h.HandleWebhook, `{"webhook_id":"lead_ingest","padding":"xxxxxxxxxxxxxxxx"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, ing.calls)
}

func TestHandleWebhookRateLimited(t *testing.T) {
	ing := &mockIngester{}
	h := NewWebhookHandler(ing, WithRateLimiter(denyLimiter{}))

	rr := post(h.HandleWebhook, `{"webhook_id":"lead_ingest"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Empty(t, ing.calls)
}

func TestHandleWebhookRateLimiterErrorFailsOpen(t *testing.T) {
	ing := &mockIngester{}
	h := NewWebhookHandler(ing, WithRateLimiter(denyLimiter{err: errors.New("redis down")}))

	rr := post(h.HandleWebhook, `{"webhook_id":"lead_ingest"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

// End to end through the real validator: rejected payloads never reach the
// queue.
func TestHandleWebhookRealServiceNoEnqueueOnRejection(t *testing.T) {
	v, err := validator.New(secrets.Static{event.KindLead: "super-secret-123"})
	require.NoError(t, err)
	q := queue.NewMemory(queue.MemoryConfig{PollWait: 10 * time.Millisecond})
	h := NewWebhookHandler(service.NewIngestService(v, q, time.Second, nil))

	rr := post(h.HandleWebhook, `{"webhook_id":"lead_ingest","secret_key":"wrong","lead_id":"lead_123","email":"lead@example.com"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = post(h.HandleWebhook, `{"webhook_id":"crm_sync","secret_key":"super-secret-123"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Zero(t, q.Len())

	rr = post(h.HandleWebhook, `{"webhook_id":"lead_ingest","secret_key":"super-secret-123","lead_id":"lead_123","email":"lead@example.com","status":"new"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, q.Len())
}

func TestRoot(t *testing.T) {
	h := NewWebhookHandler(&mockIngester{})

	rr := httptest.NewRecorder()
	h.Root(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"online"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.Root(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantStatus int
	}{
		{name: "no broker", wantStatus: http.StatusOK},
		{name: "broker up", opts: []Option{WithBroker("jetstream", fakeBroker{connected: true})}, wantStatus: http.StatusOK},
		{name: "broker down", opts: []Option{WithBroker("jetstream", fakeBroker{})}, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebhookHandler(&mockIngester{}, tt.opts...)
			rr := httptest.NewRecorder()
			h.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantStatus, rr.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Contains(t, body, "stats")
		})
	}
}

func TestHealth(t *testing.T) {
	h := NewWebhookHandler(&mockIngester{})
	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
