package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookClient(t *testing.T) {
	c := NewWebhookClient("http://localhost:8088/")

	assert.Equal(t, "http://localhost:8088", c.baseURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}

func TestSend(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
		wantMsg    string
		accepted   bool
	}{
		{
			name:       "accepted",
			status:     http.StatusAccepted,
			body:       `{"status":"accepted"}`,
			wantStatus: "accepted",
			accepted:   true,
		},
		{
			name:       "rejected",
			status:     http.StatusUnprocessableEntity,
			body:       `{"status":"error","message":"Unauthorized: invalid secret_key"}`,
			wantStatus: "error",
			wantMsg:    "Unauthorized: invalid secret_key",
		},
		{
			name:       "non json reply",
			status:     http.StatusTooManyRequests,
			body:       "slow down\n",
			wantStatus: "Too Many Requests",
			wantMsg:    "slow down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"webhook_id":"lead_ingest","secret_key":"s","lead_id":"L1","email":"a@b.c"}`
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/webhook", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				got, _ := io.ReadAll(r.Body)
				assert.JSONEq(t, payload, string(got))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := NewWebhookClient(srv.URL).Send(context.Background(), []byte(payload))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantMsg, resp.Message)
			assert.Equal(t, tt.accepted, resp.Accepted())
		})
	}
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewWebhookClient(srv.URL).Send(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestOnline(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "online", status: http.StatusOK, body: `{"status":"online"}`},
		{name: "bad status", status: http.StatusServiceUnavailable, body: `{}`, wantErr: "status 503"},
		{name: "wrong body", status: http.StatusOK, body: `{"status":"starting"}`, wantErr: "unexpected probe status"},
		{name: "garbage", status: http.StatusOK, body: `<html>`, wantErr: "decode probe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewWebhookClient(srv.URL).Online(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
