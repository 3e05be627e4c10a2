package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, remote: "1.1.1.1:80", want: "10.0.0.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "10.0.0.9"}, remote: "1.1.1.1:80", want: "10.0.0.9"},
		{name: "remote addr strips port", remote: "192.168.1.5:5555", want: "192.168.1.5"},
		{name: "remote addr without port", remote: "192.168.1.6", want: "192.168.1.6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusInternalServerError, "Internal storage failure")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body StatusBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, StatusBody{Status: "error", Message: "Internal storage failure"}, body)
}

func TestWriteStatusOmitsEmptyMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteStatus(rr, http.StatusAccepted, "accepted", "")
	assert.JSONEq(t, `{"status":"accepted"}`, rr.Body.String())
}
