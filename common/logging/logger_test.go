package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/crm-ingest/common/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	logger.InfoContext(ctx, "accepted", WebhookID("lead_ingest"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-42", line[FieldRequestID])
	assert.Equal(t, "lead_ingest", line[FieldWebhookID])
	assert.Equal(t, "accepted", line["msg"])
}

func TestWithContextWithoutRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	logger.WarnContext(context.Background(), "no id")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	_, ok := line[FieldRequestID]
	assert.False(t, ok)
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "text")
	logger.Info("hello", Outcome("committed"))
	assert.Contains(t, buf.String(), "outcome=committed")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn, "json")
	logger.Info("dropped")
	assert.Empty(t, buf.String())
}

func TestErrorAttr(t *testing.T) {
	assert.Equal(t, "boom", Error(errors.New("boom")).Value.String())
	assert.Equal(t, "", Error(nil).Value.String())
}

func TestDomainFields(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
	}{
		{MessageID("m-1"), FieldMessageID},
		{PartitionKey("USER#a@b.c"), FieldPartitionKey},
		{SortKey("METADATA"), FieldSortKey},
		{RecordHash("abc"), FieldRecordHash},
		{Attempt(3), FieldAttempt},
		{BatchSize(10), FieldBatchSize},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.key, tt.attr.Key)
	}
}

func TestWithReturnsChild(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json").With(Service("core"))
	logger.Info("x")
	assert.Contains(t, buf.String(), `"service":"core"`)
}
