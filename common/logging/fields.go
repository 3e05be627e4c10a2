package logging

import "log/slog"

// Field names shared by the ingest and core services.
const (
	FieldService      = "service"
	FieldRequestID    = "request_id"
	FieldIP           = "ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatus       = "status"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldWebhookID    = "webhook_id"
	FieldMessageID    = "message_id"
	FieldPartitionKey = "pk"
	FieldSortKey      = "sk"
	FieldRecordHash   = "record_hash"
	FieldOutcome      = "outcome"
	FieldAttempt      = "attempt"
	FieldBatchSize    = "batch_size"
)

func Service(name string) slog.Attr { return slog.String(FieldService, name) }

func RequestID(id string) slog.Attr { return slog.String(FieldRequestID, id) }

func IP(ip string) slog.Attr { return slog.String(FieldIP, ip) }

func Method(method string) slog.Attr { return slog.String(FieldMethod, method) }

func Path(path string) slog.Attr { return slog.String(FieldPath, path) }

func Status(code int) slog.Attr { return slog.Int(FieldStatus, code) }

// Duration records a duration in milliseconds.
func Duration(ms int64) slog.Attr { return slog.Int64(FieldDuration, ms) }

// Error returns an error attribute. A nil error renders as an empty string
// so callers can pass results through unconditionally.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// WebhookID tags the event kind discriminator.
func WebhookID(kind string) slog.Attr { return slog.String(FieldWebhookID, kind) }

// MessageID tags the transport's identifier for a delivery.
func MessageID(id string) slog.Attr { return slog.String(FieldMessageID, id) }

func PartitionKey(pk string) slog.Attr { return slog.String(FieldPartitionKey, pk) }

func SortKey(sk string) slog.Attr { return slog.String(FieldSortKey, sk) }

func RecordHash(h string) slog.Attr { return slog.String(FieldRecordHash, h) }

func Outcome(o string) slog.Attr { return slog.String(FieldOutcome, o) }

func Attempt(n int) slog.Attr { return slog.Int(FieldAttempt, n) }

func BatchSize(n int) slog.Attr { return slog.Int(FieldBatchSize, n) }
