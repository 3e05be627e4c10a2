package messaging

// Subjects follow {domain}.{service}.{resource}.
const (
	// SubjectIngestRecords carries validated records from ingest to core.
	SubjectIngestRecords = "crm.ingest.records"

	// SubjectDLQPrefix prefixes dead-letter subjects; the reason is appended.
	SubjectDLQPrefix = "crm.ingest.dlq."
)

// Stream and durable consumer names.
const (
	StreamIngestRecords = "CRM_INGEST"
	StreamIngestDLQ     = "CRM_INGEST_DLQ"

	// ConsumerCoreWriters is shared by every core replica so each record is
	// handed to one writer at a time.
	ConsumerCoreWriters = "core-writers"
)

// DLQSubject returns the dead-letter subject for reason.
// Example: crm.ingest.dlq.max_attempts
func DLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQPrefix + reason
}
