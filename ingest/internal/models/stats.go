package models

import "time"

// IngestionStats is reported on /readyz.
type IngestionStats struct {
	Received        int64     `json:"received"`
	Accepted        int64     `json:"accepted"`
	EmptyRejected   int64     `json:"empty_rejected"`
	SchemaRejected  int64     `json:"schema_rejected"`
	AuthRejected    int64     `json:"auth_rejected"`
	TransportErrors int64     `json:"transport_errors"`
	LastAccepted    time.Time `json:"last_accepted,omitempty"`
}
