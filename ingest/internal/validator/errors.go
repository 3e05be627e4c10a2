package validator

import (
	"errors"
	"fmt"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// ErrEmptyPayload is returned for a nil or empty object.
var ErrEmptyPayload = errors.New("no data received")

// SchemaError reports a missing, mistyped or unrecognised field. Retrying
// the same payload cannot succeed.
type SchemaError struct {
	Kind   event.Kind
	Field  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	switch {
	case e.Field != "" && e.Kind != "":
		return fmt.Sprintf("invalid %s payload: %s: %s", e.Kind, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
	case e.Kind != "":
		return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Reason)
	default:
		return "invalid payload: " + e.Reason
	}
}

func (e *SchemaError) Unwrap() error { return e.Err }

// AuthError reports a secret that does not match the one registered for
// the claimed kind, including kinds with no registered secret.
type AuthError struct {
	Kind event.Kind
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("invalid signature for webhook type: %s", e.Kind)
}
