package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a serialized record names a kind outside
// the closed set.
var ErrUnknownKind = errors.New("unknown webhook_id")

// Record is a validated, secret-free event. It is created once at the
// boundary and never mutated afterwards.
type Record struct {
	Payload Payload
}

// NewRecord wraps p.
func NewRecord(p Payload) Record { return Record{Payload: p} }

func (r Record) Kind() Kind { return r.Payload.Kind() }

func (r Record) Key() Key { return r.Payload.Key() }

// MarshalJSON writes webhook_id followed by the payload fields in
// declaration order. The output is byte-stable for equal records.
func (r Record) MarshalJSON() ([]byte, error) {
	switch p := r.Payload.(type) {
	case Lead:
		return json.Marshal(struct {
			WebhookID Kind `json:"webhook_id"`
			Lead
		}{KindLead, p})
	case Billing:
		return json.Marshal(struct {
			WebhookID Kind `json:"webhook_id"`
			Billing
		}{KindBilling, p})
	case Signup:
		return json.Marshal(struct {
			WebhookID Kind `json:"webhook_id"`
			Signup
		}{KindSignup, p})
	case nil:
		return nil, errors.New("event: record has no payload")
	default:
		return nil, fmt.Errorf("event: unsupported payload %T", p)
	}
}

// ErrMissingField is returned when a serialized record lacks a field its
// key or amount is built from.
var ErrMissingField = errors.New("missing required field")

// DecodeRecord parses a queue message body. Unknown kinds, unknown fields
// and empty key-forming fields are rejected; a body that fails here can
// never succeed on retry.
func DecodeRecord(body []byte) (Record, error) {
	var head struct {
		WebhookID Kind `json:"webhook_id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}

	switch head.WebhookID {
	case KindLead:
		var v struct {
			WebhookID Kind `json:"webhook_id"`
			Lead
		}
		if err := strictDecode(body, &v); err != nil {
			return Record{}, err
		}
		if err := requireFields(KindLead, "lead_id", v.LeadID, "email", v.Email); err != nil {
			return Record{}, err
		}
		return NewRecord(v.Lead), nil
	case KindBilling:
		var v struct {
			WebhookID Kind `json:"webhook_id"`
			Billing
		}
		if err := strictDecode(body, &v); err != nil {
			return Record{}, err
		}
		if err := requireFields(KindBilling,
			"customer_id", v.CustomerID, "transaction_id", v.TransactionID, "amount", v.Amount.String()); err != nil {
			return Record{}, err
		}
		return NewRecord(v.Billing), nil
	case KindSignup:
		var v struct {
			WebhookID Kind `json:"webhook_id"`
			Signup
		}
		if err := strictDecode(body, &v); err != nil {
			return Record{}, err
		}
		if err := requireFields(KindSignup, "username", v.Username, "email", v.Email); err != nil {
			return Record{}, err
		}
		return NewRecord(v.Signup), nil
	default:
		return Record{}, fmt.Errorf("decode record: %w: %q", ErrUnknownKind, head.WebhookID)
	}
}

// requireFields takes name/value pairs and fails on the first empty value.
func requireFields(kind Kind, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("decode record: %w: %s.%s", ErrMissingField, kind, pairs[i])
		}
	}
	return nil
}

func strictDecode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// Fields returns the serialized record as a flat map. Numbers stay
// json.Number so amounts keep their precision.
func (r Record) Fields() (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Fingerprint is the lowercase hex SHA-256 of b.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
