// Package validator is the ingest boundary: it discriminates, authenticates,
// shape-checks and normalizes raw webhook payloads into event.Records. It has
// no side effects.
package validator

import (
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	jskind "github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/secrets"
)

const (
	fieldWebhookID = "webhook_id"
	fieldSecretKey = "secret_key"

	schemaBaseURL = "https://crm-ingest.local/schemas/"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator turns untyped payloads into records.
type Validator struct {
	secrets secrets.Lookup
	schemas map[event.Kind]*jsonschema.Schema
}

// New compiles the embedded per-kind schemas.
func New(lookup secrets.Lookup) (*Validator, error) {
	if lookup == nil {
		return nil, fmt.Errorf("validator: secret lookup is required")
	}

	c := jsonschema.NewCompiler()
	for _, kind := range event.Kinds() {
		f, err := schemaFS.Open("schemas/" + string(kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("open schema %s: %w", kind, err)
		}
		doc, err := jsonschema.UnmarshalJSON(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", kind, err)
		}
		if err := c.AddResource(schemaURL(kind), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", kind, err)
		}
	}

	schemas := make(map[event.Kind]*jsonschema.Schema, len(event.Kinds()))
	for _, kind := range event.Kinds() {
		sch, err := c.Compile(schemaURL(kind))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", kind, err)
		}
		schemas[kind] = sch
	}
	return &Validator{secrets: lookup, schemas: schemas}, nil
}

func schemaURL(kind event.Kind) string { return schemaBaseURL + string(kind) + ".json" }

// Validate checks raw in a fixed order: discriminator, secret presence,
// secret match, kind shape. The first failure is returned. Fields outside
// the kind's shape are dropped; secret_key never reaches the record.
func (v *Validator) Validate(raw map[string]any) (event.Record, error) {
	if len(raw) == 0 {
		return event.Record{}, ErrEmptyPayload
	}

	kind, err := discriminate(raw)
	if err != nil {
		return event.Record{}, err
	}

	supplied, ok := raw[fieldSecretKey].(string)
	if !ok {
		reason := "field required"
		if _, present := raw[fieldSecretKey]; present {
			reason = "must be a string"
		}
		return event.Record{}, &SchemaError{Kind: kind, Field: fieldSecretKey, Reason: reason}
	}

	registered, ok := v.secrets.SecretFor(kind)
	if !ok || !secrets.Matches(registered, supplied) {
		return event.Record{}, &AuthError{Kind: kind}
	}

	if err := v.schemas[kind].Validate(normalizeNumbers(raw)); err != nil {
		return event.Record{}, schemaError(kind, err)
	}

	return build(kind, raw)
}

func discriminate(raw map[string]any) (event.Kind, error) {
	val, present := raw[fieldWebhookID]
	if !present {
		return "", &SchemaError{Field: fieldWebhookID, Reason: "field required"}
	}
	s, ok := val.(string)
	if !ok {
		return "", &SchemaError{Field: fieldWebhookID, Reason: "must be a string"}
	}
	kind := event.Kind(s)
	if !kind.Valid() {
		return "", &SchemaError{Field: fieldWebhookID, Reason: fmt.Sprintf("unknown webhook_id %q", s)}
	}
	return kind, nil
}

func build(kind event.Kind, raw map[string]any) (event.Record, error) {
	switch kind {
	case event.KindLead:
		return event.NewRecord(event.Lead{
			LeadID: str(raw, "lead_id"),
			Email:  str(raw, "email"),
			Status: strOr(raw, "status", event.DefaultLeadStatus),
		}), nil
	case event.KindBilling:
		amount, err := number(raw["amount"])
		if err != nil {
			return event.Record{}, &SchemaError{Kind: kind, Field: "amount", Reason: err.Error()}
		}
		return event.NewRecord(event.Billing{
			CustomerID:    str(raw, "customer_id"),
			Amount:        amount,
			Currency:      strOr(raw, "currency", event.DefaultCurrency),
			TransactionID: str(raw, "transaction_id"),
		}), nil
	case event.KindSignup:
		var campaign *string
		if s, ok := raw["source_campaign"].(string); ok {
			campaign = &s
		}
		premium, _ := raw["is_premium"].(bool)
		return event.NewRecord(event.Signup{
			Username:       str(raw, "username"),
			Email:          str(raw, "email"),
			SourceCampaign: campaign,
			IsPremium:      premium,
		}), nil
	}
	return event.Record{}, &SchemaError{Field: fieldWebhookID, Reason: fmt.Sprintf("unknown webhook_id %q", kind)}
}

func str(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// strOr applies def when key is absent or null.
func strOr(raw map[string]any, key, def string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return def
}

// number keeps the sender's literal when the payload was decoded with
// UseNumber; float64 input is rendered in its shortest exact form.
func number(v any) (json.Number, error) {
	switch n := v.(type) {
	case json.Number:
		return n, nil
	case float64:
		return json.Number(strconv.FormatFloat(n, 'f', -1, 64)), nil
	case int:
		return json.Number(strconv.Itoa(n)), nil
	case int64:
		return json.Number(strconv.FormatInt(n, 10)), nil
	}
	return "", fmt.Errorf("must be a number")
}

// normalizeNumbers leaves the map untouched unless it holds Go integer
// types, which the schema engine does not accept.
func normalizeNumbers(raw map[string]any) map[string]any {
	var out map[string]any
	for k, val := range raw {
		var n json.Number
		switch x := val.(type) {
		case int:
			n = json.Number(strconv.Itoa(x))
		case int64:
			n = json.Number(strconv.FormatInt(x, 10))
		default:
			continue
		}
		if out == nil {
			out = make(map[string]any, len(raw))
			for k2, v2 := range raw {
				out[k2] = v2
			}
		}
		out[k] = n
	}
	if out == nil {
		return raw
	}
	return out
}

// schemaError reports the first leaf of a validation failure.
func schemaError(k event.Kind, err error) *SchemaError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &SchemaError{Kind: k, Reason: err.Error(), Err: err}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	field := strings.Join(ve.InstanceLocation, ".")
	switch ek := ve.ErrorKind.(type) {
	case *jskind.Required:
		if len(ek.Missing) > 0 {
			field = ek.Missing[0]
		}
		return &SchemaError{Kind: k, Field: field, Reason: "field required", Err: err}
	case *jskind.Type:
		return &SchemaError{Kind: k, Field: field, Reason: fmt.Sprintf("must be %s, got %s", strings.Join(ek.Want, " or "), ek.Got), Err: err}
	case *jskind.MinLength:
		return &SchemaError{Kind: k, Field: field, Reason: "must not be empty", Err: err}
	default:
		return &SchemaError{Kind: k, Field: field, Reason: "failed " + strings.Join(ve.ErrorKind.KeywordPath(), "/"), Err: err}
	}
}
