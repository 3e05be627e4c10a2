package seeder

import (
	"encoding/json"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// Expectation is what the ingest service should answer for a payload.
type Expectation int

const (
	ExpectAccepted Expectation = iota
	// ExpectDuplicate is accepted at the boundary and skipped by the writer.
	ExpectDuplicate
	ExpectRejected
)

func (e Expectation) String() string {
	switch e {
	case ExpectAccepted:
		return "new"
	case ExpectDuplicate:
		return "duplicate"
	case ExpectRejected:
		return "invalid"
	default:
		return "unknown"
	}
}

// Payload is one generated webhook body.
type Payload struct {
	Kind   event.Kind
	Body   []byte
	Expect Expectation
}

const replayWindow = 256

var leadStatuses = []string{"new", "contacted", "qualified", "lost"}

var campaigns = []string{"spring_promo", "referral", "newsletter", "partner"}

// Generator produces realistic CRM webhook bodies. Not safe for concurrent use.
type Generator struct {
	faker          *gofakeit.Faker
	kinds          []event.Kind
	secrets        map[string]string
	duplicateRatio float64
	invalidRatio   float64
	recent         []Payload
}

// NewGenerator seeds the faker with cfg.Seed; zero picks a random seed.
func NewGenerator(cfg *Config) *Generator {
	return &Generator{
		faker:          gofakeit.New(cfg.Seed),
		kinds:          cfg.SelectedKinds(),
		secrets:        cfg.Secrets,
		duplicateRatio: cfg.DuplicateRatio,
		invalidRatio:   cfg.InvalidRatio,
	}
}

func (g *Generator) Next() (Payload, error) {
	roll := g.faker.Float64Range(0, 1)
	switch {
	case roll < g.duplicateRatio && len(g.recent) > 0:
		prev := g.recent[g.faker.Number(0, len(g.recent)-1)]
		return Payload{Kind: prev.Kind, Body: prev.Body, Expect: ExpectDuplicate}, nil
	case roll < g.duplicateRatio+g.invalidRatio:
		return g.invalid()
	}

	kind := g.kinds[g.faker.Number(0, len(g.kinds)-1)]
	fields := g.fields(kind)
	body, err := g.encode(kind, g.secrets[string(kind)], fields)
	if err != nil {
		return Payload{}, err
	}
	p := Payload{Kind: kind, Body: body, Expect: ExpectAccepted}
	g.remember(p)
	return p, nil
}

func (g *Generator) remember(p Payload) {
	if len(g.recent) == replayWindow {
		g.recent = g.recent[1:]
	}
	g.recent = append(g.recent, p)
}

// invalid yields either a wrong secret or a body missing a required field.
func (g *Generator) invalid() (Payload, error) {
	kind := g.kinds[g.faker.Number(0, len(g.kinds)-1)]
	fields := g.fields(kind)
	secret := g.secrets[string(kind)]

	if g.faker.Bool() {
		secret = secret + "-" + g.faker.LetterN(6)
	} else {
		switch kind {
		case event.KindLead:
			delete(fields, "email")
		case event.KindBilling:
			delete(fields, "transaction_id")
		case event.KindSignup:
			delete(fields, "username")
		}
	}

	body, err := g.encode(kind, secret, fields)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: kind, Body: body, Expect: ExpectRejected}, nil
}

func (g *Generator) fields(kind event.Kind) map[string]any {
	f := g.faker
	switch kind {
	case event.KindLead:
		return map[string]any{
			"lead_id": "L-" + f.UUID()[:8],
			"email":   f.Email(),
			"status":  f.RandomString(leadStatuses),
		}
	case event.KindBilling:
		return map[string]any{
			"customer_id":    "C-" + f.UUID()[:8],
			"amount":         json.Number(fmt.Sprintf("%.2f", f.Price(1, 5000))),
			"currency":       f.CurrencyShort(),
			"transaction_id": "TX-" + f.UUID(),
		}
	case event.KindSignup:
		m := map[string]any{
			"username":   f.Username(),
			"email":      f.Email(),
			"is_premium": f.Bool(),
		}
		if f.Bool() {
			m["source_campaign"] = f.RandomString(campaigns)
		} else {
			m["source_campaign"] = nil
		}
		return m
	}
	return map[string]any{}
}

func (g *Generator) encode(kind event.Kind, secret string, fields map[string]any) ([]byte, error) {
	fields["webhook_id"] = string(kind)
	fields["secret_key"] = secret
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return body, nil
}
