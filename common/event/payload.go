package event

import (
	"encoding/json"
)

// Payload is implemented only by Lead, Billing and Signup.
type Payload interface {
	Kind() Kind
	Key() Key
	payload()
}

// Lead is a lead_ingest event.
type Lead struct {
	LeadID string `json:"lead_id"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

// Billing is a billing_update event. Amount keeps the sender's digits.
type Billing struct {
	CustomerID    string      `json:"customer_id"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	TransactionID string      `json:"transaction_id"`
}

// Signup is a user_signup event. SourceCampaign is nullable.
type Signup struct {
	Username       string  `json:"username"`
	Email          string  `json:"email"`
	SourceCampaign *string `json:"source_campaign"`
	IsPremium      bool    `json:"is_premium"`
}

// Defaults applied to optional fields the sender omitted.
const (
	DefaultLeadStatus = "new"
	DefaultCurrency   = "USD"
)

func (Lead) Kind() Kind    { return KindLead }
func (Billing) Kind() Kind { return KindBilling }
func (Signup) Kind() Kind  { return KindSignup }

func (Lead) payload()    {}
func (Billing) payload() {}
func (Signup) payload()  {}
