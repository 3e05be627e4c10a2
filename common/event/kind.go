// Package event defines the closed set of CRM webhook event kinds, their
// secret-free payloads and the storage identity derived from each.
package event

// Kind discriminates which payload shape and shared secret apply.
type Kind string

const (
	KindLead    Kind = "lead_ingest"
	KindBilling Kind = "billing_update"
	KindSignup  Kind = "user_signup"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindLead, KindBilling, KindSignup}
}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindLead, KindBilling, KindSignup:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }
