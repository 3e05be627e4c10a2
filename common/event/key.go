package event

import "encoding/json"

const (
	userPrefix  = "USER#"
	leadPrefix  = "LEAD#"
	billPrefix  = "BILL#"
	metadataKey = "METADATA"
)

// Key is the composite storage identity of a record. The pair is unique in
// every store.
type Key struct {
	PartitionKey string `json:"PK"`
	SortKey      string `json:"SK"`
}

// Canonical encodes the pair as a JSON array. Distinct pairs never share an
// encoding.
func (k Key) Canonical() []byte {
	b, _ := json.Marshal([2]string{k.PartitionKey, k.SortKey})
	return b
}

func (l Lead) Key() Key {
	return Key{PartitionKey: userPrefix + l.Email, SortKey: leadPrefix + l.LeadID}
}

func (b Billing) Key() Key {
	return Key{PartitionKey: userPrefix + b.CustomerID, SortKey: billPrefix + b.TransactionID}
}

// Key for a signup is one row per user: a later signup with the same email
// collides with the first and is suppressed as a duplicate.
func (s Signup) Key() Key {
	return Key{PartitionKey: userPrefix + s.Email, SortKey: metadataKey}
}
