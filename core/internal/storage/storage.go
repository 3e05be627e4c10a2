// Package storage persists records with a conditional insert keyed by
// (PK, SK). Every backend performs the existence check and the write as one
// server-side operation, so concurrent duplicate deliveries cannot both
// commit.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// Attribute names shared by every backend's stored document.
const (
	AttrPartitionKey = "PK"
	AttrSortKey      = "SK"
	AttrRecordHash   = "record_hash"
	AttrWebhookID    = "webhook_id"
)

var ErrNotFound = errors.New("item not found")

// Outcome is the result class of a conditional write.
type Outcome int

const (
	Committed Outcome = iota + 1
	AlreadyExists
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case AlreadyExists:
		return "already_exists"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// WriteResult reports what PutIfAbsent did. Reason is set only for Failed.
type WriteResult struct {
	Outcome Outcome
	Reason  error
}

func (r WriteResult) OK() bool { return r.Outcome == Committed || r.Outcome == AlreadyExists }

func committed() WriteResult     { return WriteResult{Outcome: Committed} }
func alreadyExists() WriteResult { return WriteResult{Outcome: AlreadyExists} }

func failed(format string, err error) WriteResult {
	return WriteResult{Outcome: Failed, Reason: fmt.Errorf(format+": %w", err)}
}

// Item is a storage-ready record: the payload fields flattened together with
// the key attributes and record_hash.
type Item struct {
	Key        event.Key
	Kind       event.Kind
	RecordHash string
	Document   map[string]any
}

// NewItem flattens rec and stamps it with the fingerprint of body, the exact
// bytes the record travelled as.
func NewItem(rec event.Record, body []byte) (Item, error) {
	doc, err := rec.Fields()
	if err != nil {
		return Item{}, fmt.Errorf("flatten record: %w", err)
	}
	key := rec.Key()
	hash := event.Fingerprint(body)
	doc[AttrPartitionKey] = key.PartitionKey
	doc[AttrSortKey] = key.SortKey
	doc[AttrRecordHash] = hash
	return Item{Key: key, Kind: rec.Kind(), RecordHash: hash, Document: doc}, nil
}

// MarshalDocument encodes the flattened document.
func (it Item) MarshalDocument() ([]byte, error) {
	return json.Marshal(it.Document)
}

// ParseItem rebuilds an Item from a stored document.
func ParseItem(doc []byte) (Item, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return Item{}, fmt.Errorf("decode stored item: %w", err)
	}
	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	it := Item{
		Key:        event.Key{PartitionKey: str(AttrPartitionKey), SortKey: str(AttrSortKey)},
		Kind:       event.Kind(str(AttrWebhookID)),
		RecordHash: str(AttrRecordHash),
		Document:   fields,
	}
	if it.Key.PartitionKey == "" || it.Key.SortKey == "" {
		return Item{}, errors.New("decode stored item: missing key attributes")
	}
	return it, nil
}

// Store is a conditional-write record store.
type Store interface {
	// PutIfAbsent writes item unless an item with the same key exists.
	// Errors are reported through the result, never panicked or returned
	// separately.
	PutIfAbsent(ctx context.Context, item Item) WriteResult
	Get(ctx context.Context, key event.Key) (Item, error)
	Ping(ctx context.Context) error
	Close() error
}
