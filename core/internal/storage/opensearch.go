package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/telhawk-systems/crm-ingest/common/database"
	"github.com/telhawk-systems/crm-ingest/common/event"
)

type OpenSearchConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
	Index    string `mapstructure:"index"`
	Refresh  string `mapstructure:"refresh"`
}

const recordsMapping = `{
  "mappings": {
    "dynamic": true,
    "properties": {
      "PK":          {"type": "keyword"},
      "SK":          {"type": "keyword"},
      "record_hash": {"type": "keyword"},
      "webhook_id":  {"type": "keyword"},
      "amount":      {"type": "keyword"}
    }
  }
}`

// OpenSearch writes each item through the _create API, which fails with 409
// when the document id is taken.
type OpenSearch struct {
	client  *opensearch.Client
	index   string
	refresh string
}

func NewOpenSearch(ctx context.Context, cfg OpenSearchConfig) (*OpenSearch, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	s := newOpenSearch(client, cfg)
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	if err := s.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newOpenSearch(client *opensearch.Client, cfg OpenSearchConfig) *OpenSearch {
	index := cfg.Index
	if index == "" {
		index = "crm-records"
	}
	return &OpenSearch{client: client, index: index, refresh: cfg.Refresh}
}

// DocumentID maps a key to an OpenSearch document id. Keys contain '#', so
// the hex digest keeps ids URL-safe.
func DocumentID(k event.Key) string {
	return event.Fingerprint(k.Canonical())
}

// EnsureIndex creates the records index with its keyword mappings if it does
// not exist yet.
func (s *OpenSearch) EnsureIndex(ctx context.Context) error {
	exists, err := opensearchapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	resp, err := opensearchapi.IndicesCreateRequest{
		Index: s.index,
		Body:  strings.NewReader(recordsMapping),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer resp.Body.Close()
	// Another writer may have created it between the two calls.
	if resp.IsError() && !bytes.Contains(readBody(resp.Body), []byte("resource_already_exists_exception")) {
		return fmt.Errorf("create index: %s", resp.Status())
	}
	return nil
}

func (s *OpenSearch) PutIfAbsent(ctx context.Context, item Item) WriteResult {
	doc, err := item.MarshalDocument()
	if err != nil {
		return failed("encode item", err)
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	resp, err := opensearchapi.CreateRequest{
		Index:      s.index,
		DocumentID: DocumentID(item.Key),
		Body:       bytes.NewReader(doc),
		Refresh:    s.refresh,
	}.Do(ctx, s.client)
	if err != nil {
		return failed("opensearch create", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return alreadyExists()
	case resp.IsError():
		return failed("opensearch create", fmt.Errorf("%s: %s", resp.Status(), readBody(resp.Body)))
	default:
		return committed()
	}
}

func (s *OpenSearch) Get(ctx context.Context, key event.Key) (Item, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	resp, err := opensearchapi.GetRequest{
		Index:      s.index,
		DocumentID: DocumentID(key),
	}.Do(ctx, s.client)
	if err != nil {
		return Item{}, fmt.Errorf("opensearch get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Item{}, ErrNotFound
	}
	if resp.IsError() {
		return Item{}, fmt.Errorf("opensearch get: %s", resp.Status())
	}

	var hit struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hit); err != nil {
		return Item{}, fmt.Errorf("decode get response: %w", err)
	}
	if !hit.Found {
		return Item{}, ErrNotFound
	}
	return ParseItem(hit.Source)
}

func (s *OpenSearch) Ping(ctx context.Context) error {
	resp, err := opensearchapi.InfoRequest{}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("opensearch returned error: %s", resp.Status())
	}
	return nil
}

func (s *OpenSearch) Close() error { return nil }

func readBody(r io.Reader) []byte {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return b
}

var _ Store = (*OpenSearch)(nil)
