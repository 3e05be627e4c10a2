package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type WebhookClient struct {
	baseURL string
	client  *http.Client
}

func NewWebhookClient(baseURL string) *WebhookClient {
	return &WebhookClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Response is the ingest service's reply to a webhook POST.
type Response struct {
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

func (r *Response) Accepted() bool { return r.StatusCode == http.StatusAccepted }

// Send posts payload as-is. Non-2xx replies are returned as a Response, not
// an error; err is reserved for transport failures.
func (c *WebhookClient) Send(ctx context.Context, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		out.Status = http.StatusText(resp.StatusCode)
		out.Message = strings.TrimSpace(string(body))
	}
	out.StatusCode = resp.StatusCode
	return out, nil
}

// Online checks the GET / probe.
func (c *WebhookClient) Online(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode probe: %w", err)
	}
	if body.Status != "online" {
		return fmt.Errorf("unexpected probe status %q", body.Status)
	}
	return nil
}
