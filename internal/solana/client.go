package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client is a Helius HTTP API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new Helius client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		minDelay: 250 * time.Millisecond, // ~4 RPS
	}
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	c.throttle()

	url := c.baseURL + path
	if c.apiKey != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		url += sep + "api-key=" + c.apiKey
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// GetAddressTransactions returns recent parsed transactions for an address.
func (c *Client) GetAddressTransactions(ctx context.Context, address string, limit int) ([]EnhancedTransaction, error) {
	path := fmt.Sprintf("/v0/addresses/%s/transactions?limit=%d", address, limit)
	data, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var txs []EnhancedTransaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return txs, nil
}

// --- Webhook Management ---

// ListWebhooks returns all registered webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	data, err := c.doRequest(ctx, "GET", "/v0/webhooks", nil)
	if err != nil {
		return nil, err
	}

	var webhooks []Webhook
	if err := json.Unmarshal(data, &webhooks); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return webhooks, nil
}

// CreateWebhook registers a new enhanced-transaction webhook.
func (c *Client) CreateWebhook(ctx context.Context, wh Webhook) (*Webhook, error) {
	data, err := c.doRequest(ctx, "POST", "/v0/webhooks", wh)
	if err != nil {
		return nil, err
	}

	var created Webhook
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &created, nil
}

// EditWebhook updates an existing webhook registration.
func (c *Client) EditWebhook(ctx context.Context, webhookID string, wh Webhook) error {
	path := "/v0/webhooks/" + webhookID
	_, err := c.doRequest(ctx, "PUT", path, wh)
	return err
}

// DeleteWebhook removes a webhook registration.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	path := "/v0/webhooks/" + webhookID
	_, err := c.doRequest(ctx, "DELETE", path, nil)
	return err
}
