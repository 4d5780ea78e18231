package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// APIClient sends mail through an HTTP JSON mail API (POST {from,to,subject,text} with a bearer key).
type APIClient struct {
	APIKey     string
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// NewAPIClient returns a client that posts to baseURL with the given API key and sender address.
func NewAPIClient(apiKey, baseURL, from string) *APIClient {
	return &APIClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type apiMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Send posts the message. Any transport failure or non-2xx response is returned wrapping ErrDelivery.
// The body is never included in errors since it may carry a code.
func (c *APIClient) Send(ctx context.Context, to, subject, body string) error {
	if c.APIKey == "" || c.BaseURL == "" {
		return fmt.Errorf("%w: api client not configured", ErrDelivery)
	}
	raw, err := json.Marshal(apiMessage{From: c.From, To: to, Subject: subject, Text: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status=%d body=%s", ErrDelivery, resp.StatusCode, string(b))
	}
	return nil
}
