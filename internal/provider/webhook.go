package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookProvider hands attempts to a custom carrier gateway by POSTing a
// signed JSON payload.
type WebhookProvider struct {
	name   string
	url    string
	secret string
	client http.Client
}

// NewWebhookProvider creates a WebhookProvider.
func NewWebhookProvider(name, url, secret string) *WebhookProvider {
	return &WebhookProvider{
		name:   name,
		url:    url,
		secret: secret,
	}
}

func (p *WebhookProvider) Name() string { return p.name }

func (p *WebhookProvider) Attempt(ctx context.Context, req Request) (*Result, error) {
	reqBody, err := json.Marshal(map[string]string{
		"to":        req.To,
		"channel":   string(req.Channel),
		"code":      req.Code,
		"body":      req.Body(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal request: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(reqBody)
	sig := hex.EncodeToString(mac.Sum(nil))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Signature", sig)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webhook: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook: error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		MessageID string `json:"message_id"`
		Delivered *bool  `json:"delivered"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("webhook: parse response: %w", err)
	}
	if parsed.Delivered != nil && !*parsed.Delivered {
		return nil, fmt.Errorf("webhook: %w", ErrUndelivered)
	}

	return &Result{
		MessageID: parsed.MessageID,
		Status:    "sent",
	}, nil
}
