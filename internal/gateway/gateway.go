package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidSignature is returned when a webhook body does not match its
// signature header. It is the sole trust boundary for payment-state
// mutation from outside the system.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Config holds the provider credentials. Empty KeyID/KeySecret means no
// gateway is configured; session creation then degrades instead of failing.
type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// Client talks to the external payment provider.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a gateway client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether provider credentials are present
func (c *Client) Configured() bool {
	return c.cfg.KeyID != "" && c.cfg.KeySecret != ""
}

type sessionRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type sessionResponse struct {
	ID string `json:"id"`
}

// CreateOrderSession mints a payment session for a non-zero total and
// returns its token. An unconfigured gateway returns "" without error: the
// order stays PENDING and the client retries through an alternate flow.
func (c *Client) CreateOrderSession(ctx context.Context, orderID string, amount int64) (string, error) {
	if !c.Configured() {
		return "", nil
	}

	body, err := json.Marshal(sessionRequest{
		Amount:   amount,
		Currency: "INR",
		Receipt:  orderID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway order request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway order request returned %d", resp.StatusCode)
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway order response malformed: %w", err)
	}
	return out.ID, nil
}

type paymentLookupResponse struct {
	Items []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	} `json:"items"`
}

// FetchPaymentStatus pulls the provider's view of an order's payments,
// independent of webhook delivery. Returns the latest status and its
// transaction id, or ("", "") when the provider has seen nothing.
func (c *Client) FetchPaymentStatus(ctx context.Context, sessionID string) (status, transactionID string, err error) {
	if !c.Configured() {
		return "", "", nil
	}

	url := fmt.Sprintf("%s/orders/%s/payments", c.cfg.BaseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("gateway payment lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("gateway payment lookup returned %d", resp.StatusCode)
	}

	var out paymentLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("gateway payment response malformed: %w", err)
	}
	if len(out.Items) == 0 {
		return "", "", nil
	}

	last := out.Items[len(out.Items)-1]
	return last.Status, last.ID, nil
}

// VerifySignature recomputes an HMAC-SHA256 over the exact raw body and
// compares it to the provided hex signature in constant time. A missing
// signature or mismatch rejects; the order is left untouched by the caller.
func (c *Client) VerifySignature(rawBody []byte, signature string) error {
	return VerifySignature(c.cfg.WebhookSecret, rawBody, signature)
}

// VerifySignature is the bare verification primitive, exported for reuse in
// tests and alternate webhook paths.
func VerifySignature(secret string, rawBody []byte, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
