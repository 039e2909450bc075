package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"order_id":"ord-1","status":"paid"}`)

	assert.NoError(t, VerifySignature(secret, body, sign(secret, body)))

	// Tampered body
	assert.ErrorIs(t, VerifySignature(secret, []byte(`{"order_id":"ord-2"}`), sign(secret, body)), ErrInvalidSignature)

	// Missing signature
	assert.ErrorIs(t, VerifySignature(secret, body, ""), ErrInvalidSignature)

	// Wrong secret
	assert.ErrorIs(t, VerifySignature("other", body, sign(secret, body)), ErrInvalidSignature)
}

func TestNormalizeAliases(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want NormalizedWebhookEvent
	}{
		{
			name: "canonical",
			raw:  `{"order_id":"ord-1","status":"PAID","transaction_id":"tx-1","amount":2500}`,
			want: NormalizedWebhookEvent{OrderID: "ord-1", Status: "PAID", TransactionID: "tx-1", Amount: 2500},
		},
		{
			name: "camelCase order id, payment_id transaction",
			raw:  `{"orderId":"ord-2","event":"captured","payment_id":"pay-9","amount_paid":100}`,
			want: NormalizedWebhookEvent{OrderID: "ord-2", Status: "CAPTURED", TransactionID: "pay-9", Amount: 100},
		},
		{
			name: "receipt alias and string amount",
			raw:  `{"receipt":"ord-3","payment_status":"failed","txn_id":"tx-3","value":"750"}`,
			want: NormalizedWebhookEvent{OrderID: "ord-3", Status: "FAILED", TransactionID: "tx-3", Amount: 750},
		},
		{
			name: "fields nested under payload",
			raw:  `{"event":"paid","payload":{"order_id":"ord-4","id":"tx-4","amount":50}}`,
			want: NormalizedWebhookEvent{OrderID: "ord-4", Status: "PAID", TransactionID: "tx-4", Amount: 50},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestNormalizeRejectsMissingOrder(t *testing.T) {
	_, err := Normalize([]byte(`{"status":"paid","amount":10}`))
	assert.Error(t, err)

	_, err = Normalize([]byte(`not json`))
	assert.Error(t, err)
}

func TestDedupeKey(t *testing.T) {
	withTx := &NormalizedWebhookEvent{OrderID: "ord-1", Status: "PAID", TransactionID: "tx-1", Amount: 100}
	assert.Equal(t, "tx-1", withTx.DedupeKey())

	withoutTx := &NormalizedWebhookEvent{OrderID: "ord-1", Status: "PAID", Amount: 100}
	assert.Equal(t, "ord-1|PAID|100", withoutTx.DedupeKey())

	// Same order, different status must not collide
	other := &NormalizedWebhookEvent{OrderID: "ord-1", Status: "FAILED", Amount: 100}
	assert.NotEqual(t, withoutTx.DedupeKey(), other.DedupeKey())
}

func TestUnconfiguredGatewayReturnsNoToken(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://example.invalid"})

	assert.False(t, c.Configured())

	token, err := c.CreateOrderSession(context.Background(), "ord-1", 100)
	assert.NoError(t, err)
	assert.Empty(t, token)
}
