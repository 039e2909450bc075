package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NormalizedWebhookEvent is the provider-agnostic view of a gateway
// notification; everything downstream of verification works on this.
type NormalizedWebhookEvent struct {
	OrderID       string
	Status        string
	TransactionID string
	Amount        int64
}

// Field aliases seen across providers. Order matters: the first present,
// non-empty alias wins.
var (
	orderIDAliases     = []string{"order_id", "orderId", "receipt", "reference_id"}
	statusAliases      = []string{"status", "event", "payment_status", "state"}
	transactionAliases = []string{"transaction_id", "txn_id", "payment_id", "id"}
	amountAliases      = []string{"amount", "amount_paid", "value"}
)

// Normalize extracts the canonical fields from a raw webhook payload,
// tolerating the field-name aliases gateways vary on. Payloads may nest the
// interesting fields one level down under "payload" or "data".
func Normalize(raw []byte) (*NormalizedWebhookEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("webhook payload is not valid JSON: %w", err)
	}

	flat := flatten(payload)

	ev := &NormalizedWebhookEvent{
		OrderID:       firstString(flat, orderIDAliases),
		Status:        strings.ToUpper(firstString(flat, statusAliases)),
		TransactionID: firstString(flat, transactionAliases),
		Amount:        firstAmount(flat, amountAliases),
	}

	if ev.OrderID == "" {
		return nil, fmt.Errorf("webhook payload has no order reference")
	}
	return ev, nil
}

// DedupeKey derives the idempotency key for a normalized event: the
// transaction id when present, else a composite of the fields that would
// cause a double side effect.
func (ev *NormalizedWebhookEvent) DedupeKey() string {
	if ev.TransactionID != "" {
		return ev.TransactionID
	}
	return fmt.Sprintf("%s|%s|%d", ev.OrderID, ev.Status, ev.Amount)
}

// flatten merges one level of "payload"/"data" nesting into the top level;
// top-level keys win.
func flatten(payload map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(payload))
	for _, wrapper := range []string{"data", "payload"} {
		if nested, ok := payload[wrapper].(map[string]interface{}); ok {
			for k, v := range nested {
				flat[k] = v
			}
		}
	}
	for k, v := range payload {
		flat[k] = v
	}
	return flat
}

func firstString(payload map[string]interface{}, aliases []string) string {
	for _, alias := range aliases {
		if v, ok := payload[alias]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(s, 'f', -1, 64)
			}
		}
	}
	return ""
}

func firstAmount(payload map[string]interface{}, aliases []string) int64 {
	for _, alias := range aliases {
		if v, ok := payload[alias]; ok {
			switch n := v.(type) {
			case float64:
				return int64(n)
			case string:
				if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
					return parsed
				}
			}
		}
	}
	return 0
}
