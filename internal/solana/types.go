package solana

import (
	"strconv"
	"strings"
)

// EnhancedTransaction is a parsed transaction delivered by the Helius
// enhanced webhook (or returned by the address-transactions endpoint).
type EnhancedTransaction struct {
	Signature       string           `json:"signature"`
	Type            string           `json:"type,omitempty"`
	Timestamp       int64            `json:"timestamp,omitempty"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers,omitempty"`
}

// NativeTransfer is a single SOL movement within a transaction.
type NativeTransfer struct {
	FromUserAccount string   `json:"fromUserAccount"`
	ToUserAccount   string   `json:"toUserAccount"`
	Amount          Lamports `json:"amount"`
}

// Lamports is an integer minor-unit amount that tolerates sloppy feeds:
// JSON numbers and numeric strings both parse, anything else decodes as
// invalid instead of failing the whole batch.
type Lamports struct {
	value int64
	valid bool
}

// NewLamports builds a valid amount, mainly for tests.
func NewLamports(v int64) Lamports {
	return Lamports{value: v, valid: true}
}

// Int64 returns the amount and whether it parsed as an integer.
func (l Lamports) Int64() (int64, bool) {
	return l.value, l.valid
}

func (l *Lamports) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		l.valid = false
		return nil
	}

	l.value = v
	l.valid = true
	return nil
}

// Webhook is a Helius webhook registration.
type Webhook struct {
	WebhookID        string   `json:"webhookID"`
	WebhookURL       string   `json:"webhookURL"`
	AccountAddresses []string `json:"accountAddresses"`
	TransactionTypes []string `json:"transactionTypes,omitempty"`
	WebhookType      string   `json:"webhookType,omitempty"`
	AuthHeader       string   `json:"authHeader,omitempty"`
}
