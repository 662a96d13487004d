package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Transaction represents a single financial transaction handed to the
// decision pipeline by the upstream ingestion layer.
type Transaction struct {
	Date         time.Time `json:"date"`
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Description  string    `json:"description"` // Raw transaction description
	Counterparty string    `json:"counterparty"`
	Memo         string    `json:"memo,omitempty"`
	MCC          string    `json:"mcc,omitempty"` // Merchant category code, when the source provides one
	Currency     string    `json:"currency,omitempty"`
	Amount       float64   `json:"amount"` // Signed; negative for outflows
}

// VendorNormalized returns the canonical vendor key used by rules,
// cold-start tracking, and evidence aggregation.
func (t *Transaction) VendorNormalized() string {
	return NormalizeVendor(t.Counterparty)
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Counterparty,
		t.TenantID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// NormalizeVendor lowercases a counterparty string and collapses runs of
// whitespace so that "ACME  Corp" and "acme corp" share one vendor key.
func NormalizeVendor(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
