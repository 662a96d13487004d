package model

import "time"

// Tenant holds per-tenant configuration overrides. Nil fields mean the
// global configuration applies.
type Tenant struct {
	UpdatedAt   time.Time
	ID          string
	AutoPostMin *float64
	SpendCapUSD *float64
}

// LLMCall is one entry in the rolling budget ledger.
type LLMCall struct {
	Timestamp     time.Time
	TenantID      string
	TransactionID string
	Tokens        int
	CostUSD       float64
}
