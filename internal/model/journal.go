package model

import "github.com/shopspring/decimal"

// balanceTolerance is the maximum absolute difference between total debits
// and total credits for an entry to count as balanced. Half a cent absorbs
// upstream float conversion noise without hiding real imbalances.
var balanceTolerance = decimal.NewFromFloat(0.005)

// JournalLine is one leg of a journal entry.
type JournalLine struct {
	Account string          `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
}

// JournalEntry is the double-entry representation of a transaction as it
// would be posted to the ledger.
type JournalEntry struct {
	Lines []JournalLine `json:"lines"`
}

// Balanced reports whether total debits equal total credits within the
// balance tolerance. An entry with no lines is trivially balanced.
func (e *JournalEntry) Balanced() bool {
	debits := decimal.Zero
	credits := decimal.Zero
	for _, line := range e.Lines {
		debits = debits.Add(line.Debit)
		credits = credits.Add(line.Credit)
	}
	return debits.Sub(credits).Abs().LessThanOrEqual(balanceTolerance)
}
