package domain

import "time"

// LedgerReference is the receipt returned by the anchor service. It is never part of
// the hash input of the document it annotates.
type LedgerReference struct {
	TransactionID string     `gorm:"column:transaction_id" json:"transaction_id"`
	BlockNumber   uint64     `gorm:"column:block_number" json:"block_number"`
	Timestamp     *time.Time `gorm:"column:timestamp" json:"timestamp"`
	LedgerID      string     `gorm:"column:ledger_id" json:"ledger_id"`
}

// IsZero reports whether no anchor receipt has been recorded.
func (r LedgerReference) IsZero() bool {
	return r.TransactionID == ""
}

// Ptr returns nil for an unset reference so JSON renders null.
func (r LedgerReference) Ptr() *LedgerReference {
	if r.IsZero() {
		return nil
	}
	return &r
}
