package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryContribution EntryType = "CONTRIBUTION"
	EntryPayout       EntryType = "PAYOUT"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryCompleted EntryStatus = "COMPLETED"
	EntryFailed    EntryStatus = "FAILED"
)

type EntrySource string

const (
	SourceAuto   EntrySource = "auto"
	SourceManual EntrySource = "manual"
)

// LedgerEntry is one money movement on a pool: a member contribution coming
// in or a round payout going out. GatewayRef is unique per entry type so a
// replayed gateway confirmation never double-books.
type LedgerEntry struct {
	ID            int64           `json:"-"`
	EntryID       string          `json:"entry_id"`
	PoolID        string          `json:"pool_id"`
	MemberID      string          `json:"member_id,omitempty"`
	Round         int             `json:"round"`
	Type          EntryType       `json:"type"`
	Status        EntryStatus     `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	GatewayRef    string          `json:"gateway_ref,omitempty"`
	Source        EntrySource     `json:"source"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
}

// ManualContributionRef is the ledger reference a manually recorded payment
// is booked under. It is derived from the collection identity, so recording
// the same manual payment twice dedupes on (type, gateway_ref).
func ManualContributionRef(collectionID string) string {
	return "manual_" + collectionID
}

// NewContributionEntry builds a completed contribution entry for a charge
// that the gateway confirmed.
func NewContributionEntry(c *Collection, gatewayRef string, source EntrySource, at time.Time) *LedgerEntry {
	return &LedgerEntry{
		EntryID:    GenerateUUIDWithSuffix("ent"),
		PoolID:     c.PoolID,
		MemberID:   c.MemberID,
		Round:      c.Round,
		Type:       EntryContribution,
		Status:     EntryCompleted,
		Amount:     c.Amount,
		Currency:   c.Currency,
		GatewayRef: gatewayRef,
		Source:     source,
		CreatedAt:  at,
		SettledAt:  &at,
	}
}

// NewPayoutReservation builds the pending payout entry written inside the
// settlement transaction before any gateway call is made.
func NewPayoutReservation(p *Pool, round int, recipientID string, amount decimal.Decimal, at time.Time) *LedgerEntry {
	return &LedgerEntry{
		EntryID:   GenerateUUIDWithSuffix("ent"),
		PoolID:    p.PoolID,
		MemberID:  recipientID,
		Round:     round,
		Type:      EntryPayout,
		Status:    EntryPending,
		Amount:    amount,
		Currency:  p.Currency,
		Source:    SourceAuto,
		CreatedAt: at,
	}
}
