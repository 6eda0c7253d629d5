package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PoolStatus string

const (
	PoolActive    PoolStatus = "active"
	PoolCompleted PoolStatus = "completed"
)

// PoolFrequency is how often a round turns over.
type PoolFrequency string

const (
	FrequencyWeekly   PoolFrequency = "weekly"
	FrequencyBiweekly PoolFrequency = "biweekly"
	FrequencyMonthly  PoolFrequency = "monthly"
)

// RoundState describes where the current round sits in the payout lifecycle.
type RoundState string

const (
	RoundPendingCollection RoundState = "pending_collection"
	RoundReadyToPay        RoundState = "ready_to_pay"
	RoundPaid              RoundState = "paid"
	RoundCompleted         RoundState = "completed"
)

type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// PoolMember is one participant. Position determines the payout order: the
// member at position N receives round N's pot.
type PoolMember struct {
	ID             int64      `json:"-"`
	MemberID       string     `json:"member_id"`
	PoolID         string     `json:"pool_id"`
	Name           string     `json:"name"`
	Position       int        `json:"position"`
	Role           MemberRole `json:"role"`
	PayoutReceived bool       `json:"payout_received"`
	RecipientRef   string     `json:"recipient_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Pool is a rotating savings group: a fixed member set, a fixed contribution
// per round, one recipient per round in position order.
type Pool struct {
	ID                 int64                  `json:"-"`
	PoolID             string                 `json:"pool_id"`
	Name               string                 `json:"name"`
	ContributionAmount decimal.Decimal        `json:"contribution_amount"`
	Currency           string                 `json:"currency"`
	Frequency          PoolFrequency          `json:"frequency"`
	CurrentRound       int                    `json:"current_round"`
	TotalRounds        int                    `json:"total_rounds"`
	Balance            decimal.Decimal        `json:"balance"`
	Status             PoolStatus             `json:"status"`
	NextDueDate        time.Time              `json:"next_due_date"`
	Members            []PoolMember           `json:"members,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
}

// RecipientForRound returns the member whose position matches the round, or
// nil when no member holds that position.
func (p *Pool) RecipientForRound(round int) *PoolMember {
	for i := range p.Members {
		if p.Members[i].Position == round {
			return &p.Members[i]
		}
	}
	return nil
}

// MemberByID returns the member with the given ID, or nil.
func (p *Pool) MemberByID(memberID string) *PoolMember {
	for i := range p.Members {
		if p.Members[i].MemberID == memberID {
			return &p.Members[i]
		}
	}
	return nil
}

// IsAdmin reports whether the given member administers this pool.
func (p *Pool) IsAdmin(memberID string) bool {
	m := p.MemberByID(memberID)
	return m != nil && m.Role == RoleAdmin
}

// NextDueDateFrom computes the subsequent round's due date from the pool
// frequency.
func (p *Pool) NextDueDateFrom(from time.Time) time.Time {
	switch p.Frequency {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	}
	return from.AddDate(0, 1, 0)
}

// PayoutCap is the most a round may ever pay out: one contribution from every
// member except the recipient.
func (p *Pool) PayoutCap() decimal.Decimal {
	n := int64(len(p.Members))
	if n == 0 {
		return decimal.Zero
	}
	return p.ContributionAmount.Mul(decimal.NewFromInt(n - 1))
}

// OnFinalRound reports whether the current round is the pool's last.
func (p *Pool) OnFinalRound() bool {
	return p.CurrentRound >= p.TotalRounds
}
