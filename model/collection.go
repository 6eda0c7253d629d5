package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CollectionStatus is the closed set of states a collection moves through.
type CollectionStatus string

const (
	CollectionScheduled    CollectionStatus = "SCHEDULED"
	CollectionPending      CollectionStatus = "PENDING"
	CollectionProcessing   CollectionStatus = "PROCESSING"
	CollectionCompleted    CollectionStatus = "COMPLETED"
	CollectionFailed       CollectionStatus = "FAILED"
	CollectionManuallyPaid CollectionStatus = "MANUALLY_PAID"
	CollectionCancelled    CollectionStatus = "CANCELLED"
)

// collectionTransitions is the explicit transition table. Anything not listed
// here is an illegal transition. PROCESSING → PENDING is the crash-recovery
// revert; FAILED → PROCESSING is a retry pick-up.
var collectionTransitions = map[CollectionStatus][]CollectionStatus{
	CollectionScheduled:  {CollectionPending, CollectionCancelled, CollectionManuallyPaid},
	CollectionPending:    {CollectionProcessing, CollectionCancelled, CollectionManuallyPaid},
	CollectionProcessing: {CollectionCompleted, CollectionFailed, CollectionManuallyPaid, CollectionPending},
	CollectionFailed:     {CollectionProcessing, CollectionCancelled, CollectionManuallyPaid},
}

// CanTransition reports whether moving from one collection status to another
// is allowed by the state machine.
func CanTransition(from, to CollectionStatus) bool {
	for _, allowed := range collectionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// MaxAttemptHistory bounds the per-collection attempt log; only the most
// recent entries are retained.
const MaxAttemptHistory = 10

// ChargeAttempt records one gateway charge attempt against a collection.
type ChargeAttempt struct {
	Number      int       `json:"number"`
	Timestamp   time.Time `json:"timestamp"`
	Succeeded   bool      `json:"succeeded"`
	GatewayRef  string    `json:"gateway_ref,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	DeclineCode string    `json:"decline_code,omitempty"`
}

// Collection is one scheduled contribution for one member and round. Its
// identity is deterministic from (pool, round, member), so there is at most
// one per triple. Collections are never deleted, only terminalized.
type Collection struct {
	ID                 int64                  `json:"-"`
	CollectionID       string                 `json:"collection_id"`
	PoolID             string                 `json:"pool_id"`
	MemberID           string                 `json:"member_id"`
	Round              int                    `json:"round"`
	Amount             decimal.Decimal        `json:"amount"`
	Currency           string                 `json:"currency"`
	DueDate            time.Time              `json:"due_date"`
	GraceHours         int                    `json:"grace_hours"`
	EligibleAt         time.Time              `json:"eligible_at"`
	Status             CollectionStatus       `json:"status"`
	AttemptCount       int                    `json:"attempt_count"`
	MaxAttempts        int                    `json:"max_attempts"`
	NextRetryAt        *time.Time             `json:"next_retry_at,omitempty"`
	Attempts           []ChargeAttempt        `json:"attempts,omitempty"`
	LastFailureReason  string                 `json:"last_failure_reason,omitempty"`
	LastIdempotencyKey string                 `json:"last_idempotency_key,omitempty"`
	ProcessedAt        *time.Time             `json:"processed_at,omitempty"`
	CancelledBy        string                 `json:"cancelled_by,omitempty"`
	CancelReason       string                 `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
}

// NewCollection builds a collection for a member and round with its
// deterministic identity and eligibility timestamp.
func NewCollection(poolID, memberID string, round int, amount decimal.Decimal, currency string, dueDate time.Time, graceHours, maxAttempts int) *Collection {
	return &Collection{
		CollectionID: CollectionIDFor(poolID, round, memberID),
		PoolID:       poolID,
		MemberID:     memberID,
		Round:        round,
		Amount:       amount,
		Currency:     currency,
		DueDate:      dueDate,
		GraceHours:   graceHours,
		EligibleAt:   dueDate.Add(time.Duration(graceHours) * time.Hour),
		Status:       CollectionScheduled,
		MaxAttempts:  maxAttempts,
		CreatedAt:    time.Now(),
	}
}

// Transition moves the collection to a new status, enforcing the transition
// table. Terminal states are never reopened.
func (c *Collection) Transition(to CollectionStatus) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("illegal collection transition %s -> %s for %s", c.Status, to, c.CollectionID)
	}
	c.Status = to
	return nil
}

// IsTerminal reports whether the collection can no longer be advanced by the
// processor. A FAILED collection is terminal once no retry is scheduled.
func (c *Collection) IsTerminal() bool {
	switch c.Status {
	case CollectionCompleted, CollectionManuallyPaid, CollectionCancelled:
		return true
	case CollectionFailed:
		return c.NextRetryAt == nil
	}
	return false
}

// CanCancel reports whether an admin cancel is still valid. Cancellation is
// only allowed pre-completion.
func (c *Collection) CanCancel() bool {
	switch c.Status {
	case CollectionScheduled, CollectionPending, CollectionFailed:
		return true
	}
	return false
}

// NextIdempotencyKey returns the key for the attempt that would follow the
// current attempt count.
func (c *Collection) NextIdempotencyKey() string {
	return IdempotencyKeyFor(c.CollectionID, c.AttemptCount+1)
}

// AppendAttempt adds an attempt record, keeping only the most recent
// MaxAttemptHistory entries.
func (c *Collection) AppendAttempt(attempt ChargeAttempt) {
	c.Attempts = append(c.Attempts, attempt)
	if len(c.Attempts) > MaxAttemptHistory {
		c.Attempts = c.Attempts[len(c.Attempts)-MaxAttemptHistory:]
	}
}

// AttemptsExhausted reports whether the collection has used up its allowed
// charge attempts.
func (c *Collection) AttemptsExhausted() bool {
	return c.AttemptCount >= c.MaxAttempts
}

func (c *Collection) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}
