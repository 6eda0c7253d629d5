package model

import "time"

type AuthorizationStatus string

const (
	AuthorizationActive         AuthorizationStatus = "active"
	AuthorizationPaused         AuthorizationStatus = "paused"
	AuthorizationRequiresUpdate AuthorizationStatus = "requires_update"
)

// DemotionThreshold is the consecutive-failure count at which an authorization
// is demoted to requires_update.
const DemotionThreshold = 3

// PaymentAuthorization is a member's saved-instrument mandate for one pool.
// The processor reads it before every charge and writes back the failure
// counter after each attempt.
type PaymentAuthorization struct {
	ID                  int64               `json:"-"`
	AuthorizationID     string              `json:"authorization_id"`
	PoolID              string              `json:"pool_id"`
	MemberID            string              `json:"member_id"`
	CustomerRef         string              `json:"customer_ref"`
	MethodRef           string              `json:"method_ref"`
	Status              AuthorizationStatus `json:"status"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastSuccessAt       *time.Time          `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time          `json:"last_failure_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

// IsActive reports whether the authorization can back an off-session charge.
func (a *PaymentAuthorization) IsActive() bool {
	return a != nil && a.Status == AuthorizationActive
}

// RecordFailure bumps the consecutive-failure counter and demotes the
// authorization once the threshold is reached. It returns true when the call
// performed the demotion.
func (a *PaymentAuthorization) RecordFailure(at time.Time) bool {
	a.ConsecutiveFailures++
	a.LastFailureAt = &at
	if a.ConsecutiveFailures >= DemotionThreshold && a.Status == AuthorizationActive {
		a.Status = AuthorizationRequiresUpdate
		return true
	}
	return false
}

// RecordSuccess resets the failure counter and stamps the last success time.
func (a *PaymentAuthorization) RecordSuccess(at time.Time) {
	a.ConsecutiveFailures = 0
	a.LastSuccessAt = &at
}
