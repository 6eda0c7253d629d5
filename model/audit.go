package model

import "time"

// AuditEntry records an operator- or system-initiated action against a pool:
// manual payments, cancellations, authorization demotions, payout decisions.
type AuditEntry struct {
	ID        int64                  `json:"-"`
	AuditID   string                 `json:"audit_id"`
	PoolID    string                 `json:"pool_id"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	TargetID  string                 `json:"target_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func NewAuditEntry(poolID, actor, action, targetID string, details map[string]interface{}) *AuditEntry {
	return &AuditEntry{
		AuditID:   GenerateUUIDWithSuffix("aud"),
		PoolID:    poolID,
		Actor:     actor,
		Action:    action,
		TargetID:  targetID,
		Details:   details,
		CreatedAt: time.Now(),
	}
}
