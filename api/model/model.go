/*
Copyright 2024 Junta Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/juntapay/junta/model"
)

// CreatePoolMember is one roster entry in a pool-creation request.
type CreatePoolMember struct {
	Name         string `json:"name"`
	Position     int    `json:"position"`
	Role         string `json:"role"`
	RecipientRef string `json:"recipient_ref"`
}

// CreatePool is the request body for creating a rotating pool.
type CreatePool struct {
	Name               string                 `json:"name"`
	ContributionAmount decimal.Decimal        `json:"contribution_amount"`
	Currency           string                 `json:"currency"`
	Frequency          string                 `json:"frequency"`
	FirstDueDate       time.Time              `json:"first_due_date"`
	Members            []CreatePoolMember     `json:"members"`
	MetaData           map[string]interface{} `json:"meta_data"`
}

func (p *CreatePool) ValidateCreatePool() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.ContributionAmount, validation.Required, validation.By(func(value interface{}) error {
			amount, _ := value.(decimal.Decimal)
			if !amount.IsPositive() {
				return validation.NewError("validation_amount", "contribution amount must be positive")
			}
			return nil
		})),
		validation.Field(&p.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&p.Frequency, validation.Required, validation.In("weekly", "biweekly", "monthly")),
		validation.Field(&p.FirstDueDate, validation.Required),
		validation.Field(&p.Members, validation.Required, validation.Length(2, 0)),
	)
}

func (p *CreatePool) ToPool() *model.Pool {
	pool := &model.Pool{
		Name:               p.Name,
		ContributionAmount: p.ContributionAmount,
		Currency:           p.Currency,
		Frequency:          model.PoolFrequency(p.Frequency),
		NextDueDate:        p.FirstDueDate,
		Status:             model.PoolActive,
		CurrentRound:       1,
		MetaData:           p.MetaData,
	}
	for _, m := range p.Members {
		role := model.MemberRole(m.Role)
		if role == "" {
			role = model.RoleMember
		}
		pool.Members = append(pool.Members, model.PoolMember{
			Name:         m.Name,
			Position:     m.Position,
			Role:         role,
			RecipientRef: m.RecipientRef,
		})
	}
	return pool
}

// ScheduleRound is the optional request body for scheduling a round's
// collections. Every field has a server-side default.
type ScheduleRound struct {
	DueDate     time.Time `json:"due_date"`
	GraceHours  int       `json:"grace_hours"`
	RequestedBy string    `json:"requested_by"`
}

func (s *ScheduleRound) ValidateScheduleRound() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.GraceHours, validation.Min(0)),
	)
}

// CancelCollection is the request body for an admin cancellation.
type CancelCollection struct {
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason"`
}

func (c *CancelCollection) ValidateCancelCollection() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RequestedBy, validation.Required),
		validation.Field(&c.Reason, validation.Required),
	)
}

// ManualPayment is the request body for recording an out-of-band payment.
type ManualPayment struct {
	RecordedBy string `json:"recorded_by"`
}

func (m *ManualPayment) ValidateManualPayment() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.RecordedBy, validation.Required),
	)
}

// RetryCollection is the request body for forcing an immediate retry.
type RetryCollection struct {
	RequestedBy string `json:"requested_by"`
}

func (r *RetryCollection) ValidateRetryCollection() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RequestedBy, validation.Required),
	)
}

// ExecutePayout is the request body for settling the current round.
type ExecutePayout struct {
	RequestedBy string `json:"requested_by"`
}

func (e *ExecutePayout) ValidateExecutePayout() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.RequestedBy, validation.Required),
	)
}

// CreateAuthorization is the request body for registering a member's saved
// payment instrument.
type CreateAuthorization struct {
	MemberID    string `json:"member_id"`
	CustomerRef string `json:"customer_ref"`
	MethodRef   string `json:"method_ref"`
}

func (a *CreateAuthorization) ValidateCreateAuthorization() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.MemberID, validation.Required),
		validation.Field(&a.CustomerRef, validation.Required),
		validation.Field(&a.MethodRef, validation.Required),
	)
}

func (a *CreateAuthorization) ToAuthorization(poolID string) *model.PaymentAuthorization {
	return &model.PaymentAuthorization{
		PoolID:      poolID,
		MemberID:    a.MemberID,
		CustomerRef: a.CustomerRef,
		MethodRef:   a.MethodRef,
		Status:      model.AuthorizationActive,
	}
}
