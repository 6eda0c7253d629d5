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

package junta

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/juntapay/junta/gateway"
	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/internal/notification"
	"github.com/juntapay/junta/model"
)

// PayoutOutcome is what ExecutePayout reports back to the caller.
type PayoutOutcome struct {
	Entry      *model.LedgerEntry `json:"entry"`
	GatewayRef string             `json:"gateway_ref,omitempty"`
	PoolStatus model.PoolStatus   `json:"pool_status"`
	Round      int                `json:"round"`
}

// ExecutePayout settles the current round of a pool to its recipient, at
// most once. Every check runs inside the locked reservation transaction on
// state read under the lock: the actor's admin role, the recipient's
// standing, and the round's booked contributions. The payout entry is
// written PENDING before any money moves, so a second caller — or the same
// caller after a crash — finds the reservation and stops with
// ALREADY_PROCESSED. A FAILED entry from an earlier gateway refusal does not
// block; the round can be settled again. The gateway transfer itself runs
// outside the transaction and is finalized or failed afterwards.
//
// The round pays only when every non-recipient member has a booked
// contribution; the amount is their sum, capped at one contribution from
// every member but the recipient. Manual payments count because they are
// booked as contribution entries.
func (j *Junta) ExecutePayout(ctx context.Context, poolID string, requestedBy string) (*PayoutOutcome, error) {
	ctx, span := otel.Tracer("payout.settlement").Start(ctx, "Executing round payout")
	defer span.End()

	var pool *model.Pool
	var recipient *model.PoolMember
	var round int
	entry, err := j.datasource.ReserveRoundPayout(ctx, poolID, func(locked *model.Pool, contributions map[string]decimal.Decimal) (*model.LedgerEntry, error) {
		pool = locked
		round = locked.CurrentRound
		if !locked.IsAdmin(requestedBy) {
			return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, fmt.Sprintf("Member '%s' is not an admin of pool '%s'", requestedBy, poolID), nil)
		}
		if locked.Status != model.PoolActive {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Pool '%s' is not active", poolID), nil)
		}
		recipient = locked.RecipientForRound(round)
		if recipient == nil {
			return nil, apierror.NewAPIError(apierror.ErrConsistency, fmt.Sprintf("Pool '%s' has no member at position %d", poolID, round), nil)
		}
		if recipient.PayoutReceived {
			return nil, apierror.NewAPIError(apierror.ErrAlreadyProcessed, fmt.Sprintf("Member '%s' has already received their payout", recipient.MemberID), nil)
		}
		if recipient.RecipientRef == "" {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientData, fmt.Sprintf("Recipient '%s' has no payout destination on file", recipient.MemberID), nil)
		}

		amount := decimal.Zero
		var missing []string
		for _, m := range locked.Members {
			if m.MemberID == recipient.MemberID {
				continue
			}
			contributed := contributions[m.MemberID]
			if contributed.IsZero() {
				name := m.Name
				if name == "" {
					name = m.MemberID
				}
				missing = append(missing, name)
				continue
			}
			amount = amount.Add(contributed)
		}
		if len(missing) > 0 {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientData, fmt.Sprintf("Round %d is missing contributions from: %s", round, strings.Join(missing, ", ")), nil)
		}

		if payoutCap := locked.PayoutCap(); amount.GreaterThan(payoutCap) {
			amount = payoutCap
		}
		return model.NewPayoutReservation(locked, round, recipient.MemberID, amount, time.Now()), nil
	})
	if err != nil {
		return nil, err
	}

	payoutResult, payoutErr := j.gateway.Payout(ctx, gateway.PayoutRequest{
		IdempotencyKey: entry.EntryID,
		RecipientRef:   recipient.RecipientRef,
		Amount:         entry.Amount,
		Currency:       entry.Currency,
		Description:    fmt.Sprintf("Pool %s round %d payout", poolID, round),
	})
	if payoutErr != nil {
		logrus.WithError(payoutErr).WithField("entry_id", entry.EntryID).Error("payout transfer failed")
		notification.NotifyError(payoutErr)
		if err := j.datasource.FailPayout(ctx, entry.EntryID, payoutErr.Error()); err != nil {
			logrus.Error(err)
		}
		failed, err := j.datasource.GetPayoutEntry(ctx, poolID, round)
		if err == nil {
			entry = failed
		}
		if err := SendWebhook(NewWebhook{Event: EventPayoutFailed, Payload: entry}); err != nil {
			logrus.Error(err)
		}
		return nil, apierror.NewAPIError(apierror.ErrGateway, "Payout transfer failed, operator intervention required", payoutErr)
	}

	if err := j.datasource.FinalizePayout(ctx, entry.EntryID, payoutResult.Reference); err != nil {
		// Money moved but the book write failed. Surface loudly.
		notification.NotifyError(err)
		return nil, err
	}
	entry.Status = model.EntryCompleted
	entry.GatewayRef = payoutResult.Reference

	if err := j.datasource.MarkPayoutReceived(ctx, poolID, recipient.MemberID); err != nil {
		logrus.Error(err)
	}

	nextRound := round + 1
	nextStatus := model.PoolActive
	if pool.OnFinalRound() {
		nextStatus = model.PoolCompleted
	}
	if err := j.datasource.UpdatePoolRound(ctx, poolID, nextRound, pool.NextDueDateFrom(pool.NextDueDate), nextStatus); err != nil {
		logrus.Error(err)
	}

	_ = j.datasource.RecordAudit(ctx, model.NewAuditEntry(poolID, requestedBy, "payout.execute", entry.EntryID, map[string]interface{}{
		"round":       round,
		"amount":      entry.Amount.String(),
		"gateway_ref": payoutResult.Reference,
	}))

	if err := SendWebhook(NewWebhook{Event: EventPayoutCompleted, Payload: entry}); err != nil {
		logrus.Error(err)
	}
	event := EventPoolRoundAdvanced
	if nextStatus == model.PoolCompleted {
		event = EventPoolCompleted
	}
	if err := SendWebhook(NewWebhook{Event: event, Payload: map[string]interface{}{"pool_id": poolID, "round": nextRound, "status": nextStatus}}); err != nil {
		logrus.Error(err)
	}

	return &PayoutOutcome{Entry: entry, GatewayRef: payoutResult.Reference, PoolStatus: nextStatus, Round: round}, nil
}

// RoundPayoutState derives where a pool's current round sits in the payout
// lifecycle from the pool record and its books. It never stores the state;
// the answer is recomputed from ledger and collection rows on every call.
func (j *Junta) RoundPayoutState(ctx context.Context, poolID string) (model.RoundState, error) {
	pool, err := j.datasource.GetPool(ctx, poolID)
	if err != nil {
		return "", err
	}
	if pool.Status == model.PoolCompleted {
		return model.RoundCompleted, nil
	}
	round := pool.CurrentRound

	entry, err := j.datasource.GetPayoutEntry(ctx, poolID, round)
	if err != nil && !apierror.HasCode(err, apierror.ErrNotFound) {
		return "", err
	}
	if entry != nil && entry.Status == model.EntryCompleted {
		return model.RoundPaid, nil
	}

	collections, err := j.datasource.GetCollectionsForRound(ctx, poolID, round)
	if err != nil {
		return "", err
	}
	settled := make(map[string]bool, len(collections))
	for _, col := range collections {
		if col.Status == model.CollectionCompleted || col.Status == model.CollectionManuallyPaid {
			settled[col.MemberID] = true
		}
	}
	recipient := pool.RecipientForRound(round)
	for _, m := range pool.Members {
		if recipient != nil && m.MemberID == recipient.MemberID {
			continue
		}
		if !settled[m.MemberID] {
			return model.RoundPendingCollection, nil
		}
	}
	return model.RoundReadyToPay, nil
}
