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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

// ScheduleResult summarizes one scheduling pass over a pool round.
type ScheduleResult struct {
	PoolID  string `json:"pool_id"`
	Round   int    `json:"round"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
}

// ScheduleCollectionsForRound creates one collection per contributing member
// of the pool's given round. Members without an active authorization are
// skipped entirely: they pay by hand and no obligation is materialized for
// the processor to fail on. The recipient of the round contributes nothing:
// their share is the pot itself. Identities are deterministic, so calling
// this twice for the same round creates nothing new and reports the
// duplicates as skipped.
//
// A zero dueDate falls back to the pool's next due date; a non-positive
// graceHours falls back to the configured grace window. requestedBy is the
// scheduling actor for the audit trail; when empty the run is recorded as the
// system scheduler.
func (j *Junta) ScheduleCollectionsForRound(ctx context.Context, poolID string, round int, dueDate time.Time, graceHours int, requestedBy string) (*ScheduleResult, error) {
	ctx, span := otel.Tracer("collection.scheduler").Start(ctx, "Scheduling round collections")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	pool, err := j.datasource.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if requestedBy != "" && !pool.IsAdmin(requestedBy) {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, fmt.Sprintf("Member '%s' is not an admin of pool '%s'", requestedBy, poolID), nil)
	}
	if pool.Status != model.PoolActive {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Pool '%s' is not active", poolID), nil)
	}
	if round < 1 || round > pool.TotalRounds {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Round %d is out of range for pool '%s'", round, poolID), nil)
	}

	recipient := pool.RecipientForRound(round)
	if recipient == nil {
		return nil, apierror.NewAPIError(apierror.ErrConsistency, fmt.Sprintf("Pool '%s' has no member at position %d", poolID, round), nil)
	}

	if dueDate.IsZero() {
		dueDate = pool.NextDueDate
	}
	if graceHours <= 0 {
		graceHours = conf.Collections.GraceHours
	}

	result := &ScheduleResult{PoolID: poolID, Round: round}
	for _, member := range pool.Members {
		if member.MemberID == recipient.MemberID {
			continue
		}
		auth, err := j.datasource.GetAuthorization(ctx, poolID, member.MemberID)
		if err != nil {
			if apierror.HasCode(err, apierror.ErrNotFound) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		if !auth.IsActive() {
			result.Skipped++
			continue
		}
		collection := model.NewCollection(
			pool.PoolID, member.MemberID, round,
			pool.ContributionAmount, pool.Currency,
			dueDate, graceHours, conf.Collections.MaxAttempts,
		)
		created, err := j.datasource.CreateCollection(ctx, collection)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created++
		} else {
			result.Skipped++
		}
	}

	actor := requestedBy
	if actor == "" {
		actor = "system"
	}
	_ = j.datasource.RecordAudit(ctx, model.NewAuditEntry(poolID, actor, "collection.schedule", fmt.Sprintf("round_%d", round), map[string]interface{}{
		"round":   round,
		"created": result.Created,
		"skipped": result.Skipped,
	}))

	logrus.WithFields(logrus.Fields{
		"pool_id": poolID,
		"round":   round,
		"created": result.Created,
		"skipped": result.Skipped,
	}).Info("scheduled round collections")
	return result, nil
}

// CancelCollection terminalizes a pending obligation on behalf of a pool
// admin. Completion wins any race with the processor: a record that has
// already been charged cannot be cancelled.
func (j *Junta) CancelCollection(ctx context.Context, collectionID, requestedBy, reason string) (*model.Collection, error) {
	collection, err := j.datasource.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	pool, err := j.datasource.GetPool(ctx, collection.PoolID)
	if err != nil {
		return nil, err
	}
	if !pool.IsAdmin(requestedBy) {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, fmt.Sprintf("Member '%s' is not an admin of pool '%s'", requestedBy, pool.PoolID), nil)
	}

	cancelled, err := j.datasource.CancelCollection(ctx, collectionID, requestedBy, reason)
	if err != nil {
		return nil, err
	}

	_ = j.datasource.RecordAudit(ctx, model.NewAuditEntry(pool.PoolID, requestedBy, "collection.cancel", collectionID, map[string]interface{}{
		"reason": reason,
	}))
	err = SendWebhook(NewWebhook{Event: EventCollectionCancelled, Payload: cancelled})
	if err != nil {
		logrus.Error(err)
	}
	return cancelled, nil
}

// MarkManuallyPaid records that a member settled an obligation outside the
// system (cash in hand to the admin). The collection short-circuits to
// MANUALLY_PAID and a manual contribution entry is booked so the round total
// still adds up.
func (j *Junta) MarkManuallyPaid(ctx context.Context, collectionID, recordedBy string) (*model.Collection, error) {
	collection, err := j.datasource.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	pool, err := j.datasource.GetPool(ctx, collection.PoolID)
	if err != nil {
		return nil, err
	}
	if !pool.IsAdmin(recordedBy) {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, fmt.Sprintf("Member '%s' is not an admin of pool '%s'", recordedBy, pool.PoolID), nil)
	}

	paid, err := j.datasource.MarkManuallyPaid(ctx, collectionID, recordedBy)
	if err != nil {
		return nil, err
	}

	entry := model.NewContributionEntry(paid, model.ManualContributionRef(paid.CollectionID), model.SourceManual, paid.CreatedAt)
	if paid.ProcessedAt != nil {
		entry.CreatedAt = *paid.ProcessedAt
		entry.SettledAt = paid.ProcessedAt
	}
	if _, err := j.datasource.RecordContribution(ctx, entry); err != nil {
		return nil, err
	}

	_ = j.datasource.RecordAudit(ctx, model.NewAuditEntry(pool.PoolID, recordedBy, "collection.manual_payment", collectionID, nil))
	err = SendWebhook(NewWebhook{Event: EventCollectionManuallyPaid, Payload: paid})
	if err != nil {
		logrus.Error(err)
	}
	return paid, nil
}
