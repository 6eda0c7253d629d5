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
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/gateway"
	"github.com/juntapay/junta/internal/apierror"
	redlock "github.com/juntapay/junta/internal/lock"
	"github.com/juntapay/junta/internal/notification"
	"github.com/juntapay/junta/model"
)

const processorLeaseKey = "junta:processor:lease"

// ProcessResult summarizes one processor run.
type ProcessResult struct {
	Promoted  int64 `json:"promoted"`
	Attempted int   `json:"attempted"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
}

// ProcessDueCollections is one processor run. It takes a Redis lease so
// overlapping cron fires don't double-run, promotes eligible SCHEDULED
// records, then walks the due batch attempting one charge each. Per-record
// claims and idempotency keys keep concurrent workers safe even if the lease
// is lost mid-run.
func (j *Junta) ProcessDueCollections(ctx context.Context) (*ProcessResult, error) {
	ctx, span := otel.Tracer("collection.processor").Start(ctx, "Processing due collections")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	lease := redlock.NewLocker(j.redis, processorLeaseKey, model.GenerateUUIDWithSuffix("run"))
	leaseTimeout := time.Duration(conf.Collections.LeaseTimeoutSec) * time.Second
	if err := lease.Lock(ctx, leaseTimeout); err != nil {
		logrus.Info("another processor run holds the lease, skipping")
		return &ProcessResult{}, nil
	}
	defer func() {
		if err := lease.Unlock(ctx); err != nil {
			logrus.Error(err)
		}
	}()

	now := time.Now()
	result := &ProcessResult{}

	result.Promoted, err = j.datasource.PromoteScheduled(ctx, now)
	if err != nil {
		return nil, err
	}

	due, err := j.datasource.GetDueCollections(ctx, now, conf.Collections.BatchSize)
	if err != nil {
		return nil, err
	}

	for _, collection := range due {
		outcome := j.processOne(ctx, collection)
		switch outcome {
		case model.CollectionCompleted, model.CollectionManuallyPaid:
			result.Attempted++
			result.Completed++
		case model.CollectionFailed:
			result.Attempted++
			result.Failed++
		default:
			result.Skipped++
		}
	}

	logrus.WithFields(logrus.Fields{
		"promoted":  result.Promoted,
		"attempted": result.Attempted,
		"completed": result.Completed,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}).Info("processor run finished")
	return result, nil
}

// DispatchDueCollections fans due collections out to the charge queue
// instead of attempting them inline. Task identity is the collection ID, so
// a record that is already queued is not queued again. Workers pick the
// tasks up through ProcessCollection.
func (j *Junta) DispatchDueCollections(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("collection.processor").Start(ctx, "Dispatching due collections to queue")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if _, err := j.datasource.PromoteScheduled(ctx, now); err != nil {
		return 0, err
	}

	due, err := j.datasource.GetDueCollections(ctx, now, conf.Collections.BatchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, collection := range due {
		if err := j.queue.EnqueueCollection(ctx, collection); err != nil {
			logrus.WithError(err).WithField("collection_id", collection.CollectionID).Error("failed to enqueue collection")
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// ProcessCollection attempts one queued collection by ID. Records that are
// no longer chargeable, or not yet due again, are acknowledged without
// action so the task is not retried.
func (j *Junta) ProcessCollection(ctx context.Context, collectionID string) error {
	collection, err := j.datasource.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}

	now := time.Now()
	switch collection.Status {
	case model.CollectionPending:
		if collection.EligibleAt.After(now) {
			return nil
		}
	case model.CollectionFailed:
		if collection.NextRetryAt == nil || collection.NextRetryAt.After(now) {
			return nil
		}
	default:
		return nil
	}

	j.processOne(ctx, collection)
	return nil
}

// processOne runs a single charge attempt against one due collection and
// returns the status the record landed in, or the empty status when the
// record was skipped.
func (j *Junta) processOne(ctx context.Context, collection *model.Collection) (outcome model.CollectionStatus) {
	claimed, err := j.datasource.ClaimCollection(ctx, collection.CollectionID, collection.Status)
	if err != nil {
		logrus.Error(err)
		return ""
	}
	if !claimed {
		// Another worker or an admin action got there first.
		return ""
	}

	// A crash between the gateway call and the outcome write must not leave
	// the record stuck in PROCESSING.
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("panic processing collection %s: %v", collection.CollectionID, r)
			notification.NotifyError(fmt.Errorf("panic processing collection %s: %v", collection.CollectionID, r))
			j.revertClaim(ctx, collection.CollectionID)
			outcome = ""
		}
	}()

	if err := collection.Transition(model.CollectionProcessing); err != nil {
		logrus.Error(err)
		j.revertClaim(ctx, collection.CollectionID)
		return ""
	}

	// The obligation may have been settled by hand between scheduling and this
	// attempt, with the collection row not yet terminalized. The booked manual
	// entry wins over a charge.
	manual, err := j.datasource.GetContributionByRef(ctx, model.ManualContributionRef(collection.CollectionID))
	if err != nil && !apierror.HasCode(err, apierror.ErrNotFound) {
		logrus.Error(err)
		j.revertClaim(ctx, collection.CollectionID)
		return ""
	}
	if manual != nil {
		now := time.Now()
		collection.NextRetryAt = nil
		collection.ProcessedAt = &now
		if err := collection.Transition(model.CollectionManuallyPaid); err != nil {
			logrus.Error(err)
			j.revertClaim(ctx, collection.CollectionID)
			return ""
		}
		if err := j.datasource.UpdateCollectionOutcome(ctx, collection); err != nil {
			logrus.Error(err)
			j.revertClaim(ctx, collection.CollectionID)
			return ""
		}
		if err := SendWebhook(NewWebhook{Event: EventCollectionManuallyPaid, Payload: collection}); err != nil {
			logrus.Error(err)
		}
		return model.CollectionManuallyPaid
	}

	auth, err := j.datasource.GetAuthorization(ctx, collection.PoolID, collection.MemberID)
	if err != nil {
		// A missing authorization is a terminal fact about the member; any
		// other failure is transient and the record goes back in the queue.
		if apierror.HasCode(err, apierror.ErrNotFound) {
			j.failWithoutAttempt(ctx, collection, "no active payment authorization")
			return model.CollectionFailed
		}
		logrus.Error(err)
		j.revertClaim(ctx, collection.CollectionID)
		return ""
	}
	if !auth.IsActive() {
		j.failWithoutAttempt(ctx, collection, "no active payment authorization")
		return model.CollectionFailed
	}

	idempotencyKey := collection.NextIdempotencyKey()
	chargeResult, chargeErr := j.gateway.ChargeOffSession(ctx, gateway.ChargeRequest{
		IdempotencyKey: idempotencyKey,
		CustomerRef:    detokenizeRef(auth.CustomerRef),
		MethodRef:      detokenizeRef(auth.MethodRef),
		Amount:         collection.Amount,
		Currency:       collection.Currency,
		Description:    fmt.Sprintf("Pool %s round %d contribution", collection.PoolID, collection.Round),
	})

	now := time.Now()
	collection.AttemptCount++
	collection.LastIdempotencyKey = idempotencyKey
	attempt := model.ChargeAttempt{Number: collection.AttemptCount, Timestamp: now}

	if chargeErr == nil {
		attempt.Succeeded = true
		attempt.GatewayRef = chargeResult.Reference
		collection.AppendAttempt(attempt)
		collection.NextRetryAt = nil
		collection.LastFailureReason = ""
		collection.ProcessedAt = &now
		if err := collection.Transition(model.CollectionCompleted); err != nil {
			logrus.Error(err)
			j.revertClaim(ctx, collection.CollectionID)
			return ""
		}
		if err := j.datasource.UpdateCollectionOutcome(ctx, collection); err != nil {
			logrus.Error(err)
			j.revertClaim(ctx, collection.CollectionID)
			return ""
		}

		entry := model.NewContributionEntry(collection, chargeResult.Reference, model.SourceAuto, now)
		if _, err := j.datasource.RecordContribution(ctx, entry); err != nil {
			logrus.Error(err)
			notification.NotifyError(err)
		}
		auth.RecordSuccess(now)
		if err := j.datasource.UpdateAuthorization(ctx, auth); err != nil {
			logrus.Error(err)
		}
		if err := SendWebhook(NewWebhook{Event: EventCollectionCompleted, Payload: collection}); err != nil {
			logrus.Error(err)
		}
		return model.CollectionCompleted
	}

	var decline *gateway.DeclineError
	declineCode := ""
	if errors.As(chargeErr, &decline) {
		declineCode = decline.DeclineCode
		attempt.ErrorCode = decline.Code
		attempt.DeclineCode = decline.DeclineCode
	} else {
		attempt.ErrorCode = "gateway_unreachable"
	}
	collection.AppendAttempt(attempt)
	collection.LastFailureReason = chargeErr.Error()

	class := gateway.Classify(declineCode)
	switch {
	case class == gateway.ClassNonRetryable, collection.AttemptsExhausted():
		collection.NextRetryAt = nil
	default:
		delay := gateway.NextRetryDelay(class, collection.AttemptCount)
		if delay == 0 {
			collection.NextRetryAt = nil
		} else {
			retryAt := now.Add(delay)
			collection.NextRetryAt = &retryAt
		}
	}

	if err := collection.Transition(model.CollectionFailed); err != nil {
		logrus.Error(err)
		j.revertClaim(ctx, collection.CollectionID)
		return ""
	}
	if err := j.datasource.UpdateCollectionOutcome(ctx, collection); err != nil {
		logrus.Error(err)
		j.revertClaim(ctx, collection.CollectionID)
		return ""
	}

	if demoted := auth.RecordFailure(now); demoted {
		if err := SendWebhook(NewWebhook{Event: EventAuthorizationRequiresFix, Payload: auth}); err != nil {
			logrus.Error(err)
		}
	}
	if err := j.datasource.UpdateAuthorization(ctx, auth); err != nil {
		logrus.Error(err)
	}

	if collection.IsTerminal() {
		if err := SendWebhook(NewWebhook{Event: EventCollectionFailed, Payload: collection}); err != nil {
			logrus.Error(err)
		}
	}
	return model.CollectionFailed
}

// revertClaim returns a claimed collection to PENDING after an unexpected
// error, so a later run picks it up again. Only a PROCESSING row is touched.
func (j *Junta) revertClaim(ctx context.Context, collectionID string) {
	if err := j.datasource.RevertToPending(ctx, collectionID); err != nil {
		logrus.Error(err)
	}
}

// failWithoutAttempt terminalizes a claimed collection that cannot reach the
// gateway at all. No attempt is consumed against the gateway, but the record
// fails so operators see it.
func (j *Junta) failWithoutAttempt(ctx context.Context, collection *model.Collection, reason string) {
	collection.LastFailureReason = reason
	collection.NextRetryAt = nil
	if err := collection.Transition(model.CollectionFailed); err != nil {
		logrus.Error(err)
		j.revertClaim(ctx, collection.CollectionID)
		return
	}
	if err := j.datasource.UpdateCollectionOutcome(ctx, collection); err != nil {
		logrus.Error(err)
		j.revertClaim(ctx, collection.CollectionID)
		return
	}
	if err := SendWebhook(NewWebhook{Event: EventCollectionFailed, Payload: collection}); err != nil {
		logrus.Error(err)
	}
}

// RetryCollectionNow forces an immediate attempt on a FAILED collection,
// bypassing its backoff schedule. Admin-triggered.
func (j *Junta) RetryCollectionNow(ctx context.Context, collectionID, requestedBy string) (*model.Collection, error) {
	collection, err := j.datasource.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if collection.Status != model.CollectionFailed {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Collection '%s' is not failed", collectionID), nil)
	}

	pool, err := j.datasource.GetPool(ctx, collection.PoolID)
	if err != nil {
		return nil, err
	}
	if !pool.IsAdmin(requestedBy) {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, fmt.Sprintf("Member '%s' is not an admin of pool '%s'", requestedBy, pool.PoolID), nil)
	}

	_ = j.datasource.RecordAudit(ctx, model.NewAuditEntry(pool.PoolID, requestedBy, "collection.retry_now", collectionID, nil))

	if outcome := j.processOne(ctx, collection); outcome == "" {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Collection '%s' could not be claimed for retry", collectionID), nil)
	}
	return j.datasource.GetCollection(ctx, collectionID)
}
