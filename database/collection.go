package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

const collectionColumns = `collection_id, pool_id, member_id, round, amount, currency, due_date, grace_hours, eligible_at, status, attempt_count, max_attempts, next_retry_at, attempts, last_failure_reason, last_idempotency_key, processed_at, cancelled_by, cancel_reason, created_at, meta_data`

// CreateCollection inserts a collection record. The deterministic collection
// identity makes re-scheduling idempotent: an existing identity turns the
// insert into a no-op and the method returns false.
func (d Datasource) CreateCollection(ctx context.Context, collection *model.Collection) (bool, error) {
	ctx, span := otel.Tracer("collection.scheduler").Start(ctx, "Saving collection to db")
	defer span.End()

	attemptsJSON, err := json.Marshal(collection.Attempts)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal attempts", err)
	}
	metaDataJSON, err := json.Marshal(collection.MetaData)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	result, err := d.Conn.ExecContext(ctx,
		`INSERT INTO junta.collections(collection_id,pool_id,member_id,round,amount,currency,due_date,grace_hours,eligible_at,status,attempt_count,max_attempts,attempts,created_at,meta_data)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT (collection_id) DO NOTHING`,
		collection.CollectionID, collection.PoolID, collection.MemberID, collection.Round, collection.Amount, collection.Currency, collection.DueDate, collection.GraceHours, collection.EligibleAt, collection.Status, collection.AttemptCount, collection.MaxAttempts, attemptsJSON, collection.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record collection", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return inserted > 0, nil
}

func (d Datasource) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM junta.collections
		WHERE collection_id = $1
	`, collectionColumns), id)

	return scanCollection(row)
}

func (d Datasource) GetCollectionsForRound(ctx context.Context, poolID string, round int) ([]*model.Collection, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM junta.collections
		WHERE pool_id = $1 AND round = $2
		ORDER BY created_at
	`, collectionColumns), poolID, round)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve collections", err)
	}
	defer rows.Close()

	return scanCollections(rows)
}

// GetDueCollections returns the batch of collections a processor run should
// attempt: PENDING records past their eligibility, plus FAILED records whose
// retry time has arrived. Oldest eligibility first.
func (d Datasource) GetDueCollections(ctx context.Context, asOf time.Time, limit int) ([]*model.Collection, error) {
	ctx, span := otel.Tracer("collection.processor").Start(ctx, "Getting due collections from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM junta.collections
		WHERE (status = 'PENDING' AND eligible_at <= $1)
		   OR (status = 'FAILED' AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
		ORDER BY eligible_at
		LIMIT $2
	`, collectionColumns), asOf, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due collections", err)
	}
	defer rows.Close()

	return scanCollections(rows)
}

// PromoteScheduled moves every SCHEDULED collection whose eligibility time has
// passed to PENDING, returning the number promoted.
func (d Datasource) PromoteScheduled(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.collections
		SET status = 'PENDING'
		WHERE status = 'SCHEDULED' AND eligible_at <= $1
	`, asOf)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to promote scheduled collections", err)
	}
	promoted, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return promoted, nil
}

// ClaimCollection conditionally moves a collection from its observed status to
// PROCESSING. A false return means another worker got there first, or an
// admin terminalized the record in the meantime.
func (d Datasource) ClaimCollection(ctx context.Context, id string, from model.CollectionStatus) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.collections
		SET status = 'PROCESSING'
		WHERE collection_id = $1 AND status = $2
	`, id, from)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim collection", err)
	}
	claimed, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return claimed > 0, nil
}

// UpdateCollectionOutcome writes back the full post-attempt state of a claimed
// collection. Only a PROCESSING record is updated, so a concurrent admin
// action cannot be clobbered.
func (d Datasource) UpdateCollectionOutcome(ctx context.Context, collection *model.Collection) error {
	ctx, span := otel.Tracer("collection.processor").Start(ctx, "Writing collection outcome to db")
	defer span.End()

	attemptsJSON, err := json.Marshal(collection.Attempts)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal attempts", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.collections
		SET status = $2, attempt_count = $3, next_retry_at = $4, attempts = $5, last_failure_reason = $6, last_idempotency_key = $7, processed_at = $8
		WHERE collection_id = $1 AND status = 'PROCESSING'
	`, collection.CollectionID, collection.Status, collection.AttemptCount, collection.NextRetryAt, attemptsJSON, collection.LastFailureReason, collection.LastIdempotencyKey, collection.ProcessedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update collection outcome", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if updated == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Collection '%s' is no longer processing", collection.CollectionID), nil)
	}
	return nil
}

// RevertToPending returns a claimed collection to PENDING without consuming
// an attempt. Used when a run dies mid-flight before reaching the gateway.
func (d Datasource) RevertToPending(ctx context.Context, id string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.collections
		SET status = 'PENDING'
		WHERE collection_id = $1 AND status = 'PROCESSING'
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to revert collection", err)
	}
	return nil
}

// CancelCollection terminalizes a collection as CANCELLED. Completion wins
// any race: a record that already left the cancellable states is rejected.
func (d Datasource) CancelCollection(ctx context.Context, id, cancelledBy, reason string) (*model.Collection, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.collections
		SET status = 'CANCELLED', cancelled_by = $2, cancel_reason = $3, processed_at = NOW()
		WHERE collection_id = $1 AND status IN ('SCHEDULED', 'PENDING', 'FAILED')
	`, id, cancelledBy, reason)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel collection", err)
	}

	cancelled, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if cancelled == 0 {
		existing, getErr := d.GetCollection(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Collection '%s' cannot be cancelled in status %s", id, existing.Status), nil)
	}

	return d.GetCollection(ctx, id)
}

// MarkManuallyPaid terminalizes a collection as MANUALLY_PAID. Any
// non-terminal state qualifies; a record already completed is rejected.
func (d Datasource) MarkManuallyPaid(ctx context.Context, id, recordedBy string) (*model.Collection, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.collections
		SET status = 'MANUALLY_PAID', cancelled_by = $2, processed_at = NOW(), next_retry_at = NULL
		WHERE collection_id = $1 AND status IN ('SCHEDULED', 'PENDING', 'PROCESSING', 'FAILED')
	`, id, recordedBy)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark collection manually paid", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if updated == 0 {
		existing, getErr := d.GetCollection(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apierror.NewAPIError(apierror.ErrAlreadyProcessed, fmt.Sprintf("Collection '%s' is already %s", id, existing.Status), nil)
	}

	return d.GetCollection(ctx, id)
}

// CountCompletedForRound counts collections a round can consider paid:
// gateway-completed plus manually-paid.
func (d Datasource) CountCompletedForRound(ctx context.Context, poolID string, round int) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM junta.collections
		WHERE pool_id = $1 AND round = $2 AND status IN ('COMPLETED', 'MANUALLY_PAID')
	`, poolID, round).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count completed collections", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCollectionRow(scanner rowScanner, c *model.Collection) error {
	var attemptsJSON []byte
	var metaDataJSON, lastFailureReason, lastIdempotencyKey, cancelledBy, cancelReason sql.NullString
	err := scanner.Scan(
		&c.CollectionID, &c.PoolID, &c.MemberID, &c.Round, &c.Amount, &c.Currency,
		&c.DueDate, &c.GraceHours, &c.EligibleAt, &c.Status, &c.AttemptCount, &c.MaxAttempts,
		&c.NextRetryAt, &attemptsJSON, &lastFailureReason, &lastIdempotencyKey,
		&c.ProcessedAt, &cancelledBy, &cancelReason, &c.CreatedAt, &metaDataJSON,
	)
	if err != nil {
		return err
	}
	c.LastFailureReason = lastFailureReason.String
	c.LastIdempotencyKey = lastIdempotencyKey.String
	c.CancelledBy = cancelledBy.String
	c.CancelReason = cancelReason.String

	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &c.Attempts); err != nil {
			return err
		}
	}
	if metaDataJSON.Valid {
		if err := json.Unmarshal([]byte(metaDataJSON.String), &c.MetaData); err != nil {
			return err
		}
	}
	return nil
}

func scanCollection(row *sql.Row) (*model.Collection, error) {
	c := &model.Collection{}
	err := scanCollectionRow(row, c)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Collection not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve collection", err)
	}
	return c, nil
}

func scanCollections(rows *sql.Rows) ([]*model.Collection, error) {
	var collections []*model.Collection
	for rows.Next() {
		c := &model.Collection{}
		if err := scanCollectionRow(rows, c); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan collection data", err)
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over collections", err)
	}
	return collections, nil
}
