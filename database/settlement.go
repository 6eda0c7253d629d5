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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

// ReserveRoundPayout is the at-most-once gate for a round's payout. Inside a
// serializable transaction it locks the pool row, verifies no PENDING or
// COMPLETED payout entry exists for the current round (a FAILED one does not
// block a new attempt), and hands the reserve callback the locked pool with
// its members plus each member's booked contribution total for the round,
// all read under the lock. The PENDING entry the callback builds is written
// before commit. Concurrent callers queue on the row lock; the losers
// observe the reservation and get ErrAlreadyProcessed. No gateway call
// happens in here.
func (d Datasource) ReserveRoundPayout(ctx context.Context, poolID string, reserve func(pool *model.Pool, contributions map[string]decimal.Decimal) (*model.LedgerEntry, error)) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("payout.settlement").Start(ctx, "Reserving round payout")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin settlement transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	pool := &model.Pool{}
	row := tx.QueryRowContext(ctx, `
		SELECT pool_id, name, contribution_amount, currency, frequency, current_round, total_rounds, balance, status, next_due_date, created_at
		FROM junta.pools
		WHERE pool_id = $1
		FOR UPDATE
	`, poolID)
	err = row.Scan(&pool.PoolID, &pool.Name, &pool.ContributionAmount, &pool.Currency, &pool.Frequency, &pool.CurrentRound, &pool.TotalRounds, &pool.Balance, &pool.Status, &pool.NextDueDate, &pool.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Pool with ID '%s' not found", poolID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock pool for settlement", err)
	}

	round := pool.CurrentRound
	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM junta.ledger_entries
			WHERE pool_id = $1 AND round = $2 AND type = 'PAYOUT' AND status IN ('PENDING', 'COMPLETED')
		)
	`, poolID, round).Scan(&exists)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check for existing payout", err)
	}
	if exists {
		return nil, apierror.NewAPIError(apierror.ErrAlreadyProcessed, fmt.Sprintf("Payout for pool '%s' round %d already initiated", poolID, round), nil)
	}

	members, err := d.poolMembersTx(ctx, tx, poolID)
	if err != nil {
		return nil, err
	}
	pool.Members = members

	contributions, err := d.contributionsByMemberTx(ctx, tx, poolID, round)
	if err != nil {
		return nil, err
	}

	entry, err := reserve(pool, contributions)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO junta.ledger_entries(entry_id,pool_id,member_id,round,type,status,amount,currency,source,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.EntryID, entry.PoolID, entry.MemberID, entry.Round, entry.Type, entry.Status, entry.Amount, entry.Currency, entry.Source, entry.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve payout entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit payout reservation", err)
	}
	return entry, nil
}

func (d Datasource) poolMembersTx(ctx context.Context, tx *sql.Tx, poolID string) ([]model.PoolMember, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT member_id, pool_id, name, position, role, payout_received, recipient_ref, created_at
		FROM junta.pool_members
		WHERE pool_id = $1
		ORDER BY position
	`, poolID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pool members", err)
	}
	defer rows.Close()

	var members []model.PoolMember
	for rows.Next() {
		m := model.PoolMember{}
		var recipientRef sql.NullString
		err = rows.Scan(&m.MemberID, &m.PoolID, &m.Name, &m.Position, &m.Role, &m.PayoutReceived, &recipientRef, &m.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pool member data", err)
		}
		m.RecipientRef = recipientRef.String
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over pool members", err)
	}
	return members, nil
}

func (d Datasource) contributionsByMemberTx(ctx context.Context, tx *sql.Tx, poolID string, round int) (map[string]decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT member_id, COALESCE(SUM(amount), 0)
		FROM junta.ledger_entries
		WHERE pool_id = $1 AND round = $2 AND type = 'CONTRIBUTION' AND status = 'COMPLETED'
		GROUP BY member_id
	`, poolID, round)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve round contributions", err)
	}
	defer rows.Close()

	contributions := make(map[string]decimal.Decimal)
	for rows.Next() {
		var memberID string
		var amount decimal.Decimal
		if err = rows.Scan(&memberID, &amount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan round contribution", err)
		}
		contributions[memberID] = amount
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over round contributions", err)
	}
	return contributions, nil
}

// FinalizePayout marks a reserved payout entry COMPLETED with the gateway's
// transfer reference and draws the paid amount down from the pool's running
// balance. Only a PENDING entry can be finalized.
func (d Datasource) FinalizePayout(ctx context.Context, entryID, gatewayRef string) error {
	var poolID string
	var amount decimal.Decimal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT pool_id, amount
		FROM junta.ledger_entries
		WHERE entry_id = $1 AND type = 'PAYOUT'
	`, entryID).Scan(&poolID, &amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout entry '%s' not found", entryID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout entry", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.ledger_entries
		SET status = 'COMPLETED', gateway_ref = $2, settled_at = NOW()
		WHERE entry_id = $1 AND type = 'PAYOUT' AND status = 'PENDING'
	`, entryID, gatewayRef)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize payout", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout entry '%s' is not pending", entryID), nil)
	}

	_, err = d.Conn.ExecContext(ctx, `
		UPDATE junta.pools SET balance = balance - $2 WHERE pool_id = $1
	`, poolID, amount)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to draw down pool balance", err)
	}
	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, poolCacheKey(poolID))
	}
	return nil
}

// FailPayout marks a reserved payout entry FAILED. The entry stays on the
// books as a record of the refused transfer; it does not block a later
// reservation for the same round.
func (d Datasource) FailPayout(ctx context.Context, entryID, reason string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.ledger_entries
		SET status = 'FAILED', failure_reason = $2, settled_at = NOW()
		WHERE entry_id = $1 AND type = 'PAYOUT' AND status = 'PENDING'
	`, entryID, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payout failed", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout entry '%s' is not pending", entryID), nil)
	}
	return nil
}

// GetPayoutEntry returns the round's most recent payout entry. A round can
// accumulate FAILED entries from refused transfers before the one that
// settles, so the latest write is the authoritative one.
func (d Datasource) GetPayoutEntry(ctx context.Context, poolID string, round int) (*model.LedgerEntry, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT entry_id, pool_id, member_id, round, type, status, amount, currency, gateway_ref, source, failure_reason, created_at, settled_at
		FROM junta.ledger_entries
		WHERE pool_id = $1 AND round = $2 AND type = 'PAYOUT'
		ORDER BY created_at DESC
		LIMIT 1
	`, poolID, round)

	entry := &model.LedgerEntry{}
	var memberID, gatewayRef, failureReason sql.NullString
	err := row.Scan(&entry.EntryID, &entry.PoolID, &memberID, &entry.Round, &entry.Type, &entry.Status, &entry.Amount, &entry.Currency, &gatewayRef, &entry.Source, &failureReason, &entry.CreatedAt, &entry.SettledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No payout entry for pool '%s' round %d", poolID, round), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout entry", err)
	}
	entry.MemberID = memberID.String
	entry.GatewayRef = gatewayRef.String
	entry.FailureReason = failureReason.String
	return entry, nil
}
