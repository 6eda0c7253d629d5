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

// RecordContribution books a contribution entry. The (type, gateway_ref)
// uniqueness makes the booking idempotent against gateway replays: a ref that
// was already booked turns the insert into a no-op and the method returns
// false.
func (d Datasource) RecordContribution(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	ctx, span := otel.Tracer("collection.processor").Start(ctx, "Booking contribution to ledger")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx,
		`INSERT INTO junta.ledger_entries(entry_id,pool_id,member_id,round,type,status,amount,currency,gateway_ref,source,created_at,settled_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (type, gateway_ref) DO NOTHING`,
		entry.EntryID, entry.PoolID, entry.MemberID, entry.Round, entry.Type, entry.Status, entry.Amount, entry.Currency, entry.GatewayRef, entry.Source, entry.CreatedAt, entry.SettledAt,
	)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record contribution", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if entry.Status == model.EntryCompleted {
		_, err = d.Conn.ExecContext(ctx, `
			UPDATE junta.pools SET balance = balance + $2 WHERE pool_id = $1
		`, entry.PoolID, entry.Amount)
		if err != nil {
			return true, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to credit pool balance", err)
		}
		if d.Cache != nil {
			_ = d.Cache.Delete(ctx, poolCacheKey(entry.PoolID))
		}
	}
	return true, nil
}

// GetContributionByRef looks a contribution entry up by its gateway or
// manual reference.
func (d Datasource) GetContributionByRef(ctx context.Context, gatewayRef string) (*model.LedgerEntry, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT entry_id, pool_id, member_id, round, type, status, amount, currency, gateway_ref, source, created_at, settled_at
		FROM junta.ledger_entries
		WHERE type = 'CONTRIBUTION' AND gateway_ref = $1
	`, gatewayRef)

	entry := &model.LedgerEntry{}
	var memberID sql.NullString
	err := row.Scan(&entry.EntryID, &entry.PoolID, &memberID, &entry.Round, &entry.Type, &entry.Status, &entry.Amount, &entry.Currency, &entry.GatewayRef, &entry.Source, &entry.CreatedAt, &entry.SettledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No contribution booked under ref '%s'", gatewayRef), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve contribution entry", err)
	}
	entry.MemberID = memberID.String
	return entry, nil
}

func (d Datasource) GetLedgerEntries(ctx context.Context, poolID string, limit, offset int) ([]*model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, pool_id, member_id, round, type, status, amount, currency, gateway_ref, source, created_at, settled_at
		FROM junta.ledger_entries
		WHERE pool_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, poolID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		entry := &model.LedgerEntry{}
		var memberID, gatewayRef sql.NullString
		err = rows.Scan(&entry.EntryID, &entry.PoolID, &memberID, &entry.Round, &entry.Type, &entry.Status, &entry.Amount, &entry.Currency, &gatewayRef, &entry.Source, &entry.CreatedAt, &entry.SettledAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry data", err)
		}
		entry.MemberID = memberID.String
		entry.GatewayRef = gatewayRef.String
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger entries", err)
	}
	return entries, nil
}

// SumCompletedContributions totals the booked contributions of one pool
// round. The total drives the payout amount, so only COMPLETED entries count.
func (d Datasource) SumCompletedContributions(ctx context.Context, poolID string, round int) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM junta.ledger_entries
		WHERE pool_id = $1 AND round = $2 AND type = 'CONTRIBUTION' AND status = 'COMPLETED'
	`, poolID, round).Scan(&sum)
	if err != nil {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum contributions", err)
	}
	return sum, nil
}
