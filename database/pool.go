package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

// CreatePool inserts a pool and its full member roster in one transaction.
func (d Datasource) CreatePool(ctx context.Context, pool *model.Pool) (*model.Pool, error) {
	metaDataJSON, err := json.Marshal(pool.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	pool.PoolID = model.GenerateUUIDWithSuffix("pool")
	pool.CreatedAt = time.Now()
	if pool.CurrentRound == 0 {
		pool.CurrentRound = 1
	}
	if pool.Status == "" {
		pool.Status = model.PoolActive
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO junta.pools(pool_id,name,contribution_amount,currency,frequency,current_round,total_rounds,balance,status,next_due_date,created_at,meta_data)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		pool.PoolID, pool.Name, pool.ContributionAmount, pool.Currency, pool.Frequency, pool.CurrentRound, pool.TotalRounds, pool.Balance, pool.Status, pool.NextDueDate, pool.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create pool", err)
	}

	for i := range pool.Members {
		m := &pool.Members[i]
		if m.MemberID == "" {
			m.MemberID = model.GenerateUUIDWithSuffix("mem")
		}
		m.PoolID = pool.PoolID
		m.CreatedAt = pool.CreatedAt
		_, err = tx.ExecContext(ctx,
			`INSERT INTO junta.pool_members(member_id,pool_id,name,position,role,payout_received,recipient_ref,created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			m.MemberID, m.PoolID, m.Name, m.Position, m.Role, m.PayoutReceived, m.RecipientRef, m.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create pool member", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit pool creation", err)
	}
	return pool, nil
}

func poolCacheKey(id string) string { return "junta:pool:" + id }

func (d Datasource) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	if d.Cache != nil {
		cached := &model.Pool{}
		if err := d.Cache.Get(ctx, poolCacheKey(id), cached); err == nil && cached.PoolID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT pool_id, name, contribution_amount, currency, frequency, current_round, total_rounds, balance, status, next_due_date, created_at, meta_data
		FROM junta.pools
		WHERE pool_id = $1
	`, id)

	pool := &model.Pool{}
	var metaDataJSON sql.NullString
	err := row.Scan(&pool.PoolID, &pool.Name, &pool.ContributionAmount, &pool.Currency, &pool.Frequency, &pool.CurrentRound, &pool.TotalRounds, &pool.Balance, &pool.Status, &pool.NextDueDate, &pool.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Pool with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pool", err)
	}
	if metaDataJSON.Valid {
		if err := json.Unmarshal([]byte(metaDataJSON.String), &pool.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	members, err := d.getPoolMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	pool.Members = members

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, poolCacheKey(id), pool, 5*time.Minute)
	}
	return pool, nil
}

func (d Datasource) getPoolMembers(ctx context.Context, poolID string) ([]model.PoolMember, error) {
	rows, err := d.Conn.QueryContext(ctx, `
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

func (d Datasource) GetAllPools(ctx context.Context, limit, offset int) ([]*model.Pool, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT pool_id, name, contribution_amount, currency, frequency, current_round, total_rounds, balance, status, next_due_date, created_at
		FROM junta.pools
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pools", err)
	}
	defer rows.Close()

	var pools []*model.Pool
	for rows.Next() {
		pool := &model.Pool{}
		err = rows.Scan(&pool.PoolID, &pool.Name, &pool.ContributionAmount, &pool.Currency, &pool.Frequency, &pool.CurrentRound, &pool.TotalRounds, &pool.Balance, &pool.Status, &pool.NextDueDate, &pool.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pool data", err)
		}
		pools = append(pools, pool)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over pools", err)
	}
	return pools, nil
}

// UpdatePoolRound advances the pool's round bookkeeping after a settled
// payout: round counter, next due date, and completion status.
func (d Datasource) UpdatePoolRound(ctx context.Context, id string, round int, nextDueDate time.Time, status model.PoolStatus) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.pools
		SET current_round = $2, next_due_date = $3, status = $4
		WHERE pool_id = $1
	`, id, round, nextDueDate, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update pool round", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Pool with ID '%s' not found", id), nil)
	}
	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, poolCacheKey(id))
	}
	return nil
}

func (d Datasource) MarkPayoutReceived(ctx context.Context, poolID, memberID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.pool_members
		SET payout_received = TRUE
		WHERE pool_id = $1 AND member_id = $2
	`, poolID, memberID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payout received", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Member '%s' not found in pool '%s'", memberID, poolID), nil)
	}
	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, poolCacheKey(poolID))
	}
	return nil
}
