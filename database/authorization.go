package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

func (d Datasource) CreateAuthorization(ctx context.Context, auth *model.PaymentAuthorization) (*model.PaymentAuthorization, error) {
	auth.AuthorizationID = model.GenerateUUIDWithSuffix("auth")
	auth.CreatedAt = time.Now()
	if auth.Status == "" {
		auth.Status = model.AuthorizationActive
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO junta.payment_authorizations(authorization_id,pool_id,member_id,customer_ref,method_ref,status,consecutive_failures,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		auth.AuthorizationID, auth.PoolID, auth.MemberID, auth.CustomerRef, auth.MethodRef, auth.Status, auth.ConsecutiveFailures, auth.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create authorization", err)
	}
	return auth, nil
}

func (d Datasource) GetAuthorization(ctx context.Context, poolID, memberID string) (*model.PaymentAuthorization, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT authorization_id, pool_id, member_id, customer_ref, method_ref, status, consecutive_failures, last_success_at, last_failure_at, created_at
		FROM junta.payment_authorizations
		WHERE pool_id = $1 AND member_id = $2
	`, poolID, memberID)

	auth := &model.PaymentAuthorization{}
	err := row.Scan(&auth.AuthorizationID, &auth.PoolID, &auth.MemberID, &auth.CustomerRef, &auth.MethodRef, &auth.Status, &auth.ConsecutiveFailures, &auth.LastSuccessAt, &auth.LastFailureAt, &auth.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No authorization for member '%s' in pool '%s'", memberID, poolID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve authorization", err)
	}
	return auth, nil
}

func (d Datasource) UpdateAuthorization(ctx context.Context, auth *model.PaymentAuthorization) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE junta.payment_authorizations
		SET status = $2, consecutive_failures = $3, last_success_at = $4, last_failure_at = $5, method_ref = $6
		WHERE authorization_id = $1
	`, auth.AuthorizationID, auth.Status, auth.ConsecutiveFailures, auth.LastSuccessAt, auth.LastFailureAt, auth.MethodRef)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update authorization", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Authorization '%s' not found", auth.AuthorizationID), nil)
	}
	return nil
}
