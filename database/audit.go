package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

func (d Datasource) RecordAudit(ctx context.Context, entry *model.AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal audit details", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO junta.audit_logs(audit_id,pool_id,actor,action,target_id,details,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.AuditID, entry.PoolID, entry.Actor, entry.Action, entry.TargetID, detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record audit entry", err)
	}
	return nil
}

func (d Datasource) GetAuditTrail(ctx context.Context, poolID string, limit, offset int) ([]*model.AuditEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT audit_id, pool_id, actor, action, target_id, details, created_at
		FROM junta.audit_logs
		WHERE pool_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, poolID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve audit trail", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		entry := &model.AuditEntry{}
		var targetID sql.NullString
		var detailsJSON []byte
		err = rows.Scan(&entry.AuditID, &entry.PoolID, &entry.Actor, &entry.Action, &targetID, &detailsJSON, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan audit entry data", err)
		}
		entry.TargetID = targetID.String
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal audit details", err)
			}
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over audit entries", err)
	}
	return entries, nil
}
