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

	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

// CreatePool creates a rotating pool with its full member roster. Positions
// must form the exact sequence 1..N: the position is the payout order.
func (j *Junta) CreatePool(ctx context.Context, pool *model.Pool) (*model.Pool, error) {
	if len(pool.Members) < 2 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "A pool needs at least two members", nil)
	}
	seen := make(map[int]bool, len(pool.Members))
	for _, member := range pool.Members {
		if member.Position < 1 || member.Position > len(pool.Members) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Member position %d is out of range", member.Position), nil)
		}
		if seen[member.Position] {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Duplicate member position %d", member.Position), nil)
		}
		seen[member.Position] = true
	}
	if pool.TotalRounds == 0 {
		pool.TotalRounds = len(pool.Members)
	}
	if pool.TotalRounds != len(pool.Members) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Total rounds must equal the member count", nil)
	}
	return j.datasource.CreatePool(ctx, pool)
}

func (j *Junta) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	return j.datasource.GetPool(ctx, id)
}

func (j *Junta) GetAllPools(ctx context.Context, limit, offset int) ([]*model.Pool, error) {
	return j.datasource.GetAllPools(ctx, limit, offset)
}

func (j *Junta) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	return j.datasource.GetCollection(ctx, id)
}

func (j *Junta) GetCollectionsForRound(ctx context.Context, poolID string, round int) ([]*model.Collection, error) {
	return j.datasource.GetCollectionsForRound(ctx, poolID, round)
}

func (j *Junta) GetLedgerEntries(ctx context.Context, poolID string, limit, offset int) ([]*model.LedgerEntry, error) {
	return j.datasource.GetLedgerEntries(ctx, poolID, limit, offset)
}

func (j *Junta) GetAuditTrail(ctx context.Context, poolID string, limit, offset int) ([]*model.AuditEntry, error) {
	return j.datasource.GetAuditTrail(ctx, poolID, limit, offset)
}

// RegisterAuthorization stores a saved-instrument mandate for a pool member.
func (j *Junta) RegisterAuthorization(ctx context.Context, auth *model.PaymentAuthorization) (*model.PaymentAuthorization, error) {
	pool, err := j.datasource.GetPool(ctx, auth.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.MemberByID(auth.MemberID) == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Member '%s' not found in pool '%s'", auth.MemberID, auth.PoolID), nil)
	}

	customerRef, err := tokenizeRef(auth.CustomerRef)
	if err != nil {
		return nil, err
	}
	methodRef, err := tokenizeRef(auth.MethodRef)
	if err != nil {
		return nil, err
	}
	auth.CustomerRef = customerRef
	auth.MethodRef = methodRef

	return j.datasource.CreateAuthorization(ctx, auth)
}
