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
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/juntapay/junta/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Pool methods

func (m *MockDataSource) CreatePool(ctx context.Context, pool *model.Pool) (*model.Pool, error) {
	args := m.Called(ctx, pool)
	return args.Get(0).(*model.Pool), args.Error(1)
}

func (m *MockDataSource) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pool), args.Error(1)
}

func (m *MockDataSource) GetAllPools(ctx context.Context, limit, offset int) ([]*model.Pool, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*model.Pool), args.Error(1)
}

func (m *MockDataSource) UpdatePoolRound(ctx context.Context, id string, round int, nextDueDate time.Time, status model.PoolStatus) error {
	args := m.Called(ctx, id, round, nextDueDate, status)
	return args.Error(0)
}

func (m *MockDataSource) MarkPayoutReceived(ctx context.Context, poolID, memberID string) error {
	args := m.Called(ctx, poolID, memberID)
	return args.Error(0)
}

// Collection methods

func (m *MockDataSource) CreateCollection(ctx context.Context, collection *model.Collection) (bool, error) {
	args := m.Called(ctx, collection)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Collection), args.Error(1)
}

func (m *MockDataSource) GetCollectionsForRound(ctx context.Context, poolID string, round int) ([]*model.Collection, error) {
	args := m.Called(ctx, poolID, round)
	return args.Get(0).([]*model.Collection), args.Error(1)
}

func (m *MockDataSource) GetDueCollections(ctx context.Context, asOf time.Time, limit int) ([]*model.Collection, error) {
	args := m.Called(ctx, asOf, limit)
	return args.Get(0).([]*model.Collection), args.Error(1)
}

func (m *MockDataSource) PromoteScheduled(ctx context.Context, asOf time.Time) (int64, error) {
	args := m.Called(ctx, asOf)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) ClaimCollection(ctx context.Context, id string, from model.CollectionStatus) (bool, error) {
	args := m.Called(ctx, id, from)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) UpdateCollectionOutcome(ctx context.Context, collection *model.Collection) error {
	args := m.Called(ctx, collection)
	return args.Error(0)
}

func (m *MockDataSource) RevertToPending(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) CancelCollection(ctx context.Context, id, cancelledBy, reason string) (*model.Collection, error) {
	args := m.Called(ctx, id, cancelledBy, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Collection), args.Error(1)
}

func (m *MockDataSource) MarkManuallyPaid(ctx context.Context, id, recordedBy string) (*model.Collection, error) {
	args := m.Called(ctx, id, recordedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Collection), args.Error(1)
}

func (m *MockDataSource) CountCompletedForRound(ctx context.Context, poolID string, round int) (int, error) {
	args := m.Called(ctx, poolID, round)
	return args.Int(0), args.Error(1)
}

// Authorization methods

func (m *MockDataSource) CreateAuthorization(ctx context.Context, auth *model.PaymentAuthorization) (*model.PaymentAuthorization, error) {
	args := m.Called(ctx, auth)
	return args.Get(0).(*model.PaymentAuthorization), args.Error(1)
}

func (m *MockDataSource) GetAuthorization(ctx context.Context, poolID, memberID string) (*model.PaymentAuthorization, error) {
	args := m.Called(ctx, poolID, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentAuthorization), args.Error(1)
}

func (m *MockDataSource) UpdateAuthorization(ctx context.Context, auth *model.PaymentAuthorization) error {
	args := m.Called(ctx, auth)
	return args.Error(0)
}

// Ledger methods

func (m *MockDataSource) RecordContribution(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetContributionByRef(ctx context.Context, gatewayRef string) (*model.LedgerEntry, error) {
	args := m.Called(ctx, gatewayRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) GetLedgerEntries(ctx context.Context, poolID string, limit, offset int) ([]*model.LedgerEntry, error) {
	args := m.Called(ctx, poolID, limit, offset)
	return args.Get(0).([]*model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) SumCompletedContributions(ctx context.Context, poolID string, round int) (decimal.Decimal, error) {
	args := m.Called(ctx, poolID, round)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// Settlement methods

func (m *MockDataSource) ReserveRoundPayout(ctx context.Context, poolID string, reserve func(pool *model.Pool, contributions map[string]decimal.Decimal) (*model.LedgerEntry, error)) (*model.LedgerEntry, error) {
	args := m.Called(ctx, poolID, reserve)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) FinalizePayout(ctx context.Context, entryID, gatewayRef string) error {
	args := m.Called(ctx, entryID, gatewayRef)
	return args.Error(0)
}

func (m *MockDataSource) FailPayout(ctx context.Context, entryID, reason string) error {
	args := m.Called(ctx, entryID, reason)
	return args.Error(0)
}

func (m *MockDataSource) GetPayoutEntry(ctx context.Context, poolID string, round int) (*model.LedgerEntry, error) {
	args := m.Called(ctx, poolID, round)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerEntry), args.Error(1)
}

// Audit methods

func (m *MockDataSource) RecordAudit(ctx context.Context, entry *model.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDataSource) GetAuditTrail(ctx context.Context, poolID string, limit, offset int) ([]*model.AuditEntry, error) {
	args := m.Called(ctx, poolID, limit, offset)
	return args.Get(0).([]*model.AuditEntry), args.Error(1)
}
