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
	"time"

	"github.com/shopspring/decimal"

	"github.com/juntapay/junta/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	pool          // Interface for pool-related operations
	collection    // Interface for collection-related operations
	authorization // Interface for payment authorization operations
	ledger        // Interface for ledger-entry operations
	settlement    // Interface for payout settlement operations
	audit         // Interface for audit-log operations
}

// pool defines methods for handling pools and their members.
type pool interface {
	CreatePool(ctx context.Context, pool *model.Pool) (*model.Pool, error)          // Creates a new pool with its members
	GetPool(ctx context.Context, id string) (*model.Pool, error)                    // Retrieves a pool with members by ID
	GetAllPools(ctx context.Context, limit, offset int) ([]*model.Pool, error)      // Retrieves pools in pages
	UpdatePoolRound(ctx context.Context, id string, round int, nextDueDate time.Time, status model.PoolStatus) error // Advances the pool's round bookkeeping
	MarkPayoutReceived(ctx context.Context, poolID, memberID string) error          // Flags a member as having received their payout
}

// collection defines methods for handling collection records.
type collection interface {
	CreateCollection(ctx context.Context, collection *model.Collection) (bool, error)                       // Inserts a collection; false when the identity already exists
	GetCollection(ctx context.Context, id string) (*model.Collection, error)                                // Retrieves a collection by ID
	GetCollectionsForRound(ctx context.Context, poolID string, round int) ([]*model.Collection, error)      // Retrieves all collections of a pool round
	GetDueCollections(ctx context.Context, asOf time.Time, limit int) ([]*model.Collection, error)          // Retrieves PENDING/FAILED collections due for a charge
	PromoteScheduled(ctx context.Context, asOf time.Time) (int64, error)                                    // Moves eligible SCHEDULED collections to PENDING
	ClaimCollection(ctx context.Context, id string, from model.CollectionStatus) (bool, error)              // Atomically claims a collection into PROCESSING
	UpdateCollectionOutcome(ctx context.Context, collection *model.Collection) error                        // Writes back the post-attempt state of a collection
	RevertToPending(ctx context.Context, id string) error                                                   // Returns a claimed collection to PENDING
	CancelCollection(ctx context.Context, id, cancelledBy, reason string) (*model.Collection, error)        // Cancels a collection pre-completion
	MarkManuallyPaid(ctx context.Context, id, recordedBy string) (*model.Collection, error)                 // Terminalizes a collection as paid outside the system
	CountCompletedForRound(ctx context.Context, poolID string, round int) (int, error)                      // Counts terminally-paid collections in a round
}

// authorization defines methods for saved-instrument mandates.
type authorization interface {
	CreateAuthorization(ctx context.Context, auth *model.PaymentAuthorization) (*model.PaymentAuthorization, error)
	GetAuthorization(ctx context.Context, poolID, memberID string) (*model.PaymentAuthorization, error)
	UpdateAuthorization(ctx context.Context, auth *model.PaymentAuthorization) error
}

// ledger defines methods for money-movement entries.
type ledger interface {
	RecordContribution(ctx context.Context, entry *model.LedgerEntry) (bool, error) // Books a contribution; false when the gateway ref was already booked
	GetContributionByRef(ctx context.Context, gatewayRef string) (*model.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context, poolID string, limit, offset int) ([]*model.LedgerEntry, error)
	SumCompletedContributions(ctx context.Context, poolID string, round int) (decimal.Decimal, error) // Sums booked contributions for a round
}

// settlement defines the at-most-once payout reservation protocol. The
// reserve callback receives the locked pool and each member's booked
// contribution total for the current round, both read inside the settlement
// transaction.
type settlement interface {
	ReserveRoundPayout(ctx context.Context, poolID string, reserve func(pool *model.Pool, contributions map[string]decimal.Decimal) (*model.LedgerEntry, error)) (*model.LedgerEntry, error)
	FinalizePayout(ctx context.Context, entryID, gatewayRef string) error
	FailPayout(ctx context.Context, entryID, reason string) error
	GetPayoutEntry(ctx context.Context, poolID string, round int) (*model.LedgerEntry, error)
}

// audit defines methods for the operator action trail.
type audit interface {
	RecordAudit(ctx context.Context, entry *model.AuditEntry) error
	GetAuditTrail(ctx context.Context, poolID string, limit, offset int) ([]*model.AuditEntry, error)
}
