package junta

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/gateway"
	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

// memoryDS is an in-memory IDataSource with the same claim and reservation
// semantics as the Postgres implementation, so service behavior can be
// exercised without a database.
type memoryDS struct {
	mu          sync.Mutex
	pools       map[string]*model.Pool
	collections map[string]*model.Collection
	auths       map[string]*model.PaymentAuthorization
	entries     []*model.LedgerEntry
	audits      []*model.AuditEntry
}

func newMemoryDS() *memoryDS {
	return &memoryDS{
		pools:       make(map[string]*model.Pool),
		collections: make(map[string]*model.Collection),
		auths:       make(map[string]*model.PaymentAuthorization),
	}
}

func authKey(poolID, memberID string) string { return poolID + ":" + memberID }

func (m *memoryDS) CreatePool(_ context.Context, pool *model.Pool) (*model.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool.PoolID == "" {
		pool.PoolID = model.GenerateUUIDWithSuffix("pool")
	}
	m.pools[pool.PoolID] = pool
	return pool, nil
}

func (m *memoryDS) GetPool(_ context.Context, id string) (*model.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Pool with ID '%s' not found", id), nil)
	}
	cp := *pool
	cp.Members = append([]model.PoolMember(nil), pool.Members...)
	return &cp, nil
}

func (m *memoryDS) GetAllPools(_ context.Context, limit, offset int) ([]*model.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pools []*model.Pool
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	return pools, nil
}

func (m *memoryDS) UpdatePoolRound(_ context.Context, id string, round int, nextDueDate time.Time, status model.PoolStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "pool not found", nil)
	}
	pool.CurrentRound = round
	pool.NextDueDate = nextDueDate
	pool.Status = status
	return nil
}

func (m *memoryDS) MarkPayoutReceived(_ context.Context, poolID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[poolID]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "pool not found", nil)
	}
	for i := range pool.Members {
		if pool.Members[i].MemberID == memberID {
			pool.Members[i].PayoutReceived = true
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, "member not found", nil)
}

func (m *memoryDS) CreateCollection(_ context.Context, collection *model.Collection) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.collections[collection.CollectionID]; exists {
		return false, nil
	}
	cp := *collection
	m.collections[collection.CollectionID] = &cp
	return true, nil
}

func (m *memoryDS) GetCollection(_ context.Context, id string) (*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Collection not found", nil)
	}
	cp := *c
	return &cp, nil
}

func (m *memoryDS) GetCollectionsForRound(_ context.Context, poolID string, round int) ([]*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Collection
	for _, c := range m.collections {
		if c.PoolID == poolID && c.Round == round {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryDS) GetDueCollections(_ context.Context, asOf time.Time, limit int) ([]*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Collection
	for _, c := range m.collections {
		if len(out) >= limit {
			break
		}
		pendingDue := c.Status == model.CollectionPending && !c.EligibleAt.After(asOf)
		failedDue := c.Status == model.CollectionFailed && c.NextRetryAt != nil && !c.NextRetryAt.After(asOf)
		if pendingDue || failedDue {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryDS) PromoteScheduled(_ context.Context, asOf time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var promoted int64
	for _, c := range m.collections {
		if c.Status == model.CollectionScheduled && !c.EligibleAt.After(asOf) {
			c.Status = model.CollectionPending
			promoted++
		}
	}
	return promoted, nil
}

func (m *memoryDS) ClaimCollection(_ context.Context, id string, from model.CollectionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = model.CollectionProcessing
	return true, nil
}

func (m *memoryDS) UpdateCollectionOutcome(_ context.Context, collection *model.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection.CollectionID]
	if !ok || c.Status != model.CollectionProcessing {
		return apierror.NewAPIError(apierror.ErrConflict, "collection is no longer processing", nil)
	}
	cp := *collection
	m.collections[collection.CollectionID] = &cp
	return nil
}

func (m *memoryDS) RevertToPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if ok && c.Status == model.CollectionProcessing {
		c.Status = model.CollectionPending
	}
	return nil
}

func (m *memoryDS) CancelCollection(_ context.Context, id, cancelledBy, reason string) (*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Collection not found", nil)
	}
	if !c.CanCancel() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Collection '%s' cannot be cancelled in status %s", id, c.Status), nil)
	}
	now := time.Now()
	c.Status = model.CollectionCancelled
	c.CancelledBy = cancelledBy
	c.CancelReason = reason
	c.ProcessedAt = &now
	cp := *c
	return &cp, nil
}

func (m *memoryDS) MarkManuallyPaid(_ context.Context, id, recordedBy string) (*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Collection not found", nil)
	}
	switch c.Status {
	case model.CollectionCompleted, model.CollectionManuallyPaid, model.CollectionCancelled:
		return nil, apierror.NewAPIError(apierror.ErrAlreadyProcessed, fmt.Sprintf("Collection '%s' is already %s", id, c.Status), nil)
	}
	now := time.Now()
	c.Status = model.CollectionManuallyPaid
	c.CancelledBy = recordedBy
	c.ProcessedAt = &now
	c.NextRetryAt = nil
	cp := *c
	return &cp, nil
}

func (m *memoryDS) CountCompletedForRound(_ context.Context, poolID string, round int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.collections {
		if c.PoolID == poolID && c.Round == round &&
			(c.Status == model.CollectionCompleted || c.Status == model.CollectionManuallyPaid) {
			count++
		}
	}
	return count, nil
}

func (m *memoryDS) CreateAuthorization(_ context.Context, auth *model.PaymentAuthorization) (*model.PaymentAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if auth.AuthorizationID == "" {
		auth.AuthorizationID = model.GenerateUUIDWithSuffix("auth")
	}
	m.auths[authKey(auth.PoolID, auth.MemberID)] = auth
	return auth, nil
}

func (m *memoryDS) GetAuthorization(_ context.Context, poolID, memberID string) (*model.PaymentAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	auth, ok := m.auths[authKey(poolID, memberID)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "authorization not found", nil)
	}
	cp := *auth
	return &cp, nil
}

func (m *memoryDS) UpdateAuthorization(_ context.Context, auth *model.PaymentAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *auth
	m.auths[authKey(auth.PoolID, auth.MemberID)] = &cp
	return nil
}

func (m *memoryDS) RecordContribution(_ context.Context, entry *model.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Type == entry.Type && e.GatewayRef == entry.GatewayRef {
			return false, nil
		}
	}
	cp := *entry
	m.entries = append(m.entries, &cp)
	if entry.Status == model.EntryCompleted {
		if pool, ok := m.pools[entry.PoolID]; ok {
			pool.Balance = pool.Balance.Add(entry.Amount)
		}
	}
	return true, nil
}

func (m *memoryDS) GetContributionByRef(_ context.Context, gatewayRef string) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Type == model.EntryContribution && e.GatewayRef == gatewayRef {
			cp := *e
			return &cp, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "no contribution booked under ref", nil)
}

func (m *memoryDS) GetLedgerEntries(_ context.Context, poolID string, limit, offset int) ([]*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LedgerEntry
	for _, e := range m.entries {
		if e.PoolID == poolID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryDS) SumCompletedContributions(_ context.Context, poolID string, round int) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, e := range m.entries {
		if e.PoolID == poolID && e.Round == round && e.Type == model.EntryContribution && e.Status == model.EntryCompleted {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (m *memoryDS) ReserveRoundPayout(_ context.Context, poolID string, reserve func(pool *model.Pool, contributions map[string]decimal.Decimal) (*model.LedgerEntry, error)) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[poolID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "pool not found", nil)
	}
	round := pool.CurrentRound
	for _, e := range m.entries {
		if e.PoolID == poolID && e.Round == round && e.Type == model.EntryPayout &&
			(e.Status == model.EntryPending || e.Status == model.EntryCompleted) {
			return nil, apierror.NewAPIError(apierror.ErrAlreadyProcessed, fmt.Sprintf("Payout for pool '%s' round %d already initiated", poolID, round), nil)
		}
	}
	contributions := make(map[string]decimal.Decimal)
	for _, e := range m.entries {
		if e.PoolID == poolID && e.Round == round && e.Type == model.EntryContribution && e.Status == model.EntryCompleted {
			contributions[e.MemberID] = contributions[e.MemberID].Add(e.Amount)
		}
	}
	cp := *pool
	cp.Members = append([]model.PoolMember(nil), pool.Members...)
	entry, err := reserve(&cp, contributions)
	if err != nil {
		return nil, err
	}
	stored := *entry
	m.entries = append(m.entries, &stored)
	return entry, nil
}

func (m *memoryDS) FinalizePayout(_ context.Context, entryID, gatewayRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EntryID == entryID && e.Type == model.EntryPayout && e.Status == model.EntryPending {
			now := time.Now()
			e.Status = model.EntryCompleted
			e.GatewayRef = gatewayRef
			e.SettledAt = &now
			if pool, ok := m.pools[e.PoolID]; ok {
				pool.Balance = pool.Balance.Sub(e.Amount)
			}
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrConflict, "payout entry is not pending", nil)
}

func (m *memoryDS) FailPayout(_ context.Context, entryID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EntryID == entryID && e.Type == model.EntryPayout && e.Status == model.EntryPending {
			now := time.Now()
			e.Status = model.EntryFailed
			e.FailureReason = reason
			e.SettledAt = &now
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrConflict, "payout entry is not pending", nil)
}

func (m *memoryDS) GetPayoutEntry(_ context.Context, poolID string, round int) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// the most recent payout entry wins: earlier FAILED sends stay on the books
	var latest *model.LedgerEntry
	for _, e := range m.entries {
		if e.PoolID == poolID && e.Round == round && e.Type == model.EntryPayout {
			latest = e
		}
	}
	if latest == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "no payout entry", nil)
	}
	cp := *latest
	return &cp, nil
}

func (m *memoryDS) RecordAudit(_ context.Context, entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memoryDS) GetAuditTrail(_ context.Context, poolID string, limit, offset int) ([]*model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AuditEntry
	for _, a := range m.audits {
		if a.PoolID == poolID {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeGateway counts calls and answers with a programmable response per
// charge or payout.
type fakeGateway struct {
	mu       sync.Mutex
	charges  []gateway.ChargeRequest
	payouts  []gateway.PayoutRequest
	chargeFn func(req gateway.ChargeRequest) (*gateway.ChargeResult, error)
	payoutFn func(req gateway.PayoutRequest) (*gateway.PayoutResult, error)
}

func (g *fakeGateway) ChargeOffSession(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	fn := g.chargeFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &gateway.ChargeResult{Reference: "ch_" + req.IdempotencyKey, Status: "succeeded"}, nil
}

func (g *fakeGateway) Payout(_ context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	g.mu.Lock()
	g.payouts = append(g.payouts, req)
	fn := g.payoutFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &gateway.PayoutResult{Reference: "po_" + req.IdempotencyKey, Status: "paid"}, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

func (g *fakeGateway) payoutCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payouts)
}

func newTestJunta(t *testing.T) (*Junta, *memoryDS, *fakeGateway) {
	t.Helper()
	config.MockConfig(&config.Configuration{})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ds := newMemoryDS()
	gw := &fakeGateway{}
	return NewJuntaWithDeps(ds, gw, nil, client), ds, gw
}

// seedPool creates an active five-member pool on round 2 with authorizations
// for every member.
func seedPool(t *testing.T, ds *memoryDS, members int) *model.Pool {
	t.Helper()
	pool := &model.Pool{
		PoolID:             model.GenerateUUIDWithSuffix("pool"),
		Name:               "sou-sou",
		ContributionAmount: decimal.NewFromInt(100),
		Currency:           "USD",
		Frequency:          model.FrequencyMonthly,
		CurrentRound:       2,
		TotalRounds:        members,
		Status:             model.PoolActive,
		NextDueDate:        time.Now().Add(-72 * time.Hour),
	}
	for i := 1; i <= members; i++ {
		role := model.RoleMember
		if i == 1 {
			role = model.RoleAdmin
		}
		pool.Members = append(pool.Members, model.PoolMember{
			MemberID:     fmt.Sprintf("mem_%d", i),
			PoolID:       pool.PoolID,
			Position:     i,
			Role:         role,
			RecipientRef: fmt.Sprintf("acct_%d", i),
		})
	}
	_, err := ds.CreatePool(context.Background(), pool)
	require.NoError(t, err)

	for _, member := range pool.Members {
		_, err := ds.CreateAuthorization(context.Background(), &model.PaymentAuthorization{
			PoolID:      pool.PoolID,
			MemberID:    member.MemberID,
			CustomerRef: "cus_" + member.MemberID,
			MethodRef:   "pm_" + member.MemberID,
			Status:      model.AuthorizationActive,
		})
		require.NoError(t, err)
	}
	return pool
}
