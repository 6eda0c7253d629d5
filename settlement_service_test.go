package junta

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juntapay/junta/gateway"
	"github.com/juntapay/junta/internal/apierror"
	"github.com/juntapay/junta/model"
)

func fundRound(t *testing.T, j *Junta, ds *memoryDS, pool *model.Pool, round int) {
	t.Helper()
	scheduleAndPromote(t, j, ds, pool, round)
	_, err := j.ProcessDueCollections(context.Background())
	require.NoError(t, err)
}

func TestExecutePayout_PaysRecipientAndAdvancesRound(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	outcome, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Round)
	assert.True(t, decimal.NewFromInt(400).Equal(outcome.Entry.Amount), "four contributions of 100")
	assert.Equal(t, model.EntryCompleted, outcome.Entry.Status)
	assert.Equal(t, 1, gw.payoutCount())
	assert.Equal(t, "acct_2", gw.payouts[0].RecipientRef)

	updated, err := ds.GetPool(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.CurrentRound)
	assert.Equal(t, model.PoolActive, updated.Status)
	assert.True(t, updated.RecipientForRound(2).PayoutReceived)
}

func TestExecutePayout_SecondCallRejected(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	_, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)

	// Round advanced to 3, which has no contributions yet; but even pinning
	// the round back, the reservation blocks a duplicate send.
	require.NoError(t, ds.UpdatePoolRound(context.Background(), pool.PoolID, 2, pool.NextDueDate, model.PoolActive))

	_, err = j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	assert.True(t, apierror.HasCode(err, apierror.ErrAlreadyProcessed))
	assert.Equal(t, 1, gw.payoutCount(), "money must move at most once per round")
}

func TestExecutePayout_ConcurrentCallsPayOnce(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, apierror.HasCode(err, apierror.ErrAlreadyProcessed) || apierror.HasCode(err, apierror.ErrConflict) || apierror.HasCode(err, apierror.ErrInsufficientData), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, gw.payoutCount(), "exactly one transfer despite concurrent callers")
}

func TestExecutePayout_CappedAtPoolFormula(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	// An extra booked contribution (say, a correction gone wrong) must not
	// inflate the pot past contribution x (N-1).
	_, err := ds.RecordContribution(context.Background(), &model.LedgerEntry{
		EntryID:    model.GenerateUUIDWithSuffix("ent"),
		PoolID:     pool.PoolID,
		MemberID:   "mem_5",
		Round:      2,
		Type:       model.EntryContribution,
		Status:     model.EntryCompleted,
		Amount:     decimal.NewFromInt(100),
		Currency:   "USD",
		GatewayRef: "ch_extra",
		Source:     model.SourceAuto,
	})
	require.NoError(t, err)

	outcome, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(400).Equal(outcome.Entry.Amount))
	assert.True(t, decimal.NewFromInt(400).Equal(gw.payouts[0].Amount))
}

func TestExecutePayout_IncompleteRoundAborts(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	scheduleAndPromote(t, j, ds, pool, 2)

	// Only mem_1's charge succeeds.
	gw.chargeFn = func(req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		if req.CustomerRef == "cus_mem_1" {
			return &gateway.ChargeResult{Reference: "ch_" + req.IdempotencyKey, Status: "succeeded"}, nil
		}
		return nil, &gateway.DeclineError{Code: "card_declined", DeclineCode: "insufficient_funds", Message: "insufficient funds"}
	}
	_, err := j.ProcessDueCollections(context.Background())
	require.NoError(t, err)

	// A short pot is never sent. The error names who still owes.
	_, err = j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	assert.True(t, apierror.HasCode(err, apierror.ErrInsufficientData))
	assert.Contains(t, err.Error(), "mem_3")
	assert.Contains(t, err.Error(), "mem_4")
	assert.Contains(t, err.Error(), "mem_5")
	assert.Equal(t, 0, gw.payoutCount())

	// Nothing was reserved, so settling is still possible once the round fills.
	_, err = ds.GetPayoutEntry(context.Background(), pool.PoolID, 2)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))

	gw.chargeFn = nil
	yesterday := time.Now().Add(-time.Hour)
	for _, c := range ds.collections {
		if c.Status == model.CollectionFailed {
			c.NextRetryAt = &yesterday
		}
	}
	_, err = j.ProcessDueCollections(context.Background())
	require.NoError(t, err)

	outcome, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(400).Equal(outcome.Entry.Amount))
}

func TestExecutePayout_NoContributions(t *testing.T) {
	j, ds, _ := newTestJunta(t)
	pool := seedPool(t, ds, 5)

	_, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	assert.True(t, apierror.HasCode(err, apierror.ErrInsufficientData))

	// A rejected reservation leaves no payout entry behind, so a later call
	// can still succeed.
	_, err = ds.GetPayoutEntry(context.Background(), pool.PoolID, 2)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestExecutePayout_AdminOnly(t *testing.T) {
	j, ds, _ := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	_, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_3")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotAuthorized))
}

func TestExecutePayout_GatewayFailureMarksEntryFailed(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	gw.payoutFn = func(req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
		return nil, errors.New("provider unavailable")
	}

	_, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	assert.True(t, apierror.HasCode(err, apierror.ErrGateway))

	entry, err := ds.GetPayoutEntry(context.Background(), pool.PoolID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.EntryFailed, entry.Status)
	assert.Equal(t, "provider unavailable", entry.FailureReason)

	// A failed send never happened from the round's point of view: once the
	// provider is back, the payout goes through.
	gw.payoutFn = nil
	outcome, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, outcome.Entry.Status)
	assert.Equal(t, 2, gw.payoutCount())

	latest, err := ds.GetPayoutEntry(context.Background(), pool.PoolID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, latest.Status)
}

func TestExecutePayout_RecipientAlreadyPaidRejected(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	// The recipient flag survives even if the payout entry is lost, so it is
	// an independent backstop against a second send.
	ds.pools[pool.PoolID].Members[1].PayoutReceived = true

	_, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	assert.True(t, apierror.HasCode(err, apierror.ErrAlreadyProcessed))
	assert.Equal(t, 0, gw.payoutCount())
}

func TestExecutePayout_PoolBalanceTracksMoney(t *testing.T) {
	j, ds, _ := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	fundRound(t, j, ds, pool, 2)

	funded, err := ds.GetPool(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(400).Equal(funded.Balance), "booked contributions accumulate on the pool")

	_, err = j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)

	drained, err := ds.GetPool(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.True(t, drained.Balance.IsZero(), "the finalized payout drains what was collected")
}

func TestRoundPayoutState_FollowsTheRoundLifecycle(t *testing.T) {
	j, ds, _ := newTestJunta(t)
	pool := seedPool(t, ds, 5)

	state, err := j.RoundPayoutState(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundPendingCollection, state)

	fundRound(t, j, ds, pool, 2)
	state, err = j.RoundPayoutState(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundReadyToPay, state)

	_, err = j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)

	// The round advanced, so the pool is back to collecting for round 3.
	state, err = j.RoundPayoutState(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundPendingCollection, state)
}

func TestRoundPayoutState_CompletedPool(t *testing.T) {
	j, ds, _ := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	require.NoError(t, ds.UpdatePoolRound(context.Background(), pool.PoolID, 5, pool.NextDueDate, model.PoolActive))
	fundRound(t, j, ds, pool, 5)

	_, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)

	state, err := j.RoundPayoutState(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundCompleted, state)
}

func TestExecutePayout_FinalRoundCompletesPool(t *testing.T) {
	j, ds, gw := newTestJunta(t)
	pool := seedPool(t, ds, 5)
	require.NoError(t, ds.UpdatePoolRound(context.Background(), pool.PoolID, 5, pool.NextDueDate, model.PoolActive))
	fundRound(t, j, ds, pool, 5)

	outcome, err := j.ExecutePayout(context.Background(), pool.PoolID, "mem_1")
	require.NoError(t, err)
	assert.Equal(t, model.PoolCompleted, outcome.PoolStatus)
	assert.Equal(t, "acct_5", gw.payouts[0].RecipientRef)

	updated, err := ds.GetPool(context.Background(), pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, model.PoolCompleted, updated.Status)
}
