package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testPool(members int) *Pool {
	p := &Pool{
		PoolID:             GenerateUUIDWithSuffix("pool"),
		Name:               "lunch club",
		ContributionAmount: decimal.NewFromInt(100),
		Currency:           "USD",
		Frequency:          FrequencyMonthly,
		CurrentRound:       1,
		TotalRounds:        members,
		Status:             PoolActive,
	}
	for i := 1; i <= members; i++ {
		role := RoleMember
		if i == 1 {
			role = RoleAdmin
		}
		p.Members = append(p.Members, PoolMember{
			MemberID: GenerateUUIDWithSuffix("mem"),
			PoolID:   p.PoolID,
			Position: i,
			Role:     role,
		})
	}
	return p
}

func TestRecipientForRound(t *testing.T) {
	p := testPool(5)
	r := p.RecipientForRound(3)
	assert.NotNil(t, r)
	assert.Equal(t, 3, r.Position)
	assert.Nil(t, p.RecipientForRound(9))
}

func TestPayoutCap(t *testing.T) {
	p := testPool(5)
	assert.True(t, decimal.NewFromInt(400).Equal(p.PayoutCap()))

	empty := &Pool{ContributionAmount: decimal.NewFromInt(100)}
	assert.True(t, decimal.Zero.Equal(empty.PayoutCap()))
}

func TestNextDueDateFrom(t *testing.T) {
	from := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	p := testPool(3)
	p.Frequency = FrequencyWeekly
	assert.Equal(t, from.AddDate(0, 0, 7), p.NextDueDateFrom(from))

	p.Frequency = FrequencyBiweekly
	assert.Equal(t, from.AddDate(0, 0, 14), p.NextDueDateFrom(from))

	p.Frequency = FrequencyMonthly
	assert.Equal(t, from.AddDate(0, 1, 0), p.NextDueDateFrom(from))
}

func TestMemberLookupAndAdmin(t *testing.T) {
	p := testPool(4)
	admin := p.Members[0]
	assert.True(t, p.IsAdmin(admin.MemberID))
	assert.False(t, p.IsAdmin(p.Members[1].MemberID))
	assert.False(t, p.IsAdmin("mem_unknown"))
	assert.Nil(t, p.MemberByID("mem_unknown"))
}

func TestOnFinalRound(t *testing.T) {
	p := testPool(3)
	assert.False(t, p.OnFinalRound())
	p.CurrentRound = 3
	assert.True(t, p.OnFinalRound())
}

func TestPayoutReservationEntry(t *testing.T) {
	p := testPool(4)
	now := time.Now()
	recipient := p.RecipientForRound(2)
	entry := NewPayoutReservation(p, 2, recipient.MemberID, decimal.NewFromInt(300), now)

	assert.Equal(t, EntryPayout, entry.Type)
	assert.Equal(t, EntryPending, entry.Status)
	assert.Equal(t, p.PoolID, entry.PoolID)
	assert.Equal(t, recipient.MemberID, entry.MemberID)
	assert.True(t, decimal.NewFromInt(300).Equal(entry.Amount))
	assert.Nil(t, entry.SettledAt)
}

func TestContributionEntryFromCollection(t *testing.T) {
	c := NewCollection("pool_1", "mem_1", 2, decimal.NewFromInt(100), "USD", time.Now(), 48, 3)
	now := time.Now()
	entry := NewContributionEntry(c, "ch_abc", SourceAuto, now)

	assert.Equal(t, EntryContribution, entry.Type)
	assert.Equal(t, EntryCompleted, entry.Status)
	assert.Equal(t, "ch_abc", entry.GatewayRef)
	assert.Equal(t, c.Round, entry.Round)
	assert.NotNil(t, entry.SettledAt)
}
