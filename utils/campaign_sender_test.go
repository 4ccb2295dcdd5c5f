package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/models"
)

func account(id uint, limit, sentToday int, resetAt *time.Time) models.EmailAccount {
	a := models.EmailAccount{
		Email:         "sender@acme.io",
		IsActive:      true,
		DailyLimit:    limit,
		SentToday:     sentToday,
		LastResetDate: resetAt,
	}
	a.ID = id
	return a
}

func TestSelectAccount(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	today := models.StartOfUTCDay(now)
	yesterday := today.Add(-24 * time.Hour)

	t.Run("empty ring", func(t *testing.T) {
		_, _, err := SelectAccount(&models.Campaign{}, nil, now)
		assert.True(t, errors.Is(err, ErrNoAccounts))
	})

	t.Run("starts at cursor", func(t *testing.T) {
		c := &models.Campaign{EmailAccountIDs: pq.Int64Array{1, 2, 3}, NextEmailAccountToUse: 1}
		accounts := []models.EmailAccount{account(1, 5, 0, nil), account(2, 5, 0, nil), account(3, 5, 0, nil)}

		got, idx, err := SelectAccount(c, accounts, now)
		require.NoError(t, err)
		assert.Equal(t, uint(2), got.ID)
		assert.Equal(t, 1, idx)
		assert.Equal(t, 2, NextAccountCursor(idx, 3))
	})

	t.Run("stale cursor self-heals", func(t *testing.T) {
		c := &models.Campaign{EmailAccountIDs: pq.Int64Array{1, 2}, NextEmailAccountToUse: 7}
		accounts := []models.EmailAccount{account(1, 5, 0, nil), account(2, 5, 0, nil)}

		got, idx, err := SelectAccount(c, accounts, now)
		require.NoError(t, err)
		assert.Equal(t, uint(1), got.ID)
		assert.Equal(t, 0, idx)
	})

	t.Run("skips capped inactive and missing accounts with wraparound", func(t *testing.T) {
		inactive := account(2, 5, 0, nil)
		inactive.IsActive = false
		c := &models.Campaign{EmailAccountIDs: pq.Int64Array{1, 2, 99, 4}, NextEmailAccountToUse: 1}
		accounts := []models.EmailAccount{account(1, 5, 0, nil), inactive, account(4, 2, 2, &today)}

		got, idx, err := SelectAccount(c, accounts, now)
		require.NoError(t, err)
		assert.Equal(t, uint(1), got.ID)
		assert.Equal(t, 0, idx)
		assert.Equal(t, 1, NextAccountCursor(idx, 4))
	})

	t.Run("counter from an earlier day does not count", func(t *testing.T) {
		c := &models.Campaign{EmailAccountIDs: pq.Int64Array{1}}
		accounts := []models.EmailAccount{account(1, 1, 1, &yesterday)}

		got, _, err := SelectAccount(c, accounts, now)
		require.NoError(t, err)
		assert.Equal(t, uint(1), got.ID)
	})

	t.Run("default limit applies when unset", func(t *testing.T) {
		c := &models.Campaign{EmailAccountIDs: pq.Int64Array{1}}
		accounts := []models.EmailAccount{account(1, 0, models.DefaultDailyLimit, &today)}

		_, _, err := SelectAccount(c, accounts, now)
		assert.True(t, errors.Is(err, ErrAllAccountsSaturated))
	})

	t.Run("all saturated returns start index", func(t *testing.T) {
		c := &models.Campaign{EmailAccountIDs: pq.Int64Array{1, 2}, NextEmailAccountToUse: 1}
		accounts := []models.EmailAccount{account(1, 1, 1, &today), account(2, 1, 1, &today)}

		got, idx, err := SelectAccount(c, accounts, now)
		assert.Nil(t, got)
		assert.True(t, errors.Is(err, ErrAllAccountsSaturated))
		assert.Equal(t, 1, idx)
		assert.Equal(t, 0, NextAccountCursor(idx, 2))
	})
}

func TestSelectAccountRoundRobinFairness(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	c := &models.Campaign{EmailAccountIDs: pq.Int64Array{1, 2, 3}}
	accounts := []models.EmailAccount{account(1, 100, 0, nil), account(2, 100, 0, nil), account(3, 100, 0, nil)}

	const selections = 10
	picks := map[uint]int{}
	for i := 0; i < selections; i++ {
		got, idx, err := SelectAccount(c, accounts, now)
		require.NoError(t, err)
		picks[got.ID]++
		c.NextEmailAccountToUse = NextAccountCursor(idx, len(c.EmailAccountIDs))
	}

	for _, id := range []uint{1, 2, 3} {
		assert.GreaterOrEqual(t, picks[id], selections/3, "account %d", id)
	}
}
