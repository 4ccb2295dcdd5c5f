package utils

import (
	"time"

	"github.com/sirupsen/logrus"

	"outreach/models"
)

// SelectAccount walks the campaign's account ring round-robin from the stored
// cursor and returns the first active account still under its daily limit,
// together with its ring index.
//
// The caller persists NextAccountCursor(index, n) after a selection. On
// ErrAllAccountsSaturated the returned index is the start position, so the
// same helper moves the cursor on by one.
func SelectAccount(campaign *models.Campaign, accounts []models.EmailAccount, now time.Time) (*models.EmailAccount, int, error) {
	ring := campaign.EmailAccountIDs
	n := len(ring)
	if n == 0 {
		return nil, 0, ErrNoAccounts
	}

	byID := make(map[uint]*models.EmailAccount, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}

	start := models.ClampCursor(campaign.NextEmailAccountToUse, n)
	for offset := 0; offset < n; offset++ {
		idx := (start + offset) % n
		account, ok := byID[uint(ring[idx])]
		if !ok {
			logrus.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"account_id":  ring[idx],
			}).Warn("Campaign references a missing email account")
			continue
		}
		if !account.IsActive {
			continue
		}
		if account.SendsToday(now) >= account.Limit() {
			continue
		}
		return account, idx, nil
	}

	return nil, start, ErrAllAccountsSaturated
}

// NextAccountCursor is the cursor value to store after using ring index idx.
func NextAccountCursor(idx, n int) int {
	if n <= 0 {
		return 0
	}
	return (idx + 1) % n
}
