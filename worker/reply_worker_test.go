package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/models"
	"outreach/repository"
	"outreach/utils"
)

type fakeFetcher struct {
	messages map[uint][]utils.InboundMessage
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, account *models.EmailAccount, _ int) ([]utils.InboundMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.messages[account.ID], nil
}

func TestReplyWorkerCorrelatesAndDedups(t *testing.T) {
	repo := repository.NewMemoryRepository()
	user := repo.AddUser(&models.User{Email: "owner@acme.io", EmailCheckDelay: 60})
	account := repo.AddAccount(&models.EmailAccount{UserID: user.ID, Email: "sales@acme.io", IsActive: true, IMAPHost: "imap.acme.io"})
	campaign := repo.AddCampaign(&models.Campaign{UserID: user.ID, Name: "Q2", IsActive: true})
	contact := repo.AddContact(&models.Contact{UserID: user.ID, Email: "lead@example.com", Status: models.ContactStatusActive})
	require.NoError(t, repo.CreateEmailLog(context.Background(), &models.EmailLog{
		UserID:         user.ID,
		CampaignID:     campaign.ID,
		ContactID:      contact.ID,
		EmailAccountID: account.ID,
		MessageID:      "m-1@acme.io",
		To:             contact.Email,
		Subject:        "Intro",
		Status:         models.EmailLogStatusSent,
		SentAt:         time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC),
	}))

	fetcher := &fakeFetcher{messages: map[uint][]utils.InboundMessage{
		account.ID: {{
			From:       "lead@example.com",
			Subject:    "Re: Intro",
			MessageID:  "r-1@example.com",
			InReplyTo:  "m-1@acme.io",
			ReceivedAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		}},
	}}
	sink := &recordingSink{}
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	w := NewReplyWorker(repo, fetcher, utils.NewReplyCorrelator(repo, repo, nil), sink, 0, nil)
	w.now = func() time.Time { return now }

	report := w.RunCycle(context.Background(), false)
	assert.Equal(t, 1, report.Polled)
	assert.Equal(t, 1, report.Replies)
	assert.Equal(t, 1, report.Stored)
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventReply, sink.events[0].Type)
	assert.Equal(t, campaign.ID, sink.events[0].CampaignID)

	// Not due yet: the owner's check delay has not elapsed.
	now = now.Add(30 * time.Second)
	report = w.RunCycle(context.Background(), false)
	assert.Equal(t, 0, report.Polled)
	assert.Equal(t, 1, fetcher.calls)

	report = w.RunCycle(context.Background(), true)
	assert.Equal(t, 1, report.Duplicates)
	assert.Len(t, repo.ReceivedEmails(), 1)
	assert.Equal(t, 1, repo.Campaign(campaign.ID).StatsReplied)
}

func TestReplyWorkerRecordsFetchErrors(t *testing.T) {
	repo := repository.NewMemoryRepository()
	user := repo.AddUser(&models.User{Email: "owner@acme.io"})
	account := repo.AddAccount(&models.EmailAccount{UserID: user.ID, Email: "sales@acme.io", IsActive: true, IMAPHost: "imap.acme.io"})
	repo.AddAccount(&models.EmailAccount{UserID: user.ID, Email: "smtp-only@acme.io", IsActive: true})

	fetcher := &fakeFetcher{err: errors.New("login failed")}
	w := NewReplyWorker(repo, fetcher, utils.NewReplyCorrelator(repo, repo, nil), nil, 10, nil)

	report := w.RunCycle(context.Background(), true)
	assert.Equal(t, 1, report.Accounts)
	assert.Equal(t, 1, report.Errors)
	stored := repo.Account(account.ID)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "login failed", *stored.LastError)
}

func TestDailyResetWorker(t *testing.T) {
	repo := repository.NewMemoryRepository()
	yesterday := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	today := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	stale := repo.AddAccount(&models.EmailAccount{Email: "a@acme.io", SentToday: 40, LastResetDate: &yesterday})
	fresh := repo.AddAccount(&models.EmailAccount{Email: "b@acme.io", SentToday: 3, LastResetDate: &today})

	w := NewDailyResetWorker(repo, nil)
	w.now = func() time.Time { return today.Add(90 * time.Minute) }

	assert.Equal(t, int64(1), w.Reset(context.Background()))
	assert.Equal(t, 0, repo.Account(stale.ID).SentToday)
	assert.Equal(t, 3, repo.Account(fresh.ID).SentToday)
	assert.Equal(t, 22*time.Hour+30*time.Minute+time.Second, w.untilMidnight())
}
