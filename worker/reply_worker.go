package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/repository"
	"outreach/utils"
)

// ReplyCycleReport summarizes one pass over the mailboxes.
type ReplyCycleReport struct {
	Accounts   int `json:"accounts"`
	Polled     int `json:"polled"`
	Fetched    int `json:"fetched"`
	Stored     int `json:"stored"`
	Replies    int `json:"replies"`
	Duplicates int `json:"duplicates"`
	Ignored    int `json:"ignored"`
	Errors     int `json:"errors"`
}

// ReplyWorker polls every mailbox-enabled account and correlates inbound
// mail with sent campaign emails.
type ReplyWorker struct {
	repo       repository.Repository
	fetcher    utils.MailFetcher
	correlator *utils.ReplyCorrelator
	events     EventSink
	fetchLimit int
	logger     *logrus.Entry
	now        func() time.Time

	mu         sync.Mutex
	lastPolled map[uint]time.Time
}

func NewReplyWorker(repo repository.Repository, fetcher utils.MailFetcher, correlator *utils.ReplyCorrelator, events EventSink, fetchLimit int, logger *logrus.Entry) *ReplyWorker {
	if logger == nil {
		logger = logrus.WithField("component", "reply_worker")
	}
	if events == nil {
		events = NopEventSink{}
	}
	if fetchLimit <= 0 {
		fetchLimit = utils.DefaultFetchLimit
	}
	return &ReplyWorker{
		repo:       repo,
		fetcher:    fetcher,
		correlator: correlator,
		events:     events,
		fetchLimit: fetchLimit,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		lastPolled: map[uint]time.Time{},
	}
}

// Start polls on a fixed tick. Each account is polled no more often than its
// owner's email check delay.
func (w *ReplyWorker) Start(ctx context.Context) {
	tick := time.Duration(models.DefaultEmailCheckDelay) * time.Second / 3
	w.logger.WithField("tick", tick.String()).Info("Reply worker started")

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunCycle(ctx, false)
		case <-ctx.Done():
			w.logger.Info("Reply worker shutting down...")
			return
		}
	}
}

// RunCycle polls the accounts that are due. force polls every account.
func (w *ReplyWorker) RunCycle(ctx context.Context, force bool) ReplyCycleReport {
	var report ReplyCycleReport

	accounts, err := w.repo.MailboxAccounts(ctx)
	if err != nil {
		utils.CaptureError("fetch_mailbox_accounts", err, nil)
		report.Errors++
		return report
	}
	report.Accounts = len(accounts)

	users := map[uint]*models.User{}
	for i := range accounts {
		if ctx.Err() != nil {
			break
		}
		account := &accounts[i]

		user, ok := users[account.UserID]
		if !ok {
			user, err = w.repo.GetUser(ctx, account.UserID)
			if err != nil {
				w.logger.WithError(err).WithField("account_id", account.ID).Warn("Mailbox owner not found")
				report.Errors++
				continue
			}
			users[account.UserID] = user
		}

		if !force && !w.due(account.ID, user) {
			continue
		}
		w.pollAccount(ctx, account, user, &report)
	}

	if report.Polled > 0 {
		w.logger.WithFields(logrus.Fields{
			"polled":     report.Polled,
			"fetched":    report.Fetched,
			"replies":    report.Replies,
			"duplicates": report.Duplicates,
			"errors":     report.Errors,
		}).Info("Reply cycle finished")
	}
	return report
}

func (w *ReplyWorker) due(accountID uint, user *models.User) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.lastPolled[accountID]
	if !ok {
		return true
	}
	return !w.now().Before(last.Add(time.Duration(user.CheckDelaySeconds()) * time.Second))
}

func (w *ReplyWorker) pollAccount(ctx context.Context, account *models.EmailAccount, user *models.User, report *ReplyCycleReport) {
	log := w.logger.WithFields(logrus.Fields{"account_id": account.ID, "email": account.Email})

	w.mu.Lock()
	w.lastPolled[account.ID] = w.now()
	w.mu.Unlock()
	report.Polled++

	messages, err := w.fetcher.Fetch(ctx, account, w.fetchLimit)
	if err != nil {
		report.Errors++
		log.WithError(err).Warn("Mailbox fetch failed")
		if rerr := w.repo.RecordAccountError(ctx, account.ID, err.Error()); rerr != nil {
			log.WithError(rerr).Warn("Failed to record account error")
		}
		return
	}
	report.Fetched += len(messages)

	for _, msg := range messages {
		res, err := w.correlator.Correlate(ctx, account, user, msg)
		if err != nil {
			report.Errors++
			utils.CaptureError("correlate_reply", err, map[string]interface{}{
				"account_id": account.ID,
				"message_id": msg.MessageID,
			})
			continue
		}
		switch {
		case res.Duplicate:
			report.Duplicates++
		case res.Ignored:
			report.Ignored++
		default:
			report.Stored++
		}
		if res.SentEmail != nil {
			report.Replies++
			w.events.Publish(Event{
				Type:       EventReply,
				UserID:     user.ID,
				CampaignID: res.SentEmail.CampaignID,
				ContactID:  res.SentEmail.ContactID,
				AccountID:  account.ID,
				Step:       res.SentEmail.SequenceStep,
				Message:    "reply from " + utils.CleanEmailAddress(msg.From),
				At:         w.now(),
			})
		}
	}
}
