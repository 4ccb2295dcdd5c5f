package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"outreach/models"
	"outreach/repository"
	"outreach/utils"
)

// Stages of the per-campaign send pipeline.
const (
	StageFetchCampaign  = "fetch_campaign"
	StageCheckSchedule  = "check_schedule"
	StageSelectAccount  = "select_account"
	StageSelectContact  = utils.StageSelectContact
	StageClaimContact   = "claim_contact"
	StageResolveContent = utils.StageResolveContent
	StageLogIntent      = "log_intent"
	StageTransportSend  = "transport_send"
	StageCommitOutcome  = "commit_outcome"
)

const dueCandidateWindow = 200

type OutcomeKind string

const (
	OutcomeSent    OutcomeKind = "sent"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the tagged result of one pass through the send pipeline.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Stage      string      `json:"stage"`
	Reason     string      `json:"reason,omitempty"`
	CampaignID uint        `json:"campaign_id"`
	ContactID  uint        `json:"contact_id,omitempty"`
	AccountID  uint        `json:"account_id,omitempty"`
	Step       int         `json:"step"`
	MessageID  string      `json:"message_id,omitempty"`
	UserID     uint        `json:"-"`
}

// CycleReport summarizes one send cycle.
type CycleReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Campaigns  int       `json:"campaigns"`
	Outcomes   []Outcome `json:"outcomes"`
	// Saturated is set when at least one campaign ran out of account capacity
	// and no campaign sent anything.
	Saturated bool   `json:"saturated"`
	Panicked  bool   `json:"panicked"`
	Error     string `json:"error,omitempty"`
}

// Count returns the number of outcomes of kind.
func (r CycleReport) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// ContentRenderer turns a sequence step into final content.
type ContentRenderer interface {
	Resolve(ctx context.Context, in utils.ResolveInput) (utils.Content, error)
}

type SendWorkerConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	CycleBackoff     time.Duration
	SaturatedBackoff time.Duration
	LockTTL          time.Duration
	LeaseTTL         time.Duration
}

func (c *SendWorkerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.CycleBackoff <= 0 {
		c.CycleBackoff = 30 * time.Second
	}
	if c.SaturatedBackoff <= 0 {
		c.SaturatedBackoff = 15 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 10 * time.Minute
	}
}

// Pacer spaces consecutive sends of one campaign.
type Pacer interface {
	Wait(ctx context.Context) error
}

func newRatePacer(interval time.Duration) Pacer {
	return rate.NewLimiter(rate.Every(interval), 1)
}

// SendWorker runs the campaign send cycle.
type SendWorker struct {
	repo      repository.Repository
	activity  repository.ActivityLogger
	content   ContentRenderer
	transport utils.EmailTransport
	locker    utils.CampaignLocker
	events    EventSink
	cfg       SendWorkerConfig
	logger    *logrus.Entry
	now       func() time.Time
	newPacer  func(interval time.Duration) Pacer

	cycleMu sync.Mutex
}

func NewSendWorker(
	repo repository.Repository,
	activity repository.ActivityLogger,
	content ContentRenderer,
	transport utils.EmailTransport,
	locker utils.CampaignLocker,
	events EventSink,
	cfg SendWorkerConfig,
	logger *logrus.Entry,
) *SendWorker {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.WithField("component", "send_worker")
	}
	if locker == nil {
		locker = utils.NewLocalCampaignLocker()
	}
	if events == nil {
		events = NopEventSink{}
	}
	return &SendWorker{
		repo:      repo,
		activity:  activity,
		content:   content,
		transport: transport,
		locker:    locker,
		events:    events,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newPacer:  newRatePacer,
	}
}

// Start runs cycles until ctx is cancelled. Cancellation is observed between
// cycles and between sends, never inside a commit.
func (w *SendWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.cfg.PollInterval.String()).Info("Send worker started")

	for {
		report := w.RunCycle(ctx)
		delay := w.nextDelay(report)

		select {
		case <-ctx.Done():
			w.logger.Info("Send worker shutting down...")
			return
		case <-time.After(delay):
		}
	}
}

func (w *SendWorker) nextDelay(report CycleReport) time.Duration {
	switch {
	case report.Panicked || report.Error != "":
		return w.cfg.CycleBackoff
	case report.Saturated:
		return w.cfg.SaturatedBackoff
	default:
		return w.cfg.PollInterval
	}
}

// RunCycle processes every active campaign once. It never returns an error:
// every decision is an Outcome in the report.
func (w *SendWorker) RunCycle(ctx context.Context) (report CycleReport) {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	report.StartedAt = w.now()
	defer func() {
		if r := recover(); r != nil {
			report.Panicked = true
			report.Error = fmt.Sprintf("panic: %v", r)
			utils.CaptureError("send_cycle_panic", errors.New(report.Error), nil)
		}
		report.FinishedAt = w.now()
		w.events.Publish(Event{Type: EventCycleFinished, Message: cycleSummary(report), At: report.FinishedAt})
	}()

	campaigns, err := w.repo.ActiveCampaigns(ctx)
	if err != nil {
		report.Error = err.Error()
		utils.CaptureError("fetch_campaigns", err, nil)
		return report
	}
	report.Campaigns = len(campaigns)

	saturated := false
	for i := range campaigns {
		if ctx.Err() != nil {
			break
		}
		outcomes, campaignSaturated, panicked := w.safeProcess(ctx, &campaigns[i])
		report.Outcomes = append(report.Outcomes, outcomes...)
		saturated = saturated || campaignSaturated
		report.Panicked = report.Panicked || panicked
	}
	report.Saturated = saturated && report.Count(OutcomeSent) == 0

	w.logger.WithFields(logrus.Fields{
		"campaigns": report.Campaigns,
		"sent":      report.Count(OutcomeSent),
		"skipped":   report.Count(OutcomeSkipped),
		"failed":    report.Count(OutcomeFailed),
		"saturated": report.Saturated,
	}).Info("Send cycle finished")
	return report
}

func cycleSummary(r CycleReport) string {
	return fmt.Sprintf("cycle finished: %d sent, %d skipped, %d failed",
		r.Count(OutcomeSent), r.Count(OutcomeSkipped), r.Count(OutcomeFailed))
}

// safeProcess isolates a campaign so a panic only costs that campaign.
func (w *SendWorker) safeProcess(ctx context.Context, campaign *models.Campaign) (outcomes []Outcome, saturated, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing campaign %d: %v", campaign.ID, r)
			utils.CaptureError("campaign_panic", err, map[string]interface{}{"campaign_id": campaign.ID})
			outcomes = append(outcomes, Outcome{Kind: OutcomeFailed, Stage: StageFetchCampaign, Reason: err.Error(), CampaignID: campaign.ID})
			panicked = true
		}
	}()
	outcomes, saturated = w.processCampaign(ctx, campaign)
	return outcomes, saturated, false
}

// campaignRun carries the state of one campaign for the duration of a cycle.
type campaignRun struct {
	w        *SendWorker
	campaign *models.Campaign
	user     *models.User
	log      *logrus.Entry
	excluded map[uint]bool
	outcomes []Outcome
}

func (r *campaignRun) record(o Outcome) {
	o.CampaignID = r.campaign.ID
	o.UserID = r.campaign.UserID
	r.outcomes = append(r.outcomes, o)

	entry := r.log.WithFields(logrus.Fields{
		"stage":      o.Stage,
		"contact_id": o.ContactID,
		"account_id": o.AccountID,
	})
	switch o.Kind {
	case OutcomeSent:
		entry.WithField("step", o.Step).Info("Email sent")
	case OutcomeSkipped:
		entry.WithField("reason", o.Reason).Info("Campaign skipped")
	case OutcomeFailed:
		entry.WithField("reason", o.Reason).Warn("Send failed")
	}

	r.w.events.Publish(Event{
		Type:       string(o.Kind),
		UserID:     r.campaign.UserID,
		CampaignID: o.CampaignID,
		ContactID:  o.ContactID,
		AccountID:  o.AccountID,
		Step:       o.Step,
		Stage:      o.Stage,
		Message:    o.Reason,
		At:         r.w.now(),
	})
}

func (r *campaignRun) skip(stage, reason string) {
	r.record(Outcome{Kind: OutcomeSkipped, Stage: stage, Reason: reason})
}

// windowOpen evaluates the sending window at the current instant and records
// a CHECK_SCHEDULE skip when it is closed.
func (r *campaignRun) windowOpen() bool {
	open, reason := utils.IsWithinSchedule(r.campaign.Schedule, r.w.now(), r.user.Timezone)
	if !open {
		r.skip(StageCheckSchedule, reason)
	}
	return open
}

func (r *campaignRun) activity(level, message string, metadata map[string]interface{}) {
	if r.w.activity == nil {
		return
	}
	metadata["campaign_id"] = r.campaign.ID
	r.w.activity.LogActivity(context.Background(), models.ActivityLog{
		UserID:    r.campaign.UserID,
		Source:    models.LogSourceSend,
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: r.w.now(),
	})
}

func (w *SendWorker) processCampaign(ctx context.Context, campaign *models.Campaign) ([]Outcome, bool) {
	run := &campaignRun{
		w:        w,
		campaign: campaign,
		log:      w.logger.WithField("campaign_id", campaign.ID),
		excluded: map[uint]bool{},
	}

	release, ok, err := w.locker.Acquire(ctx, campaign.ID, w.cfg.LockTTL)
	if err != nil {
		run.record(Outcome{Kind: OutcomeFailed, Stage: StageFetchCampaign, Reason: err.Error()})
		return run.outcomes, false
	}
	if !ok {
		run.skip(StageFetchCampaign, "campaign is being processed by another worker")
		return run.outcomes, false
	}
	defer release()

	user, err := w.repo.GetUser(ctx, campaign.UserID)
	if err != nil {
		run.log.WithError(err).Warn("Campaign owner not found")
		run.skip(StageFetchCampaign, fmt.Sprintf("owner %d not found", campaign.UserID))
		return run.outcomes, false
	}
	run.user = user

	switch {
	case len(campaign.ActiveSequences()) == 0:
		run.skip(StageFetchCampaign, "campaign has no active sequence steps")
		return run.outcomes, false
	case len(campaign.ContactIDs) == 0:
		run.skip(StageFetchCampaign, "campaign has no contacts")
		return run.outcomes, false
	}

	if !run.windowOpen() {
		return run.outcomes, false
	}

	var pacer Pacer
	if d := campaign.Schedule.EmailDelaySeconds; d > 0 {
		pacer = w.newPacer(time.Duration(d) * time.Second)
	}

	sent := 0
	last := stepSent
	for attempt := 0; sent < w.cfg.BatchSize && attempt < 2*w.cfg.BatchSize+len(campaign.ContactIDs); attempt++ {
		if ctx.Err() != nil {
			break
		}
		// Only consecutive sends are paced; retries after a skip go straight on.
		if pacer != nil && last == stepSent {
			if err := pacer.Wait(ctx); err != nil {
				break
			}
		}
		// Pacing and slow sends can carry the batch past the end of the window.
		if attempt > 0 && !run.windowOpen() {
			break
		}

		result, saturated := w.sendOne(ctx, run)
		if saturated {
			return run.outcomes, true
		}
		last = result
		switch result {
		case stepSent:
			sent++
		case stepStop:
			return run.outcomes, false
		}
	}
	return run.outcomes, false
}

type stepResult int

const (
	stepSent stepResult = iota
	stepRetry
	stepStop
)

// sendOne runs SELECT_ACCOUNT through COMMIT_OUTCOME for a single email.
func (w *SendWorker) sendOne(ctx context.Context, run *campaignRun) (stepResult, bool) {
	campaign := run.campaign
	now := w.now()

	accounts, err := w.repo.AccountsByIDs(ctx, campaign.EmailAccountIDs)
	if err != nil {
		run.record(Outcome{Kind: OutcomeFailed, Stage: StageSelectAccount, Reason: err.Error()})
		return stepStop, false
	}
	account, idx, err := utils.SelectAccount(campaign, accounts, now)
	switch {
	case errors.Is(err, utils.ErrAllAccountsSaturated):
		w.advanceAccountCursor(ctx, run, idx)
		run.skip(StageSelectAccount, err.Error())
		return stepStop, true
	case err != nil:
		run.skip(StageSelectAccount, err.Error())
		return stepStop, false
	}
	run.log = run.log.WithField("account_id", account.ID)

	due, err := w.repo.DueContacts(ctx, campaign, now, dueCandidateWindow)
	if err != nil {
		run.record(Outcome{Kind: OutcomeFailed, Stage: StageSelectContact, Reason: err.Error(), AccountID: account.ID})
		return stepStop, false
	}
	candidates := due[:0]
	for _, c := range due {
		if !run.excluded[c.ID] {
			candidates = append(candidates, c)
		}
	}

	lastSend := func(contactID uint, step int) (*models.EmailLog, error) {
		return w.repo.LastSuccessfulSend(ctx, campaign.ID, contactID, step)
	}
	sel, deferrals, err := utils.SelectContactAndStep(campaign, candidates, lastSend, now)
	parked := w.applyDeferrals(ctx, run, deferrals)
	if err != nil {
		run.skip(StageSelectContact, skipReason(err))
		if parked > 0 && len(due) >= dueCandidateWindow {
			// Rejected contacts left the head of the queue; look again.
			return stepRetry, false
		}
		return stepStop, false
	}
	contact := sel.Contact
	run.excluded[contact.ID] = true
	base := Outcome{ContactID: contact.ID, AccountID: account.ID, Step: sel.StepIndex}

	claimed, err := w.repo.ClaimContact(ctx, contact.ID, contact.TimesContacted, now, now.Add(w.cfg.LeaseTTL))
	if err != nil {
		run.record(withResult(base, OutcomeFailed, StageClaimContact, err.Error()))
		return stepRetry, false
	}
	if !claimed {
		run.record(withResult(base, OutcomeSkipped, StageClaimContact, "contact claimed by another worker"))
		return stepRetry, false
	}

	content, err := w.content.Resolve(ctx, utils.ResolveInput{
		CampaignID: campaign.ID,
		Step:       sel.Step,
		Contact:    contact,
		Account:    account,
		User:       run.user,
	})
	if err != nil {
		w.release(ctx, run, contact.ID)
		kind := OutcomeFailed
		if utils.IsSkip(err) {
			kind = OutcomeSkipped
		}
		run.record(withResult(base, kind, StageResolveContent, skipReason(err)))
		return stepRetry, false
	}

	if !run.windowOpen() {
		w.release(ctx, run, contact.ID)
		return stepStop, false
	}

	// LOG_INTENT: the log exists before the transport is called.
	sentAt := w.now()
	emailLog := &models.EmailLog{
		UserID:         campaign.UserID,
		CampaignID:     campaign.ID,
		ContactID:      contact.ID,
		EmailAccountID: account.ID,
		SequenceStep:   sel.StepIndex,
		MessageID:      utils.NewMessageID(account.Email),
		From:           account.Email,
		To:             contact.Email,
		Subject:        content.Subject,
		Content:        content.Body,
		Status:         models.EmailLogStatusSent,
		SentAt:         sentAt,
	}
	if err := w.repo.CreateEmailLog(ctx, emailLog); err != nil {
		w.release(ctx, run, contact.ID)
		utils.CaptureError("log_intent", err, map[string]interface{}{"campaign_id": campaign.ID, "contact_id": contact.ID})
		run.record(withResult(base, OutcomeFailed, StageLogIntent, err.Error()))
		return stepStop, false
	}
	base.MessageID = emailLog.MessageID

	res := w.transport.Send(ctx, utils.Message{
		Account:   account,
		To:        contact.Email,
		Subject:   content.Subject,
		Body:      content.Body,
		MessageID: emailLog.MessageID,
	})
	if !res.Success {
		w.commitFailure(ctx, run, emailLog, account, idx, res.Error)
		run.record(withResult(base, OutcomeFailed, StageTransportSend, res.Error))
		return stepRetry, false
	}

	commit := repository.SendCommit{
		LogID:                  emailLog.ID,
		CampaignID:             campaign.ID,
		ContactID:              contact.ID,
		AccountID:              account.ID,
		ExpectedTimesContacted: contact.TimesContacted,
		SentAt:                 sentAt,
		NextSchedule:           utils.NextSchedule(campaign, sel.StepIndex, sentAt),
		HasUpcomingSequence:    campaign.HasUpcomingSequence(contact.TimesContacted + 1),
		ProviderMessageID:      res.ProviderMessageID,
		AccountCursor: repository.CursorMove{
			From: campaign.NextEmailAccountToUse,
			To:   utils.NextAccountCursor(idx, len(campaign.EmailAccountIDs)),
		},
		ContactCursor: repository.CursorMove{
			From: campaign.NextContactToUse,
			To:   utils.NextContactCursor(campaign, sel.RingIndex),
		},
	}
	if err := w.repo.CommitSend(context.WithoutCancel(ctx), commit); err != nil {
		// The message left already; the log stays "sent" so the send is not repeated blindly.
		utils.CaptureError("commit_send", err, map[string]interface{}{
			"campaign_id": campaign.ID,
			"contact_id":  contact.ID,
			"log_id":      emailLog.ID,
		})
		run.record(withResult(base, OutcomeFailed, StageCommitOutcome, err.Error()))
		return stepStop, false
	}
	campaign.NextEmailAccountToUse = commit.AccountCursor.To
	campaign.NextContactToUse = commit.ContactCursor.To

	run.record(withResult(base, OutcomeSent, StageCommitOutcome, ""))
	run.activity(models.LogLevelSuccess, fmt.Sprintf("Email sent to %s (step %d)", contact.Email, sel.StepIndex+1), map[string]interface{}{
		"contact_id": contact.ID,
		"account_id": account.ID,
		"message_id": emailLog.MessageID,
		"subject":    content.Subject,
	})
	return stepSent, false
}

// commitFailure records a failed transport call. The contact is left as it
// was so the step is retried on a later cycle; the account ring still moves.
func (w *SendWorker) commitFailure(ctx context.Context, run *campaignRun, emailLog *models.EmailLog, account *models.EmailAccount, idx int, reason string) {
	ctx = context.WithoutCancel(ctx)
	if err := w.repo.MarkEmailLogFailed(ctx, emailLog.ID, w.now(), reason); err != nil {
		run.log.WithError(err).Error("Failed to mark email log failed")
	}
	w.release(ctx, run, emailLog.ContactID)
	w.advanceAccountCursor(ctx, run, idx)
	if err := w.repo.RecordAccountError(ctx, account.ID, reason); err != nil {
		run.log.WithError(err).Warn("Failed to record account error")
	}
	run.activity(models.LogLevelError, fmt.Sprintf("Failed to send to %s: %s", emailLog.To, reason), map[string]interface{}{
		"contact_id": emailLog.ContactID,
		"account_id": account.ID,
		"message_id": emailLog.MessageID,
	})
}

func (w *SendWorker) advanceAccountCursor(ctx context.Context, run *campaignRun, idx int) {
	campaign := run.campaign
	move := repository.CursorMove{
		From: campaign.NextEmailAccountToUse,
		To:   utils.NextAccountCursor(idx, len(campaign.EmailAccountIDs)),
	}
	if err := w.repo.AdvanceAccountCursor(ctx, campaign.ID, move); err != nil {
		run.log.WithError(err).Warn("Failed to advance account cursor")
		return
	}
	campaign.NextEmailAccountToUse = move.To
}

// applyDeferrals moves contacts the selector can never pick right now out of
// the head of the due queue. It returns how many were moved.
func (w *SendWorker) applyDeferrals(ctx context.Context, run *campaignRun, deferrals []utils.Deferral) int {
	moved := 0
	for _, d := range deferrals {
		var err error
		if d.Invalid {
			err = w.repo.MarkContactInvalid(ctx, d.ContactID)
		} else {
			err = w.repo.DeferContact(ctx, d.ContactID, d.TimesContacted, d.Until)
		}
		if err != nil {
			run.log.WithError(err).WithField("contact_id", d.ContactID).Warn("Failed to park contact")
			continue
		}
		run.excluded[d.ContactID] = true
		moved++
	}
	if moved > 0 {
		run.log.WithField("contacts", moved).Debug("Parked contacts that cannot be sent to yet")
	}
	return moved
}

func (w *SendWorker) release(ctx context.Context, run *campaignRun, contactID uint) {
	if err := w.repo.ReleaseContact(context.WithoutCancel(ctx), contactID); err != nil {
		run.log.WithError(err).WithField("contact_id", contactID).Warn("Failed to release contact lease")
	}
}

func withResult(base Outcome, kind OutcomeKind, stage, reason string) Outcome {
	base.Kind = kind
	base.Stage = stage
	base.Reason = reason
	return base
}

func skipReason(err error) string {
	var skip *utils.SkipError
	if errors.As(err, &skip) {
		return skip.Reason
	}
	return err.Error()
}

// RescheduleCampaign recomputes the schedule of every contact in a campaign
// after its sequence changed. It returns the number of contacts updated.
func (w *SendWorker) RescheduleCampaign(ctx context.Context, campaignID uint) (int, error) {
	campaign, err := w.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	release, ok, err := w.locker.Acquire(ctx, campaign.ID, w.cfg.LockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("campaign %d is being processed, try again later", campaign.ID)
	}
	defer release()

	contacts, err := w.repo.CampaignContacts(ctx, campaign)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, s := range utils.RescheduleContacts(campaign, contacts, w.now()) {
		if err := w.repo.UpdateContactSchedule(ctx, s.ContactID, s.Schedule, s.HasUpcomingSequence); err != nil {
			return updated, fmt.Errorf("update contact %d: %w", s.ContactID, err)
		}
		updated++
	}

	w.logger.WithFields(logrus.Fields{"campaign_id": campaign.ID, "contacts": updated}).Info("Campaign contacts rescheduled")
	return updated, nil
}
