package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"outreach/models"
)

// MemoryRepository is a mutex-guarded in-process Repository. Conditional
// updates behave like their SQL counterparts so worker logic can be exercised
// without a database.
type MemoryRepository struct {
	mu sync.Mutex

	nextID          uint
	users           map[uint]*models.User
	campaigns       map[uint]*models.Campaign
	accounts        map[uint]*models.EmailAccount
	contacts        map[uint]*models.Contact
	emailLogs       []*models.EmailLog
	receivedEmails  []*models.ReceivedEmail
	personalization []*models.PersonalizationLog
	activity        []models.ActivityLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     map[uint]*models.User{},
		campaigns: map[uint]*models.Campaign{},
		accounts:  map[uint]*models.EmailAccount{},
		contacts:  map[uint]*models.Contact{},
	}
}

func (m *MemoryRepository) id() uint {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) AddUser(u *models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.users[u.ID] = u
	return u
}

func (m *MemoryRepository) AddCampaign(c *models.Campaign) *models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.campaigns[c.ID] = c
	return c
}

func (m *MemoryRepository) AddAccount(a *models.EmailAccount) *models.EmailAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	m.accounts[a.ID] = a
	return a
}

func (m *MemoryRepository) AddContact(c *models.Contact) *models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.contacts[c.ID] = c
	return c
}

// Campaign returns a copy of the stored campaign.
func (m *MemoryRepository) Campaign(id uint) models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *MemoryRepository) Account(id uint) models.EmailAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *MemoryRepository) Contact(id uint) models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.contacts[id]
}

func (m *MemoryRepository) EmailLogs() []models.EmailLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EmailLog, 0, len(m.emailLogs))
	for _, l := range m.emailLogs {
		out = append(out, *l)
	}
	return out
}

func (m *MemoryRepository) ReceivedEmails() []models.ReceivedEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ReceivedEmail, 0, len(m.receivedEmails))
	for _, e := range m.receivedEmails {
		out = append(out, *e)
	}
	return out
}

func (m *MemoryRepository) PersonalizationLogs() []models.PersonalizationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PersonalizationLog, 0, len(m.personalization))
	for _, l := range m.personalization {
		out = append(out, *l)
	}
	return out
}

func (m *MemoryRepository) Activity() []models.ActivityLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ActivityLog(nil), m.activity...)
}

func (m *MemoryRepository) GetUser(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryRepository) ActiveCampaigns(_ context.Context) ([]models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Campaign
	for _, c := range m.campaigns {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetCampaign(_ context.Context, id uint) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) AdvanceAccountCursor(_ context.Context, campaignID uint, move CursorMove) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[campaignID]; ok && c.NextEmailAccountToUse == move.From {
		c.NextEmailAccountToUse = move.To
	}
	return nil
}

func (m *MemoryRepository) IncrementCampaignReplies(_ context.Context, campaignID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[campaignID]; ok {
		c.StatsReplied++
	}
	return nil
}

func (m *MemoryRepository) AccountsByIDs(_ context.Context, ids []int64) ([]models.EmailAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EmailAccount
	for _, id := range ids {
		if a, ok := m.accounts[uint(id)]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *MemoryRepository) MailboxAccounts(_ context.Context) ([]models.EmailAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EmailAccount
	for _, a := range m.accounts {
		if a.IsActive && a.HasIMAP() {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ResetDailyCounters(_ context.Context, dayStart time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.LastResetDate == nil || a.LastResetDate.Before(dayStart) {
			a.SentToday = 0
			d := dayStart
			a.LastResetDate = &d
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) RecordAccountError(_ context.Context, accountID uint, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[accountID]; ok {
		msg := message
		a.LastError = &msg
	}
	return nil
}

func (m *MemoryRepository) DueContacts(_ context.Context, campaign *models.Campaign, now time.Time, limit int) ([]models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := len(campaign.ActiveSequences())
	var out []models.Contact
	for _, id := range campaign.ContactIDs {
		c, ok := m.contacts[uint(id)]
		if !ok || !c.CanReceive() || !c.IsDue(now) || c.TimesContacted >= steps {
			continue
		}
		if c.ClaimedUntil != nil && !c.ClaimedUntil.Before(now) {
			continue
		}
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Schedule, out[j].Schedule
		switch {
		case si == nil && sj == nil:
			return out[i].ID < out[j].ID
		case si == nil:
			return true
		case sj == nil:
			return false
		case !si.Equal(*sj):
			return si.Before(*sj)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) CampaignContacts(_ context.Context, campaign *models.Campaign) ([]models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Contact
	for _, id := range campaign.ContactIDs {
		if c, ok := m.contacts[uint(id)]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ClaimContact(_ context.Context, contactID uint, timesContacted int, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[contactID]
	if !ok || c.TimesContacted != timesContacted {
		return false, nil
	}
	if c.ClaimedUntil != nil && !c.ClaimedUntil.Before(now) {
		return false, nil
	}
	u := until
	c.ClaimedUntil = &u
	return true, nil
}

func (m *MemoryRepository) ReleaseContact(_ context.Context, contactID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[contactID]; ok {
		c.ClaimedUntil = nil
	}
	return nil
}

func (m *MemoryRepository) UpdateContactSchedule(_ context.Context, contactID uint, schedule *time.Time, hasUpcoming bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[contactID]; ok {
		c.Schedule = schedule
		c.HasUpcomingSequence = hasUpcoming
	}
	return nil
}

func (m *MemoryRepository) DeferContact(_ context.Context, contactID uint, timesContacted int, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[contactID]; ok && c.TimesContacted == timesContacted {
		c.Schedule = &until
	}
	return nil
}

func (m *MemoryRepository) MarkContactInvalid(_ context.Context, contactID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[contactID]; ok {
		c.EmailStatus = models.EmailStatusInvalid
	}
	return nil
}

func (m *MemoryRepository) FindContactByEmail(_ context.Context, userID uint, email string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.UserID == userID && strings.EqualFold(c.Email, email) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) CreateContact(_ context.Context, contact *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contact.ID = m.id()
	cp := *contact
	m.contacts[contact.ID] = &cp
	return nil
}

func (m *MemoryRepository) MarkContactReplied(_ context.Context, contactID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[contactID]; ok && c.EmailStatus != models.EmailStatusBounced {
		c.EmailStatus = models.EmailStatusReplied
	}
	return nil
}

func (m *MemoryRepository) CreateEmailLog(_ context.Context, log *models.EmailLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.emailLogs {
		if l.MessageID == log.MessageID {
			return ErrConflict
		}
	}
	log.ID = m.id()
	cp := *log
	m.emailLogs = append(m.emailLogs, &cp)
	return nil
}

func (m *MemoryRepository) findLog(id uint) *models.EmailLog {
	for _, l := range m.emailLogs {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (m *MemoryRepository) MarkEmailLogFailed(_ context.Context, logID uint, at time.Time, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.findLog(logID); l != nil {
		t := at
		l.Status = models.EmailLogStatusFailed
		l.FailedAt = &t
		l.ErrorMessage = message
	}
	return nil
}

func (m *MemoryRepository) MarkEmailLogReplied(_ context.Context, logID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.findLog(logID); l != nil && l.Status != models.EmailLogStatusFailed {
		t := at
		l.Status = models.EmailLogStatusReplied
		l.RepliedAt = &t
	}
	return nil
}

// latest returns the most recent log matching keep.
func (m *MemoryRepository) latest(keep func(*models.EmailLog) bool) *models.EmailLog {
	var best *models.EmailLog
	for _, l := range m.emailLogs {
		if keep(l) && (best == nil || l.SentAt.After(best.SentAt)) {
			best = l
		}
	}
	return best
}

func (m *MemoryRepository) LastSuccessfulSend(_ context.Context, campaignID, contactID uint, step int) (*models.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.latest(func(l *models.EmailLog) bool {
		return l.CampaignID == campaignID && l.ContactID == contactID && l.SequenceStep == step && l.Succeeded()
	})
	if l == nil {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryRepository) FindSentByMessageID(_ context.Context, userID uint, messageID string) (*models.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.emailLogs {
		if l.UserID == userID && l.MessageID == messageID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) FindSentBySubject(_ context.Context, userID, accountID uint, recipient, subject, cleanSubject string) (*models.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(cleanSubject)
	l := m.latest(func(l *models.EmailLog) bool {
		if l.UserID != userID || l.EmailAccountID != accountID || !strings.EqualFold(l.To, recipient) || !l.Succeeded() {
			return false
		}
		if l.Subject == subject {
			return true
		}
		return needle != "" && strings.Contains(strings.ToLower(l.Subject), needle)
	})
	if l == nil {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryRepository) CommitSend(_ context.Context, c SendCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	contact, ok := m.contacts[c.ContactID]
	if !ok || contact.TimesContacted != c.ExpectedTimesContacted {
		return ErrConflict
	}
	sentAt := c.SentAt
	contact.TimesContacted++
	contact.LastContacted = &sentAt
	contact.LastSent = &sentAt
	contact.EmailStatus = models.EmailStatusSent
	contact.Schedule = c.NextSchedule
	contact.HasUpcomingSequence = c.HasUpcomingSequence
	contact.ClaimedUntil = nil

	if campaign, ok := m.campaigns[c.CampaignID]; ok {
		campaign.StatsSent++
		campaign.EmailSent++
		campaign.LastProcessedAt = &sentAt
		if campaign.NextEmailAccountToUse == c.AccountCursor.From {
			campaign.NextEmailAccountToUse = c.AccountCursor.To
		}
		if campaign.NextContactToUse == c.ContactCursor.From {
			campaign.NextContactToUse = c.ContactCursor.To
		}
	}

	if account, ok := m.accounts[c.AccountID]; ok {
		dayStart := models.StartOfUTCDay(sentAt)
		if account.LastResetDate != nil && !account.LastResetDate.Before(dayStart) {
			account.SentToday++
		} else {
			account.SentToday = 1
		}
		account.LastResetDate = &dayStart
		account.TotalSent++
		account.LastUsed = &sentAt
	}

	if l := m.findLog(c.LogID); l != nil && c.ProviderMessageID != "" {
		l.ProviderMessageID = c.ProviderMessageID
	}
	return nil
}

func (m *MemoryRepository) ReceivedExists(_ context.Context, accountID uint, messageID, from, subject string, receivedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.receivedEmails {
		if e.EmailAccountID != accountID {
			continue
		}
		if messageID != "" && e.MessageID == messageID {
			return true, nil
		}
		if from != "" && subject != "" && e.From == from && e.Subject == subject && e.ReceivedAt.Equal(receivedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) CreateReceivedEmail(_ context.Context, email *models.ReceivedEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email.ID = m.id()
	cp := *email
	m.receivedEmails = append(m.receivedEmails, &cp)
	return nil
}

func (m *MemoryRepository) CreatePersonalizationLog(_ context.Context, log *models.PersonalizationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = m.id()
	cp := *log
	m.personalization = append(m.personalization, &cp)
	return nil
}

func (m *MemoryRepository) LogActivity(_ context.Context, entry models.ActivityLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.activity = append(m.activity, entry)
}
