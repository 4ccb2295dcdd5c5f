package repository

import (
	"context"
	"errors"
	"time"

	"outreach/models"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update lost a race.
	ErrConflict = errors.New("concurrent update detected")
)

// CursorMove advances a rotation cursor from From to To. The move only
// applies while the stored cursor still equals From.
type CursorMove struct {
	From int
	To   int
}

// SendCommit carries every state transition of a confirmed send.
type SendCommit struct {
	LogID                  uint
	CampaignID             uint
	ContactID              uint
	AccountID              uint
	ExpectedTimesContacted int
	SentAt                 time.Time
	NextSchedule           *time.Time
	HasUpcomingSequence    bool
	ProviderMessageID      string
	AccountCursor          CursorMove
	ContactCursor          CursorMove
}

type UserStore interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

type CampaignStore interface {
	ActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
	AdvanceAccountCursor(ctx context.Context, campaignID uint, move CursorMove) error
	IncrementCampaignReplies(ctx context.Context, campaignID uint) error
}

type AccountStore interface {
	AccountsByIDs(ctx context.Context, ids []int64) ([]models.EmailAccount, error)
	MailboxAccounts(ctx context.Context) ([]models.EmailAccount, error)
	ResetDailyCounters(ctx context.Context, dayStart time.Time) (int64, error)
	RecordAccountError(ctx context.Context, accountID uint, message string) error
}

type ContactStore interface {
	// DueContacts returns ring members that are active, not bounced or
	// invalid, due at now, not leased and not past the last active step.
	DueContacts(ctx context.Context, campaign *models.Campaign, now time.Time, limit int) ([]models.Contact, error)
	CampaignContacts(ctx context.Context, campaign *models.Campaign) ([]models.Contact, error)
	// ClaimContact leases a contact for one send. It returns false when the
	// contact moved past timesContacted or is leased by someone else.
	ClaimContact(ctx context.Context, contactID uint, timesContacted int, now, until time.Time) (bool, error)
	ReleaseContact(ctx context.Context, contactID uint) error
	UpdateContactSchedule(ctx context.Context, contactID uint, schedule *time.Time, hasUpcoming bool) error
	// DeferContact moves the contact's schedule to until unless it was sent
	// to since timesContacted was read.
	DeferContact(ctx context.Context, contactID uint, timesContacted int, until time.Time) error
	MarkContactInvalid(ctx context.Context, contactID uint) error
	FindContactByEmail(ctx context.Context, userID uint, email string) (*models.Contact, error)
	CreateContact(ctx context.Context, contact *models.Contact) error
	MarkContactReplied(ctx context.Context, contactID uint) error
}

type EmailLogStore interface {
	CreateEmailLog(ctx context.Context, log *models.EmailLog) error
	MarkEmailLogFailed(ctx context.Context, logID uint, at time.Time, message string) error
	MarkEmailLogReplied(ctx context.Context, logID uint, at time.Time) error
	LastSuccessfulSend(ctx context.Context, campaignID, contactID uint, step int) (*models.EmailLog, error)
	FindSentByMessageID(ctx context.Context, userID uint, messageID string) (*models.EmailLog, error)
	// FindSentBySubject returns the most recent successful send from accountID
	// to recipient whose subject equals subject or contains cleanSubject.
	FindSentBySubject(ctx context.Context, userID, accountID uint, recipient, subject, cleanSubject string) (*models.EmailLog, error)
	// CommitSend applies a confirmed send as one unit. ErrConflict means the
	// contact moved on since it was claimed and nothing was written.
	CommitSend(ctx context.Context, commit SendCommit) error
}

type InboxStore interface {
	ReceivedExists(ctx context.Context, accountID uint, messageID, from, subject string, receivedAt time.Time) (bool, error)
	CreateReceivedEmail(ctx context.Context, email *models.ReceivedEmail) error
}

type AuditStore interface {
	CreatePersonalizationLog(ctx context.Context, log *models.PersonalizationLog) error
}

// Repository is the full storage surface used by the workers.
type Repository interface {
	UserStore
	CampaignStore
	AccountStore
	ContactStore
	EmailLogStore
	InboxStore
	AuditStore
}

// ActivityLogger persists operator-facing activity lines. Implementations
// never fail the caller.
type ActivityLogger interface {
	LogActivity(ctx context.Context, entry models.ActivityLog)
}
