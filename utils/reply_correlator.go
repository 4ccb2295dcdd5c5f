package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/repository"
)

// MatchKind says how an inbound message was tied to a prior send.
type MatchKind string

const (
	MatchNone      MatchKind = ""
	MatchInReplyTo MatchKind = "in_reply_to"
	MatchReference MatchKind = "references"
	MatchSubject   MatchKind = "subject"
)

// MatchResult is the outcome of correlating one inbound message.
type MatchResult struct {
	Duplicate bool
	Ignored   bool
	Keyword   string
	Stored    *models.ReceivedEmail
	SentEmail *models.EmailLog
	Kind      MatchKind
	IsReply   bool
	Contact   *models.Contact
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?)\s*:\s*)+`)

// CleanSubject strips leading Re:/Fwd: prefixes.
func CleanSubject(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
}

// LooksLikeReply is the subject heuristic used when no prior send matched.
func LooksLikeReply(subject string) bool {
	s := strings.ToLower(subject)
	return strings.HasPrefix(strings.TrimSpace(s), "re:") || strings.Contains(s, "reply") || strings.Contains(s, "response")
}

// ReplyCorrelator stores inbound messages and ties replies to the sends
// they answer.
type ReplyCorrelator struct {
	repo     repository.Repository
	activity repository.ActivityLogger
	logger   *logrus.Entry
	now      func() time.Time
}

func NewReplyCorrelator(repo repository.Repository, activity repository.ActivityLogger, logger *logrus.Entry) *ReplyCorrelator {
	if logger == nil {
		logger = logrus.WithField("component", "reply_correlator")
	}
	return &ReplyCorrelator{
		repo:     repo,
		activity: activity,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (rc *ReplyCorrelator) Correlate(ctx context.Context, account *models.EmailAccount, user *models.User, msg InboundMessage) (MatchResult, error) {
	from := CleanEmailAddress(msg.From)
	log := rc.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"from":       from,
		"message_id": msg.MessageID,
	})

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = rc.now()
	}

	exists, err := rc.repo.ReceivedExists(ctx, account.ID, msg.MessageID, from, msg.Subject, receivedAt)
	if err != nil {
		return MatchResult{}, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return MatchResult{Duplicate: true}, nil
	}

	if kw := matchIgnoreKeyword(user.IgnoreKeywordList(), msg.Subject+" "+msg.TextBody); kw != "" {
		log.WithField("keyword", kw).Info("Inbound email ignored by keyword filter")
		return MatchResult{Ignored: true, Keyword: kw}, nil
	}

	sent, kind, err := rc.findSent(ctx, user.ID, account.ID, from, msg)
	if err != nil {
		return MatchResult{}, err
	}

	contact, err := rc.findOrCreateContact(ctx, user.ID, from)
	if err != nil {
		return MatchResult{}, err
	}

	threadID := msg.InReplyTo
	if threadID == "" {
		threadID = msg.MessageID
	}

	received := &models.ReceivedEmail{
		UserID:         user.ID,
		EmailAccountID: account.ID,
		ContactID:      &contact.ID,
		MessageID:      msg.MessageID,
		ThreadID:       threadID,
		InReplyTo:      msg.InReplyTo,
		References:     msg.References,
		From:           from,
		To:             msg.To,
		Subject:        msg.Subject,
		Content:        msg.TextBody,
		HTMLContent:    msg.HTMLBody,
		Attachments:    msg.Attachments,
		IsReply:        sent != nil || LooksLikeReply(msg.Subject),
		Category:       "inbox",
		ReceivedAt:     receivedAt,
	}
	if sent != nil {
		received.SentEmailID = &sent.ID
		received.CampaignID = &sent.CampaignID
	}

	if err := rc.repo.CreateReceivedEmail(ctx, received); err != nil {
		return MatchResult{}, fmt.Errorf("store received email: %w", err)
	}

	if sent != nil {
		rc.applyReply(ctx, log, sent, contact, received.ReceivedAt)
	}

	result := MatchResult{
		Stored:    received,
		SentEmail: sent,
		Kind:      kind,
		IsReply:   received.IsReply,
		Contact:   contact,
	}

	message := fmt.Sprintf("Email received from %s: %s", from, msg.Subject)
	if sent != nil {
		message = fmt.Sprintf("Reply from %s matched campaign %d (%s)", from, sent.CampaignID, kind)
	}
	rc.logActivity(ctx, user.ID, models.LogLevelInfo, message, map[string]interface{}{
		"account_id":  account.ID,
		"message_id":  msg.MessageID,
		"is_reply":    received.IsReply,
		"match":       string(kind),
		"attachments": len(msg.Attachments),
	})
	return result, nil
}

// findSent applies the match order In-Reply-To, References, then subject.
func (rc *ReplyCorrelator) findSent(ctx context.Context, userID, accountID uint, from string, msg InboundMessage) (*models.EmailLog, MatchKind, error) {
	lookup := func(id string) (*models.EmailLog, error) {
		sent, err := rc.repo.FindSentByMessageID(ctx, userID, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return sent, err
	}

	if msg.InReplyTo != "" {
		sent, err := lookup(msg.InReplyTo)
		if err != nil || sent != nil {
			return sent, MatchInReplyTo, err
		}
	}

	for _, ref := range msg.References {
		if ref == "" {
			continue
		}
		sent, err := lookup(ref)
		if err != nil || sent != nil {
			return sent, MatchReference, err
		}
	}

	if msg.Subject != "" && from != "" {
		sent, err := rc.repo.FindSentBySubject(ctx, userID, accountID, from, msg.Subject, CleanSubject(msg.Subject))
		if errors.Is(err, repository.ErrNotFound) {
			return nil, MatchNone, nil
		}
		if err != nil {
			return nil, MatchNone, err
		}
		return sent, MatchSubject, nil
	}
	return nil, MatchNone, nil
}

func (rc *ReplyCorrelator) findOrCreateContact(ctx context.Context, userID uint, email string) (*models.Contact, error) {
	contact, err := rc.repo.FindContactByEmail(ctx, userID, email)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find contact: %w", err)
	}

	contact = &models.Contact{
		UserID:              userID,
		Email:               email,
		FirstName:           FirstNameFromEmail(email),
		Status:              models.ContactStatusActive,
		EmailStatus:         models.EmailStatusNeverSent,
		Source:              models.ContactSourceEmailReply,
		HasUpcomingSequence: false,
	}
	if err := rc.repo.CreateContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	rc.logger.WithField("email", email).Info("Contact created from inbound email")
	return contact, nil
}

// applyReply updates campaign stats, the matched log and the contact. Each
// step is logged on failure and does not undo the stored message.
func (rc *ReplyCorrelator) applyReply(ctx context.Context, log *logrus.Entry, sent *models.EmailLog, contact *models.Contact, at time.Time) {
	if err := rc.repo.IncrementCampaignReplies(ctx, sent.CampaignID); err != nil {
		log.WithError(err).Error("Failed to increment campaign replies")
	}
	if err := rc.repo.MarkEmailLogReplied(ctx, sent.ID, at); err != nil {
		log.WithError(err).Error("Failed to mark email log replied")
	}
	if err := rc.repo.MarkContactReplied(ctx, contact.ID); err != nil {
		log.WithError(err).Error("Failed to mark contact replied")
	}
}

func (rc *ReplyCorrelator) logActivity(ctx context.Context, userID uint, level, message string, metadata map[string]interface{}) {
	if rc.activity == nil {
		return
	}
	rc.activity.LogActivity(ctx, models.ActivityLog{
		UserID:    userID,
		Source:    models.LogSourceReceive,
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: rc.now(),
	})
}

func matchIgnoreKeyword(keywords []string, text string) string {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}
