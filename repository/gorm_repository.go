package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"outreach/models"
)

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GetUser retrieves a user by ID
func (r *GormRepository) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// ActiveCampaigns returns every active campaign, oldest processed first
func (r *GormRepository) ActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("last_processed_at ASC NULLS FIRST, id ASC").
		Find(&campaigns).Error
	return campaigns, err
}

// GetCampaign retrieves a campaign by ID
func (r *GormRepository) GetCampaign(ctx context.Context, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := r.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &campaign, nil
}

func (r *GormRepository) AdvanceAccountCursor(ctx context.Context, campaignID uint, move CursorMove) error {
	return advanceCursor(r.db.WithContext(ctx), campaignID, "next_email_account_to_use", move)
}

func advanceCursor(db *gorm.DB, campaignID uint, column string, move CursorMove) error {
	return db.Model(&models.Campaign{}).
		Where("id = ? AND "+column+" = ?", campaignID, move.From).
		Update(column, move.To).Error
}

func (r *GormRepository) IncrementCampaignReplies(ctx context.Context, campaignID uint) error {
	return r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Update("stats_replied", gorm.Expr("stats_replied + ?", 1)).Error
}

func (r *GormRepository) AccountsByIDs(ctx context.Context, ids []int64) ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	if len(ids) == 0 {
		return accounts, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error
	return accounts, err
}

// MailboxAccounts returns active accounts with IMAP configured
func (r *GormRepository) MailboxAccounts(ctx context.Context) ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND imap_host IS NOT NULL AND imap_host != ''", true).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

// ResetDailyCounters zeroes counters that belong to a day before dayStart
func (r *GormRepository) ResetDailyCounters(ctx context.Context, dayStart time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.EmailAccount{}).
		Where("last_reset_date IS NULL OR last_reset_date < ?", dayStart).
		Updates(map[string]interface{}{
			"sent_today":      0,
			"last_reset_date": dayStart,
		})
	return res.RowsAffected, res.Error
}

func (r *GormRepository) RecordAccountError(ctx context.Context, accountID uint, message string) error {
	return r.db.WithContext(ctx).Model(&models.EmailAccount{}).
		Where("id = ?", accountID).
		Update("last_error", message).Error
}

func (r *GormRepository) DueContacts(ctx context.Context, campaign *models.Campaign, now time.Time, limit int) ([]models.Contact, error) {
	var contacts []models.Contact
	if len(campaign.ContactIDs) == 0 {
		return contacts, nil
	}
	q := r.db.WithContext(ctx).
		Where("id IN ?", []int64(campaign.ContactIDs)).
		Where("status = ? AND email_status NOT IN ?", models.ContactStatusActive,
			[]string{models.EmailStatusBounced, models.EmailStatusInvalid}).
		Where("schedule IS NULL OR schedule <= ?", now).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Where("times_contacted < ?", len(campaign.ActiveSequences())).
		Order("schedule ASC NULLS FIRST, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&contacts).Error
	return contacts, err
}

func (r *GormRepository) CampaignContacts(ctx context.Context, campaign *models.Campaign) ([]models.Contact, error) {
	var contacts []models.Contact
	if len(campaign.ContactIDs) == 0 {
		return contacts, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", []int64(campaign.ContactIDs)).
		Order("id ASC").
		Find(&contacts).Error
	return contacts, err
}

func (r *GormRepository) ClaimContact(ctx context.Context, contactID uint, timesContacted int, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ? AND times_contacted = ?", contactID, timesContacted).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Update("claimed_until", until)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormRepository) ReleaseContact(ctx context.Context, contactID uint) error {
	return r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", contactID).
		Update("claimed_until", nil).Error
}

func (r *GormRepository) UpdateContactSchedule(ctx context.Context, contactID uint, schedule *time.Time, hasUpcoming bool) error {
	return r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", contactID).
		Updates(map[string]interface{}{
			"schedule":              schedule,
			"has_upcoming_sequence": hasUpcoming,
		}).Error
}

func (r *GormRepository) DeferContact(ctx context.Context, contactID uint, timesContacted int, until time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ? AND times_contacted = ?", contactID, timesContacted).
		Update("schedule", until).Error
}

func (r *GormRepository) MarkContactInvalid(ctx context.Context, contactID uint) error {
	return r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", contactID).
		Update("email_status", models.EmailStatusInvalid).Error
}

func (r *GormRepository) FindContactByEmail(ctx context.Context, userID uint, email string) (*models.Contact, error) {
	var contact models.Contact
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(email) = ?", userID, strings.ToLower(email)).
		First(&contact).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &contact, nil
}

func (r *GormRepository) CreateContact(ctx context.Context, contact *models.Contact) error {
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *GormRepository) MarkContactReplied(ctx context.Context, contactID uint) error {
	return r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ? AND email_status <> ?", contactID, models.EmailStatusBounced).
		Update("email_status", models.EmailStatusReplied).Error
}

func (r *GormRepository) CreateEmailLog(ctx context.Context, log *models.EmailLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *GormRepository) MarkEmailLogFailed(ctx context.Context, logID uint, at time.Time, message string) error {
	return r.db.WithContext(ctx).Model(&models.EmailLog{}).
		Where("id = ?", logID).
		Updates(map[string]interface{}{
			"status":        models.EmailLogStatusFailed,
			"failed_at":     at,
			"error_message": message,
		}).Error
}

func (r *GormRepository) MarkEmailLogReplied(ctx context.Context, logID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.EmailLog{}).
		Where("id = ? AND status <> ?", logID, models.EmailLogStatusFailed).
		Updates(map[string]interface{}{
			"status":     models.EmailLogStatusReplied,
			"replied_at": at,
		}).Error
}

func (r *GormRepository) LastSuccessfulSend(ctx context.Context, campaignID, contactID uint, step int) (*models.EmailLog, error) {
	var log models.EmailLog
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND contact_id = ? AND sequence_step = ?", campaignID, contactID, step).
		Where("status IN ?", models.SuccessfulLogStatuses).
		Order("sent_at DESC").
		First(&log).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

func (r *GormRepository) FindSentByMessageID(ctx context.Context, userID uint, messageID string) (*models.EmailLog, error) {
	var log models.EmailLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		First(&log).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

func (r *GormRepository) FindSentBySubject(ctx context.Context, userID, accountID uint, recipient, subject, cleanSubject string) (*models.EmailLog, error) {
	q := r.db.WithContext(ctx).
		Where(`user_id = ? AND email_account_id = ? AND LOWER("to") = ?`, userID, accountID, strings.ToLower(recipient)).
		Where("status IN ?", models.SuccessfulLogStatuses)
	if cleanSubject != "" {
		q = q.Where("subject ILIKE ? OR subject = ?", "%"+escapeLike(cleanSubject)+"%", subject)
	} else {
		q = q.Where("subject = ?", subject)
	}

	var log models.EmailLog
	if err := q.Order("sent_at DESC").First(&log).Error; err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *GormRepository) CommitSend(ctx context.Context, c SendCommit) error {
	dayStart := models.StartOfUTCDay(c.SentAt)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contact{}).
			Where("id = ? AND times_contacted = ?", c.ContactID, c.ExpectedTimesContacted).
			Updates(map[string]interface{}{
				"times_contacted":       gorm.Expr("times_contacted + ?", 1),
				"last_contacted":        c.SentAt,
				"last_sent":             c.SentAt,
				"email_status":          models.EmailStatusSent,
				"schedule":              c.NextSchedule,
				"has_upcoming_sequence": c.HasUpcomingSequence,
				"claimed_until":         nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update contact: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		if err := tx.Model(&models.Campaign{}).
			Where("id = ?", c.CampaignID).
			Updates(map[string]interface{}{
				"stats_sent":        gorm.Expr("stats_sent + ?", 1),
				"email_sent":        gorm.Expr("email_sent + ?", 1),
				"last_processed_at": c.SentAt,
			}).Error; err != nil {
			return fmt.Errorf("failed to update campaign stats: %w", err)
		}

		if err := tx.Model(&models.EmailAccount{}).
			Where("id = ?", c.AccountID).
			Updates(map[string]interface{}{
				"sent_today":      gorm.Expr("CASE WHEN last_reset_date >= ? THEN sent_today + 1 ELSE 1 END", dayStart),
				"last_reset_date": dayStart,
				"total_sent":      gorm.Expr("total_sent + ?", 1),
				"last_used":       c.SentAt,
			}).Error; err != nil {
			return fmt.Errorf("failed to update account usage: %w", err)
		}

		if c.ProviderMessageID != "" {
			if err := tx.Model(&models.EmailLog{}).
				Where("id = ?", c.LogID).
				Update("provider_message_id", c.ProviderMessageID).Error; err != nil {
				return fmt.Errorf("failed to update email log: %w", err)
			}
		}

		if err := advanceCursor(tx, c.CampaignID, "next_email_account_to_use", c.AccountCursor); err != nil {
			return fmt.Errorf("failed to advance account cursor: %w", err)
		}
		if err := advanceCursor(tx, c.CampaignID, "next_contact_to_use", c.ContactCursor); err != nil {
			return fmt.Errorf("failed to advance contact cursor: %w", err)
		}
		return nil
	})
}

func (r *GormRepository) ReceivedExists(ctx context.Context, accountID uint, messageID, from, subject string, receivedAt time.Time) (bool, error) {
	var count int64
	if messageID != "" {
		if err := r.db.WithContext(ctx).Model(&models.ReceivedEmail{}).
			Where("email_account_id = ? AND message_id = ?", accountID, messageID).
			Count(&count).Error; err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	if from == "" || subject == "" {
		return false, nil
	}
	if err := r.db.WithContext(ctx).Model(&models.ReceivedEmail{}).
		Where(`email_account_id = ? AND "from" = ? AND subject = ? AND received_at = ?`, accountID, from, subject, receivedAt).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepository) CreateReceivedEmail(ctx context.Context, email *models.ReceivedEmail) error {
	return r.db.WithContext(ctx).Create(email).Error
}

func (r *GormRepository) CreatePersonalizationLog(ctx context.Context, log *models.PersonalizationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}
