package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	EmailLogStatusSent      = "sent"
	EmailLogStatusDelivered = "delivered"
	EmailLogStatusOpened    = "opened"
	EmailLogStatusClicked   = "clicked"
	EmailLogStatusReplied   = "replied"
	EmailLogStatusFailed    = "failed"
)

// SuccessfulLogStatuses are the statuses that count as a completed send.
var SuccessfulLogStatuses = []string{
	EmailLogStatusSent,
	EmailLogStatusDelivered,
	EmailLogStatusOpened,
	EmailLogStatusClicked,
	EmailLogStatusReplied,
}

// EmailLog is the append-only record of one outbound email. Only Status and
// the timestamps that follow it change after creation.
type EmailLog struct {
	gorm.Model
	UserID         uint `gorm:"not null;index" json:"user_id"`
	CampaignID     uint `gorm:"not null;index:idx_email_logs_contact_step" json:"campaign_id"`
	ContactID      uint `gorm:"not null;index:idx_email_logs_contact_step" json:"contact_id"`
	EmailAccountID uint `gorm:"not null;index" json:"email_account_id"`
	SequenceStep   int  `gorm:"not null;index:idx_email_logs_contact_step" json:"sequence_step"`

	MessageID         string `gorm:"not null;uniqueIndex" json:"message_id"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	From              string `json:"from"`
	To                string `gorm:"index" json:"to"`
	Subject           string `json:"subject"`
	Content           string `gorm:"type:text" json:"content"`

	Status       string     `gorm:"not null;default:'sent';index" json:"status"`
	SentAt       time.Time  `gorm:"not null;index" json:"sent_at"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RepliedAt    *time.Time `json:"replied_at,omitempty"`
}

// Succeeded reports whether the log counts as a completed send.
func (l *EmailLog) Succeeded() bool {
	for _, s := range SuccessfulLogStatuses {
		if l.Status == s {
			return true
		}
	}
	return false
}
