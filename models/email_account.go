package models

import (
	"time"

	"gorm.io/gorm"
)

const DefaultDailyLimit = 50

// EmailAccount represents sending and receiving credentials of one mailbox.
type EmailAccount struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email    string `gorm:"not null" json:"email"`
	FromName string `json:"from_name"`
	Provider string `gorm:"default:'smtp'" json:"provider"` // smtp, gmail, outlook, ...
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// ========= SMTP Configuration =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`                                    // Encrypted in application layer
	Encryption   string `gorm:"default:'STARTTLS'" json:"encryption"` // SSL, TLS, STARTTLS

	// ========= IMAP Configuration =========
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `gorm:"default:993" json:"imap_port"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"` // Encrypted; falls back to SMTPPassword when empty
	IMAPEncryption string `gorm:"default:'SSL'" json:"imap_encryption"`
	IMAPMailbox    string `gorm:"default:'INBOX'" json:"imap_mailbox"`

	// ========= Usage Metrics =========
	DailyLimit    int        `gorm:"default:50" json:"daily_limit"`
	SentToday     int        `gorm:"default:0" json:"sent_today"`
	TotalSent     int        `gorm:"default:0" json:"total_sent"`
	LastUsed      *time.Time `json:"last_used"`
	LastResetDate *time.Time `json:"last_reset_date"`
	LastError     *string    `json:"last_error"`
}

// Limit returns the daily cap, applying the default when unset.
func (a *EmailAccount) Limit() int {
	if a.DailyLimit <= 0 {
		return DefaultDailyLimit
	}
	return a.DailyLimit
}

// SendsToday returns the sends attributed to the account on now's UTC day.
// SentToday belongs to the day stored in LastResetDate; a counter from an
// earlier day counts as zero.
func (a *EmailAccount) SendsToday(now time.Time) int {
	if a.LastResetDate == nil || a.LastResetDate.Before(StartOfUTCDay(now)) {
		return 0
	}
	return a.SentToday
}

// HasCapacity reports whether one more send fits under the daily cap.
func (a *EmailAccount) HasCapacity(now time.Time) bool {
	return a.SendsToday(now) < a.Limit()
}

// HasIMAP reports whether the account can be polled for replies.
func (a *EmailAccount) HasIMAP() bool {
	return a.IMAPHost != ""
}

// Sanitize strips credentials before the account leaves the process.
func (a *EmailAccount) Sanitize() {
	a.SMTPPassword = ""
	a.IMAPPassword = ""
}

// StartOfUTCDay truncates t to midnight UTC.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
