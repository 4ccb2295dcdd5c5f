package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	ContactStatusActive = "active"

	EmailStatusNeverSent = "never-sent"
	EmailStatusSent      = "sent"
	EmailStatusBounced   = "bounced"
	EmailStatusReplied   = "replied"
	EmailStatusInvalid   = "invalid"

	ContactSourceCampaign   = "campaign"
	ContactSourceEmailReply = "email_reply"
)

// Contact represents a single recipient. TimesContacted doubles as the index
// of the next active sequence step to send.
type Contact struct {
	gorm.Model
	UserID     uint  `gorm:"not null;index" json:"user_id"`
	CampaignID *uint `gorm:"index" json:"campaign_id,omitempty"`

	Email           string `gorm:"not null;index" json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Company         string `json:"company"`
	Position        string `json:"position"`
	Phone           string `json:"phone"`
	Website         string `json:"website"`
	LinkedIn        string `gorm:"column:linkedin" json:"linkedin"`
	City            string `json:"city"`
	State           string `json:"state"`
	Country         string `json:"country"`
	Industry        string `json:"industry"`
	Personalization string `gorm:"type:text" json:"personalization"`

	// Status
	Status      string `gorm:"default:'active';index" json:"status"`
	EmailStatus string `gorm:"default:'never-sent'" json:"email_status"`
	Source      string `json:"source"`

	// Sequence progress
	TimesContacted      int        `gorm:"default:0" json:"times_contacted"`
	Schedule            *time.Time `gorm:"index" json:"schedule"`
	HasUpcomingSequence bool       `json:"has_upcoming_sequence"`
	LastContacted       *time.Time `json:"last_contacted"`
	LastSent            *time.Time `json:"last_sent"`

	// Send lease held by a worker between claim and commit
	ClaimedUntil *time.Time `json:"-"`
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// IsDue reports whether the contact may be considered for a send at now.
func (c *Contact) IsDue(now time.Time) bool {
	return c.Schedule == nil || !c.Schedule.After(now)
}

// CanReceive reports whether status and email status allow sending.
func (c *Contact) CanReceive() bool {
	return c.Status == ContactStatusActive &&
		c.EmailStatus != EmailStatusBounced &&
		c.EmailStatus != EmailStatusInvalid
}
