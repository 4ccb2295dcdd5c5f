package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ReceivedEmail represents an inbound message pulled from a mailbox.
type ReceivedEmail struct {
	gorm.Model
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	EmailAccountID uint  `gorm:"not null;index:idx_received_dedup" json:"email_account_id"`
	ContactID      *uint `gorm:"index" json:"contact_id,omitempty"`
	CampaignID     *uint `gorm:"index" json:"campaign_id,omitempty"`
	SentEmailID    *uint `json:"sent_email_id,omitempty"`

	MessageID   string           `gorm:"index:idx_received_dedup" json:"message_id"`
	ThreadID    string           `gorm:"index" json:"thread_id"`
	InReplyTo   string           `json:"in_reply_to"`
	References  pq.StringArray   `gorm:"type:text[]" json:"references"`
	From        string           `gorm:"not null" json:"from"`
	To          string           `json:"to"`
	Subject     string           `json:"subject"`
	Content     string           `gorm:"type:text" json:"content"`
	HTMLContent string           `gorm:"type:text" json:"html_content"`
	Attachments []AttachmentInfo `gorm:"type:jsonb;serializer:json" json:"attachments"`

	IsReply    bool      `gorm:"default:false" json:"is_reply"`
	IsRead     bool      `gorm:"default:false" json:"is_read"`
	Category   string    `gorm:"default:'inbox'" json:"category"`
	ReceivedAt time.Time `gorm:"not null" json:"received_at"`
}

// AttachmentInfo describes an attachment without storing its payload.
type AttachmentInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}
