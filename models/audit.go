package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	PersonalizationSubject = "subject"
	PersonalizationContent = "content"

	ProviderManual = "manual"

	LogSourceSend    = "send"
	LogSourceReceive = "receive"

	LogLevelInfo    = "info"
	LogLevelSuccess = "success"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// PersonalizationLog records how a subject or body was produced.
type PersonalizationLog struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	CampaignID uint `gorm:"index" json:"campaign_id"`
	ContactID  uint `gorm:"index" json:"contact_id"`

	Type           string  `gorm:"not null" json:"type"`     // subject, content
	Provider       string  `gorm:"not null" json:"provider"` // openai, deepseek, manual
	AIModel        string  `gorm:"column:model" json:"model"`
	Prompt         string  `gorm:"type:text" json:"prompt"`
	Result         string  `gorm:"type:text" json:"result"`
	ProcessingTime float64 `json:"processing_time"` // seconds
	WebsiteData    string  `gorm:"type:text" json:"website_data,omitempty"`
	Fallback       bool    `gorm:"default:false" json:"fallback"`
}

// ActivityLog is an operator-facing line about what a worker did.
type ActivityLog struct {
	ID        uint                   `gorm:"primarykey" json:"id" bson:"-"`
	UserID    uint                   `gorm:"index" json:"user_id" bson:"userId"`
	Source    string                 `gorm:"not null;index" json:"source" bson:"source"`
	Level     string                 `gorm:"not null" json:"level" bson:"level"`
	Message   string                 `gorm:"type:text" json:"message" bson:"message"`
	Metadata  map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata" bson:"metadata"`
	CreatedAt time.Time              `json:"created_at" bson:"createdAt"`
}
