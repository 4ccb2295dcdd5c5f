package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	DefaultSendingStart = "09:00"
	DefaultSendingEnd   = "17:00"
)

// Campaign is a configured outreach run: a ring of sending accounts, a ring of
// contacts and an ordered drip sequence, confined to a sending window.
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name     string `gorm:"not null" json:"name"`
	IsActive bool   `gorm:"default:false;index" json:"is_active"`

	// Rotation rings
	EmailAccountIDs pq.Int64Array `gorm:"type:bigint[]" json:"email_account_ids"`
	ContactIDs      pq.Int64Array `gorm:"type:bigint[]" json:"contact_ids"`

	// Drip sequence and sending window
	Sequences []SequenceStep   `gorm:"type:jsonb;serializer:json" json:"sequences"`
	Schedule  CampaignSchedule `gorm:"type:jsonb;serializer:json" json:"schedule"`

	// Rotation cursors
	NextEmailAccountToUse int `gorm:"default:0" json:"next_email_account_to_use"`
	NextContactToUse      int `gorm:"default:0" json:"next_contact_to_use"`

	// Statistics (denormalized)
	StatsSent    int `gorm:"default:0" json:"stats_sent"`
	StatsReplied int `gorm:"default:0" json:"stats_replied"`
	EmailSent    int `gorm:"default:0" json:"email_sent"`

	LastProcessedAt *time.Time `json:"last_processed_at"`
}

// SequenceStep is one email of the drip sequence. DelayDays is the number of
// days to wait after this step is sent before the next step becomes eligible.
type SequenceStep struct {
	Subject         string `json:"subject"`
	Content         string `json:"content"`
	UseAIForSubject bool   `json:"useAiForSubject"`
	AISubjectPrompt string `json:"aiSubjectPrompt,omitempty"`
	UseAIForContent bool   `json:"useAiForContent"`
	AIContentPrompt string `json:"aiContentPrompt,omitempty"`
	DelayDays       int    `json:"nextEmailAfter"`
	IsActive        *bool  `json:"isActive,omitempty"`
}

// Active reports whether the step takes part in the sequence. Steps saved
// without the flag are active.
func (s SequenceStep) Active() bool {
	return s.IsActive == nil || *s.IsActive
}

// CampaignSchedule is the sending window of a campaign.
type CampaignSchedule struct {
	SendingHours      SendingHours `json:"sendingHours"`
	SendingDays       []int        `json:"sendingDays"` // 0=Sunday..6=Saturday, empty means every day
	EmailDelaySeconds int          `json:"emailDelaySeconds"`
}

// SendingHours holds HH:MM bounds in the owner's local time. Start after End
// describes an overnight window.
type SendingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ActiveSequences returns the active steps in order. Step indexes stored on
// contacts and logs always refer to positions in this slice.
func (c *Campaign) ActiveSequences() []SequenceStep {
	active := make([]SequenceStep, 0, len(c.Sequences))
	for _, step := range c.Sequences {
		if step.Active() {
			active = append(active, step)
		}
	}
	return active
}

// HasUpcomingSequence reports whether a contact contacted timesContacted times
// still has a step left.
func (c *Campaign) HasUpcomingSequence(timesContacted int) bool {
	return timesContacted < len(c.ActiveSequences())
}

// ClampCursor returns cursor when it indexes a ring of length n, otherwise 0.
func ClampCursor(cursor, n int) int {
	if n <= 0 || cursor < 0 || cursor >= n {
		return 0
	}
	return cursor
}
