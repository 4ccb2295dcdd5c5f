package models

import (
	"strings"

	"gorm.io/gorm"
)

const (
	AIProviderOpenAI   = "openai"
	AIProviderDeepSeek = "deepseek"

	DefaultEmailCheckDelay = 30
)

// User owns campaigns, contacts and email accounts. It also carries the
// per-user settings the workers read on every cycle.
type User struct {
	gorm.Model

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `json:"name"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
	IsAdmin  bool   `gorm:"default:false" json:"is_admin"`

	// AI personalization
	AIProvider     string `gorm:"default:'openai'" json:"ai_provider"` // openai, deepseek
	OpenAIAPIKey   string `gorm:"column:openai_api_key" json:"-"`
	OpenAIModel    string `gorm:"column:openai_model;default:'gpt-4o-mini'" json:"openai_model"`
	DeepSeekAPIKey string `gorm:"column:deepseek_api_key" json:"-"`
	DeepSeekModel  string `gorm:"column:deepseek_model;default:'deepseek-chat'" json:"deepseek_model"`

	// Inbox settings
	IgnoreKeywords  string `json:"ignore_keywords"`                     // comma separated
	EmailCheckDelay int    `gorm:"default:30" json:"email_check_delay"` // seconds

	// Relations
	EmailAccounts []EmailAccount `gorm:"foreignKey:UserID" json:"email_accounts,omitempty"`
	Campaigns     []Campaign     `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
}

// IgnoreKeywordList splits IgnoreKeywords into lower-cased, non-empty keywords.
func (u *User) IgnoreKeywordList() []string {
	var keywords []string
	for _, kw := range strings.Split(u.IgnoreKeywords, ",") {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// CheckDelaySeconds returns the reply polling interval, falling back to the default.
func (u *User) CheckDelaySeconds() int {
	if u.EmailCheckDelay <= 0 {
		return DefaultEmailCheckDelay
	}
	return u.EmailCheckDelay
}
