package worker

import "time"

const (
	EventCycleFinished = "cycle_finished"
	EventReply         = "reply"
)

// Event is a progress notification emitted by the workers.
type Event struct {
	Type       string    `json:"type"`
	UserID     uint      `json:"user_id,omitempty"`
	CampaignID uint      `json:"campaign_id,omitempty"`
	ContactID  uint      `json:"contact_id,omitempty"`
	AccountID  uint      `json:"account_id,omitempty"`
	Step       int       `json:"step"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// EventSink receives worker events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

type NopEventSink struct{}

func (NopEventSink) Publish(Event) {}
