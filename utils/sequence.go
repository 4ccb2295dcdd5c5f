package utils

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"outreach/models"
	"outreach/repository"
)

const StageSelectContact = "select_contact"

// LastSendLookup returns the most recent successful send of step to contactID.
// It returns repository.ErrNotFound when there is none.
type LastSendLookup func(contactID uint, step int) (*models.EmailLog, error)

// Selection is the contact and the active sequence step due to it.
type Selection struct {
	Contact   *models.Contact
	Step      models.SequenceStep
	StepIndex int // index into Campaign.ActiveSequences
	RingIndex int // index into Campaign.ContactIDs, -1 when not in the ring
}

// missingSendRetry is how long a contact whose previous step has no confirmed
// send waits before it is looked at again.
const missingSendRetry = 24 * time.Hour

// Deferral parks a rejected candidate so it stops occupying the head of the
// due queue. Invalid contacts are taken out of the campaign for good; the rest
// become due again at Until.
type Deferral struct {
	ContactID      uint
	TimesContacted int
	Until          time.Time
	Invalid        bool
}

// Days converts a whole-day delay into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// SelectContactAndStep picks the next contact to send to and the step due to
// it. Candidates are ordered by due time (unscheduled first) and then by ring
// order from the campaign's contact cursor. The first candidate passing every
// gate wins; when none does, a *SkipError carries the last rejection reason.
// Candidates rejected ahead of the winner for reasons that will not clear by
// themselves on the next cycle come back as deferrals.
func SelectContactAndStep(campaign *models.Campaign, candidates []models.Contact, lastSend LastSendLookup, now time.Time) (*Selection, []Deferral, error) {
	steps := campaign.ActiveSequences()
	if len(steps) == 0 {
		return nil, nil, Skip(StageSelectContact, "campaign has no active sequence steps")
	}
	if len(candidates) == 0 {
		return nil, nil, Skip(StageSelectContact, "no contacts due")
	}

	ring := ringPositions(campaign)
	ordered := orderCandidates(campaign, candidates, ring)

	var deferrals []Deferral
	reason := "no eligible contacts"
	for _, contact := range ordered {
		g := stepGate(contact, steps, lastSend, now)
		if !g.ok {
			reason = fmt.Sprintf("contact %d: %s", contact.ID, g.reason)
			if g.invalid || g.until != nil {
				d := Deferral{ContactID: contact.ID, TimesContacted: contact.TimesContacted, Invalid: g.invalid}
				if g.until != nil {
					d.Until = *g.until
				}
				deferrals = append(deferrals, d)
			}
			continue
		}
		ringIdx, inRing := ring[contact.ID]
		if !inRing {
			ringIdx = -1
		}
		target := contact.TimesContacted
		return &Selection{
			Contact:   contact,
			Step:      steps[target],
			StepIndex: target,
			RingIndex: ringIdx,
		}, deferrals, nil
	}

	return nil, deferrals, Skip(StageSelectContact, reason)
}

type gateResult struct {
	ok      bool
	reason  string
	invalid bool       // the address can never be sent to
	until   *time.Time // earliest instant the contact can pass again
}

func rejected(reason string) gateResult {
	return gateResult{reason: reason}
}

// stepGate applies the eligibility, exhaustion and delay rules to one contact.
func stepGate(contact *models.Contact, steps []models.SequenceStep, lastSend LastSendLookup, now time.Time) gateResult {
	if contact.Status != models.ContactStatusActive {
		return rejected("status is " + contact.Status)
	}
	switch contact.EmailStatus {
	case models.EmailStatusBounced:
		return rejected("email bounced")
	case models.EmailStatusInvalid:
		return rejected("email address marked invalid")
	}
	if !contact.IsDue(now) {
		return rejected("scheduled for " + contact.Schedule.UTC().Format(time.RFC3339))
	}
	if !IsValidEmail(contact.Email) {
		return gateResult{reason: fmt.Sprintf("invalid email address %q", contact.Email), invalid: true}
	}

	target := contact.TimesContacted
	if target < 0 || target >= len(steps) {
		return rejected("sequence completed")
	}
	if target == 0 {
		return gateResult{ok: true}
	}

	prev, err := lastSend(contact.ID, target-1)
	if errors.Is(err, repository.ErrNotFound) {
		return gateResult{
			reason: fmt.Sprintf("no confirmed send of step %d", target-1),
			until:  Pointer(now.Add(missingSendRetry)),
		}
	}
	if err != nil {
		return rejected(fmt.Sprintf("could not read last send: %v", err))
	}

	wait := Days(steps[target-1].DelayDays)
	elapsed := now.Sub(prev.SentAt)
	if elapsed < wait {
		return gateResult{
			reason: fmt.Sprintf("need to wait %d more day(s)", DaysUntil(wait-elapsed)),
			until:  Pointer(prev.SentAt.Add(wait)),
		}
	}
	return gateResult{ok: true}
}

func ringPositions(campaign *models.Campaign) map[uint]int {
	pos := make(map[uint]int, len(campaign.ContactIDs))
	for i, id := range campaign.ContactIDs {
		if _, seen := pos[uint(id)]; !seen {
			pos[uint(id)] = i
		}
	}
	return pos
}

func orderCandidates(campaign *models.Campaign, candidates []models.Contact, ring map[uint]int) []*models.Contact {
	n := len(campaign.ContactIDs)
	start := models.ClampCursor(campaign.NextContactToUse, n)

	distance := func(c *models.Contact) int {
		idx, ok := ring[c.ID]
		if !ok {
			return n + int(c.ID)
		}
		return (idx - start + n) % n
	}

	ordered := make([]*models.Contact, len(candidates))
	for i := range candidates {
		ordered[i] = &candidates[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.Schedule == nil && b.Schedule != nil:
			return true
		case a.Schedule != nil && b.Schedule == nil:
			return false
		case a.Schedule != nil && !a.Schedule.Equal(*b.Schedule):
			return a.Schedule.Before(*b.Schedule)
		}
		return distance(a) < distance(b)
	})
	return ordered
}

// NextSchedule returns when the contact becomes due again after step
// stepIndex was sent at sentAt, or nil when the sequence is finished.
func NextSchedule(campaign *models.Campaign, stepIndex int, sentAt time.Time) *time.Time {
	steps := campaign.ActiveSequences()
	if stepIndex < 0 || stepIndex+1 >= len(steps) {
		return nil
	}
	next := sentAt.Add(Days(steps[stepIndex].DelayDays))
	return &next
}

// NextContactCursor is the contact cursor value to store after sending to
// ring index idx. Contacts outside the ring leave the cursor unchanged.
func NextContactCursor(campaign *models.Campaign, idx int) int {
	n := len(campaign.ContactIDs)
	if idx < 0 || n == 0 {
		return models.ClampCursor(campaign.NextContactToUse, n)
	}
	return (idx + 1) % n
}

// ContactSchedule is a recomputed schedule for one contact.
type ContactSchedule struct {
	ContactID           uint
	Schedule            *time.Time
	HasUpcomingSequence bool
}

// RescheduleContacts recomputes schedules after the sequence definition
// changed. A contact is due DelayDays of its last sent active step after it
// was last contacted, or now when it was never contacted.
func RescheduleContacts(campaign *models.Campaign, contacts []models.Contact, now time.Time) []ContactSchedule {
	steps := campaign.ActiveSequences()
	out := make([]ContactSchedule, 0, len(contacts))
	for i := range contacts {
		c := &contacts[i]
		upcoming := c.TimesContacted < len(steps)

		var schedule *time.Time
		switch {
		case !upcoming:
			schedule = c.Schedule
		case c.TimesContacted == 0 || c.LastContacted == nil:
			schedule = Pointer(now)
		default:
			due := c.LastContacted.Add(Days(steps[c.TimesContacted-1].DelayDays))
			schedule = &due
		}

		out = append(out, ContactSchedule{
			ContactID:           c.ID,
			Schedule:            schedule,
			HasUpcomingSequence: upcoming,
		})
	}
	return out
}
