package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"outreach/models"
)

var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// LoadLocation resolves an IANA zone name. Unknown or empty names fall back
// to UTC and report ok=false.
func LoadLocation(timezone string) (*time.Location, bool) {
	if timezone == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// IsWithinSchedule reports whether nowUTC, seen in the owner's timezone, falls
// inside the campaign's sending window. The reason is always set.
//
// For an overnight window (start after end) the hours after midnight belong
// to the previous day's window, so the day check uses the previous weekday.
func IsWithinSchedule(schedule models.CampaignSchedule, nowUTC time.Time, timezone string) (bool, string) {
	loc, ok := LoadLocation(timezone)
	prefix := ""
	if !ok {
		prefix = fmt.Sprintf("unknown timezone %q, using UTC; ", timezone)
	}
	local := nowUTC.In(loc)

	startStr, endStr := schedule.SendingHours.Start, schedule.SendingHours.End
	if startStr == "" {
		startStr = models.DefaultSendingStart
	}
	if endStr == "" {
		endStr = models.DefaultSendingEnd
	}
	start, err := parseClock(startStr)
	if err != nil {
		return false, prefix + "sending hours misconfigured: " + err.Error()
	}
	end, err := parseClock(endStr)
	if err != nil {
		return false, prefix + "sending hours misconfigured: " + err.Error()
	}

	now := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()
	clock := local.Format("15:04")

	var inHours bool
	if start <= end {
		inHours = now >= start && now <= end
	} else {
		switch {
		case now >= start:
			inHours = true
		case now <= end:
			inHours = true
			weekday = (weekday + 6) % 7
		}
	}
	if !inHours {
		return false, fmt.Sprintf("%soutside sending hours: %s not in %s-%s", prefix, clock, startStr, endStr)
	}

	if !dayAllowed(schedule.SendingDays, weekday) {
		return false, fmt.Sprintf("%s%s is not a sending day", prefix, weekdayNames[weekday])
	}

	return true, fmt.Sprintf("%swithin schedule: %s %s in %s-%s", prefix, weekdayNames[weekday], clock, startStr, endStr)
}

func dayAllowed(days []int, weekday time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == int(weekday) {
			return true
		}
	}
	return false
}
