package services

import (
	"fmt"
	"time"
)

// Punctuality of a duty start relative to the beat's duty window
const (
	StartOnTime   = "ontime"
	StartLate     = "late"
	StartNoWindow = "unscheduled"
)

// gracePeriod is how long after the scheduled start a duty start still counts as on time
const gracePeriod = 5 * time.Minute

// parseDutyTime accepts "15:04:05" and "15:04"
func parseDutyTime(s string) (time.Time, bool) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func scheduledStart(now time.Time, dutyStartTime string) (time.Time, bool) {
	start, ok := parseDutyTime(dutyStartTime)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(
		now.Year(),
		now.Month(),
		now.Day(),
		start.Hour(),
		start.Minute(),
		start.Second(),
		0,
		now.Location(),
	), true
}

// calculateStatus classifies a duty start against the beat's scheduled start
func calculateStatus(startedAt time.Time, dutyStartTime string) string {
	scheduled, ok := scheduledStart(startedAt, dutyStartTime)
	if !ok {
		return StartNoWindow
	}
	if startedAt.Before(scheduled.Add(gracePeriod)) {
		return StartOnTime
	}
	return StartLate
}

// calculateLateStatus renders how late a duty start was
func calculateLateStatus(startedAt time.Time, dutyStartTime string) string {
	scheduled, ok := scheduledStart(startedAt, dutyStartTime)
	if !ok {
		return "late"
	}
	lateMinutes := int(startedAt.Sub(scheduled).Minutes())
	return fmt.Sprintf("late by %d min", lateMinutes)
}
