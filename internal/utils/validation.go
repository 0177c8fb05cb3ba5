package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"done/backend"
)

// relativePattern matches relative date formats like +7d, -3d, +2w, +1m
var relativePattern = regexp.MustCompile(`^([+-])(\d+)([dwm])$`)

// parseRelativeDate parses relative date strings like "today", "tomorrow", "yesterday", "+7d", "-3d", "+2w", "+1m".
// Returns nil if the string is not a relative date format.
// Returns the calculated time and nil for valid relative dates.
// Returns nil and error for invalid relative date values.
func parseRelativeDate(dateStr string) (*time.Time, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

	lower := strings.ToLower(dateStr)

	switch lower {
	case "today":
		return &today, nil
	case "tomorrow":
		t := today.AddDate(0, 0, 1)
		return &t, nil
	case "yesterday":
		t := today.AddDate(0, 0, -1)
		return &t, nil
	}

	// Check for relative format (+/-Nd, +/-Nw, +/-Nm)
	matches := relativePattern.FindStringSubmatch(lower)
	if matches == nil {
		return nil, nil // Not a relative format
	}

	sign := matches[1]
	numStr := matches[2]
	unit := matches[3]

	num, err := strconv.Atoi(numStr)
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}

	if sign == "-" {
		num = -num
	}

	var result time.Time
	switch unit {
	case "d":
		result = today.AddDate(0, 0, num)
	case "w":
		result = today.AddDate(0, 0, num*7)
	case "m":
		result = today.AddDate(0, num, 0)
	}

	return &result, nil
}

// ParseDateFlag parses a date string supporting both relative and absolute formats.
// Supported relative formats: today, tomorrow, yesterday, +Nd, -Nd, +Nw, +Nm
// Supported absolute formats: YYYY-MM-DD, YYYY-MM-DD HH:MM
// Returns nil, nil for empty string (clear date).
// Returns parsed time and nil for valid date.
// Returns nil and error for invalid date.
func ParseDateFlag(dateStr string) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}

	// Try relative date first
	t, err := parseRelativeDate(dateStr)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}

	// Fall back to absolute date parsing in local timezone
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", "2006-01-02T15:04"} {
		if parsed, err := time.ParseInLocation(layout, dateStr, time.Local); err == nil {
			return &parsed, nil
		}
	}
	return nil, ErrInvalidDate(dateStr)
}

// ParseRecurrenceFlag parses a comma-separated weekday list such as "mon,thu".
// "daily" selects every day and "none" or an empty string clears the recurrence.
func ParseRecurrenceFlag(value string) (backend.Recurrence, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "", "none":
		return 0, nil
	case "daily", "everyday":
		return backend.EveryDay, nil
	case "weekdays":
		return backend.RecurrenceOf(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday), nil
	}

	var r backend.Recurrence
	for _, part := range strings.Split(value, ",") {
		d, err := backend.ParseWeekday(part)
		if err != nil {
			return 0, WrapWithSuggestion(err, "Use weekday names such as mon,wed,fri, or daily")
		}
		r = r.With(d)
	}
	return r, nil
}

// ValidateReminder validates that a reminder does not fire after the due date.
// Nil dates are considered valid.
func ValidateReminder(reminder, due *time.Time) error {
	if reminder == nil || due == nil {
		return nil
	}

	if reminder.After(*due) {
		return fmt.Errorf("%w: reminder cannot be after due date", backend.ErrInvalidArgument)
	}

	return nil
}
