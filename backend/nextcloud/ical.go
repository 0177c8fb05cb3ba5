package nextcloud

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"done/backend"
)

// =============================================================================
// VTODO Parsing and Generation
// =============================================================================

const (
	icalUTC  = "20060102T150405Z"
	icalDate = "20060102"
	prodID   = "-//done//done provider//EN"
)

// property is one content line: NAME;PARAMS:VALUE
type property struct {
	name   string
	params map[string]string
	value  string
}

// vtodo is a parsed VTODO with the parent UID from RELATED-TO.
type vtodo struct {
	task      backend.Task
	relatedTo string
}

// unfold joins folded lines (RFC 5545 section 3.1).
func unfold(data string) []string {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func parseLine(line string) property {
	// The value starts after the first colon outside a quoted parameter.
	inQuote := false
	colon := -1
	for i, r := range line {
		if r == '"' {
			inQuote = !inQuote
		}
		if r == ':' && !inQuote {
			colon = i
			break
		}
	}
	if colon < 0 {
		return property{name: strings.ToUpper(line)}
	}
	head, value := line[:colon], line[colon+1:]
	parts := strings.Split(head, ";")
	p := property{name: strings.ToUpper(parts[0]), value: value, params: map[string]string{}}
	for _, param := range parts[1:] {
		if k, v, ok := strings.Cut(param, "="); ok {
			p.params[strings.ToUpper(k)] = strings.Trim(v, `"`)
		}
	}
	return p
}

func unescapeText(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}

func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "\n", `\n`, ",", `\,`, ";", `\;`)
	return r.Replace(s)
}

// parseCalendarDate parses various iCalendar date formats. Floating times
// are read as UTC.
func parseCalendarDate(p property) (time.Time, error) {
	loc := time.UTC
	if tzid := p.params["TZID"]; tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	formats := []string{icalUTC, "20060102T150405", icalDate}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, p.value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", p.value)
}

func optionalDate(p property) *time.Time {
	t, err := parseCalendarDate(p)
	if err != nil {
		return nil
	}
	return &t
}

// priorityFromICal maps 1-4 to High, 5 and 0 to Normal, 6-9 to Low.
func priorityFromICal(v string) backend.Priority {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	switch {
	case err != nil || n == 0 || n == 5:
		return backend.PriorityNormal
	case n < 5:
		return backend.PriorityHigh
	default:
		return backend.PriorityLow
	}
}

func priorityToICal(p backend.Priority) int {
	switch p {
	case backend.PriorityHigh:
		return 1
	case backend.PriorityLow:
		return 9
	default:
		return 5
	}
}

var icalDays = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

// recurrenceFromRRule reads weekly rules. Other frequencies have no
// canonical equivalent and are dropped.
func recurrenceFromRRule(rule string) backend.Recurrence {
	var rec backend.Recurrence
	weekly := false
	for _, part := range strings.Split(rule, ";") {
		k, v, _ := strings.Cut(part, "=")
		switch strings.ToUpper(k) {
		case "FREQ":
			weekly = strings.EqualFold(v, "WEEKLY")
		case "BYDAY":
			for _, day := range strings.Split(v, ",") {
				day = strings.ToUpper(strings.TrimSpace(day))
				if len(day) > 2 {
					day = day[len(day)-2:]
				}
				if wd, ok := icalDays[day]; ok {
					rec = rec.With(wd)
				}
			}
		}
	}
	if !weekly {
		return 0
	}
	return rec
}

func recurrenceToRRule(r backend.Recurrence) string {
	var days []string
	for _, d := range r.Days() {
		days = append(days, strings.ToUpper(d.String()[:2]))
	}
	return "FREQ=WEEKLY;BYDAY=" + strings.Join(days, ",")
}

// parseVTODO parses the first VTODO of an iCalendar object. It never fails
// on unknown or malformed optional properties; a VTODO without UID is rejected.
func parseVTODO(data, listID string) (*vtodo, error) {
	var (
		out     vtodo
		inTodo  bool
		inAlarm bool
		found   bool
	)
	t := &out.task
	t.Parent = listID

	for _, line := range unfold(data) {
		p := parseLine(line)
		switch {
		case p.name == "BEGIN" && strings.EqualFold(p.value, "VTODO"):
			inTodo, found = true, true
			continue
		case p.name == "END" && strings.EqualFold(p.value, "VTODO"):
			inTodo = false
			continue
		case p.name == "BEGIN" && strings.EqualFold(p.value, "VALARM"):
			inAlarm = true
			continue
		case p.name == "END" && strings.EqualFold(p.value, "VALARM"):
			inAlarm = false
			continue
		}
		if !inTodo {
			continue
		}
		if inAlarm {
			// Only absolute triggers map to a reminder date.
			if p.name == "TRIGGER" && strings.EqualFold(p.params["VALUE"], "DATE-TIME") && t.ReminderDate == nil {
				t.SetReminder(optionalDate(p))
			}
			continue
		}

		switch p.name {
		case "UID":
			t.ID = p.value
		case "SUMMARY":
			t.Title = unescapeText(p.value)
		case "DESCRIPTION":
			t.Notes = unescapeText(p.value)
		case "STATUS":
			if strings.EqualFold(p.value, "COMPLETED") {
				t.Status = backend.StatusCompleted
			}
		case "PRIORITY":
			t.Priority = priorityFromICal(p.value)
		case "CATEGORIES":
			for _, c := range splitEscaped(p.value) {
				if c = strings.TrimSpace(unescapeText(c)); c != "" {
					t.Tags = append(t.Tags, c)
				}
			}
		case "DUE":
			t.DueDate = optionalDate(p)
		case "COMPLETED":
			t.CompletionDate = optionalDate(p)
		case "CREATED":
			if c := optionalDate(p); c != nil {
				t.CreatedDateTime = *c
			}
		case "LAST-MODIFIED":
			if m := optionalDate(p); m != nil {
				t.LastModifiedDateTime = *m
			}
		case "RRULE":
			t.Recurrence = recurrenceFromRRule(p.value)
		case "X-DONE-FAVORITE":
			t.Favorite = strings.EqualFold(p.value, "TRUE")
		case "RELATED-TO":
			if rel := p.params["RELTYPE"]; rel == "" || strings.EqualFold(rel, "PARENT") {
				out.relatedTo = p.value
			}
		}
	}

	if !found {
		return nil, fmt.Errorf("no VTODO component")
	}
	if t.ID == "" {
		return nil, fmt.Errorf("VTODO without UID")
	}
	ref := t.LastModifiedDateTime
	if ref.IsZero() {
		ref = time.Now()
	}
	t.Normalize(ref)
	return &out, nil
}

// splitEscaped splits a CATEGORIES value on commas not preceded by a backslash.
func splitEscaped(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == ',' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// fold splits a content line at 75 octets.
func fold(line string) string {
	if len(line) <= 75 {
		return line
	}
	var b strings.Builder
	for len(line) > 75 {
		cut := 75
		// Do not split a UTF-8 sequence.
		for cut > 0 && line[cut]&0xC0 == 0x80 {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
	}
	b.WriteString(line)
	return b.String()
}

// generateVTODO generates a VTODO iCalendar object from a Task. parentUID,
// when set, is written as RELATED-TO.
func generateVTODO(t *backend.Task, parentUID string, now time.Time) string {
	stamp := now.UTC().Format(icalUTC)
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
		"BEGIN:VTODO",
		"UID:" + t.ID,
		"DTSTAMP:" + stamp,
		"SUMMARY:" + escapeText(t.Title),
	}
	if t.Notes != "" {
		lines = append(lines, "DESCRIPTION:"+escapeText(t.Notes))
	}
	status := "NEEDS-ACTION"
	if t.Status == backend.StatusCompleted {
		status = "COMPLETED"
	}
	lines = append(lines, "STATUS:"+status)
	lines = append(lines, fmt.Sprintf("PRIORITY:%d", priorityToICal(t.Priority)))

	if len(t.Tags) > 0 {
		escaped := make([]string, len(t.Tags))
		for i, tag := range t.Tags {
			escaped[i] = escapeText(tag)
		}
		lines = append(lines, "CATEGORIES:"+strings.Join(escaped, ","))
	}
	if t.DueDate != nil {
		lines = append(lines, "DUE:"+t.DueDate.UTC().Format(icalUTC))
	}
	if t.Status == backend.StatusCompleted && t.CompletionDate != nil {
		lines = append(lines, "COMPLETED:"+t.CompletionDate.UTC().Format(icalUTC))
	}
	if !t.Recurrence.IsZero() {
		lines = append(lines, "RRULE:"+recurrenceToRRule(t.Recurrence))
	}
	if t.Favorite {
		lines = append(lines, "X-DONE-FAVORITE:TRUE")
	}
	if parentUID != "" {
		lines = append(lines, "RELATED-TO;RELTYPE=PARENT:"+parentUID)
	}

	created := t.CreatedDateTime
	if created.IsZero() {
		created = now
	}
	modified := t.LastModifiedDateTime
	if modified.IsZero() {
		modified = now
	}
	lines = append(lines,
		"CREATED:"+created.UTC().Format(icalUTC),
		"LAST-MODIFIED:"+modified.UTC().Format(icalUTC),
	)

	if t.ReminderDate != nil {
		lines = append(lines,
			"BEGIN:VALARM",
			"ACTION:DISPLAY",
			"DESCRIPTION:"+escapeText(t.Title),
			"TRIGGER;VALUE=DATE-TIME:"+t.ReminderDate.UTC().Format(icalUTC),
			"END:VALARM",
		)
	}
	lines = append(lines, "END:VTODO", "END:VCALENDAR")

	for i := range lines {
		lines[i] = fold(lines[i])
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}
