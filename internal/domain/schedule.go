package domain

import (
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleKind tags which of the three mutually-exclusive schedule shapes
// a mission's "schedule" directive takes. Absent entirely means one-shot
// immediately on activation.
type ScheduleKind string

const (
	ScheduleNone  ScheduleKind = ""
	ScheduleCron  ScheduleKind = "cron"
	ScheduleDate  ScheduleKind = "date"
	ScheduleEvent ScheduleKind = "event"
)

// cronFieldKeys are the calendar fields the scheduler's cron trigger
// recognizes; the presence of any of them classifies a schedule as cron.
var cronFieldKeys = []string{
	"year", "month", "day", "week", "day_of_week",
	"hour", "minute", "second", "start_date", "end_date",
}

// ScheduleSpec is the decoded "schedule" block of a mission. Exactly one of
// Cron, RunDate, or Event is meaningful, selected by Kind.
type ScheduleSpec struct {
	Kind ScheduleKind

	Cron CronSpec

	RunDate time.Time // zero value means "now"

	EventSource string
	EventName   string

	raw map[string]interface{}
}

// CronSpec holds the calendar fields bounding a recurring fire, each either
// a literal int, a cron-style field string (e.g. "*/5"), or unset (empty).
type CronSpec struct {
	Year, Month, Day, Week, DayOfWeek string
	Hour, Minute, Second              string
	StartDate, EndDate                *time.Time
}

// UnmarshalYAML classifies the schedule document by which keys are present:
// any calendar field present ⇒ cron; {source, event} ⇒ event; otherwise,
// if a run_date is present use it, else treat as "date" (now).
func (s *ScheduleSpec) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.raw = raw

	if src, ok := raw["source"].(string); ok {
		if ev, ok := raw["event"].(string); ok {
			s.Kind = ScheduleEvent
			s.EventSource = src
			s.EventName = ev
			return nil
		}
	}

	for _, k := range cronFieldKeys {
		if _, ok := raw[k]; ok {
			s.Kind = ScheduleCron
			s.Cron = decodeCronSpec(raw)
			return nil
		}
	}

	s.Kind = ScheduleDate
	if rd, ok := raw["run_date"].(string); ok && rd != "" && rd != "now" {
		if t, err := time.Parse(time.RFC3339, rd); err == nil {
			s.RunDate = t
		}
	}
	return nil
}

func decodeCronSpec(raw map[string]interface{}) CronSpec {
	field := func(key string) string {
		switch v := raw[key].(type) {
		case string:
			return v
		case int:
			return strconv.Itoa(v)
		}
		return ""
	}
	date := func(key string) *time.Time {
		if v, ok := raw[key].(string); ok && v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return &t
			}
		}
		return nil
	}
	return CronSpec{
		Year:      field("year"),
		Month:     field("month"),
		Day:       field("day"),
		Week:      field("week"),
		DayOfWeek: field("day_of_week"),
		Hour:      field("hour"),
		Minute:    field("minute"),
		Second:    field("second"),
		StartDate: date("start_date"),
		EndDate:   date("end_date"),
	}
}

// Raw returns the schedule document as written in the mission YAML, for
// status projections that report when a mission fires, not just how it is
// triggered. Nil for a ScheduleSpec built in code rather than decoded.
func (s *ScheduleSpec) Raw() map[string]interface{} {
	if s == nil {
		return nil
	}
	return s.raw
}

// IsOneShot reports whether the schedule fires exactly once: a date
// trigger, or no schedule at all. These are the schedules a mission
// self-deactivates after, since there is no future fire to stay armed for.
func (s *ScheduleSpec) IsOneShot() bool {
	if s == nil {
		return true
	}
	return s.Kind == ScheduleDate || s.Kind == ScheduleNone
}
