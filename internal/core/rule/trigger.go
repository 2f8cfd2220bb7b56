package rule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
)

// Frequency is the period of a schedule trigger.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// IsValid reports whether f is a known frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly:
		return true
	}
	return false
}

// Day accepts either a number or a string in JSON. Weekly schedules use a weekday
// name or 0-6 (Sunday = 0); monthly schedules use a day of month 1-31.
type Day string

// UnmarshalJSON accepts numbers and strings.
func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = Day(strings.ToLower(strings.TrimSpace(s)))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("day must be a string or number")
	}
	*d = Day(n.String())
	return nil
}

// ScheduleConfig is the trigger config of a schedule rule.
type ScheduleConfig struct {
	Frequency Frequency `json:"frequency"`
	Day       Day       `json:"day,omitempty"`
	Time      string    `json:"time"`
}

// EventConfig is the trigger config of an event rule. Every key besides "event" is a
// match criterion: "min_<field>" and "max_<field>" bound numeric fields, any other
// key must equal the event's field.
type EventConfig struct {
	Event    string         `json:"event"`
	Criteria map[string]any `json:"-"`
}

// UnmarshalJSON splits the event name from the match criteria.
func (c *EventConfig) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name, _ := raw["event"].(string)
	delete(raw, "event")
	c.Event = name
	c.Criteria = raw
	return nil
}

// Operator compares a metric value with a threshold.
type Operator string

const (
	OpLess         Operator = "<"
	OpGreater      Operator = ">"
	OpEqual        Operator = "="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// IsValid reports whether o is a known operator.
func (o Operator) IsValid() bool {
	switch o {
	case OpLess, OpGreater, OpEqual, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Compare applies the operator to (value op threshold).
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpLess:
		return value < threshold
	case OpGreater:
		return value > threshold
	case OpEqual:
		return value == threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	}
	return false
}

// DefaultWindow is used by threshold rules that do not name a window.
const DefaultWindow = time.Hour

// ThresholdConfig is the trigger config of a threshold rule.
type ThresholdConfig struct {
	Metric   string   `json:"metric"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
	Window   string   `json:"window,omitempty"`
}

// WindowDuration parses Window, falling back to DefaultWindow.
func (c ThresholdConfig) WindowDuration() time.Duration {
	d, err := ParseWindow(c.Window)
	if err != nil || d <= 0 {
		return DefaultWindow
	}
	return d
}

// ParseWindow parses Go durations plus a "d" (day) and "w" (week) suffix.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			v, err := strconv.Atoi(n)
			if err != nil || v <= 0 {
				return 0, fmt.Errorf("invalid window %q", s)
			}
			return time.Duration(v) * unit, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q", s)
	}
	return d, nil
}

// Schedule decodes the trigger config of a schedule rule.
func (r Rule) Schedule() (ScheduleConfig, error) {
	var c ScheduleConfig
	if err := json.Unmarshal(r.TriggerConfig, &c); err != nil {
		return c, fmt.Errorf("decode schedule config: %w", err)
	}
	return c, nil
}

// EventTrigger decodes the trigger config of an event rule.
func (r Rule) EventTrigger() (EventConfig, error) {
	var c EventConfig
	if err := json.Unmarshal(r.TriggerConfig, &c); err != nil {
		return c, fmt.Errorf("decode event config: %w", err)
	}
	return c, nil
}

// Threshold decodes the trigger config of a threshold rule.
func (r Rule) Threshold() (ThresholdConfig, error) {
	var c ThresholdConfig
	if err := json.Unmarshal(r.TriggerConfig, &c); err != nil {
		return c, fmt.Errorf("decode threshold config: %w", err)
	}
	return c, nil
}

// Validate checks required fields and the trigger config for the rule's trigger type.
// Failures are classified as apperr.ErrInvalidArgument.
func (r Rule) Validate() error {
	err := criterio.ValidateStruct(
		criterio.Run("moduleId", r.ModuleID, required),
		criterio.Run("name", r.Name, required),
		criterio.Run("actionType", r.ActionType, required),
		criterio.Run("triggerType", string(r.TriggerType), validTriggerType),
		criterio.Run("status", string(r.Status), validStatus),
		r.validateActionConfig(),
		r.validateTrigger(),
	)
	return apperr.Invalid(err)
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func validTriggerType(t string) error {
	if !TriggerType(t).IsValid() {
		return fmt.Errorf("must be one of schedule, event, threshold")
	}
	return nil
}

func validStatus(s string) error {
	if !Status(s).IsValid() {
		return fmt.Errorf("must be active or inactive")
	}
	return nil
}

func (r Rule) validateActionConfig() error {
	if len(r.ActionConfig) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(r.ActionConfig, &obj); err != nil {
		return criterio.NewFieldErrors("actionConfig", fmt.Errorf("must be a JSON object"))
	}

	h, err := r.Hints()
	if err != nil {
		return criterio.NewFieldErrors("actionConfig", err)
	}
	var errs criterio.FieldErrorsBuilder
	if h.Priority != "" && !approval.Priority(h.Priority).IsValid() {
		errs = errs.Append("actionConfig.priority", fmt.Errorf("must be one of urgent, high, medium, low"))
	}
	if h.Confidence != nil && (*h.Confidence < 0 || *h.Confidence > 1) {
		errs = errs.Append("actionConfig.confidence", fmt.Errorf("must be between 0 and 1"))
	}
	return errs.ToError()
}

func (r Rule) validateTrigger() error {
	if len(r.TriggerConfig) == 0 {
		return criterio.NewFieldErrors("triggerConfig", fmt.Errorf("is required"))
	}

	var errs criterio.FieldErrorsBuilder
	switch r.TriggerType {
	case TriggerSchedule:
		c, err := r.Schedule()
		if err != nil {
			return criterio.NewFieldErrors("triggerConfig", err)
		}
		if !c.Frequency.IsValid() {
			errs = errs.Append("triggerConfig.frequency", fmt.Errorf("must be one of daily, weekly, biweekly, monthly"))
		}
		if _, _, err := parseClock(c.Time); err != nil {
			errs = errs.Append("triggerConfig.time", err)
		}
		switch c.Frequency {
		case Weekly, Biweekly:
			if _, err := c.weekday(); err != nil {
				errs = errs.Append("triggerConfig.day", err)
			}
		case Monthly:
			if _, err := c.monthDay(); err != nil {
				errs = errs.Append("triggerConfig.day", err)
			}
		}
	case TriggerEvent:
		c, err := r.EventTrigger()
		if err != nil {
			return criterio.NewFieldErrors("triggerConfig", err)
		}
		if strings.TrimSpace(c.Event) == "" {
			errs = errs.Append("triggerConfig.event", fmt.Errorf("is required"))
		} else if !doublestar.ValidatePattern(c.Event) {
			errs = errs.Append("triggerConfig.event", fmt.Errorf("invalid event pattern %q", c.Event))
		}
	case TriggerThreshold:
		c, err := r.Threshold()
		if err != nil {
			return criterio.NewFieldErrors("triggerConfig", err)
		}
		if strings.TrimSpace(c.Metric) == "" {
			errs = errs.Append("triggerConfig.metric", fmt.Errorf("is required"))
		}
		if !c.Operator.IsValid() {
			errs = errs.Append("triggerConfig.operator", fmt.Errorf("must be one of <, >, =, >=, <="))
		}
		if _, err := ParseWindow(c.Window); err != nil {
			errs = errs.Append("triggerConfig.window", err)
		}
	}
	return errs.ToError()
}

// parseClock parses "HH:MM"; an empty string means midnight.
func parseClock(s string) (int, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func (c ScheduleConfig) weekday() (time.Weekday, error) {
	if c.Day == "" {
		return time.Monday, nil
	}
	if wd, ok := weekdays[string(c.Day)]; ok {
		return wd, nil
	}
	n, err := strconv.Atoi(string(c.Day))
	if err != nil || n < 0 || n > 6 {
		return 0, fmt.Errorf("day %q must be a weekday name or 0-6", c.Day)
	}
	return time.Weekday(n), nil
}

func (c ScheduleConfig) monthDay() (int, error) {
	if c.Day == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(string(c.Day))
	if err != nil || n < 1 || n > 31 {
		return 0, fmt.Errorf("day %q must be a day of month 1-31", c.Day)
	}
	return n, nil
}

// LatestOccurrence returns the most recent scheduled instant at or before now, in loc.
func (c ScheduleConfig) LatestOccurrence(now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	hour, minute, err := parseClock(c.Time)
	if err != nil {
		return time.Time{}, err
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)

	switch c.Frequency {
	case Daily:
		if today.After(now) {
			today = today.AddDate(0, 0, -1)
		}
		return today, nil
	case Weekly, Biweekly:
		wd, err := c.weekday()
		if err != nil {
			return time.Time{}, err
		}
		back := (int(now.Weekday()) - int(wd) + 7) % 7
		occ := today.AddDate(0, 0, -back)
		if occ.After(now) {
			occ = occ.AddDate(0, 0, -7)
		}
		return occ, nil
	case Monthly:
		dom, err := c.monthDay()
		if err != nil {
			return time.Time{}, err
		}
		occ := monthOccurrence(now.Year(), now.Month(), dom, hour, minute, loc)
		if occ.After(now) {
			prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
			occ = monthOccurrence(prev.Year(), prev.Month(), dom, hour, minute, loc)
		}
		return occ, nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", c.Frequency)
}

// monthOccurrence clamps dom to the month's length.
func monthOccurrence(year int, month time.Month, dom, hour, minute int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if dom > last {
		dom = last
	}
	return time.Date(year, month, dom, hour, minute, 0, 0, loc)
}

// Due reports whether a schedule rule should fire at now. A rule fires at most once
// per period: the latest occurrence must be later than the previous firing, or later
// than the rule's creation when it has never fired. Biweekly rules skip every other
// weekly occurrence.
func (c ScheduleConfig) Due(now time.Time, lastTriggered *time.Time, createdAt time.Time, loc *time.Location) (bool, error) {
	occ, err := c.LatestOccurrence(now, loc)
	if err != nil {
		return false, err
	}
	if lastTriggered == nil {
		return createdAt.Before(occ) || createdAt.Equal(occ), nil
	}
	if c.Frequency == Biweekly {
		return lastTriggered.Before(occ.AddDate(0, 0, -7)), nil
	}
	return lastTriggered.Before(occ), nil
}

// Event is a domain event emitted by a producing module.
type Event struct {
	Name     string         `json:"event"`
	ModuleID string         `json:"moduleId,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Matches reports whether ev satisfies the event name pattern and every criterion.
func (c EventConfig) Matches(ev Event) bool {
	ok, err := doublestar.Match(c.Event, ev.Name)
	if err != nil || !ok {
		return false
	}

	for key, want := range c.Criteria {
		switch {
		case strings.HasPrefix(key, "min_"):
			got, ok := number(ev.Data[strings.TrimPrefix(key, "min_")])
			bound, bok := number(want)
			if !ok || !bok || got < bound {
				return false
			}
		case strings.HasPrefix(key, "max_"):
			got, ok := number(ev.Data[strings.TrimPrefix(key, "max_")])
			bound, bok := number(want)
			if !ok || !bok || got > bound {
				return false
			}
		default:
			if fmt.Sprint(ev.Data[key]) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
