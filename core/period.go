package core

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Inclusive range of calendar days
// =============================================================================

// Period is an inclusive range of calendar days [Start, End] in UTC.
// Reports are always computed for a period.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod truncates both bounds to the day.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: Day(start), End: Day(end)}
	if p.End.Before(p.Start) {
		return Period{}, &ValidationError{Field: "period", Reason: "end before start"}
	}
	return p, nil
}

// Range converts the inclusive day range into a half-open time range.
func (p Period) Range() TimeRange {
	return TimeRange{From: p.Start, To: p.End.AddDate(0, 0, 1)}
}

func (p Period) Contains(t time.Time) bool { return p.Range().Contains(t) }

func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ", " + p.End.Format(DateLayout) + "]"
}

// Split partitions the period at the given days. Each cut starts a new
// sub-period; cuts outside (Start, End] are ignored.
func (p Period) Split(cuts ...time.Time) []Period {
	var out []Period
	start := p.Start
	for _, c := range cuts {
		c = Day(c)
		if !c.After(start) || c.After(p.End) {
			continue
		}
		out = append(out, Period{Start: start, End: c.AddDate(0, 0, -1)})
		start = c
	}
	return append(out, Period{Start: start, End: p.End})
}

// =============================================================================
// PRESETS - day / week / month / year / custom
// =============================================================================

type Preset string

const (
	PresetDay    Preset = "day"
	PresetWeek   Preset = "week"
	PresetMonth  Preset = "month"
	PresetYear   Preset = "year"
	PresetCustom Preset = "custom"
)

// PeriodFor resolves a preset relative to ref. Weeks start on Monday and
// every preset ends on ref's day. Custom requires start and end.
func PeriodFor(preset Preset, ref time.Time, start, end *time.Time) (Period, error) {
	today := Day(ref)
	switch Preset(strings.ToLower(string(preset))) {
	case PresetDay:
		return Period{Start: today, End: today}, nil
	case PresetWeek:
		offset := (int(today.Weekday()) + 6) % 7
		return Period{Start: today.AddDate(0, 0, -offset), End: today}, nil
	case "", PresetMonth:
		return Period{Start: StartOfMonth(today), End: today}, nil
	case PresetYear:
		return Period{Start: time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), End: today}, nil
	case PresetCustom:
		if start == nil || end == nil {
			return Period{}, &ValidationError{Field: "period", Reason: "custom period needs start and end"}
		}
		return NewPeriod(*start, *end)
	default:
		return Period{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("unknown preset %q", preset)}
	}
}

// =============================================================================
// SCOPE - Which employee a report covers
// =============================================================================

// Scope restricts reports to one employee. The zero value covers everyone.
type Scope struct {
	EmployeeID string
}

func AllEmployees() Scope              { return Scope{} }
func EmployeeScope(id string) Scope    { return Scope{EmployeeID: id} }
func (s Scope) IsAll() bool            { return s.EmployeeID == "" }
func (s Scope) matches(id string) bool { return s.IsAll() || s.EmployeeID == id }

// ScopeFor resolves the scope an actor may see. Regular actors are always
// restricted to themselves; admins get what they asked for.
func ScopeFor(actor Actor, requested string) Scope {
	if !actor.IsAdmin() {
		return EmployeeScope(actor.ID)
	}
	return Scope{EmployeeID: requested}
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

const DateLayout = "2006-01-02"

func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths moves a month start by n months without day overflow.
func AddMonths(monthStart time.Time, n int) time.Time {
	return time.Date(monthStart.Year(), monthStart.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
}

func EndOfMonth(t time.Time) time.Time {
	return AddMonths(StartOfMonth(t), 1).AddDate(0, 0, -1)
}
