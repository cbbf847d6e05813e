package handoff

import (
	"fmt"
	"time"
)

// Window is one weekday's open interval, times in the tenant's zone as
// "15:04" strings. Start inclusive, End exclusive.
type Window struct {
	Weekday time.Weekday `json:"weekday" yaml:"weekday"`
	Start   string       `json:"start" yaml:"start"`
	End     string       `json:"end" yaml:"end"`
}

// BusinessHours is a tenant's availability schedule. An empty window list
// means agents are reachable around the clock.
type BusinessHours struct {
	Timezone string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Windows  []Window `json:"windows,omitempty" yaml:"windows,omitempty"`
}

// Validate checks the timezone and every window's time strings. Called at
// config load so schedule errors surface before any call needs them.
func (h BusinessHours) Validate() error {
	if _, err := h.location(); err != nil {
		return err
	}
	for _, w := range h.Windows {
		start, err := parseClock(w.Start)
		if err != nil {
			return fmt.Errorf("window %v start: %w", w.Weekday, err)
		}
		end, err := parseClock(w.End)
		if err != nil {
			return fmt.Errorf("window %v end: %w", w.Weekday, err)
		}
		if end <= start {
			return fmt.Errorf("window %v: end %q not after start %q", w.Weekday, w.End, w.Start)
		}
	}
	return nil
}

// Open reports whether t falls inside any configured window.
func (h BusinessHours) Open(t time.Time) bool {
	if len(h.Windows) == 0 {
		return true
	}
	loc, err := h.location()
	if err != nil {
		// Invalid zone should have been rejected at load. Fail open so a
		// config slip degrades to "try presence" rather than "never transfer".
		loc = time.UTC
	}
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	for _, w := range h.Windows {
		if w.Weekday != local.Weekday() {
			continue
		}
		start, err1 := parseClock(w.Start)
		end, err2 := parseClock(w.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if minutes >= start && minutes < end {
			return true
		}
	}
	return false
}

func (h BusinessHours) location() (*time.Location, error) {
	if h.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return nil, fmt.Errorf("business hours timezone %q: %w", h.Timezone, err)
	}
	return loc, nil
}

// parseClock converts "15:04" to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
