package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/scan-attendance/internal/models"
)

// SessionClock maps instants onto session dates in one fixed time zone.
type SessionClock struct {
	loc *time.Location
	now func() time.Time
}

// NewSessionClock loads the IANA zone tz. Empty or "Local" uses the host zone.
func NewSessionClock(tz string) (*SessionClock, error) {
	tz = strings.TrimSpace(tz)
	loc := time.Local
	if tz != "" && !strings.EqualFold(tz, "local") {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load attendance time zone %q: %w", tz, err)
		}
		loc = l
	}
	return &SessionClock{loc: loc, now: time.Now}, nil
}

// FixedSessionClock is a clock pinned to loc, used by tests and tools.
func FixedSessionClock(loc *time.Location, now func() time.Time) *SessionClock {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &SessionClock{loc: loc, now: now}
}

// Now returns the current instant.
func (c *SessionClock) Now() time.Time {
	return c.now()
}

// Location returns the session time zone.
func (c *SessionClock) Location() *time.Location {
	return c.loc
}

// SessionDate is the calendar date of t in the session time zone.
func (c *SessionClock) SessionDate(t time.Time) string {
	return t.In(c.loc).Format(models.SessionDateLayout)
}

// Today is the session date of the current instant.
func (c *SessionClock) Today() string {
	return c.SessionDate(c.now())
}

// parseSessionDate validates a YYYY-MM-DD date and returns it normalised.
func parseSessionDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	d, err := time.Parse(models.SessionDateLayout, raw)
	if err != nil {
		return "", validationError(err, "session date must be YYYY-MM-DD")
	}
	return d.Format(models.SessionDateLayout), nil
}
