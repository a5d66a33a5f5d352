// Package schedule computes the trigger times for periodic measurement runs.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/geophys-tools/autosip/sip"
)

var intervalPat = regexp.MustCompile(`^([0-2]?[0-9]):([0-5][0-9])$`)

// ParseInterval converts an H:MM string such as "1:00" or "0:30" into a
// duration.  Anything outside that grammar, and a zero interval, is a
// configuration error and reported here, before any scheduling happens.
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPat.FindStringSubmatch(s)
	if m == nil {
		return 0, &sip.ConfigError{Source: "--interval", Reason: fmt.Sprintf("invalid interval %q, want H:MM", s)}
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if d <= 0 {
		return 0, &sip.ConfigError{Source: "--interval", Reason: "interval must be greater than zero"}
	}
	return d, nil
}

// Spec describes a run schedule.
type Spec struct {
	// Start is the earliest permissible first run.
	Start time.Time

	// Interval is the spacing between runs, > 0.
	Interval time.Duration

	// AlignFullHours snaps the first run to the next full clock hour
	// (or Start itself when it already is one).
	AlignFullHours bool
}

// Sequence returns the infinite sequence of trigger times for the spec.
// Tick n is first + n*Interval; the sequence is restartable only by building
// a fresh one from the spec.
func (s Spec) Sequence() (*Sequence, error) {
	if s.Interval <= 0 {
		return nil, &sip.ConfigError{Source: "--interval", Reason: "interval must be greater than zero"}
	}
	first := s.Start
	if s.AlignFullHours {
		first = nextFullHour(first)
	}
	return &Sequence{next: first, interval: s.Interval}, nil
}

// nextFullHour returns the smallest instant >= t whose minute and second
// components are zero.
func nextFullHour(t time.Time) time.Time {
	trunc := t.Truncate(time.Hour)
	if trunc.Equal(t) {
		return t
	}
	return trunc.Add(time.Hour)
}

// Sequence yields trigger times, one per Next call.  It never ends and holds
// no state beyond the upcoming tick.
type Sequence struct {
	next     time.Time
	interval time.Duration
}

// Next returns the upcoming trigger time and advances the sequence.
func (q *Sequence) Next() time.Time {
	t := q.next
	q.next = t.Add(q.interval)
	return t
}
