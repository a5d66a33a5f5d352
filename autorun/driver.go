/*Package autorun runs the measurement loop: wait for the next trigger,
render the form, submit it to the instrument, repeat.

The loop is strictly sequential.  The instrument executes one SIP run at a
time and accepts one form submission at a time, so there is never a second
submission in flight.
*/
package autorun

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/geophys-tools/autosip/schedule"
	"github.com/geophys-tools/autosip/sip"
)

// State of the driver loop, visible through Status.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StateSubmitting State = "submitting"
	StateTerminated State = "terminated"
)

// DefaultFailureLimit is how many consecutive failed slots abort a campaign
// when the driver is not told otherwise.  Skipping single slots is fine;
// an unreachable instrument should not fail silently forever.
const DefaultFailureLimit = 3

// Status is a snapshot of driver progress, served by the status endpoint.
type Status struct {
	State     State     `json:"state"`
	NextRun   time.Time `json:"next_run"`
	LastRun   string    `json:"last_run,omitempty"`
	Submitted int       `json:"submitted"`
	Skipped   int       `json:"skipped"`
	Failures  int       `json:"consecutive_failures"`
	LastError string    `json:"last_error,omitempty"`
}

// Driver executes measurement runs in schedule order.
type Driver struct {
	// Ticks supplies the trigger times.
	Ticks *schedule.Sequence

	// Plan renders the form payload for each trigger.
	Plan sip.Plan

	// Transport carries submissions to the instrument.
	Transport sip.Transport

	// Log receives progress lines; nil discards them.
	Log *log.Logger

	// FailureLimit overrides DefaultFailureLimit when positive.
	FailureLimit int

	// Clock abstracts waiting; nil means the system clock.
	Clock Clock

	mu sync.Mutex
	st Status
}

// Status returns a copy of the current driver status.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.st
	if st.State == "" {
		st.State = StateIdle
	}
	return st
}

func (d *Driver) update(fn func(*Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.st)
}

// Run drives the loop until ctx is cancelled or the failure limit is hit.
// Cancellation is cooperative: it is honored while waiting and before each
// submission, and a submission already in flight completes first.  A
// cancelled context is a graceful stop and returns nil; hitting the failure
// limit returns an error.
func (d *Driver) Run(ctx context.Context) error {
	lg := d.Log
	if lg == nil {
		lg = log.New(io.Discard, "", 0)
	}
	clock := d.Clock
	if clock == nil {
		clock = systemClock{}
	}
	limit := d.FailureLimit
	if limit <= 0 {
		limit = DefaultFailureLimit
	}

	consecutive := 0
	for {
		next := d.Ticks.Next()
		d.update(func(s *Status) { s.State = StateWaiting; s.NextRun = next })
		lg.Printf("waiting until %s for next measurement", next.UTC().Format(time.RFC3339))
		if err := clock.SleepUntil(ctx, next); err != nil {
			d.update(func(s *Status) { s.State = StateTerminated })
			lg.Printf("stop requested, exiting")
			return nil
		}
		if ctx.Err() != nil {
			d.update(func(s *Status) { s.State = StateTerminated })
			lg.Printf("stop requested, exiting")
			return nil
		}

		d.update(func(s *Status) { s.State = StateSubmitting })
		req := d.Plan.Build(next)
		err := d.submit(ctx, lg, req)
		if err != nil {
			if ctx.Err() != nil {
				d.update(func(s *Status) { s.State = StateTerminated })
				lg.Printf("stop requested, exiting")
				return nil
			}
			consecutive++
			d.update(func(s *Status) {
				s.Failures = consecutive
				s.Skipped++
				s.LastError = err.Error()
			})
			lg.Printf("measurement %s failed, skipping this slot: %v", req.Name, err)
			if consecutive >= limit {
				d.update(func(s *Status) { s.State = StateTerminated })
				return fmt.Errorf("%d consecutive submission failures, giving up: %w", consecutive, err)
			}
			continue
		}
		consecutive = 0
		d.update(func(s *Status) {
			s.Failures = 0
			s.Submitted++
			s.LastRun = req.Name
			s.LastError = ""
		})
		lg.Printf("measurement submitted successfully to file %s", req.Name)
	}
}

// submit probes readiness, then posts.  The probe runs under the loop
// context so a stop request aborts it, but the POST itself runs to
// completion: half-delivered cancellations against a physical instrument
// are worse than a short wait at exit.
func (d *Driver) submit(ctx context.Context, lg *log.Logger, req sip.RunRequest) error {
	if err := d.Transport.Ready(ctx); err != nil {
		return err
	}
	lg.Printf("starting measurement %s, channels %s", req.Name, d.Plan.Channels)
	return d.Transport.Submit(context.WithoutCancel(ctx), req)
}
