// Package scheduler triggers jobs on a wall-clock cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	"NewsDigest/internal/ports"
)

// DailyScheduler fires once a day at a fixed time of day in its timezone.
type DailyScheduler struct {
	hour     int
	minute   int
	location *time.Location
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// NewDailyScheduler parses an HH:MM clock in the named IANA timezone.
func NewDailyScheduler(clock, timezone string) (*DailyScheduler, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &DailyScheduler{hour: hour, minute: minute, location: loc, now: time.Now}, nil
}

// ParseClock splits "HH:MM" into hour and minute.
func ParseClock(clock string) (int, int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, 0, fmt.Errorf("parse run time %q: %w", clock, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun returns the first trigger strictly after now.
func (d *DailyScheduler) NextRun(now time.Time) time.Time {
	local := now.In(d.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.location)
	}
	return next
}

// Start runs job at every trigger until ctx ends or Stop is called.
func (d *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop, d.done = stop, done

	go func() {
		defer close(done)
		for {
			timer := time.NewTimer(d.NextRun(d.now()).Sub(d.now()))
			select {
			case t := <-timer.C:
				job(t)
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			}
		}
	}()

	return nil
}

// Stop halts the trigger goroutine and waits for a running job to return.
func (d *DailyScheduler) Stop(ctx context.Context) error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}

	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
