// Package timeguard validates time windows and rejects implausible clock input.
package timeguard

import (
	"time"

	"guildhall.org/internal/errs"
)

var (
	ErrInvalidWindow   = errs.New(errs.Validation, "invalid_window", "window end must be after start")
	ErrWindowTooShort  = errs.New(errs.Validation, "window_too_short", "window shorter than allowed minimum")
	ErrWindowTooLong   = errs.New(errs.Validation, "window_too_long", "window longer than allowed maximum")
	ErrStartInPast     = errs.New(errs.Validation, "start_in_past", "start time is in the past")
	ErrTooFarInPast    = errs.New(errs.Validation, "timestamp_too_old", "timestamp implausibly far in the past")
	ErrTooFarInFuture  = errs.New(errs.Validation, "timestamp_too_far", "timestamp implausibly far in the future")
	ErrClockRegression = errs.New(errs.Consistency, "clock_regression", "clock moved backwards")
)

// Bounds limits a duration to [Min, Max]. A zero Max means unbounded.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

func (b Bounds) check(d time.Duration) error {
	if d < b.Min {
		return errs.Wrapf(ErrWindowTooShort, "%s < %s", d, b.Min)
	}
	if b.Max > 0 && d > b.Max {
		return errs.Wrapf(ErrWindowTooLong, "%s > %s", d, b.Max)
	}
	return nil
}

// Guard holds the configured limits.
type Guard struct {
	// Voting bounds a proposal's voting period.
	Voting Bounds
	// Lock bounds vesting-like periods such as execution windows.
	Lock Bounds
	// MaxPast and MaxFuture bound how far a supplied timestamp may sit from now.
	MaxPast   time.Duration
	MaxFuture time.Duration
	// Tolerance absorbs clock skew in elapsed checks and regression detection.
	Tolerance time.Duration
}

// Default returns the guard used when nothing is configured.
func Default() Guard {
	return Guard{
		Voting:    Bounds{Min: time.Hour, Max: 30 * 24 * time.Hour},
		Lock:      Bounds{Min: time.Hour, Max: 4 * 365 * 24 * time.Hour},
		MaxPast:   5 * time.Minute,
		MaxFuture: 365 * 24 * time.Hour,
		Tolerance: 15 * time.Second,
	}
}

// ValidateTimestamp rejects t when it lies outside [now-MaxPast, now+MaxFuture].
func (g Guard) ValidateTimestamp(now, t time.Time) error {
	if g.MaxPast > 0 && t.Before(now.Add(-g.MaxPast)) {
		return errs.Wrapf(ErrTooFarInPast, "%s", t.UTC().Format(time.RFC3339))
	}
	if g.MaxFuture > 0 && t.After(now.Add(g.MaxFuture)) {
		return errs.Wrapf(ErrTooFarInFuture, "%s", t.UTC().Format(time.RFC3339))
	}
	return nil
}

// ValidateVotingWindow requires now <= start < end with the duration inside the voting bounds.
func (g Guard) ValidateVotingWindow(now, start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidWindow
	}
	if start.Before(now) {
		return errs.Wrapf(ErrStartInPast, "start %s before now %s", start.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if err := g.ValidateTimestamp(now, start); err != nil {
		return err
	}
	return g.Voting.check(end.Sub(start))
}

// ValidateLockPeriod checks a vesting-like period against the lock bounds.
func (g Guard) ValidateLockPeriod(start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidWindow
	}
	return g.Lock.check(end.Sub(start))
}

// CheckClock rejects a transaction clock that runs behind the last observed
// instant by more than the tolerance.
func (g Guard) CheckClock(last, now time.Time) error {
	if last.IsZero() {
		return nil
	}
	if now.Add(g.Tolerance).Before(last) {
		return errs.Wrapf(ErrClockRegression, "now %s, last seen %s", now.UTC().Format(time.RFC3339Nano), last.UTC().Format(time.RFC3339Nano))
	}
	return nil
}

// Elapsed reports whether deadline has passed by at least the configured tolerance.
func (g Guard) Elapsed(now, deadline time.Time) bool {
	return HasElapsed(now, deadline, g.Tolerance)
}

// HasElapsed reports whether now is strictly after deadline+tolerance.
func HasElapsed(now, deadline time.Time, tolerance time.Duration) bool {
	if tolerance < 0 {
		tolerance = 0
	}
	return now.After(deadline.Add(tolerance))
}
