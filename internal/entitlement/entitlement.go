// Package entitlement implements time accounting for license grants. All
// values are integer seconds since the Unix epoch and no function performs
// I/O.
package entitlement

import "math"

// Unbounded is the remaining time reported for subjects that bypass
// entitlement checks.
const Unbounded int64 = math.MaxInt64

// Elapsed returns how long a grant window starting at start has been running
// at now. A window that starts in the future has elapsed zero seconds.
func Elapsed(start, now int64) int64 {
	if now <= start {
		return 0
	}
	return now - start
}

// Remaining reports the elapsed time of a grant and whether it has expired.
// A grant is expired once elapsed reaches duration.
func Remaining(duration, start, now int64) (elapsed int64, expired bool) {
	elapsed = Elapsed(start, now)
	return elapsed, elapsed >= duration
}

// TimeLeft returns the seconds left on a grant, or zero once expired.
func TimeLeft(duration, start, now int64) int64 {
	elapsed, expired := Remaining(duration, start, now)
	if expired {
		return 0
	}
	return duration - elapsed
}

// ExpiresAt returns the instant at which a grant stops being valid.
func ExpiresAt(duration, start int64) int64 {
	if start > 0 && duration > math.MaxInt64-start {
		return math.MaxInt64
	}
	return start + duration
}

// FrozenFor returns how long a product frozen at frozenAt has been frozen at
// now, saturating at zero.
func FrozenFor(frozenAt, now int64) int64 {
	return Elapsed(frozenAt, now)
}

// Compensate shifts a grant-window start forward by the time its product spent
// frozen, so the holder's remaining time is unchanged by the freeze.
func Compensate(start, frozenSeconds int64) int64 {
	if frozenSeconds <= 0 {
		return start
	}
	return start + frozenSeconds
}
