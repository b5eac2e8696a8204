// Package credential holds the account lockout rules as pure functions over
// plain credential data. Persistence and password hashing live elsewhere.
package credential

import "time"

const (
	DefaultThreshold = 5
	DefaultDuration  = 2 * time.Hour
)

// State is the lockout-relevant slice of a user record.
type State struct {
	Attempts  int
	LockUntil *time.Time
}

// Policy configures when and for how long an account locks.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultPolicy locks for two hours after five consecutive failures.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

func (p Policy) normalized() Policy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultDuration
	}
	return p
}

// Check reports whether s is locked at now and until when.
func Check(s State, now time.Time) (bool, time.Time) {
	if s.LockUntil != nil && s.LockUntil.After(now) {
		return true, *s.LockUntil
	}
	return false, time.Time{}
}

// Decay clears a lock that has already expired. The counter restarts so the
// attempt being evaluated becomes attempt 1.
func Decay(s State, now time.Time) State {
	if s.LockUntil != nil && !s.LockUntil.After(now) {
		return State{}
	}
	return s
}

// Fail applies one failed attempt. A still-active lock is returned unchanged.
func Fail(s State, p Policy, now time.Time) State {
	p = p.normalized()
	if locked, _ := Check(s, now); locked {
		return s
	}
	next := Decay(s, now)
	next.Attempts++
	if next.Attempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockUntil = &until
	}
	return next
}

// Succeed resets the counter and clears any lock.
func Succeed(State) State {
	return State{}
}

// Result is the outcome of evaluating one authentication attempt.
type Result struct {
	Next          State
	Authenticated bool
	Locked        bool
	LockedUntil   time.Time
	// Changed is false when Next equals the input and no write is needed.
	Changed bool
}

// Evaluate runs one attempt against s. verify is only called when the account
// is not locked at now, so a locked account never costs a password comparison.
func Evaluate(s State, p Policy, now time.Time, verify func() bool) Result {
	if locked, until := Check(s, now); locked {
		return Result{Next: s, Locked: true, LockedUntil: until}
	}

	var next State
	ok := verify()
	if ok {
		next = Succeed(s)
	} else {
		next = Fail(s, p, now)
	}

	res := Result{Next: next, Authenticated: ok, Changed: !Equal(s, next)}
	if locked, until := Check(next, now); locked {
		res.Locked = true
		res.LockedUntil = until
	}
	return res
}

// Equal compares two states field by field.
func Equal(a, b State) bool {
	if a.Attempts != b.Attempts {
		return false
	}
	switch {
	case a.LockUntil == nil && b.LockUntil == nil:
		return true
	case a.LockUntil == nil || b.LockUntil == nil:
		return false
	default:
		return a.LockUntil.Equal(*b.LockUntil)
	}
}
