// Package cachepolicy translates a declared CachePolicy into a concrete
// expiry deadline and implements the expiry comparisons the cache and
// observer registry rely on.
package cachepolicy

import "time"

// Kind distinguishes the three cache policy shapes.
type Kind int

const (
	// ExpireImmediately entries are considered expired the instant they are
	// written, but remain readable until overwritten or removed.
	ExpireImmediately Kind = iota
	// Timed entries expire Seconds after being written.
	Timed
	// Forever entries never expire.
	Forever
)

// Policy is a tagged value: ExpireImmediately | Timed(seconds>=1) | Forever.
type Policy struct {
	kind    Kind
	seconds int
}

// NewExpireImmediately constructs the ExpireImmediately policy.
func NewExpireImmediately() Policy { return Policy{kind: ExpireImmediately} }

// NewForever constructs the Forever policy.
func NewForever() Policy { return Policy{kind: Forever} }

// NewTimed constructs a Timed(seconds) policy. Timed(0) is rejected: it
// panics, since this is a programmer error caught at construction per
// spec.md §3 ("Timed{0} is rejected at construction").
func NewTimed(seconds int) Policy {
	if seconds < 1 {
		panic("cachepolicy: Timed requires seconds >= 1")
	}
	return Policy{kind: Timed, seconds: seconds}
}

// Kind reports which policy shape this is.
func (p Policy) Kind() Kind { return p.kind }

// Seconds reports the Timed duration; meaningless for other kinds.
func (p Policy) Seconds() int { return p.seconds }

// Deadline translates the policy into an absolute instant, or the zero
// time.Time to mean "never" (Forever).
func (p Policy) Deadline(now time.Time) time.Time {
	switch p.kind {
	case ExpireImmediately:
		return now
	case Timed:
		return now.Add(time.Duration(p.seconds) * time.Second)
	case Forever:
		return time.Time{}
	default:
		return now
	}
}

// IsNever reports whether deadline represents "never expires".
func IsNever(deadline time.Time) bool {
	return deadline.IsZero()
}

// IsExpired reports whether deadline has passed as of now.
//
// is_expired(entry, now) <=> entry.expiry != never && entry.expiry <= now.
func IsExpired(deadline time.Time, now time.Time) bool {
	if IsNever(deadline) {
		return false
	}
	return !deadline.After(now)
}

// Shortens reports whether a newly-requested policy's deadline is earlier
// than an already-stored deadline, meaning the new policy should force the
// stored entry to be treated as expired even if it is nominally still
// fresh (spec.md §4.2, "shorter-policy wins").
func Shortens(newDeadline, storedDeadline time.Time, now time.Time) bool {
	if IsNever(newDeadline) {
		return false
	}
	if IsNever(storedDeadline) {
		return true
	}
	return newDeadline.Before(storedDeadline)
}
