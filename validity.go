package rbac

import "time"

// withinWindow reports whether now falls inside [from, until]. A nil bound
// is open on that side.
func withinWindow(from, until *time.Time, now time.Time) bool {
	if from != nil && now.Before(*from) {
		return false
	}
	if until != nil && now.After(*until) {
		return false
	}
	return true
}

// IsActiveAt reports whether the assignment is effective at now.
func (ur UserRole) IsActiveAt(now time.Time) bool {
	return ur.Status == StatusActive && withinWindow(ur.ValidFrom, ur.ValidUntil, now)
}

// IsExpiredAt reports whether the validity window closed before now.
func (ur UserRole) IsExpiredAt(now time.Time) bool {
	return ur.ValidUntil != nil && now.After(*ur.ValidUntil)
}

// IsValidAt reports whether the direct permission is effective at now.
func (up UserPermission) IsValidAt(now time.Time) bool {
	return up.IsActive && withinWindow(up.ValidFrom, up.ValidUntil, now)
}

// IsExpiredAt reports whether the validity window closed before now.
func (up UserPermission) IsExpiredAt(now time.Time) bool {
	return up.ValidUntil != nil && now.After(*up.ValidUntil)
}

// boundaryTracker remembers the earliest instant after now at which the
// effectiveness of any observed row flips.
type boundaryTracker struct {
	now  time.Time
	next time.Time
}

func (b *boundaryTracker) observe(from, until *time.Time) {
	if from != nil && from.After(b.now) {
		b.consider(*from)
	}
	if until != nil && !until.Before(b.now) {
		b.consider(*until)
	}
}

func (b *boundaryTracker) consider(t time.Time) {
	if b.next.IsZero() || t.Before(b.next) {
		b.next = t
	}
}

// Next returns the earliest observed boundary, or false when every observed
// row is open-ended.
func (b *boundaryTracker) Next() (time.Time, bool) {
	return b.next, !b.next.IsZero()
}
