package muc

import "time"

// lockState tracks the two lock sources of a room: the automatic
// creation-time lock, bounded by a deadline and evaluated lazily, and the
// manual owner lock, which only an explicit unlock clears.
type lockState struct {
	lockedUntil time.Time
	manual      bool
}

func (l *lockState) isLocked(now time.Time) bool {
	return l.manual || now.Before(l.lockedUntil)
}

func (l *lockState) isManuallyLocked() bool {
	return l.manual
}

func (l *lockState) lockManually() {
	l.manual = true
}

func (l *lockState) lockUntil(deadline time.Time) {
	l.lockedUntil = deadline
}

// unlock clears both lock sources. Unlocking an unlocked room is a no-op.
func (l *lockState) unlock() {
	l.manual = false
	l.lockedUntil = time.Time{}
}
