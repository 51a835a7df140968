// Package errors defines the closed set of conditions a room operation can
// fail with. Every check is evaluated before any state mutation, so a
// returned error always means the operation was a complete no-op.
package errors

import "fmt"

var (
	// ErrUnauthorized means the caller has no standing at all, e.g. a wrong
	// room password.
	ErrUnauthorized = fmt.Errorf("unauthorized")

	// ErrForbidden means the caller is recognized but lacks the privilege
	// for this specific action.
	ErrForbidden = fmt.Errorf("forbidden")

	// ErrNotAllowed means the action is structurally disallowed regardless
	// of privilege: banning an owner, exceeding room capacity, demoting a
	// higher affiliation through a role change.
	ErrNotAllowed = fmt.Errorf("not allowed")

	// ErrRegistrationRequired is the members-only gate.
	ErrRegistrationRequired = fmt.Errorf("registration required")

	// ErrRoomLocked means the room has not been configured/unlocked yet.
	ErrRoomLocked = fmt.Errorf("room locked")

	// ErrNicknameTaken means the requested nickname is held by a different
	// bare identity, or the same full identity already joined.
	ErrNicknameTaken = fmt.Errorf("nickname already exists")

	// ErrConflict means the change would violate an invariant: a reserved
	// nickname collision, or a room left without owners.
	ErrConflict = fmt.Errorf("conflict")

	// ErrNotFound means a nickname or identity lookup came up empty.
	ErrNotFound = fmt.Errorf("not found")

	// ErrInvalidJID means an identity string could not be parsed.
	ErrInvalidJID = fmt.Errorf("invalid jid")
)
