package muc

import (
	"time"

	"github.com/google/uuid"
)

// PresenceType distinguishes the two presence kinds the engine emits.
type PresenceType string

const (
	PresenceAvailable   PresenceType = "available"
	PresenceUnavailable PresenceType = "unavailable"
)

// Protocol status codes attached to presence broadcasts. The deliverer maps
// them onto the wire format; the engine only decides which apply.
const (
	StatusSelfPresence   = 110
	StatusRoomCreated    = 201
	StatusBanned         = 301
	StatusKicked         = 307
	StatusMembersOnly    = 321
	StatusRoomDestroyed  = 332
	StatusNicknameChange = 303
)

// Presence describes one presence stanza the caller must broadcast after a
// state change. It is an immutable snapshot: the engine never retains a
// reference to a returned Presence.
type Presence struct {
	// Nickname is the room identity the presence is about.
	Nickname string
	Type     PresenceType

	Affiliation Affiliation
	Role        Role

	// FullJID is populated only when the room's visibility policy allows
	// occupants to discover real identities.
	FullJID JID

	// Recipient is the address of the occupant the presence is about,
	// always set so the caller can route evictions and echoes back to them.
	// It must never leak into the broadcast item; only FullJID may.
	Recipient JID

	// Actor and Reason carry kick/ban metadata when present.
	Actor  JID
	Reason string

	// AlternateRoom is a replacement-room hint on destroy presences.
	AlternateRoom string

	// NewNickname rides on the unavailable presence of a nickname change.
	NewNickname string

	Status []int
}

// Message is a room message, either a subject change (Body empty, Subject
// set) or a groupchat/private body.
type Message struct {
	ID       uuid.UUID
	Room     string
	Nickname string
	From     JID
	To       string
	Subject  string
	Body     string
	SentAt   time.Time
}

// IsSubjectChange reports whether the message only carries a subject.
func (m Message) IsSubjectChange() bool {
	return m.Subject != "" && m.Body == ""
}

// Invitation is the engine's decision output for a permitted invitation;
// stanza construction and delivery belong to the caller.
type Invitation struct {
	Room   string
	To     JID
	From   JID
	Reason string
}

// InvitationRejection is the mirror decision for a declined invitation.
type InvitationRejection struct {
	Room   string
	To     JID
	From   JID
	Reason string
}
