//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"time"

	"muc-lab/domain/muc"
)

// Deliverer transmits presence and message stanzas to recipients. Delivery
// is fire and forget: handling an offline or unreachable recipient is the
// deliverer's concern, never the engine's.
type Deliverer interface {
	DeliverPresence(ctx context.Context, presence muc.Presence, to muc.JID)
	DeliverMessage(ctx context.Context, message muc.Message, to muc.JID)
}

// RoomStore persists and reloads room snapshots. Saving is invoked by an
// explicit operator action, not implicitly on every mutation.
type RoomStore interface {
	Save(ctx context.Context, snapshot RoomSnapshot) (int64, error)
	Load(ctx context.Context, name string) (RoomSnapshot, error)
}

// HistoryLog records the room conversation and replays it for joining
// occupants.
type HistoryLog interface {
	Append(ctx context.Context, message muc.Message) error
	Replay(ctx context.Context, room string, request muc.HistoryRequest) ([]muc.Message, error)
}

// SessionProvider resolves a session token to the caller's full identity.
type SessionProvider interface {
	Resolve(ctx context.Context, token string) (muc.JID, error)
}

// RoomSnapshot is the storable form of a room: configuration plus
// affiliations, no transient occupancy.
type RoomSnapshot struct {
	ID                  int64
	Name                string
	NaturalLanguageName string
	Description         string
	Subject             string

	CreationDate     time.Time
	ModificationDate time.Time
	EmptyDate        *time.Time

	Persistent  bool
	LogEnabled  bool
	PublicRoom  bool
	Moderated   bool
	MembersOnly bool

	CanOccupantsChangeSubject bool
	CanOccupantsInvite        bool
	CanAnyoneDiscoverJID      bool
	LoginRestrictedToNickname bool

	PasswordHash string
	MaxOccupants int

	RolesToBroadcastPresence []muc.Role

	// Affiliations and ReservedNicknames are keyed by bare JID string.
	Affiliations      map[string]muc.Affiliation
	ReservedNicknames map[string]string
}
