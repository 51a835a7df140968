package muc

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"muc-lab/errors"
)

// Room is the authority engine of one chat room: it owns admission,
// affiliation and role mutation, locking and the derivation of the presence
// broadcasts each change requires. Every mutating operation runs under one
// room-scoped critical section; the returned values are immutable snapshots
// the caller delivers after the section exits. Rooms never contend with
// each other.
type Room struct {
	mu sync.RWMutex

	config       *RoomConfig
	affiliations *AffiliationRegistry
	occupants    *OccupantRegistry

	creator   JID
	destroyed bool

	log *slog.Logger
}

// NewRoom creates a fresh, locked, unconfigured room. The creator may join
// during the configuration window; everyone else is turned away with
// ErrRoomLocked until the owner unlocks or the window elapses.
func NewRoom(name string, creator JID, lockWindow time.Duration, log *slog.Logger) *Room {
	return &Room{
		config:       NewRoomConfig(name, time.Now(), lockWindow),
		affiliations: NewAffiliationRegistry(),
		occupants:    NewOccupantRegistry(),
		creator:      creator.Bare(),
		log:          log,
	}
}

// RestoreRoom reconstitutes a configured, unlocked room from storage.
func RestoreRoom(config *RoomConfig, affiliations *AffiliationRegistry, log *slog.Logger) *Room {
	return &Room{
		config:       config,
		affiliations: affiliations,
		occupants:    NewOccupantRegistry(),
		log:          log,
	}
}

// Name returns the room's stable name.
func (r *Room) Name() string { return r.config.Name() }

// Config exposes the settings holder. Callers mutating it directly must
// have authorized the change themselves.
func (r *Room) Config() *RoomConfig { return r.config }

// Affiliations exposes the affiliation registry for read-side queries.
func (r *Room) Affiliations() *AffiliationRegistry { return r.affiliations }

// Occupants exposes the occupant registry for read-side queries.
func (r *Room) Occupants() *OccupantRegistry { return r.occupants }

// Creator returns the bare identity that created the room.
func (r *Room) Creator() JID { return r.creator }

// ChatLength returns how long the room has existed.
func (r *Room) ChatLength() time.Duration {
	return time.Since(r.config.CreationDate())
}

// JoinResult describes everything a successful admission produced: the new
// occupant, the presence echoed back to the joiner, and the presence to
// broadcast to the other occupants (nil when the joiner's role is excluded
// from presence broadcast).
type JoinResult struct {
	Occupant    Occupant
	Self        Presence
	Broadcast   *Presence
	RoomCreated bool
}

// Join admits a user under the requested nickname. The checks run in a
// fixed order, each failing fast with its own condition; on any failure the
// room is untouched.
func (r *Room) Join(nickname, password string, userJID JID) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return JoinResult{}, fmt.Errorf("%w: room %q destroyed", errors.ErrNotFound, r.Name())
	}
	if strings.TrimSpace(nickname) == "" {
		return JoinResult{}, fmt.Errorf("%w: empty nickname", errors.ErrConflict)
	}

	affiliation := r.affiliations.Affiliation(userJID)
	isCreator := userJID.Bare() == r.creator

	if r.config.IsLocked() && !isCreator {
		return JoinResult{}, fmt.Errorf("%w: %q", errors.ErrRoomLocked, r.Name())
	}
	if affiliation == AffiliationOutcast {
		return JoinResult{}, fmt.Errorf("%w: %s is banned", errors.ErrForbidden, userJID.Bare())
	}
	if r.config.IsMembersOnly() && !affiliation.AtLeast(AffiliationMember) {
		return JoinResult{}, fmt.Errorf("%w: %q is members-only", errors.ErrRegistrationRequired, r.Name())
	}
	if !r.config.CheckPassword(password) {
		return JoinResult{}, fmt.Errorf("%w: wrong password for %q", errors.ErrUnauthorized, r.Name())
	}
	if max := r.config.MaxOccupants(); max > 0 && r.occupants.Count() >= max &&
		!affiliation.AtLeast(AffiliationAdmin) {
		return JoinResult{}, fmt.Errorf("%w: room %q is full", errors.ErrNotAllowed, r.Name())
	}
	if existing, err := r.occupants.ByNickname(nickname); err == nil &&
		existing.FullJID.Bare() != userJID.Bare() {
		return JoinResult{}, fmt.Errorf("%w: nickname %q", errors.ErrNicknameTaken, nickname)
	}
	if holder, ok := r.affiliations.ReservedBy(nickname); ok && holder != userJID.Bare() {
		return JoinResult{}, fmt.Errorf("%w: nickname %q is reserved", errors.ErrConflict, nickname)
	}
	if reserved, ok := r.affiliations.ReservedNickname(userJID); ok &&
		r.config.IsLoginRestrictedToNickname() && !strings.EqualFold(reserved, nickname) {
		return JoinResult{}, fmt.Errorf("%w: must join as %q", errors.ErrConflict, reserved)
	}

	occupant, err := r.occupants.Add(Occupant{
		Nickname:    nickname,
		FullJID:     userJID,
		Affiliation: affiliation,
		Role:        r.initialRole(affiliation),
		JoinedAt:    time.Now(),
	})
	if err != nil {
		return JoinResult{}, err
	}

	r.config.SetEmptyDate(nil)

	roomCreated := isCreator && r.config.IsLocked()
	self := r.presenceOf(occupant, PresenceAvailable)
	self.Status = append(self.Status, StatusSelfPresence)
	if roomCreated {
		self.Status = append(self.Status, StatusRoomCreated)
	}

	result := JoinResult{Occupant: occupant, Self: self, RoomCreated: roomCreated}
	if r.config.CanBroadcastPresence(occupant.Role) {
		broadcast := r.presenceOf(occupant, PresenceAvailable)
		result.Broadcast = &broadcast
	}

	r.log.Debug("occupant joined",
		"room", r.Name(), "nickname", nickname, "role", occupant.Role.String())
	return result, nil
}

// initialRole derives the role a joining occupant starts with.
func (r *Room) initialRole(affiliation Affiliation) Role {
	switch {
	case affiliation.AtLeast(AffiliationAdmin):
		return RoleModerator
	case affiliation == AffiliationMember:
		return RoleParticipant
	case r.config.IsModerated():
		return RoleVisitor
	default:
		return RoleParticipant
	}
}

// LeaveResult carries the unavailable presence of the departed occupant and
// whether an empty non-persistent room should now be torn down.
type LeaveResult struct {
	Presence      Presence
	Broadcast     bool
	ShouldDestroy bool
}

// Leave removes the occupant holding the nickname. When the room empties,
// the empty date is stamped; non-persistent rooms are flagged for
// destruction by the room directory.
func (r *Room) Leave(nickname string) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupant, err := r.occupants.ByNickname(nickname)
	if err != nil {
		return LeaveResult{}, err
	}
	if err := r.occupants.Remove(nickname); err != nil {
		return LeaveResult{}, err
	}

	result := LeaveResult{
		Presence:  r.presenceOf(occupant, PresenceUnavailable),
		Broadcast: r.config.CanBroadcastPresence(occupant.Role),
	}
	if r.occupants.Count() == 0 {
		now := time.Now()
		r.config.SetEmptyDate(&now)
		result.ShouldDestroy = !r.config.IsPersistent()
	}

	r.log.Debug("occupant left", "room", r.Name(), "nickname", nickname)
	return result, nil
}

// Kick evicts a connected occupant. Owners and admins cannot be kicked.
// A nil presence with nil error means the target was not in the room.
func (r *Room) Kick(fullJID, actor JID, reason string) (*Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupant, err := r.occupants.ByFullJID(fullJID)
	if err != nil {
		return nil, nil
	}
	if occupant.Affiliation.AtLeast(AffiliationAdmin) {
		return nil, fmt.Errorf("%w: cannot kick %s", errors.ErrNotAllowed, occupant.Affiliation)
	}
	if err := r.occupants.Remove(occupant.Nickname); err != nil {
		return nil, err
	}

	presence := r.presenceOf(occupant, PresenceUnavailable)
	presence.Role = RoleNone
	presence.Actor = actor
	presence.Reason = reason
	presence.Status = append(presence.Status, StatusKicked)

	if r.occupants.Count() == 0 {
		now := time.Now()
		r.config.SetEmptyDate(&now)
	}

	r.log.Info("occupant kicked",
		"room", r.Name(), "nickname", occupant.Nickname, "actor", actor.String())
	return &presence, nil
}

// Destroy evicts every occupant and clears the room state. It returns one
// unavailable presence per evicted occupant, annotated with the alternate
// room hint and reason.
func (r *Room) Destroy(alternateRoom, reason string) []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.occupants.All()
	presences := make([]Presence, 0, len(evicted))
	for _, occupant := range evicted {
		presence := r.presenceOf(occupant, PresenceUnavailable)
		presence.Role = RoleNone
		presence.Affiliation = AffiliationNone
		presence.AlternateRoom = alternateRoom
		presence.Reason = reason
		presence.Status = append(presence.Status, StatusRoomDestroyed)
		presences = append(presences, presence)
	}

	r.occupants.Clear()
	now := time.Now()
	r.config.SetEmptyDate(&now)
	r.destroyed = true

	r.log.Info("room destroyed", "room", r.Name(), "evicted", len(evicted))
	return presences
}

// IsDestroyed reports whether Destroy has run.
func (r *Room) IsDestroyed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.destroyed
}

// presenceOf builds the presence snapshot for an occupant. The full JID in
// the item is disclosed only when the room's visibility policy allows it;
// the recipient address is always carried so the presence can be routed
// back to the occupant it concerns.
func (r *Room) presenceOf(occupant Occupant, kind PresenceType) Presence {
	presence := Presence{
		Nickname:    occupant.Nickname,
		Type:        kind,
		Affiliation: occupant.Affiliation,
		Role:        occupant.Role,
		Recipient:   occupant.FullJID,
	}
	if r.config.CanAnyoneDiscoverJID() {
		presence.FullJID = occupant.FullJID
	}
	return presence
}

// freshSender re-reads the sender's current standing under the room lock.
// The caller's snapshot may predate a concurrent role or affiliation change,
// so privilege checks never trust it. A sender no longer in the room keeps
// its registered affiliation but holds no role.
func (r *Room) freshSender(sender Occupant) Occupant {
	if current, err := r.occupants.ByFullJID(sender.FullJID); err == nil {
		return current
	}
	sender.Role = RoleNone
	sender.Affiliation = r.affiliations.Affiliation(sender.FullJID)
	return sender
}
