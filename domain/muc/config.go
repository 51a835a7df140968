package muc

import (
	"sync"
	"time"

	"muc-lab/auth"
)

// UnpersistedID is the room ID sentinel before the first save.
const UnpersistedID int64 = -1

// RoomConfig is the plain settings holder of a room. It carries no
// authorization logic: gated mutation goes through the Room operations,
// direct setters are for callers that already authorized the change (room
// factory, owner form handlers). Every setter stamps the modification date.
type RoomConfig struct {
	mu sync.RWMutex

	name             string
	id               int64
	creationDate     time.Time
	modificationDate time.Time
	emptyDate        *time.Time

	subject             string
	naturalLanguageName string
	description         string

	persistent bool
	logEnabled bool
	publicRoom bool

	passwordHash string
	maxOccupants int
	moderated    bool
	membersOnly  bool

	canOccupantsChangeSubject bool
	canOccupantsInvite        bool
	canAnyoneDiscoverJID      bool
	loginRestrictedToNickname bool
	rolesToBroadcastPresence  []Role
	savedToDB                 bool

	lock lockState
}

// NewRoomConfig builds the configuration of a freshly created room. The
// room starts public, discoverable by nobody's JID, broadcasting presence
// for every role, and locked for the given configuration window.
func NewRoomConfig(name string, now time.Time, lockWindow time.Duration) *RoomConfig {
	c := &RoomConfig{
		name:               name,
		id:                 UnpersistedID,
		creationDate:       now,
		modificationDate:   now,
		emptyDate:          &now,
		publicRoom:         true,
		canOccupantsInvite: true,
		rolesToBroadcastPresence: []Role{
			RoleModerator, RoleParticipant, RoleVisitor,
		},
	}
	if lockWindow > 0 {
		c.lock.lockUntil(now.Add(lockWindow))
	}
	return c
}

func (c *RoomConfig) touch() {
	c.modificationDate = time.Now()
}

func (c *RoomConfig) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *RoomConfig) ID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// SetID records the identifier assigned on first persistence.
func (c *RoomConfig) SetID(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

func (c *RoomConfig) CreationDate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creationDate
}

func (c *RoomConfig) SetCreationDate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creationDate = t
}

func (c *RoomConfig) ModificationDate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modificationDate
}

func (c *RoomConfig) SetModificationDate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modificationDate = t
}

// EmptyDate is non-nil exactly while the room has no occupants.
func (c *RoomConfig) EmptyDate() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.emptyDate == nil {
		return nil
	}
	t := *c.emptyDate
	return &t
}

func (c *RoomConfig) SetEmptyDate(t *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emptyDate = t
}

func (c *RoomConfig) Subject() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subject
}

func (c *RoomConfig) SetSubject(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subject = subject
	c.touch()
}

func (c *RoomConfig) NaturalLanguageName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.naturalLanguageName
}

func (c *RoomConfig) SetNaturalLanguageName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.naturalLanguageName = name
	c.touch()
}

func (c *RoomConfig) Description() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.description
}

func (c *RoomConfig) SetDescription(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.description = description
	c.touch()
}

func (c *RoomConfig) IsPersistent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persistent
}

func (c *RoomConfig) SetPersistent(persistent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistent = persistent
	c.touch()
}

func (c *RoomConfig) IsLogEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logEnabled
}

func (c *RoomConfig) SetLogEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logEnabled = enabled
	c.touch()
}

func (c *RoomConfig) IsPublicRoom() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publicRoom
}

func (c *RoomConfig) SetPublicRoom(public bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publicRoom = public
	c.touch()
}

func (c *RoomConfig) IsPasswordProtected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.passwordHash != ""
}

// SetPassword hashes and stores the room password. An empty password
// removes the gate.
func (c *RoomConfig) SetPassword(password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if password == "" {
		c.passwordHash = ""
		c.touch()
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	c.passwordHash = hash
	c.touch()
	return nil
}

// CheckPassword reports whether the supplied password opens the room.
// A room without a password accepts anything.
func (c *RoomConfig) CheckPassword(password string) bool {
	c.mu.RLock()
	hash := c.passwordHash
	c.mu.RUnlock()
	if hash == "" {
		return true
	}
	ok, err := auth.ComparePassword(password, hash)
	return err == nil && ok
}

// PasswordHash exposes the stored hash for persistence snapshots.
func (c *RoomConfig) PasswordHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.passwordHash
}

// RestorePasswordHash installs an already hashed password during load.
func (c *RoomConfig) RestorePasswordHash(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passwordHash = hash
}

// MaxOccupants returns the capacity limit, zero meaning unlimited.
func (c *RoomConfig) MaxOccupants() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxOccupants
}

func (c *RoomConfig) SetMaxOccupants(max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxOccupants = max
	c.touch()
}

func (c *RoomConfig) IsModerated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.moderated
}

func (c *RoomConfig) SetModerated(moderated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moderated = moderated
	c.touch()
}

func (c *RoomConfig) IsMembersOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.membersOnly
}

// setMembersOnly is internal: the Room operation wraps it to evict
// non-members when the gate turns on.
func (c *RoomConfig) setMembersOnly(membersOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.membersOnly = membersOnly
	c.touch()
}

func (c *RoomConfig) CanOccupantsChangeSubject() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canOccupantsChangeSubject
}

func (c *RoomConfig) SetCanOccupantsChangeSubject(can bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canOccupantsChangeSubject = can
	c.touch()
}

func (c *RoomConfig) CanOccupantsInvite() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canOccupantsInvite
}

func (c *RoomConfig) SetCanOccupantsInvite(can bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canOccupantsInvite = can
	c.touch()
}

func (c *RoomConfig) CanAnyoneDiscoverJID() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canAnyoneDiscoverJID
}

func (c *RoomConfig) SetCanAnyoneDiscoverJID(can bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canAnyoneDiscoverJID = can
	c.touch()
}

// IsLoginRestrictedToNickname reports whether members must join under
// their reserved nickname.
func (c *RoomConfig) IsLoginRestrictedToNickname() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loginRestrictedToNickname
}

func (c *RoomConfig) SetLoginRestrictedToNickname(restricted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginRestrictedToNickname = restricted
	c.touch()
}

func (c *RoomConfig) RolesToBroadcastPresence() []Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Role, len(c.rolesToBroadcastPresence))
	copy(out, c.rolesToBroadcastPresence)
	return out
}

func (c *RoomConfig) SetRolesToBroadcastPresence(roles []Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolesToBroadcastPresence = make([]Role, len(roles))
	copy(c.rolesToBroadcastPresence, roles)
	c.touch()
}

// CanBroadcastPresence reports whether presence of the given role is
// broadcast to the rest of the occupants.
func (c *RoomConfig) CanBroadcastPresence(role Role) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rolesToBroadcastPresence {
		if r == role {
			return true
		}
	}
	return false
}

func (c *RoomConfig) WasSavedToDB() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.savedToDB
}

func (c *RoomConfig) SetSavedToDB(saved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.savedToDB = saved
}

// IsLocked reports whether admission is currently blocked; the automatic
// lock deadline is evaluated lazily, there is no background timer.
func (c *RoomConfig) IsLocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lock.isLocked(time.Now())
}

func (c *RoomConfig) IsManuallyLocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lock.isManuallyLocked()
}

func (c *RoomConfig) lockManually() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lock.lockManually()
	c.touch()
}

func (c *RoomConfig) unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lock.unlock()
	c.touch()
}
