package muc

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"muc-lab/errors"
)

// Occupant is one live connection into the room. A bare identity may hold
// several occupants at once, one per connected resource, each under its own
// nickname. The OccupantRegistry exclusively owns Occupant values; callers
// get copies.
type Occupant struct {
	Nickname    string
	FullJID     JID
	Affiliation Affiliation
	Role        Role
	JoinedAt    time.Time
}

// OccupantRegistry owns the transient occupancy state of a room: who is
// connected, under which nickname, with which role. Nicknames are unique
// within the room across all occupants, compared case-insensitively.
type OccupantRegistry struct {
	mu         sync.RWMutex
	byNickname map[string]*Occupant // key: folded nickname
	byFullJID  map[JID]string       // full JID -> folded nickname
}

func NewOccupantRegistry() *OccupantRegistry {
	return &OccupantRegistry{
		byNickname: make(map[string]*Occupant),
		byFullJID:  make(map[JID]string),
	}
}

func foldNickname(nickname string) string {
	return strings.ToLower(nickname)
}

// Add inserts a new occupant. It fails with ErrNicknameTaken when the
// nickname is held by anyone else, or when the same full identity is
// already in the room under some nickname.
func (r *OccupantRegistry) Add(occupant Occupant) (Occupant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := foldNickname(occupant.Nickname)
	if _, ok := r.byNickname[key]; ok {
		return Occupant{}, fmt.Errorf("%w: nickname %q", errors.ErrNicknameTaken, occupant.Nickname)
	}
	if _, ok := r.byFullJID[occupant.FullJID]; ok {
		return Occupant{}, fmt.Errorf("%w: %s already joined", errors.ErrNicknameTaken, occupant.FullJID)
	}

	stored := occupant
	r.byNickname[key] = &stored
	r.byFullJID[occupant.FullJID] = key
	return stored, nil
}

// Remove drops the occupant holding the given nickname.
func (r *OccupantRegistry) Remove(nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := foldNickname(nickname)
	occupant, ok := r.byNickname[key]
	if !ok {
		return fmt.Errorf("%w: nickname %q", errors.ErrNotFound, nickname)
	}
	delete(r.byNickname, key)
	delete(r.byFullJID, occupant.FullJID)
	return nil
}

// ByNickname returns a copy of the occupant holding the nickname.
func (r *OccupantRegistry) ByNickname(nickname string) (Occupant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	occupant, ok := r.byNickname[foldNickname(nickname)]
	if !ok {
		return Occupant{}, fmt.Errorf("%w: nickname %q", errors.ErrNotFound, nickname)
	}
	return *occupant, nil
}

// Has reports whether the nickname is taken.
func (r *OccupantRegistry) Has(nickname string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byNickname[foldNickname(nickname)]
	return ok
}

// ByBareJID returns every occupant connected under the given bare identity,
// ordered by nickname. ErrNotFound when the identity has no connection.
func (r *OccupantRegistry) ByBareJID(bareJID JID) ([]Occupant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bare := bareJID.Bare()
	var out []Occupant
	for _, occupant := range r.byNickname {
		if occupant.FullJID.Bare() == bare {
			out = append(out, *occupant)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no occupant for %s", errors.ErrNotFound, bare)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out, nil
}

// ByFullJID returns the occupant connected from the given full identity.
func (r *OccupantRegistry) ByFullJID(fullJID JID) (Occupant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byFullJID[fullJID]
	if !ok {
		return Occupant{}, fmt.Errorf("%w: no occupant for %s", errors.ErrNotFound, fullJID)
	}
	return *r.byNickname[key], nil
}

// SetRole updates the role of the occupant holding the nickname and returns
// the updated copy.
func (r *OccupantRegistry) SetRole(nickname string, role Role) (Occupant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupant, ok := r.byNickname[foldNickname(nickname)]
	if !ok {
		return Occupant{}, fmt.Errorf("%w: nickname %q", errors.ErrNotFound, nickname)
	}
	occupant.Role = role
	return *occupant, nil
}

// SetAffiliation updates the cached affiliation of a connected occupant.
func (r *OccupantRegistry) SetAffiliation(nickname string, affiliation Affiliation) (Occupant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupant, ok := r.byNickname[foldNickname(nickname)]
	if !ok {
		return Occupant{}, fmt.Errorf("%w: nickname %q", errors.ErrNotFound, nickname)
	}
	occupant.Affiliation = affiliation
	return *occupant, nil
}

// Rename moves an occupant to a new nickname, keeping role and identity.
func (r *OccupantRegistry) Rename(oldNickname, newNickname string) (Occupant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldKey := foldNickname(oldNickname)
	occupant, ok := r.byNickname[oldKey]
	if !ok {
		return Occupant{}, fmt.Errorf("%w: nickname %q", errors.ErrNotFound, oldNickname)
	}
	newKey := foldNickname(newNickname)
	if other, taken := r.byNickname[newKey]; taken && other != occupant {
		return Occupant{}, fmt.Errorf("%w: nickname %q", errors.ErrNicknameTaken, newNickname)
	}
	delete(r.byNickname, oldKey)
	occupant.Nickname = newNickname
	r.byNickname[newKey] = occupant
	r.byFullJID[occupant.FullJID] = newKey
	return *occupant, nil
}

// Count returns the number of connected occupants.
func (r *OccupantRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byNickname)
}

// All returns a snapshot of every occupant, ordered by nickname.
func (r *OccupantRegistry) All() []Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Occupant, 0, len(r.byNickname))
	for _, occupant := range r.byNickname {
		out = append(out, *occupant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out
}

// Moderators returns a snapshot of all occupants with the moderator role.
func (r *OccupantRegistry) Moderators() []Occupant { return r.withRole(RoleModerator) }

// Participants returns a snapshot of all occupants with the participant role.
func (r *OccupantRegistry) Participants() []Occupant { return r.withRole(RoleParticipant) }

func (r *OccupantRegistry) withRole(role Role) []Occupant {
	var out []Occupant
	for _, occupant := range r.All() {
		if occupant.Role == role {
			out = append(out, occupant)
		}
	}
	return out
}

// Clear evicts everyone, used on room destruction.
func (r *OccupantRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNickname = make(map[string]*Occupant)
	r.byFullJID = make(map[JID]string)
}
