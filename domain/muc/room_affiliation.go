package muc

import (
	"fmt"
	"time"

	"muc-lab/errors"
)

// AddFirstOwner seeds the owner list with the room's creator. Only the room
// factory should call this; regular owner maintenance goes through AddOwner.
func (r *Room) AddFirstOwner(bareJID JID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.affiliations.SetOwner(bareJID)
}

// AddOwner grants owner standing to one identity.
func (r *Room) AddOwner(bareJID JID, sender Occupant) ([]Presence, error) {
	return r.AddOwners([]JID{bareJID}, sender)
}

// AddOwners grants owner standing to a batch of identities. Only owners may
// modify the owner list.
func (r *Room) AddOwners(bareJIDs []JID, sender Occupant) ([]Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if sender.Affiliation != AffiliationOwner {
		return nil, fmt.Errorf("%w: only owners may modify the owner list", errors.ErrForbidden)
	}
	changes := make([]AffiliationChange, 0, len(bareJIDs))
	for _, jid := range bareJIDs {
		changes = append(changes, AffiliationChange{JID: jid, Affiliation: AffiliationOwner})
	}
	return r.applyAffiliations(sender, "", changes)
}

// AddAdmin grants admin standing to one identity.
func (r *Room) AddAdmin(bareJID JID, sender Occupant) ([]Presence, error) {
	return r.AddAdmins([]JID{bareJID}, sender)
}

// AddAdmins grants admin standing to a batch of identities. Only owners may
// modify the admin list; the batch fails whole with ErrConflict if it would
// leave the room without owners.
func (r *Room) AddAdmins(bareJIDs []JID, sender Occupant) ([]Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if sender.Affiliation != AffiliationOwner {
		return nil, fmt.Errorf("%w: only owners may modify the admin list", errors.ErrForbidden)
	}
	changes := make([]AffiliationChange, 0, len(bareJIDs))
	for _, jid := range bareJIDs {
		changes = append(changes, AffiliationChange{JID: jid, Affiliation: AffiliationAdmin})
	}
	return r.applyAffiliations(sender, "", changes)
}

// AddMember grants member standing, optionally reserving a nickname.
// ErrConflict when the nickname is already reserved by another identity.
func (r *Room) AddMember(bareJID JID, reservedNickname string, sender Occupant) ([]Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if err := r.authorizeAffiliationChange(bareJID, sender); err != nil {
		return nil, err
	}
	return r.applyAffiliations(sender, "", []AffiliationChange{{
		JID:              bareJID,
		Affiliation:      AffiliationMember,
		ReservedNickname: reservedNickname,
	}})
}

// AddOutcast bans an identity. Owners and admins cannot be banned,
// whoever asks.
func (r *Room) AddOutcast(bareJID JID, reason string, sender Occupant) ([]Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if current := r.affiliations.Affiliation(bareJID); current.AtLeast(AffiliationAdmin) {
		return nil, fmt.Errorf("%w: cannot ban an %s", errors.ErrNotAllowed, current)
	}
	if err := r.authorizeAffiliationChange(bareJID, sender); err != nil {
		return nil, err
	}
	return r.applyAffiliations(sender, reason, []AffiliationChange{{
		JID:         bareJID,
		Affiliation: AffiliationOutcast,
	}})
}

// AddNone strips an identity of any standing. ErrConflict if that would
// remove the last owner.
func (r *Room) AddNone(bareJID JID, sender Occupant) ([]Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if err := r.authorizeAffiliationChange(bareJID, sender); err != nil {
		return nil, err
	}
	return r.applyAffiliations(sender, "", []AffiliationChange{{
		JID:         bareJID,
		Affiliation: AffiliationNone,
	}})
}

// authorizeAffiliationChange enforces who may touch whose standing: owners
// may change anything, admins only identities below admin rank.
func (r *Room) authorizeAffiliationChange(target JID, sender Occupant) error {
	switch sender.Affiliation {
	case AffiliationOwner:
		return nil
	case AffiliationAdmin:
		if r.affiliations.Affiliation(target).AtLeast(AffiliationAdmin) {
			return fmt.Errorf("%w: only owners may demote owners or admins", errors.ErrForbidden)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s may not modify affiliations", errors.ErrForbidden, sender.Affiliation)
	}
}

// applyAffiliations commits a validated batch and cascades it onto every
// connected occupant of the touched identities: banned occupants are
// evicted, everyone else gets a recomputed role. One presence per connected
// resource is returned for broadcast. Callers hold r.mu.
func (r *Room) applyAffiliations(sender Occupant, reason string, changes []AffiliationChange) ([]Presence, error) {
	if err := r.affiliations.Apply(changes...); err != nil {
		return nil, err
	}

	var presences []Presence
	for _, change := range changes {
		connected, err := r.occupants.ByBareJID(change.JID)
		if err != nil {
			continue // not connected, nothing to cascade
		}
		for _, occupant := range connected {
			presence, err := r.cascadeAffiliation(occupant, change.Affiliation, sender, reason)
			if err != nil {
				return nil, err
			}
			presences = append(presences, presence)
		}
	}

	if r.occupants.Count() == 0 && r.config.EmptyDate() == nil {
		now := time.Now()
		r.config.SetEmptyDate(&now)
	}

	r.log.Debug("affiliations updated",
		"room", r.Name(), "changes", len(changes), "presences", len(presences))
	return presences, nil
}

func (r *Room) cascadeAffiliation(occupant Occupant, affiliation Affiliation, sender Occupant, reason string) (Presence, error) {
	evictStatus := 0
	switch {
	case affiliation == AffiliationOutcast:
		evictStatus = StatusBanned
	case r.config.IsMembersOnly() && !affiliation.AtLeast(AffiliationMember):
		// Losing membership in a members-only room forfeits entry.
		evictStatus = StatusMembersOnly
	}

	if evictStatus != 0 {
		if err := r.occupants.Remove(occupant.Nickname); err != nil {
			return Presence{}, err
		}
		occupant.Affiliation = affiliation
		presence := r.presenceOf(occupant, PresenceUnavailable)
		presence.Role = RoleNone
		presence.Actor = sender.FullJID
		presence.Reason = reason
		presence.Status = append(presence.Status, evictStatus)
		return presence, nil
	}

	if _, err := r.occupants.SetAffiliation(occupant.Nickname, affiliation); err != nil {
		return Presence{}, err
	}
	updated, err := r.occupants.SetRole(occupant.Nickname, r.initialRole(affiliation))
	if err != nil {
		return Presence{}, err
	}
	return r.presenceOf(updated, PresenceAvailable), nil
}
