package muc

import (
	"fmt"

	"muc-lab/errors"
)

// AddModerator promotes a connected occupant to moderator. Only moderators
// (or owners/admins by affiliation) may grant moderator privileges. A nil
// presence with nil error means the target is not in the room.
func (r *Room) AddModerator(fullJID JID, sender Occupant) (*Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorizeRoleChange(r.freshSender(sender)); err != nil {
		return nil, err
	}
	return r.setRole(fullJID, RoleModerator)
}

// AddParticipant grants voice to a connected occupant. Demoting a moderator
// who holds owner or admin affiliation is not allowed: affiliation outranks
// the transient role.
func (r *Room) AddParticipant(fullJID JID, reason string, sender Occupant) (*Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorizeRoleChange(r.freshSender(sender)); err != nil {
		return nil, err
	}
	if err := r.checkRoleDemotion(fullJID); err != nil {
		return nil, err
	}
	presence, err := r.setRole(fullJID, RoleParticipant)
	if presence != nil {
		presence.Reason = reason
	}
	return presence, err
}

// AddVisitor revokes voice from a connected occupant, with the same
// affiliation guard as AddParticipant.
func (r *Room) AddVisitor(fullJID JID, sender Occupant) (*Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorizeRoleChange(r.freshSender(sender)); err != nil {
		return nil, err
	}
	if err := r.checkRoleDemotion(fullJID); err != nil {
		return nil, err
	}
	return r.setRole(fullJID, RoleVisitor)
}

func (r *Room) authorizeRoleChange(sender Occupant) error {
	if sender.Role == RoleModerator || sender.Affiliation.AtLeast(AffiliationAdmin) {
		return nil
	}
	return fmt.Errorf("%w: only moderators may change roles", errors.ErrForbidden)
}

// checkRoleDemotion rejects demoting occupants whose affiliation grants the
// moderator role permanently.
func (r *Room) checkRoleDemotion(fullJID JID) error {
	occupant, err := r.occupants.ByFullJID(fullJID)
	if err != nil {
		return nil // absent target is reported as a nil presence, not an error
	}
	if occupant.Role == RoleModerator && occupant.Affiliation.AtLeast(AffiliationAdmin) {
		return fmt.Errorf("%w: cannot demote an %s moderator",
			errors.ErrNotAllowed, occupant.Affiliation)
	}
	return nil
}

func (r *Room) setRole(fullJID JID, role Role) (*Presence, error) {
	occupant, err := r.occupants.ByFullJID(fullJID)
	if err != nil {
		return nil, nil
	}
	updated, err := r.occupants.SetRole(occupant.Nickname, role)
	if err != nil {
		return nil, err
	}
	presence := r.presenceOf(updated, PresenceAvailable)
	r.log.Debug("role updated",
		"room", r.Name(), "nickname", updated.Nickname, "role", role.String())
	return &presence, nil
}
