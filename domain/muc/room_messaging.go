package muc

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"muc-lab/errors"
)

// ChangeSubject updates the room subject. Moderators may always change it;
// other occupants only when the room allows it. The returned message is the
// subject broadcast, which the caller also appends to the room history.
func (r *Room) ChangeSubject(subject string, sender Occupant) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if sender.Role != RoleModerator && !r.config.CanOccupantsChangeSubject() {
		return Message{}, fmt.Errorf("%w: occupants may not change the subject", errors.ErrForbidden)
	}

	r.config.SetSubject(subject)
	return Message{
		ID:       uuid.New(),
		Room:     r.Name(),
		Nickname: sender.Nickname,
		From:     sender.FullJID,
		Subject:  subject,
		SentAt:   time.Now(),
	}, nil
}

// SendPublicMessage authorizes a groupchat message. In a moderated room
// only participants and moderators have voice; visitors are turned away
// with ErrForbidden.
func (r *Room) SendPublicMessage(body string, sender Occupant) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sender = r.freshSender(sender)
	if sender.Role == RoleNone {
		return Message{}, fmt.Errorf("%w: sender is not in the room", errors.ErrForbidden)
	}
	if r.config.IsModerated() && !sender.Role.AtLeast(RoleParticipant) {
		return Message{}, fmt.Errorf("%w: visitors have no voice in a moderated room", errors.ErrForbidden)
	}
	return Message{
		ID:       uuid.New(),
		Room:     r.Name(),
		Nickname: sender.Nickname,
		From:     sender.FullJID,
		Body:     body,
		SentAt:   time.Now(),
	}, nil
}

// SendPrivateMessage routes a message to one occupant by nickname.
// ErrNotFound when the addressee is no longer in the room.
func (r *Room) SendPrivateMessage(toNickname, body string, sender Occupant) (Message, Occupant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, err := r.occupants.ByNickname(toNickname)
	if err != nil {
		return Message{}, Occupant{}, err
	}
	return Message{
		ID:       uuid.New(),
		Room:     r.Name(),
		Nickname: sender.Nickname,
		From:     sender.FullJID,
		To:       target.Nickname,
		Body:     body,
		SentAt:   time.Now(),
	}, target, nil
}

// ServerBroadcast builds a message sent by the room itself to everyone.
func (r *Room) ServerBroadcast(body string) Message {
	return Message{
		ID:     uuid.New(),
		Room:   r.Name(),
		Body:   body,
		SentAt: time.Now(),
	}
}

// Lock manually locks the room against admission. Owner-only; an explicit
// Unlock is required to clear it.
func (r *Room) Lock(sender Occupant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if sender.Affiliation != AffiliationOwner {
		return fmt.Errorf("%w: only owners may lock the room", errors.ErrForbidden)
	}
	r.config.lockManually()
	r.log.Info("room locked", "room", r.Name(), "by", sender.Nickname)
	return nil
}

// Unlock clears both the automatic and the manual lock. Unlocking an
// unlocked room is a no-op success.
func (r *Room) Unlock(sender Occupant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender = r.freshSender(sender)
	if sender.Affiliation != AffiliationOwner {
		return fmt.Errorf("%w: only owners may unlock the room", errors.ErrForbidden)
	}
	r.config.unlock()
	return nil
}

// SendInvitation authorizes an invitation. In an open room any occupant may
// invite; in a members-only room with occupant invitations disabled only
// owners and admins may. Stanza construction and offline bouncing are the
// caller's concern.
func (r *Room) SendInvitation(to JID, reason string, sender Occupant) (Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sender = r.freshSender(sender)
	if sender.Role == RoleNone {
		return Invitation{}, fmt.Errorf("%w: sender is not in the room", errors.ErrForbidden)
	}
	if r.config.IsMembersOnly() && !r.config.CanOccupantsInvite() &&
		!sender.Affiliation.AtLeast(AffiliationAdmin) {
		return Invitation{}, fmt.Errorf("%w: only owners and admins may invite", errors.ErrForbidden)
	}
	return Invitation{
		Room:   r.Name(),
		To:     to,
		From:   sender.FullJID,
		Reason: reason,
	}, nil
}

// SendInvitationRejection relays a declined invitation back to the inviter.
func (r *Room) SendInvitationRejection(to JID, reason string, from JID) InvitationRejection {
	return InvitationRejection{
		Room:   r.Name(),
		To:     to,
		From:   from,
		Reason: reason,
	}
}

// RenameResult describes a nickname change: the protocol broadcasts an
// unavailable presence under the old nickname carrying the new one, then an
// available presence under the new nickname.
type RenameResult struct {
	Occupant    Occupant
	Unavailable Presence
	Available   Presence
}

// ChangeNickname moves a connected occupant to a new nickname. The caller
// observes the result and triggers any downstream notification itself.
func (r *Room) ChangeNickname(oldNickname, newNickname string) (RenameResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before, err := r.occupants.ByNickname(oldNickname)
	if err != nil {
		return RenameResult{}, err
	}
	if holder, ok := r.affiliations.ReservedBy(newNickname); ok && holder != before.FullJID.Bare() {
		return RenameResult{}, fmt.Errorf("%w: nickname %q is reserved", errors.ErrConflict, newNickname)
	}
	updated, err := r.occupants.Rename(oldNickname, newNickname)
	if err != nil {
		return RenameResult{}, err
	}

	unavailable := r.presenceOf(before, PresenceUnavailable)
	unavailable.NewNickname = newNickname
	unavailable.Status = append(unavailable.Status, StatusNicknameChange)

	return RenameResult{
		Occupant:    updated,
		Unavailable: unavailable,
		Available:   r.presenceOf(updated, PresenceAvailable),
	}, nil
}

// SetMembersOnly flips the members-only gate. Turning it on evicts every
// connected occupant without member standing; their unavailable presences
// are returned for broadcast.
func (r *Room) SetMembersOnly(membersOnly bool) []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config.setMembersOnly(membersOnly)
	if !membersOnly {
		return nil
	}

	var presences []Presence
	for _, occupant := range r.occupants.All() {
		if occupant.Affiliation.AtLeast(AffiliationMember) {
			continue
		}
		if err := r.occupants.Remove(occupant.Nickname); err != nil {
			continue
		}
		presence := r.presenceOf(occupant, PresenceUnavailable)
		presence.Role = RoleNone
		presence.Status = append(presence.Status, StatusMembersOnly)
		presences = append(presences, presence)
	}

	if r.occupants.Count() == 0 && r.config.EmptyDate() == nil {
		now := time.Now()
		r.config.SetEmptyDate(&now)
	}
	return presences
}
