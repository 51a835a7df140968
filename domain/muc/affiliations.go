package muc

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"muc-lab/errors"
)

// AffiliationChange is one entry of a batch affiliation mutation.
// ReservedNickname is only meaningful for AffiliationMember.
type AffiliationChange struct {
	JID              JID
	Affiliation      Affiliation
	ReservedNickname string
}

// AffiliationRegistry owns the mapping from bare identities to their
// standing in the room, plus reserved nicknames for members. None is the
// implicit default and is never stored. Once at least one owner has ever
// been assigned, every mutation that would leave the room without owners is
// rejected as a whole with ErrConflict.
type AffiliationRegistry struct {
	mu           sync.RWMutex
	affiliations map[JID]Affiliation
	reserved     map[JID]string
	hadOwner     bool
}

func NewAffiliationRegistry() *AffiliationRegistry {
	return &AffiliationRegistry{
		affiliations: make(map[JID]Affiliation),
		reserved:     make(map[JID]string),
	}
}

// Affiliation returns the standing of the given bare identity, defaulting
// to AffiliationNone for unknown identities.
func (r *AffiliationRegistry) Affiliation(bareJID JID) Affiliation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.affiliations[bareJID.Bare()]
}

func (r *AffiliationRegistry) SetOwner(bareJID JID) error {
	return r.Apply(AffiliationChange{JID: bareJID, Affiliation: AffiliationOwner})
}

func (r *AffiliationRegistry) SetAdmin(bareJID JID) error {
	return r.Apply(AffiliationChange{JID: bareJID, Affiliation: AffiliationAdmin})
}

// SetMember grants member standing, optionally reserving a nickname.
func (r *AffiliationRegistry) SetMember(bareJID JID, reservedNickname string) error {
	return r.Apply(AffiliationChange{
		JID:              bareJID,
		Affiliation:      AffiliationMember,
		ReservedNickname: reservedNickname,
	})
}

func (r *AffiliationRegistry) SetOutcast(bareJID JID) error {
	return r.Apply(AffiliationChange{JID: bareJID, Affiliation: AffiliationOutcast})
}

func (r *AffiliationRegistry) SetNone(bareJID JID) error {
	return r.Apply(AffiliationChange{JID: bareJID, Affiliation: AffiliationNone})
}

// Apply validates and applies a batch of changes atomically. Validation
// covers the whole batch before any entry is written: if the room would end
// up without owners, or a reserved nickname is already held by a different
// identity, nothing is applied and ErrConflict is returned.
func (r *AffiliationRegistry) Apply(changes ...AffiliationChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owners := 0
	for _, a := range r.affiliations {
		if a == AffiliationOwner {
			owners++
		}
	}

	touched := make(map[JID]struct{}, len(changes))
	for _, c := range changes {
		bare := c.JID.Bare()
		if _, dup := touched[bare]; dup {
			return fmt.Errorf("%w: %s appears twice in one batch", errors.ErrConflict, bare)
		}
		touched[bare] = struct{}{}

		was := r.affiliations[bare]
		if was == AffiliationOwner && c.Affiliation != AffiliationOwner {
			owners--
		}
		if was != AffiliationOwner && c.Affiliation == AffiliationOwner {
			owners++
		}

		if c.Affiliation == AffiliationMember && c.ReservedNickname != "" {
			if holder, ok := r.reservedBy(c.ReservedNickname); ok && holder != bare {
				return fmt.Errorf("%w: nickname %q reserved by %s",
					errors.ErrConflict, c.ReservedNickname, holder)
			}
		}
	}

	if r.hadOwner && owners == 0 {
		return fmt.Errorf("%w: room would be left without owners", errors.ErrConflict)
	}

	for _, c := range changes {
		bare := c.JID.Bare()
		if c.Affiliation == AffiliationNone {
			delete(r.affiliations, bare)
		} else {
			r.affiliations[bare] = c.Affiliation
		}
		switch {
		case c.Affiliation == AffiliationMember && c.ReservedNickname != "":
			r.reserved[bare] = c.ReservedNickname
		case c.Affiliation != AffiliationMember:
			delete(r.reserved, bare)
		}
	}
	if owners > 0 {
		r.hadOwner = true
	}
	return nil
}

func (r *AffiliationRegistry) Owners() []JID   { return r.list(AffiliationOwner) }
func (r *AffiliationRegistry) Admins() []JID   { return r.list(AffiliationAdmin) }
func (r *AffiliationRegistry) Members() []JID  { return r.list(AffiliationMember) }
func (r *AffiliationRegistry) Outcasts() []JID { return r.list(AffiliationOutcast) }

func (r *AffiliationRegistry) list(a Affiliation) []JID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []JID
	for jid, got := range r.affiliations {
		if got == a {
			out = append(out, jid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ReservedNickname returns the nickname reserved by the given bare identity.
func (r *AffiliationRegistry) ReservedNickname(bareJID JID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nick, ok := r.reserved[bareJID.Bare()]
	return nick, ok
}

// ReservedBy returns the identity holding a nickname reservation, if any.
// Nickname comparison is case-insensitive.
func (r *AffiliationRegistry) ReservedBy(nickname string) (JID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reservedBy(nickname)
}

func (r *AffiliationRegistry) reservedBy(nickname string) (JID, bool) {
	for jid, nick := range r.reserved {
		if strings.EqualFold(nick, nickname) {
			return jid, true
		}
	}
	return JID{}, false
}

// Snapshot returns a deep copy of the registry contents for persistence.
func (r *AffiliationRegistry) Snapshot() (map[JID]Affiliation, map[JID]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	affiliations := make(map[JID]Affiliation, len(r.affiliations))
	for jid, a := range r.affiliations {
		affiliations[jid] = a
	}
	reserved := make(map[JID]string, len(r.reserved))
	for jid, nick := range r.reserved {
		reserved[jid] = nick
	}
	return affiliations, reserved
}

// Restore replaces the registry contents, used when loading a room from
// storage. The owner invariant starts tracking as soon as an owner appears.
func (r *AffiliationRegistry) Restore(affiliations map[JID]Affiliation, reserved map[JID]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.affiliations = make(map[JID]Affiliation, len(affiliations))
	for jid, a := range affiliations {
		if a == AffiliationNone {
			continue
		}
		r.affiliations[jid.Bare()] = a
		if a == AffiliationOwner {
			r.hadOwner = true
		}
	}
	r.reserved = make(map[JID]string, len(reserved))
	for jid, nick := range reserved {
		r.reserved[jid.Bare()] = nick
	}
}
