package muc

// Affiliation is the long-lived standing of a bare identity with respect to
// a room. It survives disconnects; only explicit mutation changes it.
type Affiliation uint8

const (
	AffiliationNone Affiliation = iota
	AffiliationOutcast
	AffiliationMember
	AffiliationAdmin
	AffiliationOwner
)

func (a Affiliation) String() string {
	switch a {
	case AffiliationOwner:
		return "owner"
	case AffiliationAdmin:
		return "admin"
	case AffiliationMember:
		return "member"
	case AffiliationOutcast:
		return "outcast"
	default:
		return "none"
	}
}

// AtLeast reports whether a ranks equal to or above other. Outcast ranks
// below None: an outcast has strictly less standing than a stranger.
func (a Affiliation) AtLeast(other Affiliation) bool {
	return rankOf(a) >= rankOf(other)
}

func rankOf(a Affiliation) int {
	switch a {
	case AffiliationOwner:
		return 4
	case AffiliationAdmin:
		return 3
	case AffiliationMember:
		return 2
	case AffiliationNone:
		return 1
	default: // outcast
		return 0
	}
}

// Role is the transient privilege level of a connected occupant. It exists
// only while the occupant is in the room.
type Role uint8

const (
	RoleNone Role = iota
	RoleVisitor
	RoleParticipant
	RoleModerator
)

func (r Role) String() string {
	switch r {
	case RoleModerator:
		return "moderator"
	case RoleParticipant:
		return "participant"
	case RoleVisitor:
		return "visitor"
	default:
		return "none"
	}
}

// AtLeast reports whether r ranks equal to or above other.
func (r Role) AtLeast(other Role) bool {
	return r >= other
}
