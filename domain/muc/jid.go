// Package muc holds the room authority engine: identities, affiliations,
// occupancy and the admission/mutation rules of a multi-user chat room.
// No network, storage or UI logic lives here.
package muc

import (
	"fmt"
	"strings"

	"muc-lab/errors"
)

// JID is an XMPP-style identity. The bare form (local@domain) names an
// account; the full form (local@domain/resource) names one connected client
// of that account. JID is comparable and safe to use as a map key.
type JID struct {
	local    string
	domain   string
	resource string
}

// ParseJID parses "local@domain" or "local@domain/resource".
func ParseJID(s string) (JID, error) {
	if s == "" {
		return JID{}, fmt.Errorf("%w: empty string", errors.ErrInvalidJID)
	}
	rest := s
	var resource string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		resource = rest[i+1:]
		rest = rest[:i]
		if resource == "" {
			return JID{}, fmt.Errorf("%w: empty resource in %q", errors.ErrInvalidJID, s)
		}
	}
	i := strings.IndexByte(rest, '@')
	if i <= 0 || i == len(rest)-1 {
		return JID{}, fmt.Errorf("%w: %q", errors.ErrInvalidJID, s)
	}
	return JID{local: rest[:i], domain: rest[i+1:], resource: resource}, nil
}

// MustParseJID is a test and wiring helper; it panics on malformed input.
func MustParseJID(s string) JID {
	jid, err := ParseJID(s)
	if err != nil {
		panic(err)
	}
	return jid
}

// Bare strips the resource.
func (j JID) Bare() JID {
	return JID{local: j.local, domain: j.domain}
}

// IsBare reports whether the JID carries no resource.
func (j JID) IsBare() bool {
	return j.resource == ""
}

// IsZero reports whether the JID is the empty value.
func (j JID) IsZero() bool {
	return j == JID{}
}

func (j JID) Resource() string {
	return j.resource
}

func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	if j.resource == "" {
		return j.local + "@" + j.domain
	}
	return j.local + "@" + j.domain + "/" + j.resource
}
