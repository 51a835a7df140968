package runtime

import (
	"context"
	"fmt"

	"muc-lab/auth"
	"muc-lab/domain/muc"
	"muc-lab/errors"
)

// SessionResolver turns bearer tokens into the full JIDs the room engine
// works with. It satisfies contract.SessionProvider.
type SessionResolver struct {
	issuer *auth.TokenIssuer
}

func NewSessionResolver(issuer *auth.TokenIssuer) *SessionResolver {
	return &SessionResolver{issuer: issuer}
}

func (s *SessionResolver) Resolve(ctx context.Context, token string) (muc.JID, error) {
	claims, err := s.issuer.Validate(token)
	if err != nil {
		return muc.JID{}, fmt.Errorf("%w: %v", errors.ErrUnauthorized, err)
	}
	jid, err := muc.ParseJID(claims.BareJID + "/" + claims.Resource)
	if err != nil {
		return muc.JID{}, fmt.Errorf("%w: token carries a malformed identity", errors.ErrInvalidJID)
	}
	return jid, nil
}
