package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the payload of a session token. BareJID names the
// account, Resource the connected client; together they form the full
// identity used by the room engine.
type SessionClaims struct {
	BareJID  string `json:"bare_jid"`
	Resource string `json:"resource"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates session tokens with an HMAC secret.
type TokenIssuer struct {
	secret   []byte
	duration time.Duration
}

func NewTokenIssuer(secret []byte, duration time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, duration: duration}
}

// Issue creates a signed session token for the given identity.
func (t *TokenIssuer) Issue(bareJID, resource string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		BareJID:  bareJID,
		Resource: resource,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "muc-lab",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate parses a token and returns its claims when the signature and
// expiry check out.
func (t *TokenIssuer) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}
