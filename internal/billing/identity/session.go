package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for any token that fails verification.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are the Clerk session-token claims used for capability checks.
type SessionClaims struct {
	jwt.RegisteredClaims
	OrgID   string `json:"org_id,omitempty"`
	OrgRole string `json:"org_role,omitempty"`
}

// SessionVerifier validates RS256 session tokens issued by the identity provider.
type SessionVerifier struct {
	parser *jwt.Parser
	key    any
}

// NewSessionVerifier parses a PEM-encoded RSA public key (Clerk's "JWT public key").
func NewSessionVerifier(publicKeyPEM string, now func() time.Time) (*SessionVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse session public key: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &SessionVerifier{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// Verify checks signature and expiry and returns the claims.
func (v *SessionVerifier) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
