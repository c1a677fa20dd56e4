package overlay

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthPolicy decides, per identify event, whether a connection gets an
// identity. The policy is chosen once at startup from the deployment mode.
type AuthPolicy interface {
	// Authenticate resolves a credential into an identity. credential may be
	// empty; whether that is acceptable depends on the policy.
	Authenticate(credential string, handle uuid.UUID) (string, error)
}

// identityClaims is the JWT claim set carried by identify credentials. The
// subject claim is the player identity.
type identityClaims struct {
	jwt.RegisteredClaims
}

// StrictAuthPolicy requires a valid HMAC-signed credential on every identify
// event. Used in production deployments.
type StrictAuthPolicy struct {
	secret []byte
}

func NewStrictAuthPolicy(jwtSecret string) *StrictAuthPolicy {
	return &StrictAuthPolicy{secret: []byte(jwtSecret)}
}

func (p *StrictAuthPolicy) Authenticate(credential string, _ uuid.UUID) (string, error) {
	if credential == "" {
		return "", ErrAuthMissingIdentity
	}
	token, err := jwt.ParseWithClaims(credential, &identityClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	claims, ok := token.Claims.(*identityClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrAuthInvalid)
	}
	return claims.Subject, nil
}

// PermissiveAuthPolicy accepts identify events without a credential and
// synthesizes a unique placeholder identity for them, so test clients can
// connect without completing the OAuth flow. A credential, when present, is
// still verified like in production.
type PermissiveAuthPolicy struct {
	strict  *StrictAuthPolicy
	counter atomic.Uint64
}

func NewPermissiveAuthPolicy(jwtSecret string) *PermissiveAuthPolicy {
	return &PermissiveAuthPolicy{strict: NewStrictAuthPolicy(jwtSecret)}
}

func (p *PermissiveAuthPolicy) Authenticate(credential string, handle uuid.UUID) (string, error) {
	if credential != "" {
		return p.strict.Authenticate(credential, handle)
	}
	n := p.counter.Add(1)
	fragment, _, _ := strings.Cut(handle.String(), "-")
	return fmt.Sprintf("guest-%d-%s", n, fragment), nil
}
