package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PendingClaim marks a token issued after password verification but before
// MFA completion. A token carrying it proves nothing beyond "this subject
// passed the first factor" and is only accepted by the MFA-completion paths.
const PendingClaim = "mfa_pending"

const (
	defaultIssuer   = "uniplex-security"
	defaultAudience = "uniplex"
	defaultTokenTTL = 60 * time.Minute
)

// TokenInfo is the verified content of a parsed token.
type TokenInfo struct {
	Subject   string
	Email     string
	Roles     []string
	Pending   bool
	ExpiresAt time.Time
}

// Issuer builds and verifies HMAC-signed, time-boxed tokens.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithAudience overrides the aud claim.
func WithAudience(aud string) IssuerOption {
	return func(i *Issuer) {
		if aud = strings.TrimSpace(aud); aud != "" {
			i.audience = aud
		}
	}
}

// WithTokenTTL configures the validity window.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer signing with HS256 over the given secret.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	iss := &Issuer{
		secret:   []byte(secret),
		issuer:   defaultIssuer,
		audience: defaultAudience,
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// TTL returns the configured validity window.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for the user with the given roles and optional extra
// claims. Registered claim names cannot be overridden through extra.
func (i *Issuer) Issue(user *User, roles []string, extra map[string]string) (string, time.Time, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iss":   i.issuer,
		"aud":   i.audience,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"jti":   uuid.NewString(),
	}
	if normalized := NormalizeRoles(roles); len(normalized) > 0 {
		claims["roles"] = normalized
	}
	for k, v := range extra {
		if _, reserved := claims[k]; reserved {
			continue
		}
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// IssuePending signs a restricted token carrying the pending-MFA marker.
func (i *Issuer) IssuePending(user *User, roles []string) (string, time.Time, error) {
	return i.Issue(user, roles, map[string]string{PendingClaim: "true"})
}

// ParseAccess verifies a full-access token. Pending tokens are rejected: a
// token has exactly one of the two outcomes, never both.
func (i *Issuer) ParseAccess(token string) (TokenInfo, error) {
	info, err := i.parse(token)
	if err != nil {
		return TokenInfo{}, err
	}
	if info.Pending {
		return TokenInfo{}, ErrInvalidToken
	}
	return info, nil
}

// ParsePending verifies a pending token for the MFA-completion endpoints.
func (i *Issuer) ParsePending(token string) (TokenInfo, error) {
	info, err := i.parse(token)
	if err != nil {
		return TokenInfo{}, ErrInvalidPendingToken
	}
	if !info.Pending {
		return TokenInfo{}, ErrInvalidPendingToken
	}
	return info, nil
}

func (i *Issuer) parse(token string) (TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenInfo{}, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return TokenInfo{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return TokenInfo{}, ErrInvalidToken
	}
	email, _ := claims["email"].(string)

	info := TokenInfo{
		Subject: sub,
		Email:   email,
		Roles:   RoleSet(claims),
		Pending: pendingMarker(claims),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

func pendingMarker(claims jwt.MapClaims) bool {
	switch v := claims[PendingClaim].(type) {
	case string:
		return strings.EqualFold(v, "true")
	case bool:
		return v
	}
	return false
}
