// Package auth resolves viewer identity and roles.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken reports a token that failed verification.
var ErrInvalidToken = errors.New("invalid token")

// Role is a caller's permission level.
type Role string

const (
	RoleNone     Role = "none"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleOperator:
		return 1
	}
	return 0
}

// Allows reports whether r satisfies the required role.
func (r Role) Allows(required Role) bool {
	return r.rank() >= required.rank() && r.rank() > 0
}

// RoleResolver maps an authenticated e-mail to a role.
type RoleResolver interface {
	ResolveRole(ctx context.Context, email string) (Role, error)
}

// StaticRoles resolves roles from fixed e-mail lists.
type StaticRoles struct {
	admins    map[string]struct{}
	operators map[string]struct{}
}

// NewStaticRoles builds a resolver. Admins are implicitly operators.
func NewStaticRoles(admins, operators []string) *StaticRoles {
	s := &StaticRoles{
		admins:    make(map[string]struct{}, len(admins)),
		operators: make(map[string]struct{}, len(operators)),
	}
	for _, e := range admins {
		s.admins[normalize(e)] = struct{}{}
	}
	for _, e := range operators {
		s.operators[normalize(e)] = struct{}{}
	}
	return s
}

// ResolveRole implements RoleResolver.
func (s *StaticRoles) ResolveRole(_ context.Context, email string) (Role, error) {
	email = normalize(email)
	if _, ok := s.admins[email]; ok {
		return RoleAdmin, nil
	}
	if _, ok := s.operators[email]; ok {
		return RoleOperator, nil
	}
	return RoleNone, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Claims represents JWT claims. The subject is the caller's e-mail.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Issuer signs and verifies HMAC identity tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a token for email.
func (i *Issuer) Issue(email string) (string, error) {
	email = normalize(email)
	if email == "" {
		return "", errors.New("email is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses a token and returns the caller's e-mail.
func (i *Issuer) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	email := claims.Email
	if email == "" {
		email = claims.Subject
	}
	if email = normalize(email); email == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return email, nil
}
