package auth

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/config"
)

const defaultTokenTTL = time.Hour

// Token is the login response body.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        Role      `json:"role"`
}

// Authenticator checks operator credentials and tokens.
//
// Thread Safety: immutable after construction, safe for concurrent use.
type Authenticator struct {
	secret    string
	ttl       time.Duration
	operators map[string]Operator

	// dummyHash is verified for unknown usernames so both paths cost one
	// Argon2id computation.
	dummyHash string

	now func() time.Time
}

// NewAuthenticator builds an Authenticator from the api.auth config section.
// It returns nil, nil when auth is disabled.
func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	if !cfg.Enabled() {
		return nil, nil //nolint:nilnil // nil authenticator means auth disabled
	}

	a := &Authenticator{
		secret:    cfg.JWTSecret,
		ttl:       time.Duration(cfg.AccessTokenTTL) * time.Minute,
		operators: make(map[string]Operator, len(cfg.Operators)),
		now:       time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = defaultTokenTTL
	}

	for _, oc := range cfg.Operators {
		op := Operator{Username: oc.Username, PasswordHash: oc.PasswordHash, Role: Role(oc.Role)}
		if op.Role == "" {
			op.Role = RoleOperator
		}
		if !IsValidRole(op.Role) {
			return nil, fmt.Errorf("%w: %s has unknown role %q", ErrInvalidOperator, op.Username, op.Role)
		}
		if _, _, _, err := decodePHC(op.PasswordHash); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidOperator, op.Username, err)
		}
		a.operators[op.Username] = op
	}

	dummy, err := HashPassword("graylogic-arduino-dummy")
	if err != nil {
		return nil, err
	}
	a.dummyHash = dummy
	return a, nil
}

// Login verifies username and password and issues a token.
func (a *Authenticator) Login(username, password string) (*Token, error) {
	op, ok := a.operators[username]
	hash := op.PasswordHash
	if !ok {
		hash = a.dummyHash
	}

	match, err := VerifyPassword(password, hash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok || !match {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	signed, err := GenerateAccessToken(op, a.secret, a.ttl, now)
	if err != nil {
		return nil, err
	}
	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(a.ttl.Seconds()),
		ExpiresAt:   now.Add(a.ttl).UTC(),
		Role:        op.Role,
	}, nil
}

// Verify parses token and returns its claims.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	return ParseToken(token, a.secret)
}

// Authorize returns ErrForbidden unless claims grant perm.
func (a *Authenticator) Authorize(claims *Claims, perm Permission) error {
	if claims == nil || !HasPermission(claims.Role, perm) {
		return ErrForbidden
	}
	return nil
}
