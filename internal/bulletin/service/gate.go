package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

const (
	DefaultTokenTTL = 12 * time.Hour
	DefaultIssuer   = "bulletin"

	minSecretLen = 32
)

type GateConfig struct {
	Secret      []byte
	TTL         time.Duration
	Issuer      string
	Revocations store.RevocationStore
	Now         func() time.Time
}

// Grant is a freshly opened session.
type Grant struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// Claims identify an open session.
type Claims struct {
	SessionID string
	TokenID   string
	ExpiresAt time.Time
}

// Gate guards the announcement operations.  A session is open while its
// signed token is unexpired and its id has not been revoked.
type Gate struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	revoked store.RevocationStore
	now     func() time.Time
}

func NewGate(cfg GateConfig) (*Gate, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("gate: secret must be at least %d bytes", minSecretLen)
	}
	if cfg.Revocations == nil {
		return nil, errors.New("gate: revocation store is required")
	}
	g := &Gate{
		secret:  cfg.Secret,
		ttl:     cfg.TTL,
		issuer:  cfg.Issuer,
		revoked: cfg.Revocations,
		now:     cfg.Now,
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTokenTTL
	}
	if g.issuer == "" {
		g.issuer = DefaultIssuer
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Open mints a token for a verified session.
func (g *Gate) Open(_ context.Context, sessionID string) (Grant, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Grant{}, ErrSessionRequired
	}

	now := g.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    g.issuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return Grant{}, fmt.Errorf("sign token: %w", err)
	}
	return Grant{Token: signed, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Check reports the claims of an open session.  Revocation lookups that fail
// return ErrStore so the caller can tell an outage from a closed gate.
func (g *Gate) Check(ctx context.Context, token string) (Claims, error) {
	c, err := g.parse(token)
	if err != nil {
		return Claims{}, err
	}

	revoked, err := g.revoked.IsRevoked(ctx, c.TokenID)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: revocation lookup: %w", ErrStore, err)
	}
	if revoked {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}

// Close revokes the token until its own expiry.  Closing an already closed
// session is not an error.
func (g *Gate) Close(ctx context.Context, token string) error {
	c, err := g.parse(token)
	if err != nil {
		return err
	}
	if err := g.revoked.Revoke(ctx, c.TokenID, c.ExpiresAt); err != nil {
		return fmt.Errorf("%w: revoke: %w", ErrStore, err)
	}
	return nil
}

func (g *Gate) parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidToken
			}
			return g.secret, nil
		},
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	rc, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(rc.Subject) == "" || rc.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{SessionID: rc.Subject, TokenID: rc.ID, ExpiresAt: rc.ExpiresAt.Time.UTC()}, nil
}
