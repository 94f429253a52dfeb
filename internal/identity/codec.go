package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "chatmemo"
	defaultTokenTTL = 24 * time.Hour
)

var (
	ErrMissingSigningSecret = errors.New("identity codec: signing secret required")
	ErrMissingToken         = errors.New("identity codec: token required")
	ErrInvalidToken         = errors.New("identity codec: invalid token")
	ErrExpiredToken         = errors.New("identity codec: token expired")
	ErrMissingSubject       = errors.New("identity codec: subject required")
)

// CodecConfig configures the identity token codec.
type CodecConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// Codec signs and validates the HS256 tokens carried by the identity cookie.
type Codec struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// NewCodec constructs a Codec with defaults for issuer and TTL.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Codec{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// TTL returns the token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for userID and returns it with its expiry.
func (c *Codec) Issue(userID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	now := c.clock().UTC()
	expiresAt := now.Add(c.ttl)
	registered := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(c.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Claims is the validated content of an identity token.
type Claims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Parse validates tokenString and returns its claims.
func (c *Codec) Parse(tokenString string) (Claims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return c.signingSecret, nil
		},
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrMissingSubject
	}

	result := Claims{UserID: claims.Subject}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return result, nil
}
