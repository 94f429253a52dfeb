package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultCookieName is the cookie carrying the identity token.
	DefaultCookieName = "chatmemo_identity"

	touchInterval = time.Minute
)

var (
	errMissingDatabase = errors.New("identity store: database connection required")
	errMissingCodec    = errors.New("identity store: codec required")
	noOpLogger         = zap.NewNop()
)

// StoreConfig describes the dependencies of the identity store.
type StoreConfig struct {
	Database     *gorm.DB
	Codec        *Codec
	CookieName   string
	SecureCookie bool
	IDProvider   IDProvider
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Store issues per-browser identities through a signed cookie and records each
// visitor once in the database. Identities are never deleted.
type Store struct {
	db         *gorm.DB
	codec      *Codec
	cookieName string
	secure     bool
	ids        IDProvider
	now        func() time.Time
	logger     *zap.Logger
	touched    sync.Map
}

// NewStore constructs the identity store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Codec == nil {
		return nil, errMissingCodec
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		codec:      cfg.Codec,
		cookieName: cookieName,
		secure:     cfg.SecureCookie,
		ids:        ids,
		now:        clock,
		logger:     logger,
	}, nil
}

// CookieName returns the cookie name used for identity lookups.
func (s *Store) CookieName() string {
	return s.cookieName
}

// Resolve returns the identity carried by the request. A missing, invalid or expired
// cookie is replaced by a freshly issued identity; a token past half its lifetime is
// re-issued for the same identity.
func (s *Store) Resolve(w http.ResponseWriter, r *http.Request) (string, error) {
	claims, err := s.claims(r)
	if err == nil {
		if s.now().UTC().After(claims.ExpiresAt.Add(-s.codec.TTL() / 2)) {
			if err := s.setCookie(w, claims.UserID); err != nil {
				s.logger.Warn("identity refresh failed", zap.String("user_id", claims.UserID), zap.Error(err))
			}
		}
		s.record(r.Context(), claims.UserID)
		return claims.UserID, nil
	}

	userID, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("identity issue failed", zap.Error(err))
		return "", err
	}
	if err := s.setCookie(w, userID); err != nil {
		s.logger.Error("identity issue failed", zap.String("user_id", userID), zap.Error(err))
		return "", err
	}
	s.record(r.Context(), userID)
	s.logger.Debug("identity issued", zap.String("user_id", userID))
	return userID, nil
}

// Lookup returns the identity carried by the request without issuing one.
func (s *Store) Lookup(r *http.Request) (string, error) {
	claims, err := s.claims(r)
	if err != nil {
		return "", err
	}
	s.record(r.Context(), claims.UserID)
	return claims.UserID, nil
}

// Count returns the number of distinct visitors seen so far.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Visitor{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) claims(r *http.Request) (Claims, error) {
	if r == nil {
		return Claims{}, ErrMissingToken
	}
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie == nil {
		return Claims{}, ErrMissingToken
	}
	return s.codec.Parse(cookie.Value)
}

func (s *Store) setCookie(w http.ResponseWriter, userID string) error {
	token, expiresAt, err := s.codec.Issue(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(s.codec.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// record upserts the visitor row, at most once per touchInterval per identity.
func (s *Store) record(ctx context.Context, userID string) {
	now := s.now().UTC()
	if last, ok := s.touched.Load(userID); ok {
		if seenAt, ok := last.(time.Time); ok && now.Sub(seenAt) < touchInterval {
			return
		}
	}

	visitor := Visitor{UserID: userID, FirstSeenAt: now, LastSeenAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at"}),
	}).Create(&visitor).Error
	if err != nil {
		s.logger.Warn("visitor record failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.touched.Store(userID, now)
}
