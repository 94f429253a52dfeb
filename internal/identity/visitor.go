package identity

import (
	"time"

	"github.com/google/uuid"
)

// Visitor records a browser identity the first time it is seen.
type Visitor struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:50"`
	FirstSeenAt time.Time `gorm:"column:first_seen_at;not null"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;not null;index"`
}

// TableName exposes the table backing visitors.
func (Visitor) TableName() string {
	return "visitors"
}

// IDProvider issues new user identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
