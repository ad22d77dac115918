package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identity is the credential record owned by the local identity provider.
// Its ID is the subject that UserProfile.AuthSubject points at.
type Identity struct {
	ID           string     `gorm:"type:varchar(36);primaryKey"`
	Email        string     `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string     `gorm:"not null"`
	DisplayName  string     `gorm:"size:100"`
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (i *Identity) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// Identity token purposes.
const (
	TokenPurposeConfirm  = "confirm"
	TokenPurposeRecovery = "recovery"
)

// IdentityToken is a single-use emailed token. Only the SHA-256 of the token
// is stored.
type IdentityToken struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Subject   string    `gorm:"type:varchar(36);not null;index"`
	Purpose   string    `gorm:"size:16;not null"`
	TokenHash string    `gorm:"size:64;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (t *IdentityToken) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// CompensationRecord logs a compensating action taken by a saga after a
// later step failed.
type CompensationRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Saga      string `gorm:"size:64;not null;index"`
	Step      string `gorm:"size:64;not null"`
	ProfileID string `gorm:"type:varchar(36);not null;index"`
	Reason    string `gorm:"type:text"`
	Outcome   string `gorm:"size:16;not null"`
	Error     string `gorm:"type:text"`
	CreatedAt time.Time
}

// Compensation outcomes.
const (
	CompensationSucceeded = "succeeded"
	CompensationFailed    = "failed"
)
