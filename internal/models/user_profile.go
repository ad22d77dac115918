// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxNameLength is the longest display name a profile stores, in characters.
const MaxNameLength = 100

// UserProfile is the local record for a person registered with the identity
// provider. Profiles are never hard-deleted; deactivation is one-way.
type UserProfile struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AuthSubject string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Email       string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string {
	return "user_profiles"
}

// BeforeCreate assigns an id when the caller did not.
func (u *UserProfile) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
