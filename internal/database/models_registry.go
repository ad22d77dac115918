package database

import "noticeboard/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.UserProfile{},
		&models.Post{},
		&models.Identity{},
		&models.IdentityToken{},
		&models.CompensationRecord{},
	}
}
