package repository

import (
	"testing"
	"time"

	"noticeboard/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.UserProfile{},
		&models.Post{},
		&models.CompensationRecord{},
	))
	return db
}

func seedProfile(t *testing.T, db *gorm.DB, id string, active bool) *models.UserProfile {
	t.Helper()
	p := &models.UserProfile{
		ID:          id,
		AuthSubject: "sub-" + id,
		Name:        "name " + id,
		Email:       id + "@example.com",
		IsActive:    true,
	}
	require.NoError(t, db.Create(p).Error)
	if !active {
		require.NoError(t, db.Model(p).Update("is_active", false).Error)
		p.IsActive = false
	}
	return p
}

func seedPost(t *testing.T, db *gorm.DB, id, authorID string, parentID *string, at time.Time) *models.Post {
	t.Helper()
	title := "title " + id
	if parentID != nil {
		title = ""
	}
	p := &models.Post{
		ID:        id,
		Title:     title,
		Content:   "content " + id,
		AuthorID:  authorID,
		ParentID:  parentID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func strPtr(s string) *string { return &s }
