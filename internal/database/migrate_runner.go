package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"noticeboard/internal/middleware"

	"gorm.io/gorm"
)

// MigrationStore records which board migrations have run. Applying or
// removing a migration runs its script and updates the log in one
// transaction.
type MigrationStore interface {
	GetAppliedMigrations(ctx context.Context) ([]int, error)
	ApplyMigration(ctx context.Context, version int, name, sql string) error
	RemoveMigration(ctx context.Context, version int, sql string) error
}

type migrationStore struct {
	db *gorm.DB
}

// MigrationLog is one applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName returns the database table name for MigrationLog.
func (MigrationLog) TableName() string {
	return "migration_logs"
}

// NewMigrationStore creates a MigrationStore over db.
func NewMigrationStore(db *gorm.DB) MigrationStore {
	return &migrationStore{db: db}
}

func (s *migrationStore) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	var versions []int
	err := s.db.WithContext(ctx).Model(&MigrationLog{}).Order("version ASC").Pluck("version", &versions).Error
	switch {
	case err == nil:
		return versions, nil
	case errors.Is(err, gorm.ErrRecordNotFound), isMissingTableError(err):
		return []int{}, nil
	default:
		return nil, fmt.Errorf("read migration log: %w", err)
	}
}

// isMissingTableError matches the postgres and sqlite wording.
func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

func (s *migrationStore) ApplyMigration(ctx context.Context, version int, name, sql string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(sql).Error; err != nil {
			return fmt.Errorf("apply migration %06d_%s: %w", version, name, err)
		}
		if err := tx.Create(&MigrationLog{Version: version, Name: name}).Error; err != nil {
			return fmt.Errorf("log migration %06d: %w", version, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "Migration applied", slog.Int("version", version), slog.String("name", name))
	return nil
}

func (s *migrationStore) RemoveMigration(ctx context.Context, version int, sql string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sql != "" {
			if err := tx.Exec(sql).Error; err != nil {
				return fmt.Errorf("revert migration %06d: %w", version, err)
			}
		}
		res := tx.Where("version = ?", version).Delete(&MigrationLog{})
		if res.Error != nil {
			return fmt.Errorf("unlog migration %06d: %w", version, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("migration %06d has not been applied", version)
		}
		return nil
	})
	if err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "Migration rolled back", slog.Int("version", version))
	return nil
}

func ensureMigrationLog(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return fmt.Errorf("ensure migration log: %w", err)
	}
	return nil
}

// pendingMigrations returns the registered migrations missing from applied,
// in version order.
func pendingMigrations(applied []int, registered []Migration) []Migration {
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	var pending []Migration
	for _, m := range registered {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

// RunMigrations applies every pending migration in version order.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if err := ensureMigrationLog(ctx, db); err != nil {
		return err
	}

	store := NewMigrationStore(db)
	applied, err := store.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if err := validateAppliedVersions(applied, migrations); err != nil {
		return err
	}

	pending := pendingMigrations(applied, migrations)
	if len(pending) == 0 {
		middleware.Logger.DebugContext(ctx, "Schema is up to date", slog.Int("applied", len(applied)))
		return nil
	}
	for _, m := range pending {
		if err := store.ApplyMigration(ctx, m.Version, m.Name, m.UpScript); err != nil {
			return err
		}
	}
	return nil
}

func validateAppliedVersions(applied []int, registered []Migration) error {
	var unknown []int
	for _, version := range applied {
		if GetMigrationIn(registered, version) == nil {
			unknown = append(unknown, version)
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	sort.Ints(unknown)
	parts := make([]string, 0, len(unknown))
	for _, version := range unknown {
		parts = append(parts, fmt.Sprintf("%06d", version))
	}
	return fmt.Errorf("migration_logs lists versions this build does not know: %s", strings.Join(parts, ", "))
}

// GetMigrationIn finds version among registered.
func GetMigrationIn(registered []Migration, version int) *Migration {
	for i := range registered {
		if registered[i].Version == version {
			return &registered[i]
		}
	}
	return nil
}

// RollbackMigration reverts an applied migration and returns it. A version
// of 0 selects the most recently applied one.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) (*Migration, error) {
	store := NewMigrationStore(db)
	applied, err := store.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		if len(applied) == 0 {
			return nil, errors.New("no migration has been applied")
		}
		version = applied[len(applied)-1]
	}

	m := GetMigrationByVersion(version)
	if m == nil {
		return nil, fmt.Errorf("migration version %d not found", version)
	}
	if len(pendingMigrations(applied, []Migration{*m})) > 0 {
		return nil, fmt.Errorf("migration %s has not been applied", m)
	}

	middleware.Logger.InfoContext(ctx, "Rolling back migration", slog.String("migration", m.String()))
	if err := store.RemoveMigration(ctx, m.Version, m.DownScript); err != nil {
		return nil, err
	}
	return m, nil
}
