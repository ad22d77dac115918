package repository

import (
	"context"
	"errors"

	"noticeboard/internal/cache"
	"noticeboard/internal/models"
	"noticeboard/internal/observability"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for user profiles.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	// GetByAuthSubject returns nil, nil when no profile is linked to subject.
	GetByAuthSubject(ctx context.Context, subject string) (*models.UserProfile, error)
	// GetByEmail returns nil, nil when no profile uses email.
	GetByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	Create(ctx context.Context, profile *models.UserProfile) error
	UpdateProfile(ctx context.Context, profile *models.UserProfile, name, email string) error
	Deactivate(ctx context.Context, profile *models.UserProfile) error
}

type userRepository struct {
	db    *gorm.DB
	cache *cache.Store
}

// NewUserRepository returns a new UserRepository. store may be nil.
func NewUserRepository(db *gorm.DB, store *cache.Store) UserRepository {
	return &userRepository{db: db, cache: store}
}

var errNoProfile = errors.New("no profile for subject")

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	defer observability.TrackQuery("get_by_id", "user_profiles")()

	var profile models.UserProfile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, findError(err, "User", id)
	}
	return &profile, nil
}

func (r *userRepository) GetByAuthSubject(ctx context.Context, subject string) (*models.UserProfile, error) {
	if subject == "" {
		return nil, nil
	}
	defer observability.TrackQuery("get_by_subject", "user_profiles")()

	var profile models.UserProfile
	err := r.cache.Aside(ctx, cache.UserSubjectKey(subject), &profile, cache.UserTTL, func() error {
		err := r.db.WithContext(ctx).Where("auth_subject = ?", subject).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errNoProfile
		}
		if err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
	if errors.Is(err, errNoProfile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// AuthSubject is not serialized, so a cache hit comes back without it.
	profile.AuthSubject = subject
	return &profile, nil
}

// invalidate drops the cached profile. The subject is read back from the
// store when the caller's copy lacks it.
func (r *userRepository) invalidate(ctx context.Context, profile *models.UserProfile) {
	if r.cache.Client() == nil {
		return
	}
	subject := profile.AuthSubject
	if subject == "" {
		var subjects []string
		if err := r.db.WithContext(ctx).Model(&models.UserProfile{}).
			Where("id = ?", profile.ID).Pluck("auth_subject", &subjects).Error; err != nil || len(subjects) == 0 {
			return
		}
		subject = subjects[0]
	}
	r.cache.InvalidateUserSubject(ctx, subject)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	defer observability.TrackQuery("get_by_email", "user_profiles")()

	var profile models.UserProfile
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &profile, nil
}

func (r *userRepository) Create(ctx context.Context, profile *models.UserProfile) error {
	defer observability.TrackQuery("create", "user_profiles")()

	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewValidationError("User already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, profile *models.UserProfile, name, email string) error {
	defer observability.TrackQuery("update", "user_profiles")()

	res := r.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("id = ?", profile.ID).
		Updates(map[string]interface{}{"name": name, "email": email})
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return models.NewValidationError("メールアドレスはすでに使用されています")
		}
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", profile.ID)
	}
	r.invalidate(ctx, profile)
	return nil
}

func (r *userRepository) Deactivate(ctx context.Context, profile *models.UserProfile) error {
	defer observability.TrackQuery("deactivate", "user_profiles")()

	res := r.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("id = ?", profile.ID).
		Update("is_active", false)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", profile.ID)
	}
	r.invalidate(ctx, profile)
	return nil
}
