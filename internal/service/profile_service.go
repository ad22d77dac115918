package service

import (
	"context"
	"errors"
	"log/slog"

	"noticeboard/internal/auth"
	"noticeboard/internal/drafts"
	"noticeboard/internal/identity"
	"noticeboard/internal/middleware"
	"noticeboard/internal/models"
	"noticeboard/internal/repository"
	"noticeboard/internal/validation"
)

const (
	msgProfileDraftNotFound = "プロフィールデータが見つかりません"
	msgProfileSaveFailed    = "プロフィールデータの保存に失敗しました"
	msgProfileUpdateFailed  = "データベース更新に失敗しました"
	msgDeactivateFailed     = "アカウントの無効化に失敗しました"
)

// ProfileUpdateSaga names the profile-edit saga in compensation records.
const ProfileUpdateSaga = "profile_update"

// CredentialStore is the part of the identity provider the profile flow
// writes to.
type CredentialStore interface {
	UpdateCredentials(ctx context.Context, subject string, update identity.CredentialsUpdate) error
	EndSession(ctx context.Context, token string) error
}

// ProfileDraft is a staged profile edit.
type ProfileDraft struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ProfileService stages, confirms and applies profile edits, and
// deactivates accounts.
type ProfileService struct {
	userRepo    repository.UserRepository
	compensator CompensationRecorder
	credentials CredentialStore
	drafts      *drafts.Manager
	users       CurrentUserSource
	views       Revalidator
}

func NewProfileService(
	userRepo repository.UserRepository,
	compensator CompensationRecorder,
	credentials CredentialStore,
	draftManager *drafts.Manager,
	users CurrentUserSource,
	views Revalidator,
) *ProfileService {
	return &ProfileService{
		userRepo:    userRepo,
		compensator: compensator,
		credentials: credentials,
		drafts:      draftManager,
		users:       users,
		views:       views,
	}
}

// SaveProfileData stages a profile edit for confirmation. The draft is bound
// to the caller.
func (s *ProfileService) SaveProfileData(ctx context.Context, name, email string) (err error) {
	ctx, done := trackMutation(ctx, "stage_profile")
	defer func() { done(err) }()

	user, err := requireActiveUser(ctx, s.users)
	if err != nil {
		return err
	}
	if err := validation.ValidateProfile(name, email); err != nil {
		return models.NewValidationError(err.Error())
	}

	if err := s.drafts.Stage(ctx, drafts.KindProfile, user.ID, ProfileDraft{Name: name, Email: email}); err != nil {
		return storeFailure(ctx, "stage_profile", msgProfileSaveFailed, err)
	}
	return nil
}

// GetProfileData returns the caller's staged edit. Drafts that are missing,
// unreadable or staged by someone else are reported as not found.
func (s *ProfileService) GetProfileData(ctx context.Context) (*ProfileDraft, error) {
	user, err := requireUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	return s.readDraft(ctx, user)
}

func (s *ProfileService) readDraft(ctx context.Context, user *models.UserProfile) (*ProfileDraft, error) {
	var draft ProfileDraft
	err := s.drafts.ReadOwned(ctx, drafts.KindProfile, user.ID, &draft)
	switch {
	case err == nil:
		return &draft, nil
	case errors.Is(err, drafts.ErrNotFound),
		errors.Is(err, drafts.ErrCorrupt),
		errors.Is(err, drafts.ErrOwnerMismatch),
		errors.Is(err, drafts.ErrNoSession):
		return nil, models.NewNotFoundMessage(msgProfileDraftNotFound)
	default:
		return nil, storeFailure(ctx, "read_profile_draft", msgProfileDraftNotFound, err)
	}
}

// UpdateUserProfile applies the caller's staged edit to the identity
// provider and then to the local profile. If the local write fails the
// provider record is restored.
func (s *ProfileService) UpdateUserProfile(ctx context.Context) (err error) {
	ctx, done := trackMutation(ctx, "update_profile")
	defer func() { done(err) }()

	user, err := requireActiveUser(ctx, s.users)
	if err != nil {
		return err
	}
	draft, err := s.readDraft(ctx, user)
	if err != nil {
		return err
	}

	prevEmail, prevName := user.Email, user.Name
	saga := &Saga{
		Name:      ProfileUpdateSaga,
		ProfileID: user.ID,
		Recorder:  s.compensator,
		Steps: []SagaStep{
			{
				Name: "provider_update",
				Run: func(ctx context.Context) error {
					return s.credentials.UpdateCredentials(ctx, user.AuthSubject, identity.CredentialsUpdate{
						Email:       &draft.Email,
						DisplayName: &draft.Name,
					})
				},
				Compensate: func(ctx context.Context) error {
					return s.credentials.UpdateCredentials(ctx, user.AuthSubject, identity.CredentialsUpdate{
						Email:       &prevEmail,
						DisplayName: &prevName,
					})
				},
			},
			{
				Name: "local_update",
				Run: func(ctx context.Context) error {
					return s.userRepo.UpdateProfile(ctx, user, draft.Name, draft.Email)
				},
			},
		},
	}

	if err := saga.Execute(ctx); err != nil {
		var sagaErr *SagaError
		if errors.As(err, &sagaErr) && sagaErr.Step == "provider_update" {
			return models.NewProviderError(identity.Message(sagaErr.Err), sagaErr.Err)
		}
		middleware.Logger.ErrorContext(ctx, "profile update failed after provider update",
			slog.String("profile_id", user.ID),
			slog.String("error", err.Error()),
		)
		return models.NewStoreError(msgProfileUpdateFailed, err)
	}

	if err := s.drafts.Discard(ctx, drafts.KindProfile); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to discard profile draft", slog.String("error", err.Error()))
	}
	revalidate(ctx, s.views, ProfileEditPath, PostsPath)
	return nil
}

// DeactivateAccount turns the caller's profile off and ends their session.
// Deactivation cannot be undone.
func (s *ProfileService) DeactivateAccount(ctx context.Context) (err error) {
	ctx, done := trackMutation(ctx, "deactivate_account")
	defer func() { done(err) }()

	user, err := requireUser(ctx, s.users)
	if err != nil {
		return err
	}

	if err := s.userRepo.Deactivate(ctx, user); err != nil {
		return storeFailure(ctx, "deactivate_account", msgDeactivateFailed, err)
	}

	revalidate(ctx, s.views, ProfileEditPath, PostsPath)
	if err := s.credentials.EndSession(ctx, auth.SessionToken(ctx)); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to end session after deactivation", slog.String("error", err.Error()))
	}
	return nil
}
