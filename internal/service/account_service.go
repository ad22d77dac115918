package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"noticeboard/internal/auth"
	"noticeboard/internal/drafts"
	"noticeboard/internal/identity"
	"noticeboard/internal/middleware"
	"noticeboard/internal/models"
	"noticeboard/internal/repository"
	"noticeboard/internal/validation"
)

// Messages shown after successful account flows.
const (
	MsgSignUpComplete  = "Thanks for signing up! Please log in."
	MsgResetEmailSent  = "送信したメールを確認してください"
	MsgPasswordUpdated = "パスワードを更新しました"
)

const (
	msgEmailTaken            = "メールアドレスはすでに使用されています"
	msgSignUpDraftIncomplete = "user name, email, password are required"
	msgSignUpDraftNotFound   = "sign-up data not found"
	msgSignUpSaveFailed      = "登録データの保存に失敗しました"
	msgEmailRequired         = "Email is required"
	msgInvalidCallback       = "Invalid callback URL"
	msgResetFailed           = "Could not reset password"
	msgPasswordsRequired     = "パスワードと確認用パスワードは必須項目です"
	msgPasswordsMismatch     = "パスワードと確認用パスワードが一致しません"
	msgPasswordUpdateFailed  = "パスワードの更新に失敗しました"
	msgSignInFailed          = "サインインに失敗しました"
)

// ResetPasswordPath is where recovery links land after the token exchange.
const ResetPasswordPath = "/protected/reset-password"

// SignUpDraft is a staged registration.
type SignUpDraft struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// AccountService runs sign-up, sign-in and password recovery against the
// identity provider and keeps the local profile in step.
type AccountService struct {
	provider  identity.Provider
	userRepo  repository.UserRepository
	drafts    *drafts.Manager
	users     CurrentUserSource
	publicURL string
}

// NewAccountService wires an AccountService. publicURL is the externally
// visible origin used in emailed links.
func NewAccountService(
	provider identity.Provider,
	userRepo repository.UserRepository,
	draftManager *drafts.Manager,
	users CurrentUserSource,
	publicURL string,
) *AccountService {
	return &AccountService{
		provider:  provider,
		userRepo:  userRepo,
		drafts:    draftManager,
		users:     users,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *AccountService) callbackURL(redirectTo string) string {
	u := s.publicURL + "/auth/callback"
	if redirectTo != "" {
		u += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return u
}

// SaveSignUp validates a registration and stages it for confirmation.
func (s *AccountService) SaveSignUp(ctx context.Context, in SignUpDraft) (err error) {
	ctx, done := trackMutation(ctx, "stage_sign_up")
	defer func() { done(err) }()

	fieldErr := validation.ValidateSignUp(in.Email, in.Password, in.Name)
	if errors.Is(fieldErr, validation.ErrSignUpIncomplete) {
		return models.NewValidationError(fieldErr.Error())
	}

	existing, err := s.userRepo.GetByEmail(ctx, in.Email)
	if err != nil {
		return storeFailure(ctx, "stage_sign_up", msgSignUpSaveFailed, err)
	}
	if existing != nil {
		return models.NewValidationError(msgEmailTaken)
	}
	if fieldErr != nil {
		return models.NewValidationError(fieldErr.Error())
	}

	if err := s.drafts.Stage(ctx, drafts.KindSignUp, "", in); err != nil {
		return storeFailure(ctx, "stage_sign_up", msgSignUpSaveFailed, err)
	}
	return nil
}

// GetSignUpData returns the staged registration. Unreadable drafts are
// discarded.
func (s *AccountService) GetSignUpData(ctx context.Context) (*SignUpDraft, error) {
	var draft SignUpDraft
	_, err := s.drafts.Read(ctx, drafts.KindSignUp, &draft)
	switch {
	case err == nil:
		return &draft, nil
	case errors.Is(err, drafts.ErrNotFound),
		errors.Is(err, drafts.ErrCorrupt),
		errors.Is(err, drafts.ErrNoSession):
		return nil, models.NewNotFoundMessage(msgSignUpDraftNotFound)
	default:
		return nil, storeFailure(ctx, "read_sign_up_draft", msgSignUpDraftNotFound, err)
	}
}

// SignUp registers the staged account with the identity provider and
// creates its local profile. A provider account whose profile could not be
// created is left in place.
func (s *AccountService) SignUp(ctx context.Context) (profile *models.UserProfile, err error) {
	ctx, done := trackMutation(ctx, "sign_up")
	defer func() { done(err) }()

	draft, err := s.GetSignUpData(ctx)
	if err != nil {
		return nil, err
	}
	if draft.Email == "" || draft.Password == "" || draft.Name == "" {
		return nil, models.NewValidationError(msgSignUpDraftIncomplete)
	}

	account, err := s.provider.Register(ctx, identity.RegisterInput{
		Email:       draft.Email,
		Password:    draft.Password,
		DisplayName: draft.Name,
		RedirectURL: s.callbackURL(""),
	})
	if err != nil {
		return nil, models.NewProviderError(identity.Message(err), err)
	}

	profile = &models.UserProfile{
		AuthSubject: account.Subject,
		Name:        draft.Name,
		Email:       draft.Email,
		IsActive:    true,
	}
	if err := s.userRepo.Create(ctx, profile); err != nil {
		middleware.Logger.ErrorContext(ctx, "profile creation failed after registration",
			slog.String("subject", account.Subject),
			slog.String("error", err.Error()),
		)
		return nil, models.NewProfileCreationError(err)
	}

	if err := s.drafts.Discard(ctx, drafts.KindSignUp); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to discard sign-up draft", slog.String("error", err.Error()))
	}
	return profile, nil
}

// SignIn authenticates with the identity provider and admits only callers
// with an active local profile. Any other session is ended at once.
func (s *AccountService) SignIn(ctx context.Context, email, password string) (session *identity.Session, err error) {
	ctx, done := trackMutation(ctx, "sign_in")
	defer func() { done(err) }()

	session, err = s.provider.Authenticate(ctx, email, password)
	if err != nil {
		return nil, models.NewProviderError(identity.Message(err), err)
	}

	profile, err := s.userRepo.GetByAuthSubject(ctx, session.Subject)
	if err != nil {
		s.endSession(ctx, session.Token)
		return nil, storeFailure(ctx, "sign_in", msgSignInFailed, err)
	}
	if profile == nil || !profile.IsActive {
		s.endSession(ctx, session.Token)
		return nil, models.NewAccountInactiveError(msgAccountInactive)
	}
	return session, nil
}

// SignOut ends the caller's session.
func (s *AccountService) SignOut(ctx context.Context) error {
	s.endSession(ctx, auth.SessionToken(ctx))
	return nil
}

func (s *AccountService) endSession(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.provider.EndSession(ctx, token); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to end session", slog.String("error", err.Error()))
	}
}

// SafeRedirectPath reports whether p is a same-site absolute path.
func SafeRedirectPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// ForgotPassword emails a recovery link. It returns callbackPath, which the
// caller redirects to when non-empty.
func (s *AccountService) ForgotPassword(ctx context.Context, email, callbackPath string) (redirect string, err error) {
	ctx, done := trackMutation(ctx, "forgot_password")
	defer func() { done(err) }()

	if email == "" {
		return "", models.NewValidationError(msgEmailRequired)
	}
	if callbackPath != "" && !SafeRedirectPath(callbackPath) {
		return "", models.NewValidationError(msgInvalidCallback)
	}

	if err := s.provider.InitiatePasswordReset(ctx, email, s.callbackURL(ResetPasswordPath)); err != nil {
		middleware.Logger.WarnContext(ctx, "password reset request failed", slog.String("error", err.Error()))
		return "", models.NewProviderError(msgResetFailed, err)
	}
	return callbackPath, nil
}

// ResetPassword sets a new password for the signed-in caller, typically
// right after a recovery link was exchanged.
func (s *AccountService) ResetPassword(ctx context.Context, password, confirmPassword string) (err error) {
	ctx, done := trackMutation(ctx, "reset_password")
	defer func() { done(err) }()

	user, err := requireUser(ctx, s.users)
	if err != nil {
		return err
	}
	if password == "" || confirmPassword == "" {
		return models.NewValidationError(msgPasswordsRequired)
	}
	if password != confirmPassword {
		return models.NewValidationError(msgPasswordsMismatch)
	}

	if err := s.provider.UpdateCredentials(ctx, user.AuthSubject, identity.CredentialsUpdate{Password: &password}); err != nil {
		middleware.Logger.WarnContext(ctx, "password update failed", slog.String("error", err.Error()))
		return models.NewProviderError(msgPasswordUpdateFailed, err)
	}
	return nil
}

// ExchangeToken trades an emailed confirmation or recovery token for a
// session.
func (s *AccountService) ExchangeToken(ctx context.Context, token string) (*identity.Session, error) {
	session, err := s.provider.ExchangeToken(ctx, token)
	if err != nil {
		return nil, models.NewProviderError(identity.Message(err), err)
	}
	return session, nil
}
