package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"noticeboard/internal/drafts"
	"noticeboard/internal/identity"
	"noticeboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// postRepoStub is a stub for repository.PostRepository.
type postRepoStub struct {
	createFn        func(context.Context, *models.Post) error
	getByIDFn       func(context.Context, string) (*models.Post, error)
	updateFn        func(context.Context, string, string, string) error
	updateContentFn func(context.Context, string, string) error
	softDeleteFn    func(context.Context, string) error
	listTopLevelFn  func(context.Context, int, int) ([]*models.Post, error)
	countTopLevelFn func(context.Context) (int64, error)
	listRepliesFn   func(context.Context, string) ([]*models.Post, error)

	mu    sync.Mutex
	calls map[string]int
}

func (s *postRepoStub) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[name]++
}

func (s *postRepoStub) called(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *postRepoStub) Create(ctx context.Context, post *models.Post) error {
	s.record("Create")
	return s.createFn(ctx, post)
}
func (s *postRepoStub) GetByID(ctx context.Context, id string) (*models.Post, error) {
	s.record("GetByID")
	return s.getByIDFn(ctx, id)
}
func (s *postRepoStub) Update(ctx context.Context, id, title, content string) error {
	s.record("Update")
	return s.updateFn(ctx, id, title, content)
}
func (s *postRepoStub) UpdateContent(ctx context.Context, id, content string) error {
	s.record("UpdateContent")
	return s.updateContentFn(ctx, id, content)
}
func (s *postRepoStub) SoftDelete(ctx context.Context, id string) error {
	s.record("SoftDelete")
	return s.softDeleteFn(ctx, id)
}
func (s *postRepoStub) ListTopLevel(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	s.record("ListTopLevel")
	return s.listTopLevelFn(ctx, limit, offset)
}
func (s *postRepoStub) CountTopLevel(ctx context.Context) (int64, error) {
	s.record("CountTopLevel")
	return s.countTopLevelFn(ctx)
}
func (s *postRepoStub) ListReplies(ctx context.Context, parentID string) ([]*models.Post, error) {
	s.record("ListReplies")
	return s.listRepliesFn(ctx, parentID)
}

func noopPostRepo() *postRepoStub {
	return &postRepoStub{
		createFn:        func(_ context.Context, _ *models.Post) error { return nil },
		getByIDFn:       func(_ context.Context, id string) (*models.Post, error) { return nil, models.NewNotFoundError("Post", id) },
		updateFn:        func(_ context.Context, _, _, _ string) error { return nil },
		updateContentFn: func(_ context.Context, _, _ string) error { return nil },
		softDeleteFn:    func(_ context.Context, _ string) error { return nil },
		listTopLevelFn:  func(_ context.Context, _, _ int) ([]*models.Post, error) { return nil, nil },
		countTopLevelFn: func(_ context.Context) (int64, error) { return 0, nil },
		listRepliesFn:   func(_ context.Context, _ string) ([]*models.Post, error) { return nil, nil },
	}
}

// userRepoStub is a stub for repository.UserRepository.
type userRepoStub struct {
	getByIDFn          func(context.Context, string) (*models.UserProfile, error)
	getByAuthSubjectFn func(context.Context, string) (*models.UserProfile, error)
	getByEmailFn       func(context.Context, string) (*models.UserProfile, error)
	createFn           func(context.Context, *models.UserProfile) error
	updateProfileFn    func(context.Context, *models.UserProfile, string, string) error
	deactivateFn       func(context.Context, *models.UserProfile) error
}

func (s *userRepoStub) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	return s.getByIDFn(ctx, id)
}
func (s *userRepoStub) GetByAuthSubject(ctx context.Context, subject string) (*models.UserProfile, error) {
	return s.getByAuthSubjectFn(ctx, subject)
}
func (s *userRepoStub) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	return s.getByEmailFn(ctx, email)
}
func (s *userRepoStub) Create(ctx context.Context, profile *models.UserProfile) error {
	return s.createFn(ctx, profile)
}
func (s *userRepoStub) UpdateProfile(ctx context.Context, profile *models.UserProfile, name, email string) error {
	return s.updateProfileFn(ctx, profile, name, email)
}
func (s *userRepoStub) Deactivate(ctx context.Context, profile *models.UserProfile) error {
	return s.deactivateFn(ctx, profile)
}

func noopUserRepo() *userRepoStub {
	return &userRepoStub{
		getByIDFn:          func(_ context.Context, id string) (*models.UserProfile, error) { return nil, models.NewNotFoundError("User", id) },
		getByAuthSubjectFn: func(_ context.Context, _ string) (*models.UserProfile, error) { return nil, nil },
		getByEmailFn:       func(_ context.Context, _ string) (*models.UserProfile, error) { return nil, nil },
		createFn:           func(_ context.Context, _ *models.UserProfile) error { return nil },
		updateProfileFn:    func(_ context.Context, _ *models.UserProfile, _, _ string) error { return nil },
		deactivateFn:       func(_ context.Context, _ *models.UserProfile) error { return nil },
	}
}

// fixedUser is a CurrentUserSource returning a fixed profile.
type fixedUser struct {
	user *models.UserProfile
	err  error
}

func (f fixedUser) CurrentUser(_ context.Context) (*models.UserProfile, error) {
	return f.user, f.err
}

func activeUser(id string) *models.UserProfile {
	return &models.UserProfile{ID: id, AuthSubject: "sub-" + id, Name: "User " + id, Email: id + "@example.com", IsActive: true}
}

func inactiveUser(id string) *models.UserProfile {
	u := activeUser(id)
	u.IsActive = false
	return u
}

// recordingRevalidator remembers revalidated paths.
type recordingRevalidator struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingRevalidator) Revalidate(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return r.err
}

func (r *recordingRevalidator) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// mockProvider is a testify mock of identity.Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Register(ctx context.Context, in identity.RegisterInput) (*identity.Account, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Account), args.Error(1)
}

func (m *mockProvider) Authenticate(ctx context.Context, email, password string) (*identity.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func (m *mockProvider) EndSession(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockProvider) CurrentSession(ctx context.Context, token string) (string, bool, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockProvider) UpdateCredentials(ctx context.Context, subject string, update identity.CredentialsUpdate) error {
	return m.Called(ctx, subject, update).Error(0)
}

func (m *mockProvider) InitiatePasswordReset(ctx context.Context, email, redirectURL string) error {
	return m.Called(ctx, email, redirectURL).Error(0)
}

func (m *mockProvider) ExchangeToken(ctx context.Context, token string) (*identity.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

// compensationLog collects compensation records.
type compensationLog struct {
	records []*models.CompensationRecord
	err     error
}

func (l *compensationLog) Record(_ context.Context, rec *models.CompensationRecord) error {
	l.records = append(l.records, rec)
	return l.err
}

func newDrafts() (*drafts.Manager, *drafts.MemoryStore) {
	store := drafts.NewMemoryStore()
	return drafts.NewManager(store, 10*time.Minute), store
}

func draftCtx(sid string) context.Context {
	return drafts.WithSessionID(context.Background(), sid)
}

// assertCode asserts that err is an AppError with the given code and,
// when message is non-empty, that message.
func assertCode(t *testing.T, err error, code, message string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
	if message != "" {
		assert.Equal(t, message, appErr.Message)
	}
}
