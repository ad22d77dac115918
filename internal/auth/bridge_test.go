package auth

import (
	"context"
	"errors"
	"testing"

	"noticeboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) CurrentSession(ctx context.Context, token string) (string, bool, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Bool(1), args.Error(2)
}

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) GetByAuthSubject(ctx context.Context, subject string) (*models.UserProfile, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func TestBridge_CurrentUser(t *testing.T) {
	profile := &models.UserProfile{ID: "u1", AuthSubject: "sub-1", Name: "Alice", IsActive: true}

	tests := []struct {
		name        string
		token       string
		setup       func(s *mockSessions, p *mockProfiles)
		wantProfile *models.UserProfile
		wantErr     bool
	}{
		{
			name:  "Anonymous without token",
			token: "",
			setup: func(s *mockSessions, p *mockProfiles) {
				s.On("CurrentSession", mock.Anything, "").Return("", false, nil)
			},
		},
		{
			name:  "Invalid session",
			token: "stale",
			setup: func(s *mockSessions, p *mockProfiles) {
				s.On("CurrentSession", mock.Anything, "stale").Return("", false, nil)
			},
		},
		{
			name:  "Session without profile",
			token: "tok",
			setup: func(s *mockSessions, p *mockProfiles) {
				s.On("CurrentSession", mock.Anything, "tok").Return("sub-2", true, nil)
				p.On("GetByAuthSubject", mock.Anything, "sub-2").Return(nil, nil)
			},
		},
		{
			name:  "Resolved profile",
			token: "tok",
			setup: func(s *mockSessions, p *mockProfiles) {
				s.On("CurrentSession", mock.Anything, "tok").Return("sub-1", true, nil)
				p.On("GetByAuthSubject", mock.Anything, "sub-1").Return(profile, nil)
			},
			wantProfile: profile,
		},
		{
			name:  "Lookup failure",
			token: "tok",
			setup: func(s *mockSessions, p *mockProfiles) {
				s.On("CurrentSession", mock.Anything, "tok").Return("sub-1", true, nil)
				p.On("GetByAuthSubject", mock.Anything, "sub-1").Return(nil, errors.New("db down"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := new(mockSessions)
			profiles := new(mockProfiles)
			tt.setup(sessions, profiles)

			bridge := NewBridge(sessions, profiles)
			got, err := bridge.CurrentUser(WithSessionToken(context.Background(), tt.token))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantProfile, got)
			sessions.AssertExpectations(t)
			profiles.AssertExpectations(t)
		})
	}
}

func TestSessionToken_Empty(t *testing.T) {
	assert.Equal(t, "", SessionToken(context.Background()))
	assert.Equal(t, "abc", SessionToken(WithSessionToken(context.Background(), "abc")))
}
