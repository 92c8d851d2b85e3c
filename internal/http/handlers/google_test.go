package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/mailer"
	"github.com/rvidia/server/internal/model"
	"github.com/rvidia/server/internal/repo/repotest"
)

type fakeGoogle struct {
	profile  auth.GoogleProfile
	err      error
	lastCode string
}

func (f *fakeGoogle) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeGoogle) Exchange(_ context.Context, code string) (auth.GoogleProfile, error) {
	f.lastCode = code
	return f.profile, f.err
}

func newGoogleFixture(t *testing.T, google GoogleAuthenticator, opts auth.Options) (*GoogleHandler, *auth.TokenService, *repotest.Users) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService([]string{"google-handler-test-secret-32-chars!"})
	require.NoError(t, err)
	users := repotest.NewUsers()
	svc := auth.NewService(users, repotest.NewResets(), tokens, auth.NewHasher(bcrypt.MinCost), &mailer.Recorder{}, opts, log)
	return NewGoogleHandler(google, svc, tokens, auth.NewCookiePolicy(false), log), tokens, users
}

func TestGoogleStart_redirectsWithSignedState(t *testing.T) {
	h, tokens, _ := newGoogleFixture(t, &fakeGoogle{}, auth.Options{})

	rec := httptest.NewRecorder()
	h.HandleStart(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google?role=admin", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	role, err := tokens.VerifyState(loc.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)
}

func TestGoogleStart_rejectsUnknownRole(t *testing.T) {
	h, _, _ := newGoogleFixture(t, &fakeGoogle{}, auth.Options{})

	rec := httptest.NewRecorder()
	h.HandleStart(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google?role=owner", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGoogleCallback_createsUserAndSetsCookie(t *testing.T) {
	google := &fakeGoogle{profile: auth.GoogleProfile{ID: "g-1", Email: "Jane.Doe@example.com", VerifiedEmail: true, Name: "Jane"}}
	h, tokens, users := newGoogleFixture(t, google, auth.Options{AllowRoleSelection: true})

	state, err := tokens.IssueState(model.RoleAdmin)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin", rec.Header().Get("Location"))
	assert.Equal(t, "abc", google.lastCode)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)

	u, err := users.GetByEmail(context.Background(), "jane.doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jane_doe", u.Username)
	require.NotNil(t, u.GoogleID)
	assert.Equal(t, "g-1", *u.GoogleID)
}

func TestGoogleCallback_errors(t *testing.T) {
	google := &fakeGoogle{err: errors.New("exchange failed")}
	h, tokens, _ := newGoogleFixture(t, google, auth.Options{})
	state, err := tokens.IssueState(model.RoleUser)
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"provider error", "?error=access_denied", "/signin?error=access_denied"},
		{"missing code", "?state=" + url.QueryEscape(state), "/signin?error=missing_code"},
		{"bad state", "?code=abc&state=forged", "/signin?error=invalid_state"},
		{"exchange fails", "?code=abc&state=" + url.QueryEscape(state), "/signin?error=oauth_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google/callback"+tt.query, nil))
			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Location"))
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestGoogleCallback_unverifiedEmailIsRefused(t *testing.T) {
	google := &fakeGoogle{profile: auth.GoogleProfile{ID: "g-1", Email: "jane@example.com"}}
	h, tokens, users := newGoogleFixture(t, google, auth.Options{})
	state, err := tokens.IssueState(model.RoleUser)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin?error=oauth_failed", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies())
	_, err = users.GetByEmail(context.Background(), "jane@example.com")
	assert.Error(t, err)
}

func TestGoogleDisabled(t *testing.T) {
	h, _, _ := newGoogleFixture(t, nil, auth.Options{})

	for _, path := range []string{"/api/auth/google", "/api/auth/google/callback?code=x"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if path == "/api/auth/google" {
			h.HandleStart(rec, req)
		} else {
			h.HandleCallback(rec, req)
		}
		assert.Equal(t, "/signin?error=google_disabled", rec.Header().Get("Location"), path)
	}
}
