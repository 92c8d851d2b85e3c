package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/config"
	"github.com/rvidia/server/internal/db"
	httphandler "github.com/rvidia/server/internal/http"
	"github.com/rvidia/server/internal/http/handlers"
	"github.com/rvidia/server/internal/mailer"
	"github.com/rvidia/server/internal/model"
	"github.com/rvidia/server/internal/otp"
	"github.com/rvidia/server/internal/repo"
)

func TestMain(m *testing.M) {
	// Set env if unset. DATABASE_URL comes from the environment or, with TESTCONTAINERS=1, a container.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}
	if os.Getenv("DEV_MODE") == "" {
		os.Setenv("DEV_MODE", "true")
	}
	if os.Getenv("BCRYPT_COST") == "" {
		os.Setenv("BCRYPT_COST", "4")
	}

	terminate := func() {}
	if os.Getenv("DATABASE_URL") == "" && os.Getenv("TESTCONTAINERS") == "1" {
		dsn, stop, err := StartPostgres(context.Background())
		if err != nil {
			slog.Error("testcontainers unavailable", "error", err)
			os.Exit(1)
		}
		os.Setenv("DATABASE_URL", dsn)
		terminate = stop
	}

	code := m.Run()
	terminate()
	os.Exit(code)
}

// testServer holds the server and DB for integration tests
type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
	Users  repo.UserRepo
	Tokens *auth.TokenService
	Mail   *mailer.Recorder
	Client *http.Client
}

func requireDatabase(t *testing.T) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set (and TESTCONTAINERS!=1); skipping integration test")
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	require.NoError(t, TruncateAuthTables(ctx, database), "truncate auth tables")

	tokens, err := auth.NewTokenService(cfg.JWTSecrets)
	require.NoError(t, err)
	cookies := auth.NewCookiePolicy(cfg.Production)
	mail := &mailer.Recorder{}
	users := repo.NewUserRepo(database)
	svc := auth.NewService(users, repo.NewResetRepo(database), tokens, auth.NewHasher(cfg.BcryptCost), mail,
		auth.Options{AllowRoleSelection: true}, log)
	cache := otp.NewMemoryCache()

	router := httphandler.NewRouter(httphandler.Deps{
		Auth:          handlers.NewAuthHandler(svc, tokens, cookies, log),
		OTP:           handlers.NewOTPHandler(otp.NewStore(cache), otp.NewLimiter(cache), mail, log, cfg.DevMode),
		PasswordReset: handlers.NewPasswordResetHandler(svc, log, cfg.DevMode),
		Users:         handlers.NewUsersHandler(svc, log),
		Google:        handlers.NewGoogleHandler(nil, svc, tokens, cookies, log),
		Tokens:        tokens,
		Cookies:       cookies,
		Log:           log,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := server.Client()
	client.Jar = jar
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	return &testServer{Server: server, DB: database, Users: users, Tokens: tokens, Mail: mail, Client: client}
}

func (s *testServer) call(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.Server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

// sessionResponse matches the body of signup, signin and GET /api/auth
type sessionResponse struct {
	Success bool `json:"success"`
	User    struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
}

// errorResponse matches error JSON body
type errorResponse struct {
	Error string `json:"error"`
}

func TestAuthIntegration(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)

	t.Run("A_HealthCheck", func(t *testing.T) {
		resp, body := ts.call(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	})

	t.Run("B_SignUpSetsSession", func(t *testing.T) {
		resp, body := ts.call(t, http.MethodPost, "/api/signup", map[string]string{
			"username": "Alice", "email": "Alice@Example.com", "password": "password123",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "signup must return 200; body: %s", body)
		var res sessionResponse
		require.NoError(t, json.Unmarshal(body, &res))
		assert.True(t, res.Success)
		assert.Equal(t, "alice@example.com", res.User.Email)
		assert.Equal(t, "user", res.User.Role)

		resp, body = ts.call(t, http.MethodGet, "/api/auth", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "session must be valid; body: %s", body)
	})

	t.Run("C_DuplicateUsernameIsCaseInsensitive", func(t *testing.T) {
		resp, body := ts.call(t, http.MethodPost, "/api/signup", map[string]string{
			"username": "ALICE", "email": "other@example.com", "password": "password123",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		var res errorResponse
		require.NoError(t, json.Unmarshal(body, &res))
		assert.Equal(t, "Username already taken", res.Error)
	})

	t.Run("D_SignOutThenSessionIsGone", func(t *testing.T) {
		resp, _ := ts.call(t, http.MethodDelete, "/api/auth", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = ts.call(t, http.MethodGet, "/api/auth", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, _ = ts.call(t, http.MethodGet, "/dashboard", nil)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/signin", resp.Header.Get("Location"))
	})

	t.Run("E_SignInByUsernameAndEmail", func(t *testing.T) {
		resp, body := ts.call(t, http.MethodPost, "/api/signin", map[string]string{"identifier": "alice", "password": "password123"})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

		resp, _ = ts.call(t, http.MethodPost, "/api/signin", map[string]string{"identifier": "ALICE@example.com", "password": "password123"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = ts.call(t, http.MethodPost, "/api/signin", map[string]string{"identifier": "alice", "password": "wrong-password"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("F_UserCannotReachAdmin", func(t *testing.T) {
		resp, _ := ts.call(t, http.MethodGet, "/admin", nil)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

		resp, body := ts.call(t, http.MethodGet, "/dashboard", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"username":"Alice"`)
	})

	t.Run("G_AdminSignUpAndUserList", func(t *testing.T) {
		resp, body := ts.call(t, http.MethodPost, "/api/signup", map[string]string{
			"username": "root", "email": "root@example.com", "password": "password123", "role": "admin",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

		resp, body = ts.call(t, http.MethodGet, "/api/users", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
		var res struct {
			Users []map[string]any `json:"users"`
		}
		require.NoError(t, json.Unmarshal(body, &res))
		assert.Len(t, res.Users, 2)
	})
}

func TestPasswordResetIntegration(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)

	resp, body := ts.call(t, http.MethodPost, "/api/signup", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	resp, body = ts.call(t, http.MethodPost, "/api/password-reset/create-token", map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	var first struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &first))
	require.NotEmpty(t, first.Token)

	// a second request replaces the first token
	resp, body = ts.call(t, http.MethodPost, "/api/password-reset/create-token", map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &second))

	resp, _ = ts.call(t, http.MethodPost, "/api/password-reset/reset", map[string]string{"token": first.Token, "password": "new-password-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "replaced token must be rejected")

	resp, body = ts.call(t, http.MethodPost, "/api/password-reset/reset", map[string]string{"token": second.Token, "password": "new-password-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	resp, _ = ts.call(t, http.MethodPost, "/api/password-reset/reset", map[string]string{"token": second.Token, "password": "new-password-2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "token is single use")

	resp, _ = ts.call(t, http.MethodPost, "/api/signin", map[string]string{"identifier": "bob", "password": "new-password-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUserRepoIntegration(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)
	ctx := context.Background()

	created, err := ts.Users.Create(ctx, model.User{
		Email:        "carol@example.com",
		Username:     "Carol",
		PasswordHash: "hash",
		Role:         model.RoleUser,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Minute)

	_, err = ts.Users.Create(ctx, model.User{Email: "carol2@example.com", Username: "carol", PasswordHash: "hash", Role: model.RoleUser})
	assert.True(t, errors.Is(err, repo.ErrConflict), "usernames are unique regardless of case: %v", err)
	assert.False(t, errors.Is(err, repo.ErrEmailConflict), "username conflict is not an email conflict: %v", err)

	_, err = ts.Users.Create(ctx, model.User{Email: "carol@example.com", Username: "carol2", PasswordHash: "hash", Role: model.RoleUser})
	assert.True(t, errors.Is(err, repo.ErrEmailConflict), "email constraint maps to ErrEmailConflict: %v", err)

	got, err := ts.Users.GetByUsername(ctx, "CAROL")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	require.NoError(t, ts.Users.LinkGoogle(ctx, created.ID, "google-123"))
	got, err = ts.Users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GoogleID)
	assert.Equal(t, "google-123", *got.GoogleID)

	err = ts.Users.UpdatePassword(ctx, uuid.New(), "x")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	_, err = ts.Users.GetByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestResetRepoIntegration(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)
	ctx := context.Background()
	resets := repo.NewResetRepo(ts.DB)

	u, err := ts.Users.Create(ctx, model.User{Email: "dave@example.com", Username: "dave", PasswordHash: "hash", Role: model.RoleUser})
	require.NoError(t, err)

	require.NoError(t, resets.Replace(ctx, u.ID, "expired-hash", time.Now().Add(-time.Minute)))
	_, err = resets.Consume(ctx, "expired-hash")
	assert.True(t, errors.Is(err, repo.ErrNotFound), "expired token must not be consumable")

	require.NoError(t, resets.Replace(ctx, u.ID, "live-hash", time.Now().Add(time.Hour)))
	id, err := resets.Consume(ctx, "live-hash")
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, err = resets.Consume(ctx, "live-hash")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}
