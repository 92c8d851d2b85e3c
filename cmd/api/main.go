package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/config"
	"github.com/rvidia/server/internal/db"
	httphandler "github.com/rvidia/server/internal/http"
	"github.com/rvidia/server/internal/http/handlers"
	"github.com/rvidia/server/internal/logger"
	"github.com/rvidia/server/internal/mailer"
	"github.com/rvidia/server/internal/otp"
	"github.com/rvidia/server/internal/repo"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	log := logger.New()
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		fatal(log, "failed to load configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		fatal(log, "failed to open database", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		fatal(log, "failed to run migrations", err)
	}

	cache, err := newOTPCache(ctx, cfg.RedisURL, log)
	if err != nil {
		fatal(log, "failed to connect to redis", err)
	}
	go otp.RunSweeper(ctx, cache, cfg.OTPSweepInterval, log)

	tokens, err := auth.NewTokenService(cfg.JWTSecrets)
	if err != nil {
		fatal(log, "invalid JWT configuration", err)
	}
	cookies := auth.NewCookiePolicy(cfg.Production)
	mail := mailer.New(cfg.Email, log)

	svc := auth.NewService(
		repo.NewUserRepo(database),
		repo.NewResetRepo(database),
		tokens,
		auth.NewHasher(cfg.BcryptCost),
		mail,
		auth.Options{AllowRoleSelection: cfg.AllowRoleSelection, AdminEmails: cfg.AdminEmails},
		log,
	)

	// keep the interface nil when Google login is disabled
	var google handlers.GoogleAuthenticator
	if p := auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURI); p != nil {
		google = p
	} else {
		log.Info("google login disabled")
	}

	router := httphandler.NewRouter(httphandler.Deps{
		Auth:          handlers.NewAuthHandler(svc, tokens, cookies, log),
		OTP:           handlers.NewOTPHandler(otp.NewStore(cache), otp.NewLimiter(cache), mail, log, cfg.DevMode),
		PasswordReset: handlers.NewPasswordResetHandler(svc, log, cfg.DevMode),
		Users:         handlers.NewUsersHandler(svc, log),
		Google:        handlers.NewGoogleHandler(google, svc, tokens, cookies, log),
		Tokens:        tokens,
		Cookies:       cookies,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "production", cfg.Production, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server failed to start", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("server exited")
}

// newOTPCache returns a Redis-backed cache when redisURL is set, otherwise an in-process one
func newOTPCache(ctx context.Context, redisURL string, log *slog.Logger) (otp.Cache, error) {
	if redisURL == "" {
		log.Info("otp store: in-memory")
		return otp.NewMemoryCache(), nil
	}
	client, err := otp.Connect(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	log.Info("otp store: redis")
	return otp.NewRedisCache(client), nil
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
