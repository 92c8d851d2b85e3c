package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string

	// JWTSecrets is ordered newest first; tokens are always signed with JWTSecrets[0].
	JWTSecrets []string

	Production bool
	DevMode    bool

	RedisURL         string
	OTPSweepInterval time.Duration

	BcryptCost         int
	AllowRoleSelection bool
	AdminEmails        []string

	Google GoogleConfig
	Email  EmailConfig
}

// GoogleConfig holds OAuth client settings. Google login is disabled when ClientID is empty.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// EmailConfig selects and configures the mail sender
type EmailConfig struct {
	Mode     string // "log" or "smtp"
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// fileConfig mirrors the optional YAML file referenced by CONFIG_FILE.
type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Auth struct {
		BcryptCost         int      `yaml:"bcrypt_cost"`
		AllowRoleSelection bool     `yaml:"allow_role_selection"`
		AdminEmails        []string `yaml:"admin_emails"`
	} `yaml:"auth"`
	Google struct {
		ClientID    string `yaml:"client_id"`
		RedirectURI string `yaml:"redirect_uri"`
	} `yaml:"google"`
	Email struct {
		Mode string `yaml:"mode"`
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		From string `yaml:"from"`
	} `yaml:"email"`
}

// Load reads configuration in priority order: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             "8080",
		OTPSweepInterval: 5 * time.Minute,
		BcryptCost:       12,
		Email: EmailConfig{
			Mode: "log",
			Port: 587,
			From: "noreply@rvidia.local",
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	logDatabaseTarget(cfg.DatabaseURL)

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecrets = append([]string{jwtSecret}, splitList(os.Getenv("JWT_LEGACY_SECRETS"))...)

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Production = strings.EqualFold(env, "production")
	}
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("OTP_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OTP_SWEEP_INTERVAL: %w", err)
		}
		cfg.OTPSweepInterval = d
	}

	if v := os.Getenv("BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BCRYPT_COST: %w", err)
		}
		cfg.BcryptCost = n
	}
	if v := os.Getenv("ALLOW_ROLE_SELECTION"); v != "" {
		cfg.AllowRoleSelection = v == "true"
	}
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		cfg.AdminEmails = splitList(v)
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if v := os.Getenv("GOOGLE_REDIRECT_URI"); v != "" {
		cfg.Google.RedirectURI = v
	}

	if v := os.Getenv("EMAIL_MODE"); v != "" {
		cfg.Email.Mode = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.Email.Port = n
	}
	cfg.Email.User = os.Getenv("SMTP_USER")
	cfg.Email.Password = os.Getenv("SMTP_PASSWORD")
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.From = v
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Server.Port != "" {
		c.Port = fc.Server.Port
	}
	c.Production = strings.EqualFold(fc.Server.Env, "production")
	c.DatabaseURL = fc.Database.URL
	c.RedisURL = fc.Redis.URL
	if fc.Auth.BcryptCost > 0 {
		c.BcryptCost = fc.Auth.BcryptCost
	}
	c.AllowRoleSelection = fc.Auth.AllowRoleSelection
	c.AdminEmails = fc.Auth.AdminEmails
	c.Google.ClientID = fc.Google.ClientID
	c.Google.RedirectURI = fc.Google.RedirectURI
	if fc.Email.Mode != "" {
		c.Email.Mode = fc.Email.Mode
	}
	c.Email.Host = fc.Email.Host
	if fc.Email.Port > 0 {
		c.Email.Port = fc.Email.Port
	}
	if fc.Email.From != "" {
		c.Email.From = fc.Email.From
	}
	return nil
}

// logDatabaseTarget logs where we connect, never the password
func logDatabaseTarget(databaseURL string) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	slog.Info("database target", "host", host, "port", port, "db", strings.TrimPrefix(u.Path, "/"), "user", user)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
