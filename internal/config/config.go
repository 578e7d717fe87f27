package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration sourced from env vars. All three service
// binaries read the same struct; fields they do not use stay zero.
type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string

	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration
	ServiceName   string
	FrontendURL   string
	EventStream   string
	AuditStream   string
	NotifyQueue   string
	NotifyTimeout time.Duration

	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string
	MailFrom     string
	MailFromName string
	MailTo       string
}

// LoadEnvFile reads a .env file if present; missing files are not an error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Load reads configuration from the environment and performs minimal
// validation for the named service.
func Load(service string) (Config, error) {
	cfg := Config{
		Port:        fallback(os.Getenv("PORT"), defaultPort(service)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:   fallback(os.Getenv("REDIS_ADDR"), "localhost:6379"),

		JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:   fallback(os.Getenv("JWT_ISSUER"), "uniplex-security"),
		JWTAudience: fallback(os.Getenv("JWT_AUDIENCE"), "uniplex"),
		ServiceName: service,
		FrontendURL: fallback(os.Getenv("FRONTEND_CALLBACK_URL"), "http://localhost:5173/auth/callback"),
		EventStream: fallback(os.Getenv("EVENT_STREAM"), "university.events"),
		AuditStream: fallback(os.Getenv("AUDIT_STREAM"), "audit.actions"),
		NotifyQueue: fallback(os.Getenv("NOTIFY_QUEUE"), "notifications.enrollment"),

		SMTPAddr:     fallback(os.Getenv("SMTP_ADDR"), "sandbox.smtp.mailtrap.io:2525"),
		SMTPUser:     strings.TrimSpace(os.Getenv("SMTP_USER")),
		SMTPPassword: strings.TrimSpace(os.Getenv("SMTP_PASSWORD")),
		MailFrom:     fallback(os.Getenv("MAIL_FROM"), "no-reply@uniplex.org"),
		MailFromName: fallback(os.Getenv("MAIL_FROM_NAME"), "University Notifications"),
		MailTo:       fallback(os.Getenv("MAIL_TO"), "inbox@mailtrap.io"),
	}

	cfg.TokenTTL = minutes(os.Getenv("ACCESS_TOKEN_MINUTES"), 60*time.Minute)
	cfg.NotifyTimeout = seconds(os.Getenv("NOTIFY_TIMEOUT_SECONDS"), 5*time.Second)

	if service == "security" || service == "enrollment" {
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required")
		}
	}
	if service == "security" && cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func defaultPort(service string) string {
	switch service {
	case "enrollment":
		return "8081"
	case "notifications":
		return "8082"
	default:
		return "8080"
	}
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func minutes(raw string, def time.Duration) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
		return time.Duration(n) * time.Minute
	}
	return def
}

func seconds(raw string, def time.Duration) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
