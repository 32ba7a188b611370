package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgstrings "agrimitra/pkg/platform/strings"
)

// Config is the full runtime configuration, built from the environment so
// main stays lean.
type Config struct {
	HTTPAddr     string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string
	AuditTopic   string

	Identity  Identity
	Lifecycle Lifecycle
}

// Identity points at the hosted auth service.
type Identity struct {
	BaseURL string
	APIKey  string
	// RefreshToken, when present, lets the bootstrapper restore the last
	// session without an interactive sign-in.
	RefreshToken string
}

// Lifecycle carries the budgets and rules of the identity lifecycle manager.
type Lifecycle struct {
	// AdminEmails is the promotion allow-list; matching identities are
	// raised to the admin role on resolve.
	AdminEmails []string

	DefaultLanguage    string
	SupportedLanguages []string

	FetchAttempts     int
	RetryBaseDelay    time.Duration
	AttemptTimeout    time.Duration
	BootstrapAttempts int
	BootstrapTimeout  time.Duration
	BootFailsafe      time.Duration
	RepairRereadDelay time.Duration

	ResetRedirectURL string
}

// FromEnv builds a Config from environment variables. A local .env file is
// loaded first when present; real environment variables win.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:     getenv("AGRIMITRA_ADDR", ":8080"),
		DatabaseURL:  getenv("DATABASE_URL", "postgres://localhost:5432/agrimitra?sslmode=disable"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:   getenv("AUDIT_TOPIC", "agrimitra.lifecycle"),
		Identity: Identity{
			BaseURL:      getenv("IDENTITY_BASE_URL", "http://localhost:9999"),
			APIKey:       os.Getenv("IDENTITY_API_KEY"),
			RefreshToken: os.Getenv("IDENTITY_REFRESH_TOKEN"),
		},
		Lifecycle: Lifecycle{
			AdminEmails:        pkgstrings.DedupeAndTrimLower(strings.Split(os.Getenv("ADMIN_EMAILS"), ",")),
			DefaultLanguage:    getenv("DEFAULT_LANGUAGE", "en"),
			SupportedLanguages: splitList(getenv("SUPPORTED_LANGUAGES", "en,hi")),
			FetchAttempts:      getint("PROFILE_FETCH_ATTEMPTS", 2),
			RetryBaseDelay:     getduration("RETRY_BASE_DELAY", 500*time.Millisecond),
			AttemptTimeout:     getduration("ATTEMPT_TIMEOUT", 8*time.Second),
			BootstrapAttempts:  getint("BOOTSTRAP_ATTEMPTS", 2),
			BootstrapTimeout:   getduration("BOOTSTRAP_TIMEOUT", 4*time.Second),
			BootFailsafe:       getduration("BOOT_FAILSAFE", 12*time.Second),
			RepairRereadDelay:  getduration("REPAIR_REREAD_DELAY", time.Second),
			ResetRedirectURL:   getenv("RESET_REDIRECT_URL", "https://app.agrimitra.in/reset-password"),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return pkgstrings.DedupeAndTrim(strings.Split(v, ","))
}
