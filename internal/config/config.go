package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ideaforge/api/internal/tally"
)

type Config struct {
	Addr          string `yaml:"addr"`
	StoreDriver   string `yaml:"store_driver"`
	DatabaseURL   string `yaml:"database_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	PublicURL     string `yaml:"public_url"`
	CORSOrigin    string `yaml:"cors_origin"`
	LogLevel      string `yaml:"log_level"`

	// Lifecycle
	ApprovalThreshold float64       `yaml:"approval_threshold"`
	MinVoters         int           `yaml:"min_voters"`
	VotingPeriod      time.Duration `yaml:"voting_period"`
	AuthWindow        time.Duration `yaml:"auth_window"`

	// Repository host
	RepoHost      string `yaml:"repo_host"`
	GitHubToken   string `yaml:"github_token"`
	GitHubOrg     string `yaml:"github_org"`
	GitHubAPIURL  string `yaml:"github_api_url"`
	LocalReposDir string `yaml:"local_repos_dir"`
	WebhookSecret string `yaml:"webhook_secret"`

	// Activity feed
	RedisURL string `yaml:"redis_url"`
	NATSURL  string `yaml:"nats_url"`

	// Search
	MeiliURL       string `yaml:"meili_url"`
	MeiliMasterKey string `yaml:"meili_master_key"`

	// Webhook delivery archive
	ArchiveEndpoint  string `yaml:"archive_endpoint"`
	ArchiveAccessKey string `yaml:"archive_access_key"`
	ArchiveSecretKey string `yaml:"archive_secret_key"`
	ArchiveBucket    string `yaml:"archive_bucket"`
	ArchiveUseSSL    bool   `yaml:"archive_use_ssl"`
}

// Load reads the environment and then overlays the YAML file named by
// IDEAFORGE_CONFIG, if any.
func Load() (Config, error) {
	cfg := Config{
		Addr:          getenv("API_ADDR", ":8787"),
		StoreDriver:   getenv("STORE_DRIVER", "postgres"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("IDEAFORGE_MIGRATIONS_DIR", "./db/migrations"),
		PublicURL:     getenv("PUBLIC_URL", "http://localhost:8787"),
		CORSOrigin:    getenv("CORS_ORIGIN", "*"),
		LogLevel:      getenv("LOG_LEVEL", "info"),

		ApprovalThreshold: getenvFloat("APPROVAL_THRESHOLD", tally.DefaultThreshold),
		MinVoters:         getenvInt("MIN_VOTERS", tally.DefaultMinVoters),
		VotingPeriod:      time.Duration(getenvInt("VOTING_PERIOD_HOURS", 48)) * time.Hour,
		AuthWindow:        time.Duration(getenvInt("AUTH_WINDOW_SECONDS", 300)) * time.Second,

		RepoHost:      getenv("REPO_HOST", "github"),
		GitHubToken:   getenv("GITHUB_TOKEN", ""),
		GitHubOrg:     getenv("GITHUB_ORG", ""),
		GitHubAPIURL:  getenv("GITHUB_API_URL", "https://api.github.com"),
		LocalReposDir: getenv("LOCAL_REPOS_DIR", "./data/repos"),
		WebhookSecret: getenv("WEBHOOK_SECRET", ""),

		RedisURL: getenv("REDIS_URL", ""),
		NATSURL:  getenv("NATS_URL", ""),

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		ArchiveEndpoint:  getenv("ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey: getenv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getenv("ARCHIVE_SECRET_KEY", ""),
		ArchiveBucket:    getenv("ARCHIVE_BUCKET", "ideaforge-webhooks"),
		ArchiveUseSSL:    getenvBool("ARCHIVE_USE_SSL", false),
	}

	if path := strings.TrimSpace(os.Getenv("IDEAFORGE_CONFIG")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Thresholds returns the immutable vote approval configuration.
func (c Config) Thresholds() tally.Config {
	return tally.Config{
		Threshold:    c.ApprovalThreshold,
		MinVoters:    c.MinVoters,
		VotingPeriod: c.VotingPeriod,
	}
}

// WebhookURL is the endpoint registered on provisioned repositories.
func (c Config) WebhookURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/api/webhooks/github"
}

func (c Config) Logger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
