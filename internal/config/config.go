package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/amaradri/gallery-admin/internal/auth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Backend names accepted by STATE_BACKEND and BLOB_BACKEND.
const (
	StateRedis = "redis"
	StateBolt  = "bolt"
	BlobS3     = "s3"
	BlobDir    = "dir"
)

// Config holds all environment-based configuration for gallery-admin.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// State store holding the order list and client gallery records.
	StateBackend   string `env:"STATE_BACKEND" envDefault:"redis"`
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"gallery:"`

	// Local bbolt database. Always opened for save history; also the
	// state store when STATE_BACKEND is bolt. Defaults to
	// ~/.gallery-admin/state.db.
	StateDBPath string `env:"STATE_DB_PATH"`

	// Blob store holding the images.
	BlobBackend string        `env:"BLOB_BACKEND" envDefault:"s3"`
	S3Endpoint  string        `env:"S3_ENDPOINT"`
	S3AccessKey string        `env:"S3_ACCESS_KEY"`
	S3SecretKey string        `env:"S3_SECRET_KEY"`
	S3Bucket    string        `env:"S3_BUCKET"`
	S3UseSSL    bool          `env:"S3_USE_SSL" envDefault:"true"`
	S3URLExpiry time.Duration `env:"S3_URL_EXPIRY" envDefault:"24h"`

	// BlobPublicURL is the base URL images are served from. Required for
	// the dir backend; optional for s3, where presigned URLs are used
	// when it is empty.
	BlobPublicURL string `env:"BLOB_PUBLIC_URL"`
	BlobDir       string `env:"BLOB_DIR"`

	// Drop folder watched for new images. Disabled when empty.
	InboxDir string `env:"INBOX_DIR"`

	// Staff credentials. At least one of the two is required.
	AdminUsers   string `env:"ADMIN_USERS"`
	AdminAPIKeys string `env:"ADMIN_API_KEYS"`

	GallerySkipMissing bool `env:"GALLERY_SKIP_MISSING" envDefault:"false"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	cfg.BlobBackend = strings.ToLower(strings.TrimSpace(cfg.BlobBackend))
	cfg.BlobPublicURL = strings.TrimRight(cfg.BlobPublicURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Directories are resolved once here so log lines and the blob
	// resolver's containment checks see absolute paths.
	for _, dir := range []*string{&cfg.BlobDir, &cfg.InboxDir, &cfg.StateDBPath} {
		if *dir == "" {
			continue
		}

		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s to absolute path: %w", *dir, err)
		}

		*dir = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StateBackend {
	case StateRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STATE_BACKEND is redis")
		}
	case StateBolt:
	default:
		return fmt.Errorf("STATE_BACKEND must be %q or %q, got %q", StateRedis, StateBolt, c.StateBackend)
	}

	switch c.BlobBackend {
	case BlobS3:
		if c.S3Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when BLOB_BACKEND is s3")
		}

		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND is s3")
		}

		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when BLOB_BACKEND is s3")
		}

		if c.S3URLExpiry <= 0 || c.S3URLExpiry > 7*24*time.Hour {
			return fmt.Errorf("S3_URL_EXPIRY must be between 1s and 168h")
		}
	case BlobDir:
		if c.BlobDir == "" {
			return fmt.Errorf("BLOB_DIR is required when BLOB_BACKEND is dir")
		}

		if c.BlobPublicURL == "" {
			return fmt.Errorf("BLOB_PUBLIC_URL is required when BLOB_BACKEND is dir")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be %q or %q, got %q", BlobS3, BlobDir, c.BlobBackend)
	}

	if c.AdminUsers == "" && c.AdminAPIKeys == "" {
		return fmt.Errorf("at least one auth method required: ADMIN_USERS or ADMIN_API_KEYS")
	}

	if _, err := c.ParseAdminUsers(); err != nil {
		return fmt.Errorf("ADMIN_USERS: %w", err)
	}

	if _, err := c.ParseAdminAPIKeys(); err != nil {
		return fmt.Errorf("ADMIN_API_KEYS: %w", err)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseAdminUsers parses the ADMIN_USERS string.
// Format: "user1:bcrypt_hash1,user2:bcrypt_hash2"
// Produce hashes with the hash-password subcommand.
func (c *Config) ParseAdminUsers() (auth.Users, error) {
	users := make(auth.Users)
	if c.AdminUsers == "" {
		return users, nil
	}

	for _, pair := range strings.Split(c.AdminUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or hash in entry %d", len(users)+1)
		}

		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("entry %d for %q is not a bcrypt hash", len(users)+1, username)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q", username)
		}

		users[username] = hash
	}

	return users, nil
}

// ParseAdminAPIKeys parses the ADMIN_API_KEYS string.
// Format: "user1:ga_key1,user2:ga_key2"
func (c *Config) ParseAdminAPIKeys() ([]auth.APIKey, error) {
	if c.AdminAPIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})

	var entries []auth.APIKey

	for _, pair := range strings.Split(c.AdminAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		userID := pair[:idx]

		key := pair[idx+1:]
		if userID == "" || key == "" {
			return nil, fmt.Errorf("empty user or key in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(key, auth.APIKeyPrefix) {
			return nil, fmt.Errorf("API key must start with %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if len(key) < auth.APIKeyMinLen {
			return nil, fmt.Errorf("API key too short in entry %d (minimum %d characters)", len(entries)+1, auth.APIKeyMinLen)
		}

		suffix := key[len(auth.APIKeyPrefix):]
		if _, err := hex.DecodeString(suffix); err != nil {
			return nil, fmt.Errorf("API key contains non-hex characters after %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q", userID)
		}

		seenUsers[userID] = struct{}{}
		entries = append(entries, auth.APIKey{UserID: userID, Key: key})
	}

	return entries, nil
}
