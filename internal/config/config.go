// Package config provides centralized configuration management for the notedly API server.
// It loads configuration from CLI flags and environment variables, validates required fields,
// and provides sensible defaults.
//
// CLI flags select the store backend and development mode (--store, --dev, --addr).
// Environment variables provide secrets and service configuration.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/notedly/internal/ratelimit"
)

// StoreBackend names a persistence implementation.
type StoreBackend string

const (
	StoreSurrealDB StoreBackend = "surrealdb"
	StoreSQLite    StoreBackend = "sqlite"
)

// Password hashing algorithms.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// MemoryDatabasePath selects an in-memory SQLCipher database.
const MemoryDatabasePath = ":memory:"

// GraphQLLimits bounds the work a single GraphQL request may ask for.
type GraphQLLimits struct {
	MaxDepth      int
	MaxCost       int
	Introspection bool
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr      string
	LogLevel        string
	ShutdownTimeout time.Duration
	Dev             bool

	// Persistence
	Store            StoreBackend
	SurrealURL       string
	SurrealNamespace string
	SurrealDatabase  string
	SurrealUser      string
	SurrealPass      string
	DatabasePath     string // SQLCipher file, or MemoryDatabasePath
	MasterKey        string // 64 hex characters (32 bytes), SQLCipher key

	// Identity
	JWTSecret      string
	TokenTTL       time.Duration
	PasswordHasher string
	BcryptCost     int

	GraphQL         GraphQLLimits
	CORSAllowOrigin string
	RateLimitConfig ratelimit.Config
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses CLI flags and returns them. Call before LoadConfig.
func ParseFlags() (dev bool, addr, store string) {
	flag.BoolVar(&dev, "dev", false, "Development mode: in-memory SQLCipher store and generated secrets unless set")
	flag.StringVar(&addr, "addr", "", "Listen address (default :4000, overrides LISTEN_ADDR env var)")
	flag.StringVar(&store, "store", "", "Store backend: surrealdb or sqlite (overrides STORE_BACKEND env var)")
	flag.Parse()
	return dev, addr, store
}

// LoadConfig loads configuration from environment variables and CLI flag values.
// Non-empty addr and store flags override their environment variables.
func LoadConfig(dev bool, addr, store string) (*Config, error) {
	cfg := &Config{Dev: dev}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":4000")
	if addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.ShutdownTimeout = parseDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second)

	// Persistence
	defaultStore := string(StoreSurrealDB)
	defaultPath := "./data/notedly.db"
	if dev {
		defaultStore = string(StoreSQLite)
		defaultPath = MemoryDatabasePath
	}
	cfg.Store = StoreBackend(strings.ToLower(getEnvOrDefault("STORE_BACKEND", defaultStore)))
	if store != "" {
		cfg.Store = StoreBackend(strings.ToLower(strings.TrimSpace(store)))
	}
	cfg.SurrealURL = getEnvOrDefault("SURREALDB_URL", "ws://localhost:8000")
	cfg.SurrealNamespace = getEnvOrDefault("SURREALDB_NAMESPACE", "notedly")
	cfg.SurrealDatabase = getEnvOrDefault("SURREALDB_DATABASE", "notedly")
	cfg.SurrealUser = getEnvOrDefault("SURREALDB_USER", "")
	cfg.SurrealPass = getEnvOrDefault("SURREALDB_PASS", "")
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", defaultPath)
	cfg.MasterKey = getEnvOrDefault("MASTER_KEY", "")

	// Identity
	cfg.JWTSecret = getEnvOrDefault("JWT_SECRET", "")
	cfg.TokenTTL = parseDurationOrDefault("TOKEN_TTL", 30*24*time.Hour)
	cfg.PasswordHasher = strings.ToLower(getEnvOrDefault("PASSWORD_HASHER", HasherBcrypt))
	cfg.BcryptCost = parseIntOrDefault("BCRYPT_COST", 10)

	if dev {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = randomHex(32)
		}
		if cfg.MasterKey == "" {
			cfg.MasterKey = randomHex(32)
		}
	}

	cfg.GraphQL = GraphQLLimits{
		MaxDepth:      parseIntOrDefault("GRAPHQL_MAX_DEPTH", 5),
		MaxCost:       parseIntOrDefault("GRAPHQL_MAX_COST", 1000),
		Introspection: parseBoolOrDefault("GRAPHQL_INTROSPECTION", true),
	}

	cfg.RateLimitConfig = ratelimit.Config{
		AnonRPS:         parseFloat64OrDefault("RATE_LIMIT_ANON_RPS", ratelimit.DefaultConfig.AnonRPS),
		AnonBurst:       parseIntOrDefault("RATE_LIMIT_ANON_BURST", ratelimit.DefaultConfig.AnonBurst),
		AuthRPS:         parseFloat64OrDefault("RATE_LIMIT_AUTH_RPS", ratelimit.DefaultConfig.AuthRPS),
		AuthBurst:       parseIntOrDefault("RATE_LIMIT_AUTH_BURST", ratelimit.DefaultConfig.AuthBurst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),

		// Only enable behind a proxy that overwrites X-Forwarded-For.
		TrustForwardedFor: parseBoolOrDefault("TRUST_PROXY", false),
	}
	cfg.CORSAllowOrigin = getEnvOrDefault("CORS_ALLOW_ORIGIN", "*")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store {
	case StoreSurrealDB:
		if c.SurrealURL == "" {
			errs = append(errs, "SURREALDB_URL is required for the surrealdb store")
		}
		if c.SurrealNamespace == "" || c.SurrealDatabase == "" {
			errs = append(errs, "SURREALDB_NAMESPACE and SURREALDB_DATABASE must be non-empty")
		}
	case StoreSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, "DATABASE_PATH is required for the sqlite store")
		}
		// Losing the key makes the database unreadable, so it is never generated for a file.
		if c.MasterKey == "" {
			errs = append(errs, "MASTER_KEY is required for the sqlite store (generate with: openssl rand -hex 32)")
		} else if _, err := hex.DecodeString(c.MasterKey); err != nil || len(c.MasterKey) != 64 {
			errs = append(errs, "MASTER_KEY must be 64 hex characters (32 bytes)")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND must be %q or %q, got %q", StoreSurrealDB, StoreSQLite, c.Store))
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required (generate with: openssl rand -hex 32)")
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, "TOKEN_TTL must be positive")
	}

	switch c.PasswordHasher {
	case HasherBcrypt:
		if c.BcryptCost < 4 || c.BcryptCost > 31 {
			errs = append(errs, "BCRYPT_COST must be between 4 and 31")
		}
	case HasherArgon2id:
	default:
		errs = append(errs, fmt.Sprintf("PASSWORD_HASHER must be %q or %q", HasherBcrypt, HasherArgon2id))
	}

	if c.GraphQL.MaxDepth <= 0 {
		errs = append(errs, "GRAPHQL_MAX_DEPTH must be positive")
	}
	if c.GraphQL.MaxCost <= 0 {
		errs = append(errs, "GRAPHQL_MAX_COST must be positive")
	}

	if c.RateLimitConfig.AnonRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_ANON_RPS must be positive")
	}
	if c.RateLimitConfig.AnonBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_ANON_BURST must be positive")
	}
	if c.RateLimitConfig.AuthRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_AUTH_RPS must be positive")
	}
	if c.RateLimitConfig.AuthBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_AUTH_BURST must be positive")
	}
	if c.RateLimitConfig.CleanupInterval <= 0 {
		errs = append(errs, "RATE_LIMIT_CLEANUP_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// InMemoryStore reports whether the configured store lives only for the process lifetime.
func (c *Config) InMemoryStore() bool {
	return c.Store == StoreSQLite && c.DatabasePath == MemoryDatabasePath
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "notedly server starting...")

	switch c.Store {
	case StoreSurrealDB:
		fmt.Fprintf(os.Stderr, "  Store:   SurrealDB (%s, ns=%s db=%s)\n", c.SurrealURL, c.SurrealNamespace, c.SurrealDatabase)
	case StoreSQLite:
		if c.InMemoryStore() {
			fmt.Fprintln(os.Stderr, "  Store:   SQLCipher in-memory (data is lost on exit)")
		} else {
			fmt.Fprintf(os.Stderr, "  Store:   SQLCipher (%s)\n", c.DatabasePath)
		}
	}

	fmt.Fprintf(os.Stderr, "  Auth:    JWT HS256, ttl %s, %s passwords\n", c.TokenTTL, c.PasswordHasher)
	fmt.Fprintf(os.Stderr, "  GraphQL: depth<=%d cost<=%d introspection=%t\n", c.GraphQL.MaxDepth, c.GraphQL.MaxCost, c.GraphQL.Introspection)
	if c.Dev {
		fmt.Fprintln(os.Stderr, "  Mode:    development (--dev)")
	}
	fmt.Fprintf(os.Stderr, "  Listen:  %s\n", c.ListenAddr)
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}

// MustLoadConfig loads configuration and panics if validation fails.
func MustLoadConfig(dev bool, addr, store string) *Config {
	cfg, err := LoadConfig(dev, addr, store)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
