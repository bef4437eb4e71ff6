package config

import (
	"strings"
	"testing"
	"time"

	"github.com/kuitang/notedly/internal/ratelimit"
	"pgregory.net/rapid"
)

func validTestConfig() Config {
	return Config{
		ListenAddr:     ":4000",
		Store:          StoreSQLite,
		DatabasePath:   MemoryDatabasePath,
		MasterKey:      strings.Repeat("a", 64),
		JWTSecret:      strings.Repeat("s", 32),
		TokenTTL:       time.Hour,
		PasswordHasher: HasherBcrypt,
		BcryptCost:     10,
		GraphQL: GraphQLLimits{
			MaxDepth: 5,
			MaxCost:  1000,
		},
		RateLimitConfig: ratelimit.DefaultConfig,
	}
}

func TestValidate_MinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
	if !cfg.InMemoryStore() {
		t.Fatalf("expected in-memory store")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.MasterKey = ""
	cfg.JWTSecret = ""
	cfg.PasswordHasher = "md5"
	cfg.GraphQL.MaxDepth = 0
	cfg.RateLimitConfig.AnonBurst = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, expected := range []string{
		"MASTER_KEY",
		"JWT_SECRET",
		"PASSWORD_HASHER",
		"GRAPHQL_MAX_DEPTH",
		"RATE_LIMIT_ANON_BURST",
	} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func TestValidate_UnknownStore(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Store = "mongodb"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "STORE_BACKEND") {
		t.Fatalf("expected STORE_BACKEND error, got %v", err)
	}
}

func TestValidate_SurrealNeedsNoMasterKey(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Store = StoreSurrealDB
	cfg.MasterKey = ""
	cfg.SurrealURL = "ws://localhost:8000"
	cfg.SurrealNamespace = "ns"
	cfg.SurrealDatabase = "db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func testValidate_RejectsShortSecrets(t *rapid.T) {
	cfg := validTestConfig()
	cfg.MasterKey = strings.Repeat("a", rapid.IntRange(1, 63).Draw(t, "master_key_len"))
	cfg.JWTSecret = strings.Repeat("b", rapid.IntRange(1, 31).Draw(t, "jwt_len"))

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for short secrets")
	}
	msg := err.Error()
	for _, token := range []string{"MASTER_KEY", "JWT_SECRET"} {
		if !strings.Contains(msg, token) {
			t.Fatalf("expected error mentioning %q, got: %v", token, err)
		}
	}
}

func TestValidate_RejectsShortSecrets(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsShortSecrets)
}

func testValidate_BcryptCostRange(t *rapid.T) {
	cfg := validTestConfig()
	cfg.BcryptCost = rapid.IntRange(-5, 40).Draw(t, "cost")
	err := cfg.Validate()
	inRange := cfg.BcryptCost >= 4 && cfg.BcryptCost <= 31
	if inRange && err != nil {
		t.Fatalf("cost %d should be valid: %v", cfg.BcryptCost, err)
	}
	if !inRange && (err == nil || !strings.Contains(err.Error(), "BCRYPT_COST")) {
		t.Fatalf("cost %d should be rejected, got %v", cfg.BcryptCost, err)
	}
}

func TestValidate_BcryptCostRange(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_BcryptCostRange)
}

func TestLoadConfig_DevModeDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MASTER_KEY", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DATABASE_PATH", "")

	cfg, err := LoadConfig(true, ":9999", "")
	if err != nil {
		t.Fatalf("LoadConfig(dev) failed: %v", err)
	}
	if cfg.Store != StoreSQLite || !cfg.InMemoryStore() {
		t.Fatalf("dev mode should default to in-memory sqlite, got %s %s", cfg.Store, cfg.DatabasePath)
	}
	if len(cfg.JWTSecret) != 64 || len(cfg.MasterKey) != 64 {
		t.Fatalf("dev mode should generate secrets")
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("addr flag not applied: %s", cfg.ListenAddr)
	}
	if cfg.GraphQL.MaxDepth != 5 || cfg.GraphQL.MaxCost != 1000 || !cfg.GraphQL.Introspection {
		t.Fatalf("unexpected GraphQL defaults: %+v", cfg.GraphQL)
	}
}

func TestLoadConfig_ProxyAndCORS(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MASTER_KEY", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("TRUST_PROXY", "")
	t.Setenv("CORS_ALLOW_ORIGIN", "")

	cfg, err := LoadConfig(true, "", "")
	if err != nil {
		t.Fatalf("LoadConfig(dev) failed: %v", err)
	}
	if cfg.RateLimitConfig.TrustForwardedFor {
		t.Fatalf("X-Forwarded-For must not be trusted by default")
	}
	if cfg.CORSAllowOrigin != "*" {
		t.Fatalf("CORSAllowOrigin = %q, want *", cfg.CORSAllowOrigin)
	}

	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("CORS_ALLOW_ORIGIN", "https://notes.example.com")
	cfg, err = LoadConfig(true, "", "")
	if err != nil {
		t.Fatalf("LoadConfig(dev) failed: %v", err)
	}
	if !cfg.RateLimitConfig.TrustForwardedFor || cfg.CORSAllowOrigin != "https://notes.example.com" {
		t.Fatalf("env not applied: trust=%v origin=%q", cfg.RateLimitConfig.TrustForwardedFor, cfg.CORSAllowOrigin)
	}
}

func TestLoadConfig_ProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_BACKEND", "surrealdb")

	_, err := LoadConfig(false, "", "")
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got %v", err)
	}
}

func TestLoadConfig_StoreFlagOverridesEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "surrealdb")
	t.Setenv("JWT_SECRET", strings.Repeat("x", 40))
	t.Setenv("MASTER_KEY", strings.Repeat("ab", 32))
	t.Setenv("DATABASE_PATH", "/tmp/notedly-test.db")

	cfg, err := LoadConfig(false, "", "SQLite")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Store != StoreSQLite {
		t.Fatalf("store flag not applied: %s", cfg.Store)
	}
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-an-int")
	t.Setenv("CFG_TEST_FLOAT", "not-a-float")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	t.Setenv("CFG_TEST_BOOL", "maybe")
	if got := parseIntOrDefault("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("parseIntOrDefault fallback mismatch: got=%d want=7", got)
	}
	if got := parseFloat64OrDefault("CFG_TEST_FLOAT", 3.5); got != 3.5 {
		t.Fatalf("parseFloat64OrDefault fallback mismatch: got=%v want=3.5", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v want=%v", got, 2*time.Minute)
	}
	if got := parseBoolOrDefault("CFG_TEST_BOOL", true); got != true {
		t.Fatalf("parseBoolOrDefault fallback mismatch: got=%v", got)
	}
}

func TestGetEnvOrDefault_TrimsWhitespace(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "   value   ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnvOrDefault trim mismatch: got=%q want=%q", got, "value")
	}
}
