package config

import (
	"strings"
	"testing"
	"time"
)

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestFromEnv_MemoryDefaults(t *testing.T) {
	baseEnv(t)

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.StateBackend != BackendMemory || c.ConfigBackend != BackendMemory {
		t.Fatalf("expected memory backends, got %q/%q", c.StateBackend, c.ConfigBackend)
	}
	if c.Router.RingTimeout != 20*time.Second {
		t.Fatalf("ring timeout default: got %s", c.Router.RingTimeout)
	}
	if c.Router.MaxRingAttempts != 3 {
		t.Fatalf("max ring attempts default: got %d", c.Router.MaxRingAttempts)
	}
	if c.Router.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("idempotency ttl default: got %s", c.Router.IdempotencyTTL)
	}
	if c.Twilio.Enabled() {
		t.Fatalf("twilio should be disabled without credentials")
	}
}

func TestFromEnv_RouterOverrides(t *testing.T) {
	baseEnv(t)
	t.Setenv("ROUTER_RING_TIMEOUT", "15s")
	t.Setenv("ROUTER_QUEUE_MAX_WAIT", "2m")
	t.Setenv("ROUTER_RECORD_CALLS", "true")
	t.Setenv("ROUTER_DEFAULT_FORWARD_NUMBER", "+15550000000")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Router.RingTimeout != 15*time.Second || c.Router.QueueMaxWait != 2*time.Minute {
		t.Fatalf("overrides not applied: %+v", c.Router)
	}
	if !c.Router.RecordCalls || c.Router.DefaultForwardNumber != "+15550000000" {
		t.Fatalf("overrides not applied: %+v", c.Router)
	}
}

func TestFromEnv_CollectsParseErrors(t *testing.T) {
	baseEnv(t)
	t.Setenv("ROUTER_RING_TIMEOUT", "soon")
	t.Setenv("ROUTER_MAX_RING_ATTEMPTS", "many")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	for _, key := range []string{"ROUTER_RING_TIMEOUT", "ROUTER_MAX_RING_ATTEMPTS"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %q", key, err)
		}
	}
}

func TestValidate_ProductionRequiresSharedBackends(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "production", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret", JWTIssuer: "router", JWTAudience: "api"},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production with memory backends")
	}
	if !strings.Contains(err.Error(), "STATE_BACKEND") || !strings.Contains(err.Error(), "CONFIG_BACKEND") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:           AppConfig{Env: "production", Port: 8080},
		StateBackend:  BackendRedis,
		ConfigBackend: BackendPostgres,
		DB:            DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "router"},
		Redis:         RedisConfig{Host: "localhost", Port: 6379},
		Auth:          AuthConfig{JWTSecret: "secret", JWTIssuer: "router", JWTAudience: "api"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := Config{
		App:           AppConfig{Env: "local", Port: 8080},
		ConfigBackend: BackendPostgres,
		DB:            DBConfig{Host: "localhost", User: "postgres", Password: "x", Name: "router"},
		Auth:          AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.DB.Port != 5432 {
		t.Fatalf("expected default db port, got %d", c.DB.Port)
	}
}

func TestValidate_TwilioNeedsPublicURL(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "local", Port: 8080},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Twilio: TwilioConfig{AccountSID: "AC123", AuthToken: "token"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error without TWILIO_PUBLIC_BASE_URL")
	}
	c.Twilio.PublicBaseURL = "https://router.example.com"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
