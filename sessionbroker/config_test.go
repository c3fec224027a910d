package sessionbroker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ionhub/session-broker-go/auth"
	"github.com/ionhub/session-broker-go/sessions"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Exchange != "event" {
		t.Fatalf("exchange = %q", cfg.Exchange)
	}
	if len(cfg.Patterns) != 1 || cfg.Patterns[0] != "#" {
		t.Fatalf("patterns = %v", cfg.Patterns)
	}
	if cfg.ConnectTimeout != 45*time.Second {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout)
	}
	if cfg.PingTimeout != 20*time.Second {
		t.Fatalf("ping timeout = %v", cfg.PingTimeout)
	}
	if cfg.PingInterval != 25*time.Second {
		t.Fatalf("ping interval = %v", cfg.PingInterval)
	}
	if cfg.MaxMessageSize != 100_000 {
		t.Fatalf("max message size = %d", cfg.MaxMessageSize)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("session ttl = %v", cfg.SessionTTL)
	}
	if cfg.AuthRequired || cfg.AllowMultipleSessions || cfg.PublishNewSession || cfg.DropOnDisconnect {
		t.Fatalf("boolean defaults flipped: %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("EXCHANGE", "notifications")
	t.Setenv("PATTERNS", "orders.*;billing.#")
	t.Setenv("ALLOW_MULTIPLE_SESSIONS", "true")
	t.Setenv("PUBLISH_NEW_SESSION", "true")
	t.Setenv("CONNECT_TIMEOUT", "10s")
	t.Setenv("DROP_ON_DISCONNECT", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if !cfg.AuthRequired || cfg.SharedSecret != "s3cret" {
		t.Fatalf("auth config not decoded: %+v", cfg)
	}
	if cfg.Exchange != "notifications" {
		t.Fatalf("exchange = %q", cfg.Exchange)
	}
	if len(cfg.Patterns) != 2 || cfg.Patterns[0] != "orders.*" || cfg.Patterns[1] != "billing.#" {
		t.Fatalf("patterns = %v", cfg.Patterns)
	}
	if !cfg.AllowMultipleSessions || !cfg.PublishNewSession || !cfg.DropOnDisconnect {
		t.Fatalf("boolean overrides not decoded: %+v", cfg)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout)
	}
}

func TestNewRequiresVerifierWhenAuthRequired(t *testing.T) {
	if _, err := New(context.Background(), Config{AuthRequired: true}); err == nil {
		t.Fatal("expected error for auth without verifier")
	}

	if _, err := New(context.Background(), Config{AuthRequired: true, SharedSecret: "s"}); err != nil {
		t.Fatalf("new: %v", err)
	}
}

func TestValidateRejectsNegativeTTL(t *testing.T) {
	cfg := Config{SessionTTL: -time.Hour}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative session ttl")
	}

	// With DropOnDisconnect the ttl is ignored entirely.
	cfg = Config{SessionTTL: -time.Hour, DropOnDisconnect: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRetentionMapping(t *testing.T) {
	cfg := Config{SessionTTL: time.Hour}
	if policy, ttl := cfg.retention(); policy != sessions.RetainDisconnected || ttl != time.Hour {
		t.Fatalf("retention = %v, %v", policy, ttl)
	}

	cfg = Config{SessionTTL: time.Hour, DropOnDisconnect: true}
	if policy, ttl := cfg.retention(); policy != sessions.DropOnDisconnect || ttl != 0 {
		t.Fatalf("retention = %v, %v", policy, ttl)
	}
}

func TestNewAuthenticatorSelection(t *testing.T) {
	ctx := context.Background()

	cfg := Config{}
	a, err := cfg.NewAuthenticator(ctx)
	if err != nil || a != nil {
		t.Fatalf("empty config: authenticator=%v err=%v", a, err)
	}

	cfg = Config{SharedSecret: "s3cret"}
	a, err = cfg.NewAuthenticator(ctx)
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}
	if _, ok := a.(*auth.SharedSecret); !ok {
		t.Fatalf("shared secret config built %T", a)
	}

	secretPath := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(secretPath, []byte("s3cret"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	cfg = Config{SecretFile: secretPath}
	a, err = cfg.NewAuthenticator(ctx)
	if err != nil {
		t.Fatalf("secret file: %v", err)
	}
	ss, ok := a.(*auth.SharedSecret)
	if !ok {
		t.Fatalf("secret file config built %T", a)
	}
	defer ss.Close()
}
