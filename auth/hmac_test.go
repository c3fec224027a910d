package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestSharedSecret_HappyPath(t *testing.T) {
	secret := []byte("super-secret")
	v, err := NewSharedSecret(secret)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signHS256(t, secret, jwt.MapClaims{
		"sub":   "user-1",
		"login": "alice",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Subject() != "user-1" {
		t.Errorf("subject = %q, want user-1", id.Subject())
	}
	if id.Login() != "alice" {
		t.Errorf("login = %q, want alice", id.Login())
	}

	var claims struct {
		Login string `json:"login"`
	}
	if err := id.Claims(&claims); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if claims.Login != "alice" {
		t.Errorf("claims.Login = %q, want alice", claims.Login)
	}
}

func TestSharedSecret_Expired(t *testing.T) {
	secret := []byte("super-secret")
	v, err := NewSharedSecret(secret, WithSharedSecretLeeway(0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tok := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err = v.Verify(context.Background(), tok)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestSharedSecret_WrongSecret(t *testing.T) {
	v, err := NewSharedSecret([]byte("right"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tok := signHS256(t, []byte("wrong"), jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestSharedSecret_MissingExpiration(t *testing.T) {
	secret := []byte("super-secret")
	v, err := NewSharedSecret(secret)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tok := signHS256(t, secret, jwt.MapClaims{"sub": "user-1"})
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestSharedSecret_EmptyCredential(t *testing.T) {
	v, err := NewSharedSecret([]byte("secret"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
}

func TestSharedSecret_FileReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	v, err := NewSharedSecretFromFile(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer v.Close()

	oldTok := signHS256(t, []byte("first"), jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Verify(context.Background(), oldTok); err != nil {
		t.Fatalf("verify with initial secret: %v", err)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	newTok := signHS256(t, []byte("second"), jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := v.Verify(context.Background(), newTok); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("secret was not reloaded within deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := v.Verify(context.Background(), oldTok); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("old secret still accepted after reload: %v", err)
	}
}
