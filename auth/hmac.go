package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
)

// SharedSecret validates HMAC-signed tokens against one static secret.
type SharedSecret struct {
	mu     sync.RWMutex
	secret []byte

	algs   []string
	leeway time.Duration
	log    *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// SharedSecretOption configures a SharedSecret verifier.
type SharedSecretOption func(*SharedSecret)

// WithSharedSecretAlgs overrides the accepted signing algorithms. The default
// accepts HS256 only.
func WithSharedSecretAlgs(algs ...string) SharedSecretOption {
	return func(s *SharedSecret) { s.algs = algs }
}

// WithSharedSecretLeeway sets the clock-skew tolerance applied to exp/nbf/iat
// validation. Defaults to one minute.
func WithSharedSecretLeeway(d time.Duration) SharedSecretOption {
	return func(s *SharedSecret) { s.leeway = d }
}

// WithSharedSecretLogger sets the logger used to report secret reload
// activity. Logs are discarded by default.
func WithSharedSecretLogger(l *slog.Logger) SharedSecretOption {
	return func(s *SharedSecret) { s.log = l }
}

// NewSharedSecret constructs a verifier over a static in-memory secret.
func NewSharedSecret(secret []byte, opts ...SharedSecretOption) (*SharedSecret, error) {
	if len(secret) == 0 {
		return nil, errors.New("shared secret is required")
	}
	s := &SharedSecret{
		secret: secret,
		algs:   []string{"HS256"},
		leeway: time.Minute,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSharedSecretFromFile constructs a verifier whose secret is read from
// path and reloaded whenever the file changes, allowing secret rotation
// without a restart. Close releases the file watcher.
func NewSharedSecretFromFile(path string, opts ...SharedSecretOption) (*SharedSecret, error) {
	secret, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret file: %w", err)
	}
	s, err := NewSharedSecret(secret, opts...)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch secret file: %w", err)
	}
	// Watch the directory rather than the file: editors and secret managers
	// typically replace the file, which drops a watch registered on the file
	// itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch secret file: %w", err)
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchSecretFile(path)
	return s, nil
}

func (s *SharedSecret) watchSecretFile(path string) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			secret, err := os.ReadFile(path)
			if err != nil || len(secret) == 0 {
				s.log.Warn("secret file reload failed", slog.String("path", path), slog.Any("err", err))
				continue
			}
			s.mu.Lock()
			s.secret = secret
			s.mu.Unlock()
			s.log.Info("shared secret reloaded", slog.String("path", path))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("secret file watcher error", slog.Any("err", err))
		}
	}
}

// Close stops the file watcher, if any. The verifier remains usable with the
// last loaded secret.
func (s *SharedSecret) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

// Verify implements Authenticator.
func (s *SharedSecret) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(s.algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	parsed, err := parser.Parse(credential, func(t *jwt.Token) (any, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.secret, nil
	})
	if err != nil {
		return nil, mapTokenError(err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidSignature)
	}
	return newClaimsIdentity(claims), nil
}

// mapTokenError folds golang-jwt parse failures into the package's sentinel
// taxonomy.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

var _ Authenticator = (*SharedSecret)(nil)
