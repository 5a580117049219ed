package secret

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

// RotationListener is notified after a secret has been rewritten.
type RotationListener func(ref domain.SecretRef)

// Store encrypts tenant credentials at rest. Plaintext only exists in memory as a
// domain.SecretValue and is never logged or placed in an error.
type Store struct {
	repo    repository.SecretRepository
	cipher  *Cipher
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	listeners []RotationListener
}

func NewStore(repo repository.SecretRepository, c *Cipher, logger *zap.Logger) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("secret repository is required")
	}
	if c == nil {
		return nil, ErrCipherNotInitialized
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{repo: repo, cipher: c, logger: logger}, nil
}

func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// OnRotate registers fn to run after every successful SetSecret.
func (s *Store) OnRotate(fn RotationListener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) SetSecret(ctx context.Context, ref domain.SecretRef, value domain.SecretValue) (*domain.SecretInfo, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if value.IsEmpty() {
		return nil, fmt.Errorf("%w: secret value is required", domain.ErrValidation)
	}

	payload, err := s.cipher.Encrypt(ref, []byte(value.Reveal()))
	if err != nil {
		return nil, fmt.Errorf("encrypt secret %s: %w", ref, err)
	}

	info, err := s.repo.Upsert(ctx, ref, payload)
	if err != nil {
		return nil, fmt.Errorf("store secret %s: %w", ref, err)
	}

	s.logger.Info("tenant secret written",
		zap.String("ref", ref.String()),
		zap.Int64("revision", info.Revision),
		zap.Int("keyVersion", s.cipher.Version()),
	)

	s.mu.RLock()
	listeners := append([]RotationListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ref)
	}

	return info, nil
}

// GetSecret returns found=false when no row exists for ref.
func (s *Store) GetSecret(ctx context.Context, ref domain.SecretRef) (domain.SecretValue, bool, error) {
	row, err := s.repo.Get(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SecretValue{}, false, nil
	}
	if err != nil {
		return domain.SecretValue{}, false, fmt.Errorf("load secret %s: %w", ref, err)
	}

	plaintext, err := s.cipher.Decrypt(ref, row.EncryptedPayload)
	if err != nil {
		s.metrics.IncDecryptionFailure()
		s.logger.Error("tenant secret could not be decrypted",
			zap.String("ref", ref.String()),
			zap.Int64("revision", row.Revision),
			zap.Int("keyVersion", s.cipher.Version()),
			zap.Error(err),
		)
		return domain.SecretValue{}, false, err
	}

	return domain.NewSecretValue(string(plaintext)), true, nil
}

// Stat returns the secret's metadata without decrypting it.
func (s *Store) Stat(ctx context.Context, ref domain.SecretRef) (domain.SecretInfo, bool, error) {
	info, err := s.repo.Stat(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SecretInfo{}, false, nil
	}
	if err != nil {
		return domain.SecretInfo{}, false, fmt.Errorf("stat secret %s: %w", ref, err)
	}
	return *info, true, nil
}
