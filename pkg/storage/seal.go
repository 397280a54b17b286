package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/smartenergy/smartenergy/pkg/log"
)

// Sealer encrypts JSON-encodable values with AES-256-GCM. The nonce is
// prepended to the ciphertext.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer returns a Sealer for a 32 byte key.
func NewSealer(key string) (*Sealer, error) {
	if len(key) != 32 {
		return nil, errors.New("invalid encryption key length (must be 32 bytes)")
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal marshals v to JSON and encrypts it.
func (s *Sealer) Seal(ctx context.Context, v any) ([]byte, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal sealed value", slog.Any("error", err))
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.gcm.Seal(nonce, nonce, jsonBytes, nil), nil
}

// Open decrypts data produced by Seal and unmarshals it into v.
func (s *Sealer) Open(ctx context.Context, data []byte, v any) error {
	if len(data) < s.gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed sealed value", slog.Int("length", len(data)))
		return errors.New("malformed sealed value")
	}

	nonce, ciphertext := data[:s.gcm.NonceSize()], data[s.gcm.NonceSize():]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt sealed value", slog.Any("error", err))
		return fmt.Errorf("failed to decrypt value: %w", err)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal sealed value", slog.Any("error", err))
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}
