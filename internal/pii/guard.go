// Package pii encrypts contact fields at rest. Values are sealed with
// AES-256-GCM under a key derived from the process secret, and stored as
// "enc:v1:" followed by base64url(nonce || ciphertext).
package pii

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	dErrors "passgate/pkg/domain-errors"
)

const (
	prefix     = "enc:v1:"
	kdfSalt    = "passgate.pii.v1"
	kdfIters   = 100_000
	keyLen     = 32
	minEncoded = 12 + 16 // nonce + GCM tag
)

// Policy decides what Reveal does with a value it cannot decrypt.
type Policy int

const (
	// SoftFail returns the stored value unchanged and logs.
	SoftFail Policy = iota
	// Strict returns a CodeEncryptionFailure error.
	Strict
)

type Guard struct {
	aead   cipher.AEAD
	policy Policy
	logger *slog.Logger
}

type Option func(*Guard)

func WithPolicy(p Policy) Option {
	return func(g *Guard) {
		g.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// New derives the data key from secret. The secret must be non-empty.
func New(secret string, opts ...Option) (*Guard, error) {
	if secret == "" {
		return nil, errors.New("pii: secret is required")
	}
	key := pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIters, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pii: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pii: gcm: %w", err)
	}
	g := &Guard{aead: aead, policy: SoftFail}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Protect encrypts plain. Empty input stays empty.
func (g *Guard) Protect(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeEncryptionFailure, "failed to generate nonce")
	}
	sealed := g.aead.Seal(nonce, nonce, []byte(plain), nil)
	return prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// IsProtected reports whether stored carries the ciphertext prefix.
func IsProtected(stored string) bool {
	return strings.HasPrefix(stored, prefix)
}

// Reveal decrypts stored. Empty input stays empty. On failure the guard's
// policy applies.
func (g *Guard) Reveal(ctx context.Context, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	plain, err := g.open(stored)
	if err == nil {
		return plain, nil
	}
	if g.policy == Strict {
		return "", dErrors.Wrap(err, dErrors.CodeEncryptionFailure, "failed to decrypt protected field")
	}
	if g.logger != nil {
		g.logger.WarnContext(ctx, "pii decrypt failed, returning stored value", "error", err)
	}
	return stored, nil
}

func (g *Guard) open(stored string) (string, error) {
	if !IsProtected(stored) {
		return "", errors.New("value is not protected")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(raw) < minEncoded {
		return "", errors.New("ciphertext too short")
	}
	nonceSize := g.aead.NonceSize()
	plain, err := g.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}
