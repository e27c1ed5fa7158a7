package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// Argon2Params holds the argon2id cost parameters embedded in every hash.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultArgon2Params returns the current target cost parameters: 64 MiB
// memory, 3 iterations, parallelism 4.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

const (
	saltLength = 16
	keyLength  = 32
)

// PasswordHasher hashes and verifies passwords with argon2id. Hashing is
// memory-hard, so concurrent calls are bounded by a weighted semaphore to
// keep a burst of logins from exhausting memory.
type PasswordHasher struct {
	params Argon2Params
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewPasswordHasher creates a hasher with the given target parameters and a
// bound on concurrent hashing operations.
func NewPasswordHasher(params Argon2Params, maxConcurrency int64, logger *slog.Logger) *PasswordHasher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &PasswordHasher{
		params: params,
		sem:    semaphore.NewWeighted(maxConcurrency),
		logger: logger,
	}
}

// Hash derives an argon2id digest of the password with a fresh random salt.
// The output is a self-describing PHC string:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<digest>
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hashing slot: %w", err)
	}
	defer h.sem.Release(1)

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	digest := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	)
	return encoded, nil
}

// Verify reports whether the password matches the stored hash. It recomputes
// the digest with the parameters embedded in the hash and compares in
// constant time. A malformed hash or internal failure returns false, never an
// error: the caller must not be able to distinguish a wrong password from a
// corrupted record.
func (h *PasswordHasher) Verify(ctx context.Context, encodedHash, password string) bool {
	params, salt, digest, err := decodeHash(encodedHash)
	if err != nil {
		h.logger.WarnContext(ctx, "password verification against malformed hash",
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		h.logger.WarnContext(ctx, "password verification aborted",
			slog.String("error", err.Error()),
		)
		return false
	}
	defer h.sem.Release(1)

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(digest)))

	return subtle.ConstantTimeCompare(computed, digest) == 1
}

// NeedsRehash reports whether the stored hash was produced with parameters
// below the current targets. Used to opportunistically upgrade hashes after
// a successful login. Malformed hashes report true.
func (h *PasswordHasher) NeedsRehash(encodedHash string) bool {
	params, _, _, err := decodeHash(encodedHash)
	if err != nil {
		return true
	}
	return params.MemoryKiB < h.params.MemoryKiB ||
		params.Iterations < h.params.Iterations ||
		params.Parallelism < h.params.Parallelism
}

// decodeHash parses a PHC argon2id string into its parameters, salt, and digest.
func decodeHash(encodedHash string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return params, nil, nil, fmt.Errorf("malformed hash: expected 6 segments, got %d", len(parts))
	}
	if parts[1] != "argon2id" {
		return params, nil, nil, fmt.Errorf("unsupported algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("parse version: %w", err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("incompatible argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("decode salt: %w", err)
	}

	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("decode digest: %w", err)
	}
	if len(digest) == 0 {
		return params, nil, nil, fmt.Errorf("empty digest")
	}

	return params, salt, digest, nil
}
