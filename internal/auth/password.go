package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrInvalidHash = errors.New("invalid argon2id hash")

// argonParams are the tunables encoded into every hash string.
type argonParams struct {
	memory      uint32 // KiB
	iterations  uint32
	parallelism uint8
}

func (p argonParams) String() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.iterations, p.parallelism)
}

// PasswordHasher produces PHC-style Argon2id strings for the operator
// password hash in the auth config section.
type PasswordHasher struct {
	params     argonParams
	saltLength uint32
	keyLength  uint32
}

type HasherOption func(*PasswordHasher)

// WithCost overrides the Argon2id memory (KiB) and iteration parameters.
func WithCost(memory, iterations uint32) HasherOption {
	return func(ph *PasswordHasher) {
		ph.params.memory = memory
		ph.params.iterations = iterations
	}
}

func NewPasswordHasher(opts ...HasherOption) *PasswordHasher {
	ph := &PasswordHasher{
		params: argonParams{
			memory:      64 * 1024,
			iterations:  3,
			parallelism: uint8(min(runtime.NumCPU(), 4)),
		},
		saltLength: 16,
		keyLength:  32,
	}
	for _, opt := range opts {
		opt(ph)
	}
	return ph
}

// HashPassword returns $argon2id$v=19$m=..,t=..,p=..$salt$key.
func (ph *PasswordHasher) HashPassword(password string) (string, error) {
	salt := make([]byte, ph.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey(password, salt, ph.params, ph.keyLength)
	return strings.Join([]string{
		"",
		"argon2id",
		fmt.Sprintf("v=%d", argon2.Version),
		ph.params.String(),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

// VerifyPassword reports whether password matches encodedHash. The
// parameters stored in the hash win over the hasher's own.
func (ph *PasswordHasher) VerifyPassword(password, encodedHash string) (bool, error) {
	params, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := deriveKey(password, salt, params, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}

func deriveKey(password string, salt []byte, p argonParams, keyLength uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.iterations, p.memory, p.parallelism, keyLength)
}

func decodeHash(encoded string) (argonParams, []byte, []byte, error) {
	var params argonParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.iterations, &params.parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: salt: %w", ErrInvalidHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: key: %w", ErrInvalidHash, err)
	}
	return params, salt, key, nil
}
