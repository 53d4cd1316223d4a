// Package secret generates and verifies route credentials.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashPrefix = "$argon2id$"

	saltLength    = 16
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// ErrInvalidHash is returned for a malformed argon2id string.
var ErrInvalidHash = errors.New("secret: invalid argon2id hash")

// Params are the argon2id cost parameters encoded in a hash.
type Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
}

// DefaultParams are used by HashPassword.
var DefaultParams = Params{Memory: argon2Memory, Time: argon2Time, Threads: argon2Threads}

// IsHash reports whether s looks like an argon2id PHC string.
func IsHash(s string) bool {
	return strings.HasPrefix(s, hashPrefix)
}

// HashPassword hashes password with a random salt and DefaultParams.
func HashPassword(password string) (string, error) {
	return HashPasswordWithParams(password, DefaultParams)
}

// HashPasswordWithParams hashes password with the given cost parameters.
func HashPasswordWithParams(password string, p Params) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("secret: read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

type decoded struct {
	params Params
	salt   []byte
	key    []byte
}

// ParseHash validates an argon2id PHC string.
func ParseHash(encoded string) (Params, error) {
	d, err := decodeHash(encoded)
	if err != nil {
		return Params{}, err
	}
	return d.params, nil
}

func decodeHash(encoded string) (*decoded, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return nil, fmt.Errorf("%w: parameters %q", ErrInvalidHash, parts[3])
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("%w: zero cost parameter", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt", ErrInvalidHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: hash", ErrInvalidHash)
	}
	return &decoded{params: p, salt: salt, key: key}, nil
}

// VerifyPassword checks password against an argon2id hash.
func VerifyPassword(password, encoded string) (bool, error) {
	d, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), d.salt, d.params.Time, d.params.Memory, d.params.Threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(got, d.key) == 1, nil
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
