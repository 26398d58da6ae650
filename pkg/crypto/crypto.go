// Package crypto provides salted password hashing for ircline.
package crypto

import (
	"fmt"
	"os"

	"golang.org/x/crypto/sha3"
)

// SaltEnvVar names the environment variable holding the server-wide
// password salt. Read once at process start.
const SaltEnvVar = "IRCLINE_SALT"

// defaultSalt is the development fallback. Override via IRCLINE_SALT for
// any real deployment.
const defaultSalt = "1sud83"

// Hasher computes salted password digests: hex(SHA3-512(password + salt)).
// The salt prevents precomputed dictionary lookup of raw hashes.
type Hasher struct {
	salt string
}

// NewHasher creates a Hasher with an explicit salt.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// NewHasherFromEnv creates a Hasher from IRCLINE_SALT, falling back to the
// development default when unset.
func NewHasherFromEnv() *Hasher {
	salt := os.Getenv(SaltEnvVar)
	if salt == "" {
		salt = defaultSalt
	}
	return &Hasher{salt: salt}
}

// HashPassword returns the hex-encoded SHA3-512 digest of password + salt.
func (h *Hasher) HashPassword(password string) string {
	sum := sha3.Sum512([]byte(password + h.salt))
	return fmt.Sprintf("%x", sum[:])
}
