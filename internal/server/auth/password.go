package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	hashIter   = 4096
	hashKeyLen = 64
)

// NewSalt returns a fresh random password salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// HashPassword derives the stored password hash from the plaintext password
// and the account's salt.
func HashPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, hashIter, hashKeyLen, sha512.New)
}

// CheckPassword compares a candidate password against the stored hash in
// constant time.
func CheckPassword(password string, salt, hash []byte) bool {
	candidate := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}
