package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword bcrypt-hashes a secret at the default cost. Used for user
// passwords and for one-time approval tokens, so neither is stored in clear.
func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

// ComparePassword reports whether normal matches the stored bcrypt hash.
func ComparePassword(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
