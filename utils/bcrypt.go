package utils

import "golang.org/x/crypto/bcrypt"

// Callback endpoints are protected by a shared key whose bcrypt hash is kept
// in configuration; the plain key never lands on disk.

func HashCallbackKey(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func CompareCallbackKey(hashed string, key string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(key))
}
