package service

import (
	"encoding/base64"
	"strings"

	"github.com/smallbiznis/ordersync/internal/notification/domain"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// parseSecretKey accepts a 32-byte key given raw or base64 encoded.
func parseSecretKey(raw string) (*[32]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrInvalidSecretKey
	}
	keyBytes := []byte(raw)
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		keyBytes = decoded
	}
	if len(keyBytes) != 32 {
		return nil, domain.ErrInvalidSecretKey
	}
	var key [32]byte
	copy(key[:], keyBytes)
	return &key, nil
}

// decryptPassword opens base64(nonce || sealed) produced by sealPassword.
func decryptPassword(key *[32]byte, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(data) < nonceSize+secretbox.Overhead {
		return "", domain.ErrInvalidCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, key)
	if !ok {
		return "", domain.ErrInvalidCiphertext
	}
	return string(plain), nil
}

func sealPassword(key *[32]byte, nonce [nonceSize]byte, password string) string {
	sealed := secretbox.Seal(nonce[:], []byte(password), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed)
}
