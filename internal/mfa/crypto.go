// Package mfa implements TOTP-based multi-factor authentication as the one named feature-permission surface that
// isn't about streams (spec §5's account MFA endpoint): secret generation via pquerna/otp, at-rest AES-256-GCM
// encryption of the stored secret, recovery codes, and the short-lived Valkey tickets that bridge the
// password-verified-but-not-yet-MFA-verified login step. Split out into its own package, separate from
// internal/auth's password/token concerns, since MFA is an orthogonal login-flow feature.
package mfa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pryv-io/core/internal/auth"
)

// EncryptSecret encrypts a TOTP secret using AES-256-GCM. hexKey must be exactly 64 hex characters (32 bytes). The
// returned string is base64(nonce || ciphertext || tag).
func EncryptSecret(secret, hexKey string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("decode encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSecret decrypts a TOTP secret that was encrypted by EncryptSecret.
func DecryptSecret(encoded, hexKey string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("decode encryption key: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

const recoveryCodeCount = 10

// GenerateRecoveryCodes generates a set of one-time recovery codes in the format "xxxx-xxxx-xxxx-xxxx-xxxx", each
// representing 10 random bytes (80 bits of entropy).
func GenerateRecoveryCodes() []string {
	codes := make([]string, recoveryCodeCount)
	for i := range codes {
		b := make([]byte, 10)
		_, _ = rand.Read(b)
		h := hex.EncodeToString(b)
		codes[i] = h[:4] + "-" + h[4:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:]
	}
	return codes
}

// HashRecoveryCode hashes a recovery code with the same Argon2id parameters as a password. The hyphen is stripped
// first so codes entered with or without separators hash identically.
func HashRecoveryCode(code string, memory, iterations uint32, parallelism uint8, saltLen, keyLen uint32) (string, error) {
	stripped := strings.ReplaceAll(code, "-", "")
	return auth.HashPassword(stripped, memory, iterations, parallelism, saltLen, keyLen)
}

// VerifyRecoveryCode checks a plaintext recovery code against its Argon2id hash, stripping hyphens first.
func VerifyRecoveryCode(code, hash string) (bool, error) {
	stripped := strings.ReplaceAll(code, "-", "")
	return auth.VerifyPassword(stripped, hash)
}
