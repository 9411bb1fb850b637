package mfa

import (
	"errors"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrInvalidCode is returned when a submitted TOTP code doesn't validate against the secret.
var ErrInvalidCode = errors.New("invalid MFA code")

// GenerateSecret creates a new TOTP secret and provisioning URI for the given account under the named issuer, using
// pquerna/otp's default parameters (30s period, 6 digits, SHA1) — the widest-compatibility choice across
// authenticator apps.
func GenerateSecret(issuer, accountName string) (secret, otpauthURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: accountName})
	if err != nil {
		return "", "", fmt.Errorf("generate TOTP secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate checks a submitted 6-digit code against the secret at the current time step, also accepting the codes of
// the one step before and after it (pquerna/otp's default skew).
func Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}

// KeyFromURL parses a previously generated otpauth:// URL back into an otp.Key, used when re-deriving the QR code
// for an already-pending setup without storing the URL separately.
func KeyFromURL(rawURL string) (*otp.Key, error) {
	return otp.NewKeyFromURL(rawURL)
}
