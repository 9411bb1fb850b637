// Package account implements the account/auth HTTP surface's business logic (spec §6: `GET/PUT /account`,
// `POST /account/change-password`, `POST /account/request-password-reset`, `POST /account/reset-password`,
// `POST /auth/login`, `POST /auth/logout`): registration, login (with optional MFA challenge), logout, password
// change/reset. This wires together internal/user, internal/session, internal/access, internal/mfa, and
// internal/systemstream as one service struct owning several collaborator repositories, the shape a
// password-verify-then-issue-session login flow naturally takes.
package account

import (
	"errors"
)

// Sentinel errors for the account package.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUntrustedApp       = errors.New("appId/origin pair is not in the trusted apps list")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email address already in use")
	ErrDisposableEmail    = errors.New("disposable email addresses are not allowed")
	ErrMFARequired        = errors.New("multi-factor authentication code required")
	ErrInvalidMFACode     = errors.New("invalid MFA code")
	ErrMFANotEnabled      = errors.New("MFA is not enabled on this account")
	ErrPasswordReused     = errors.New("password was used too recently")
	ErrPasswordTooYoung   = errors.New("password was changed too recently to be changed again")
	ErrInvalidResetToken  = errors.New("password reset token is invalid or expired")
)

// RegisterParams groups the inputs for account registration.
type RegisterParams struct {
	Username string
	Password string
	Email    string
	Language string // optional, defaults to "en"
}

// LoginParams groups the inputs for auth.login.
type LoginParams struct {
	Username string
	Password string
	AppID    string
	Origin   string
	MFACode  string // supplied on the second call of a two-step MFA login, using Ticket from the first
	Ticket   string
}

// LoginResult is auth.login's success shape (spec example: `{token, apiEndpoint, preferredLanguage}`).
type LoginResult struct {
	Token             string
	APIEndpoint       string
	PreferredLanguage string
}

// MFAChallenge is returned by Login instead of a LoginResult when the account has MFA enabled and no valid
// MFACode/Ticket was supplied yet; the caller re-submits Login with Ticket and MFACode to complete the flow.
type MFAChallenge struct {
	Ticket string
}

// buildAPIEndpoint constructs the endpoint a client should address subsequent calls to, following the
// dnsLess.isActive topology flag (spec §6): DNS-capable deployments address a per-user subdomain, DNS-less ones a
// path segment under one shared host.
func buildAPIEndpoint(domain, username string, dnsLess bool) string {
	if domain == "" {
		if dnsLess {
			return "/" + username + "/"
		}
		return "https://" + username + "/"
	}
	if dnsLess {
		return "https://" + domain + "/" + username + "/"
	}
	return "https://" + username + "." + domain + "/"
}
