package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/access"
	"github.com/pryv-io/core/internal/auth"
	"github.com/pryv-io/core/internal/config"
	"github.com/pryv-io/core/internal/disposable"
	"github.com/pryv-io/core/internal/mfa"
	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/session"
	"github.com/pryv-io/core/internal/systemstream"
	"github.com/pryv-io/core/internal/user"
)

// emailStreamID is the indexed system-stream leaf registration enforces uniqueness for (spec §3).
const emailStreamID = systemstream.CustomerPrefix + "email"
const languageStreamID = systemstream.CustomerPrefix + "language"

// SSOIssuer is the JWT issuer stamped on SSO cookies; internal/reqctx.Resolver must be constructed with the same
// value. passwordResetIssuer reuses the same HMAC signer for password-reset tokens under a distinct issuer so the
// two token kinds never validate interchangeably.
const (
	SSOIssuer            = "pryv-core-sso"
	passwordResetIssuer  = "pryv-core-password-reset"
	passwordHistoryDepth = 5
	mfaTicketTTL         = 5 * time.Minute
)

// Service implements the account/auth operations, wiring internal/user, internal/session, internal/access,
// internal/mfa, and internal/systemstream into one service struct that owns its collaborators directly.
type Service struct {
	users      user.Repository
	sessions   session.Repository
	accesses   access.Repository
	sysValues  systemstream.Repository
	mfaConfig  mfa.Repository
	disposable *disposable.Blocklist
	rdb        *redis.Client
	history    *passwordHistoryRepository
	cfg        *config.Config
	log        zerolog.Logger
}

// NewService builds an account Service. db backs the password-history table directly (it has no standalone package
// of its own, being purely an account-change-log concern).
func NewService(
	users user.Repository,
	sessions session.Repository,
	accesses access.Repository,
	sysValues systemstream.Repository,
	mfaConfig mfa.Repository,
	blocklist *disposable.Blocklist,
	rdb *redis.Client,
	db *pgxpool.Pool,
	cfg *config.Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		users: users, sessions: sessions, accesses: accesses, sysValues: sysValues, mfaConfig: mfaConfig,
		disposable: blocklist, rdb: rdb, history: newPasswordHistoryRepository(db), cfg: cfg, log: logger,
	}
}

// mfaEnabled reports whether userID has completed MFA enrollment.
func (s *Service) mfaEnabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	settings, err := s.mfaConfig.Get(ctx, userID)
	if err != nil {
		if err == mfa.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return settings.Enabled, nil
}

// loadMFASecret decrypts userID's stored TOTP secret.
func (s *Service) loadMFASecret(ctx context.Context, userID uuid.UUID) (string, error) {
	settings, err := s.mfaConfig.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return mfa.DecryptSecret(settings.EncryptedSecret, s.cfg.MFAEncryptionKey)
}

// EnableMFA starts enrollment: generates a TOTP secret and stashes it encrypted in Valkey pending confirmation (the
// account isn't MFA-protected until ConfirmMFA verifies the user can actually produce a valid code).
func (s *Service) EnableMFA(ctx context.Context, userID uuid.UUID, accountName string) (secret, otpauthURL string, err error) {
	secret, otpauthURL, err = mfa.GenerateSecret("pryv-core", accountName)
	if err != nil {
		return "", "", err
	}
	encrypted, err := mfa.EncryptSecret(secret, s.cfg.MFAEncryptionKey)
	if err != nil {
		return "", "", err
	}
	if err := mfa.StorePendingSecret(ctx, s.rdb, userID, encrypted); err != nil {
		return "", "", err
	}
	return secret, otpauthURL, nil
}

// ConfirmMFA completes enrollment: the caller must prove possession of the pending secret with a valid code. On
// success it persists the settings (enabled) and returns one-time recovery codes — shown to the user exactly once.
func (s *Service) ConfirmMFA(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	encrypted, err := mfa.ConsumePendingSecret(ctx, s.rdb, userID)
	if err != nil {
		return nil, ErrMFANotEnabled
	}
	secret, err := mfa.DecryptSecret(encrypted, s.cfg.MFAEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt pending MFA secret: %w", err)
	}
	if !mfa.Validate(code, secret) {
		return nil, ErrInvalidMFACode
	}

	codes := mfa.GenerateRecoveryCodes()
	hashes := make([]string, len(codes))
	for i, c := range codes {
		h, err := mfa.HashRecoveryCode(c,
			s.cfg.Argon2Memory, s.cfg.Argon2Iterations, s.cfg.Argon2Parallelism, s.cfg.Argon2SaltLength, s.cfg.Argon2KeyLength)
		if err != nil {
			return nil, fmt.Errorf("hash recovery code: %w", err)
		}
		hashes[i] = h
	}

	now := time.Now()
	if err := s.mfaConfig.Upsert(ctx, &mfa.Settings{
		UserID: userID, EncryptedSecret: encrypted, RecoveryCodeHashes: hashes, Enabled: true,
		Created: now, Modified: now,
	}); err != nil {
		return nil, fmt.Errorf("persist MFA settings: %w", err)
	}
	return codes, nil
}

// DisableMFA removes an account's MFA enrollment entirely.
func (s *Service) DisableMFA(ctx context.Context, userID uuid.UUID) error {
	return s.mfaConfig.Delete(ctx, userID)
}

// Register implements user registration (`POST /users`, `POST /reg/user`): validates shape, rejects disposable
// emails, hashes the password, creates the user row, and records the required system-stream leaf values (§3:
// "required at registration").
func (s *Service) Register(ctx context.Context, p RegisterParams) (*user.User, error) {
	if err := auth.ValidateUsername(p.Username); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(p.Password); err != nil {
		return nil, err
	}
	normalizedEmail, domain, err := auth.ValidateEmail(p.Email)
	if err != nil {
		return nil, err
	}
	if s.disposable != nil {
		blocked, err := s.disposable.IsBlocked(ctx, domain)
		if err != nil {
			s.log.Warn().Err(err).Str("domain", domain).Msg("disposable email check failed, allowing registration")
		} else if blocked {
			return nil, ErrDisposableEmail
		}
	}
	if _, err := s.sysValues.FindByIndexedValue(ctx, emailStreamID, normalizedEmail); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(p.Password,
		s.cfg.Argon2Memory, s.cfg.Argon2Iterations, s.cfg.Argon2Parallelism, s.cfg.Argon2SaltLength, s.cfg.Argon2KeyLength)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, user.CreateParams{Username: p.Username, PasswordHash: hash})
	if err != nil {
		if err == user.ErrUsernameTaken {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	userID := u.ID.String()
	if _, err := s.sysValues.Set(ctx, userID, emailStreamID, normalizedEmail); err != nil {
		return nil, fmt.Errorf("record email system stream value: %w", err)
	}
	language := p.Language
	if language == "" {
		language = "en"
	}
	if _, err := s.sysValues.Set(ctx, userID, languageStreamID, language); err != nil {
		return nil, fmt.Errorf("record language system stream value: %w", err)
	}
	if err := s.history.record(ctx, userID, hash); err != nil {
		return nil, fmt.Errorf("record initial password history: %w", err)
	}

	return u, nil
}

// Login implements auth.login (spec example: `{token, apiEndpoint, preferredLanguage}`). When the account has MFA
// enabled and the caller hasn't yet supplied Ticket+MFACode, it returns an *MFAChallenge instead of a *LoginResult;
// the caller re-submits Login with those fields set to complete the second step.
func (s *Service) Login(ctx context.Context, p LoginParams) (*LoginResult, *MFAChallenge, error) {
	if !isTrustedApp(s.cfg.TrustedApps, p.AppID, p.Origin) {
		return nil, nil, ErrUntrustedApp
	}

	var u *user.User
	var err error

	if p.Ticket != "" {
		userID, terr := mfa.ConsumeTicket(ctx, s.rdb, p.Ticket)
		if terr != nil {
			return nil, nil, ErrInvalidCredentials
		}
		u, err = s.users.GetByID(ctx, userID)
	} else {
		u, err = s.users.GetByUsername(ctx, p.Username)
	}
	if err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !u.IsLive() {
		return nil, nil, ErrInvalidCredentials
	}

	if p.Ticket == "" {
		match, verr := auth.VerifyPassword(p.Password, u.PasswordHash)
		if verr != nil || !match {
			return nil, nil, ErrInvalidCredentials
		}

		enabled, mfaErr := s.mfaEnabled(ctx, u.ID)
		if mfaErr != nil {
			return nil, nil, fmt.Errorf("check MFA status: %w", mfaErr)
		}
		if enabled {
			ticket, terr := mfa.CreateTicket(ctx, s.rdb, u.ID, mfaTicketTTL)
			if terr != nil {
				return nil, nil, fmt.Errorf("create MFA ticket: %w", terr)
			}
			return nil, &MFAChallenge{Ticket: ticket}, nil
		}
	} else {
		secret, gerr := s.loadMFASecret(ctx, u.ID)
		if gerr != nil {
			return nil, nil, ErrInvalidCredentials
		}
		if !mfa.Validate(p.MFACode, secret) {
			return nil, nil, ErrInvalidMFACode
		}
	}

	userID := u.ID.String()
	a, err := s.personalAccess(ctx, userID, p.AppID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve personal access: %w", err)
	}

	if _, err := s.sessions.Create(ctx, userID, u.Username, a.ID, p.AppID, s.cfg.SessionMaxAge); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	language := "en"
	if v, err := s.sysValues.Get(ctx, userID, languageStreamID); err == nil {
		language = v.Value
	}

	return &LoginResult{
		Token:             a.Token,
		APIEndpoint:       buildAPIEndpoint(s.cfg.SSOCookieDomain, u.Username, s.cfg.DNSLessActive),
		PreferredLanguage: language,
	}, nil, nil
}

// personalAccess returns the account's personal access for appID, creating one if this is the first login from that
// app. A personal access is the self-issued root credential: unlike accesses.create (§4.6), it has no delegating
// parent to check a subset constraint against.
func (s *Service) personalAccess(ctx context.Context, userID, appID string) (*access.Access, error) {
	existing, err := s.accesses.FindByName(ctx, userID, access.TypePersonal, appID)
	if err == nil {
		return existing, nil
	}
	if err != access.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	a := &access.Access{
		ID:          uuid.New().String(),
		Token:       uuid.New().String(),
		Type:        access.TypePersonal,
		Name:        appID,
		Permissions: []permission.Permission{permission.StreamPermission(permission.WildcardStream, permission.LevelManage)},
		Created:     now,
		Modified:    now,
	}
	a.CreatedBy, a.ModifiedBy = a.ID, a.ID
	return s.accesses.Create(ctx, userID, a)
}

// Logout implements auth.logout: deletes the session bound to the SSO cookie/token.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	return s.sessions.Delete(ctx, sessionToken)
}

// ChangePassword implements account.change-password: verifies the old password, enforces the minimum password age
// and reuse-history rules (auth.passwordAge{Min}Days), then records and applies the new hash.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	match, err := auth.VerifyPassword(oldPassword, u.PasswordHash)
	if err != nil || !match {
		return ErrInvalidCredentials
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	if s.cfg.PasswordAgeMinDays > 0 {
		lastChange, err := s.history.mostRecentChange(ctx, userID.String())
		if err != nil {
			return fmt.Errorf("check password age: %w", err)
		}
		minAge := time.Duration(s.cfg.PasswordAgeMinDays) * 24 * time.Hour
		if !lastChange.IsZero() && time.Since(lastChange) < minAge {
			return ErrPasswordTooYoung
		}
	}

	reused, err := s.history.wasRecentlyUsed(ctx, userID.String(), newPassword, passwordHistoryDepth)
	if err != nil {
		return fmt.Errorf("check password history: %w", err)
	}
	if reused {
		return ErrPasswordReused
	}

	hash, err := auth.HashPassword(newPassword,
		s.cfg.Argon2Memory, s.cfg.Argon2Iterations, s.cfg.Argon2Parallelism, s.cfg.Argon2SaltLength, s.cfg.Argon2KeyLength)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return s.history.record(ctx, userID.String(), hash)
}

// RequestPasswordReset implements account.request-password-reset: issues a signed, short-lived token naming the
// account. Actual delivery (e.g. emailing the token to the user) is out of scope (an explicit non-goal
// "account recovery email delivery"); the caller is responsible for getting this token to the account owner through
// whatever side channel the deployment uses.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) (string, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return auth.NewAccessToken(u.ID, s.cfg.SSOCookieSignSecret, s.cfg.PasswordResetRequestMaxAge, passwordResetIssuer)
}

// ResetPassword implements account.reset-password: validates the reset token and applies the new password.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := auth.ValidateAccessToken(resetToken, s.cfg.SSOCookieSignSecret, passwordResetIssuer)
	if err != nil {
		return ErrInvalidResetToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ErrInvalidResetToken
	}

	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword,
		s.cfg.Argon2Memory, s.cfg.Argon2Iterations, s.cfg.Argon2Parallelism, s.cfg.Argon2SaltLength, s.cfg.Argon2KeyLength)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return s.history.record(ctx, userID.String(), hash)
}

// Get implements `GET /account`: every recorded system-stream leaf value, keyed by stream id.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	values, err := s.sysValues.GetAll(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("load account values: %w", err)
	}
	out := make(map[string]string, len(values))
	for streamID, v := range values {
		out[streamID] = v.Value
	}
	return out, nil
}
