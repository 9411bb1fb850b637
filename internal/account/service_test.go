package account

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/access"
	"github.com/pryv-io/core/internal/config"
	"github.com/pryv-io/core/internal/disposable"
	"github.com/pryv-io/core/internal/mfa"
	"github.com/pryv-io/core/internal/session"
	"github.com/pryv-io/core/internal/systemstream"
	"github.com/pryv-io/core/internal/user"
)

// --- fakes ---

type fakeUserRepo struct {
	byID       map[uuid.UUID]*user.User
	byUsername map[string]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[uuid.UUID]*user.User{}, byUsername: map[string]*user.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, p user.CreateParams) (*user.User, error) {
	if _, exists := f.byUsername[p.Username]; exists {
		return nil, user.ErrUsernameTaken
	}
	u := &user.User{ID: uuid.New(), Username: p.Username, PasswordHash: p.PasswordHash, Created: time.Now()}
	f.byID[u.ID] = u
	f.byUsername[u.Username] = u
	return u, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	if u, ok := f.byUsername[username]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (f *fakeUserRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	u, ok := f.byID[id]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUserRepo) SoftDelete(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	now := time.Now()
	u.Deleted = &now
	return u, nil
}

type fakeSessionRepo struct {
	byToken map[string]*session.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byToken: map[string]*session.Session{}}
}

func (f *fakeSessionRepo) Create(ctx context.Context, userID, username, accessID, appID string, maxAge time.Duration) (*session.Session, error) {
	s := &session.Session{
		Token: uuid.New().String(), UserID: userID, Username: username, AccessID: accessID, AppID: appID,
		Created: time.Now(), Expires: time.Now().Add(maxAge),
	}
	f.byToken[s.Token] = s
	return s, nil
}

func (f *fakeSessionRepo) Get(ctx context.Context, token string) (*session.Session, error) {
	if s, ok := f.byToken[token]; ok {
		return s, nil
	}
	return nil, session.ErrNotFound
}

func (f *fakeSessionRepo) Touch(ctx context.Context, token string, maxAge time.Duration) (*session.Session, error) {
	s, ok := f.byToken[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	s.Expires = time.Now().Add(maxAge)
	return s, nil
}

func (f *fakeSessionRepo) Delete(ctx context.Context, token string) error {
	delete(f.byToken, token)
	return nil
}

type fakeAccessRepo struct {
	byNameKey map[string]*access.Access
}

func newFakeAccessRepo() *fakeAccessRepo {
	return &fakeAccessRepo{byNameKey: map[string]*access.Access{}}
}

func nameKey(userID string, t access.Type, name string) string { return userID + "|" + string(t) + "|" + name }

func (f *fakeAccessRepo) Create(ctx context.Context, userID string, a *access.Access) (*access.Access, error) {
	f.byNameKey[nameKey(userID, a.Type, a.Name)] = a
	return a, nil
}

func (f *fakeAccessRepo) Get(ctx context.Context, userID, id string) (*access.Access, error) {
	for _, a := range f.byNameKey {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, access.ErrNotFound
}

func (f *fakeAccessRepo) GetByToken(ctx context.Context, token string) (*access.Access, error) {
	for _, a := range f.byNameKey {
		if a.Token == token {
			return a, nil
		}
	}
	return nil, access.ErrNotFound
}

func (f *fakeAccessRepo) List(ctx context.Context, userID string, includeExpired, includeDeletions bool) ([]access.Access, []access.Access, error) {
	return nil, nil, nil
}

func (f *fakeAccessRepo) ListCreatedBy(ctx context.Context, userID, creatorID string) ([]access.Access, error) {
	return nil, nil
}

func (f *fakeAccessRepo) FindByName(ctx context.Context, userID string, t access.Type, name string) (*access.Access, error) {
	if a, ok := f.byNameKey[nameKey(userID, t, name)]; ok {
		return a, nil
	}
	return nil, access.ErrNotFound
}

func (f *fakeAccessRepo) SoftDelete(ctx context.Context, userID, id string) (*access.Access, error) {
	return nil, access.ErrNotFound
}

func (f *fakeAccessRepo) DeleteCascade(ctx context.Context, userID, targetID string) (*access.Access, []access.Access, error) {
	return nil, nil, nil
}

type fakeSystemStreamRepo struct {
	values       map[string]map[string]systemstream.Value // userID -> streamID -> value
	indexedOwner map[string]string                        // streamID|value -> userID
}

func newFakeSystemStreamRepo() *fakeSystemStreamRepo {
	return &fakeSystemStreamRepo{values: map[string]map[string]systemstream.Value{}, indexedOwner: map[string]string{}}
}

func (f *fakeSystemStreamRepo) Get(ctx context.Context, userID, streamID string) (*systemstream.Value, error) {
	if byStream, ok := f.values[userID]; ok {
		if v, ok := byStream[streamID]; ok {
			return &v, nil
		}
	}
	return nil, systemstream.ErrNotFound
}

func (f *fakeSystemStreamRepo) GetAll(ctx context.Context, userID string) (map[string]systemstream.Value, error) {
	return f.values[userID], nil
}

func (f *fakeSystemStreamRepo) Set(ctx context.Context, userID, streamID, value string) (*systemstream.Value, error) {
	if streamID == emailStreamID {
		key := streamID + "|" + value
		if owner, ok := f.indexedOwner[key]; ok && owner != userID {
			return nil, systemstream.ErrValueTaken
		}
		f.indexedOwner[key] = userID
	}
	if f.values[userID] == nil {
		f.values[userID] = map[string]systemstream.Value{}
	}
	v := systemstream.Value{StreamID: streamID, Value: value, Modified: time.Now()}
	f.values[userID][streamID] = v
	return &v, nil
}

func (f *fakeSystemStreamRepo) FindByIndexedValue(ctx context.Context, streamID, value string) (string, error) {
	if owner, ok := f.indexedOwner[streamID+"|"+value]; ok {
		return owner, nil
	}
	return "", systemstream.ErrNotFound
}

type fakeMFARepo struct {
	byUser map[uuid.UUID]*mfa.Settings
}

func newFakeMFARepo() *fakeMFARepo { return &fakeMFARepo{byUser: map[uuid.UUID]*mfa.Settings{}} }

func (f *fakeMFARepo) Get(ctx context.Context, userID uuid.UUID) (*mfa.Settings, error) {
	if s, ok := f.byUser[userID]; ok {
		return s, nil
	}
	return nil, mfa.ErrNotFound
}

func (f *fakeMFARepo) Upsert(ctx context.Context, s *mfa.Settings) error {
	f.byUser[s.UserID] = s
	return nil
}

func (f *fakeMFARepo) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	if s, ok := f.byUser[userID]; ok {
		s.Enabled = enabled
	}
	return nil
}

func (f *fakeMFARepo) Delete(ctx context.Context, userID uuid.UUID) error {
	delete(f.byUser, userID)
	return nil
}

// --- test setup ---

func testConfig() *config.Config {
	return &config.Config{
		Argon2Memory: 19456, Argon2Iterations: 2, Argon2Parallelism: 1, Argon2SaltLength: 16, Argon2KeyLength: 32,
		SessionMaxAge:              14 * 24 * time.Hour,
		PasswordResetRequestMaxAge: time.Hour,
		SSOCookieSignSecret:        "00112233445566778899aabbccddeeff00112233445566778899aabbccddee",
		MFAEncryptionKey:           "00112233445566778899aabbccddeeff00112233445566778899aabbccddee",
	}
}

type testService struct {
	*Service
	users     *fakeUserRepo
	sysValues *fakeSystemStreamRepo
	mfaRepo   *fakeMFARepo
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newFakeUserRepo()
	sysValues := newFakeSystemStreamRepo()
	mfaRepo := newFakeMFARepo()
	svc := NewService(
		users, newFakeSessionRepo(), newFakeAccessRepo(), sysValues, mfaRepo,
		disposable.NewBlocklist("", false), rdb, nil, testConfig(), zerolog.Nop(),
	)
	return &testService{Service: svc, users: users, sysValues: sysValues, mfaRepo: mfaRepo}
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	svc := newTestService(t)
	u, err := svc.Register(t.Context(), RegisterParams{Username: "alice", Password: "correct horse battery", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Username = %q, want alice", u.Username)
	}
	v, err := svc.sysValues.Get(t.Context(), u.ID.String(), emailStreamID)
	if err != nil || v.Value != "alice@example.com" {
		t.Errorf("email system stream value = %+v, err %v", v, err)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	p := RegisterParams{Username: "alice", Password: "correct horse battery", Email: "alice@example.com"}
	if _, err := svc.Register(t.Context(), p); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	p.Email = "alice2@example.com"
	if _, err := svc.Register(t.Context(), p); err != ErrUsernameTaken {
		t.Errorf("second Register() error = %v, want ErrUsernameTaken", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Register(t.Context(), RegisterParams{Username: "alice", Password: "correct horse battery", Email: "shared@example.com"}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register(t.Context(), RegisterParams{Username: "bob", Password: "correct horse battery", Email: "shared@example.com"})
	if err != ErrEmailTaken {
		t.Errorf("second Register() error = %v, want ErrEmailTaken", err)
	}
}

// --- Login ---

func registerTestUser(t *testing.T, svc *testService) *user.User {
	t.Helper()
	u, err := svc.Register(t.Context(), RegisterParams{Username: "alice", Password: "correct horse battery", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return u
}

func TestLogin_Success(t *testing.T) {
	svc := newTestService(t)
	registerTestUser(t, svc)

	result, challenge, err := svc.Login(t.Context(), LoginParams{Username: "alice", Password: "correct horse battery", AppID: "my-app"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if challenge != nil {
		t.Fatalf("Login() returned an MFA challenge for an account without MFA enabled")
	}
	if result.Token == "" {
		t.Error("Login() returned an empty token")
	}
	if result.APIEndpoint != "https://alice/" {
		t.Errorf("APIEndpoint = %q, want https://alice/", result.APIEndpoint)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestService(t)
	registerTestUser(t, svc)

	_, _, err := svc.Login(t.Context(), LoginParams{Username: "alice", Password: "wrong password entirely", AppID: "my-app"})
	if err != ErrInvalidCredentials {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_UnknownUsernameDoesNotLeak(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Login(t.Context(), LoginParams{Username: "nobody", Password: "whatever", AppID: "my-app"})
	if err != ErrInvalidCredentials {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_UntrustedApp(t *testing.T) {
	svc := newTestService(t)
	svc.cfg.TrustedApps = "only-this-app@https://only.example.com"
	registerTestUser(t, svc)

	_, _, err := svc.Login(t.Context(), LoginParams{Username: "alice", Password: "correct horse battery", AppID: "other-app", Origin: "https://other.example.com"})
	if err != ErrUntrustedApp {
		t.Errorf("Login() error = %v, want ErrUntrustedApp", err)
	}
}

func TestLogin_ReusesPersonalAccessAcrossLogins(t *testing.T) {
	svc := newTestService(t)
	registerTestUser(t, svc)

	first, _, err := svc.Login(t.Context(), LoginParams{Username: "alice", Password: "correct horse battery", AppID: "my-app"})
	if err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	second, _, err := svc.Login(t.Context(), LoginParams{Username: "alice", Password: "correct horse battery", AppID: "my-app"})
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if first.Token != second.Token {
		t.Errorf("expected the same personal access token across logins from the same app, got %q and %q", first.Token, second.Token)
	}
}

func TestLogin_MFAChallengeThenSuccess(t *testing.T) {
	svc := newTestService(t)
	u := registerTestUser(t, svc)

	secret, _, err := svc.EnableMFA(t.Context(), u.ID, "alice")
	if err != nil {
		t.Fatalf("EnableMFA() error = %v", err)
	}
	code, err := totpCodeForTest(secret)
	if err != nil {
		t.Fatalf("generate TOTP code: %v", err)
	}
	if _, err := svc.ConfirmMFA(t.Context(), u.ID, code); err != nil {
		t.Fatalf("ConfirmMFA() error = %v", err)
	}

	result, challenge, err := svc.Login(t.Context(), LoginParams{Username: "alice", Password: "correct horse battery", AppID: "my-app"})
	if err != nil {
		t.Fatalf("Login() (step 1) error = %v", err)
	}
	if result != nil || challenge == nil || challenge.Ticket == "" {
		t.Fatalf("expected an MFA challenge, got result=%+v challenge=%+v", result, challenge)
	}

	loginCode, err := totpCodeForTest(secret)
	if err != nil {
		t.Fatalf("generate TOTP code: %v", err)
	}
	result, challenge, err = svc.Login(t.Context(), LoginParams{AppID: "my-app", Ticket: challenge.Ticket, MFACode: loginCode})
	if err != nil {
		t.Fatalf("Login() (step 2) error = %v", err)
	}
	if challenge != nil || result == nil || result.Token == "" {
		t.Fatalf("expected a successful login, got result=%+v challenge=%+v", result, challenge)
	}
}

// --- ChangePassword ---

func TestChangePassword_RejectsReuse(t *testing.T) {
	svc := newTestService(t)
	u := registerTestUser(t, svc)

	err := svc.ChangePassword(t.Context(), u.ID, "correct horse battery", "correct horse battery")
	if err != ErrPasswordReused {
		t.Errorf("ChangePassword() error = %v, want ErrPasswordReused", err)
	}
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	svc := newTestService(t)
	u := registerTestUser(t, svc)

	err := svc.ChangePassword(t.Context(), u.ID, "not the right password", "a brand new passphrase")
	if err != ErrInvalidCredentials {
		t.Errorf("ChangePassword() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestChangePassword_Success(t *testing.T) {
	svc := newTestService(t)
	u := registerTestUser(t, svc)

	if err := svc.ChangePassword(t.Context(), u.ID, "correct horse battery", "a brand new passphrase"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	_, _, err := svc.Login(t.Context(), LoginParams{Username: "alice", Password: "a brand new passphrase", AppID: "my-app"})
	if err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}
}

// --- RequestPasswordReset / ResetPassword ---

func TestResetPassword_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	registerTestUser(t, svc)

	token, err := svc.RequestPasswordReset(t.Context(), "alice")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if err := svc.ResetPassword(t.Context(), token, "freshly reset passphrase"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	_, _, err = svc.Login(t.Context(), LoginParams{Username: "alice", Password: "freshly reset passphrase", AppID: "my-app"})
	if err != nil {
		t.Errorf("Login() with reset password error = %v", err)
	}
}

func TestResetPassword_RejectsGarbageToken(t *testing.T) {
	svc := newTestService(t)
	if err := svc.ResetPassword(t.Context(), "not-a-real-token", "whatever new passphrase"); err != ErrInvalidResetToken {
		t.Errorf("ResetPassword() error = %v, want ErrInvalidResetToken", err)
	}
}

// totpCodeForTest generates a valid TOTP code for secret at the current time step, mirroring what an authenticator
// app would produce.
func totpCodeForTest(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}
