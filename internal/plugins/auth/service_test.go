package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/secret"
	"github.com/keyxmakerx/gatekeeper/internal/token"
)

// --- Mock Repositories ---

// mockUserRepo implements UserRepository for testing.
type mockUserRepo struct {
	createFn            func(ctx context.Context, user *User) error
	findByIDFn          func(ctx context.Context, id string) (*User, error)
	findByEmailFn       func(ctx context.Context, email string) (*User, error)
	deleteFn            func(ctx context.Context, id string) error
	setEmailConfirmedFn func(ctx context.Context, id string) error
	updateProfileFn     func(ctx context.Context, id string, profile json.RawMessage) error
	updateLastLoginFn   func(ctx context.Context, id string) error
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) SetEmailConfirmed(ctx context.Context, id string) error {
	if m.setEmailConfirmedFn != nil {
		return m.setEmailConfirmedFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, profile json.RawMessage) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, profile)
	}
	return nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id)
	}
	return nil
}

// memoryUsers wires a mockUserRepo to a map so flows that create an
// identity and read it back behave like the real store. Individual Fn
// fields can still be overridden afterwards.
func memoryUsers() (*mockUserRepo, map[string]*User) {
	var mu sync.Mutex
	byID := make(map[string]*User)

	repo := &mockUserRepo{}
	repo.createFn = func(_ context.Context, u *User) error {
		mu.Lock()
		defer mu.Unlock()
		for _, existing := range byID {
			if existing.Email == u.Email {
				return errDuplicateEmail()
			}
		}
		stored := *u
		byID[u.ID] = &stored
		return nil
	}
	repo.findByIDFn = func(_ context.Context, id string) (*User, error) {
		mu.Lock()
		defer mu.Unlock()
		if u, ok := byID[id]; ok {
			found := *u
			return &found, nil
		}
		return nil, apperror.NewNotFound("user not found")
	}
	repo.findByEmailFn = func(_ context.Context, email string) (*User, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, u := range byID {
			if u.Email == email {
				found := *u
				return &found, nil
			}
		}
		return nil, apperror.NewNotFound("user not found")
	}
	repo.deleteFn = func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		delete(byID, id)
		return nil
	}
	repo.setEmailConfirmedFn = func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		u, ok := byID[id]
		if !ok {
			return apperror.NewNotFound("user not found")
		}
		u.EmailConfirmed = true
		return nil
	}
	repo.updateProfileFn = func(_ context.Context, id string, profile json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		u, ok := byID[id]
		if !ok {
			return apperror.NewNotFound("user not found")
		}
		u.Profile = append(json.RawMessage(nil), profile...)
		return nil
	}
	return repo, byID
}

// memOTPRepo is an in-memory OTPRepository with injectable failures.
type memOTPRepo struct {
	mu      sync.Mutex
	records map[string]OTPRecord

	upsertErr    error
	findErr      error
	deleteErr    error
	incrementErr error
}

func newMemOTPRepo() *memOTPRepo {
	return &memOTPRepo{records: make(map[string]OTPRecord)}
}

func (m *memOTPRepo) Upsert(_ context.Context, rec *OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	stored := *rec
	stored.Attempts = 0
	m.records[rec.Email] = stored
	return nil
}

func (m *memOTPRepo) Find(_ context.Context, email string) (*OTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	rec, ok := m.records[email]
	if !ok {
		return nil, apperror.NewNotFound("no pending code")
	}
	return &rec, nil
}

func (m *memOTPRepo) Delete(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, email)
	return nil
}

func (m *memOTPRepo) IncrementAttempts(_ context.Context, email string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErr != nil {
		return 0, m.incrementErr
	}
	rec, ok := m.records[email]
	if !ok {
		return 0, apperror.NewNotFound("no pending code")
	}
	rec.Attempts++
	m.records[email] = rec
	return rec.Attempts, nil
}

func (m *memOTPRepo) has(email string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[email]
	return ok
}

// mockMailSender implements MailSender for testing.
type mockMailSender struct {
	sendMailFn func(ctx context.Context, to []string, subject, body string) error

	// Capture fields for assertions.
	lastTo      []string
	lastSubject string
	lastBody    string
	sendCount   int
}

func (m *mockMailSender) SendMail(ctx context.Context, to []string, subject, body string) error {
	m.lastTo = to
	m.lastSubject = subject
	m.lastBody = body
	m.sendCount++
	if m.sendMailFn != nil {
		return m.sendMailFn(ctx, to, subject, body)
	}
	return nil
}

// recordingMetrics captures outcomes passed to metrics.Recorder.
type recordingMetrics struct {
	mu            sync.Mutex
	logins        []string
	otps          []string
	registrations []string
}

func (r *recordingMetrics) ObserveRateLimit(string, bool) {}
func (r *recordingMetrics) RecordAdminLogin(bool)         {}

func (r *recordingMetrics) RecordOTPVerification(outcome string) {
	r.mu.Lock()
	r.otps = append(r.otps, outcome)
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordRegistration(outcome string) {
	r.mu.Lock()
	r.registrations = append(r.registrations, outcome)
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordLogin(outcome string) {
	r.mu.Lock()
	r.logins = append(r.logins, outcome)
	r.mu.Unlock()
}

// --- Test Helpers ---

// cheapParams keep argon2 fast in tests.
var cheapParams = secret.PasswordParams{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

const testPassword = "Correct-Horse-42"

func newTestHasher(t *testing.T) *secret.Hasher {
	t.Helper()
	h, err := secret.NewHasher("test-code-pepper", "test-password-pepper", cheapParams)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTokens(t *testing.T, clock *testClock) *token.Service {
	t.Helper()
	svc, err := token.NewService(token.Config{
		Secret:     []byte("auth-test-secret-long-enough"),
		Issuer:     "gatekeeper",
		AccessTTL:  time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}
	return svc.WithClock(clock.Now)
}

// seedUser stores a user with testPassword and returns it.
func seedUser(t *testing.T, users map[string]*User, hasher *secret.Hasher, email string, confirmed bool) *User {
	t.Helper()
	hash, salt, err := hasher.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &User{
		ID:             "user-" + email,
		Name:           "Alice",
		Email:          email,
		Role:           RoleUser,
		PasswordHash:   hash,
		PasswordSalt:   salt,
		EmailConfirmed: confirmed,
		CreatedAt:      time.Now().UTC(),
	}
	users[u.ID] = u
	return u
}

// assertAppError checks that err is an *apperror.AppError with the expected type.
func assertAppError(t *testing.T, err error, expectedType string) *apperror.AppError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of type %s, got nil", expectedType)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Type != expectedType {
		t.Errorf("expected type %s, got %s (message: %s)", expectedType, appErr.Type, appErr.Message)
	}
	return appErr
}

type authFixture struct {
	service AuthService
	repo    *mockUserRepo
	users   map[string]*User
	hasher  *secret.Hasher
	tokens  *token.Service
	clock   *testClock
	metrics *recordingMetrics
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	repo, users := memoryUsers()
	hasher := newTestHasher(t)
	clock := newTestClock()
	tokens := newTestTokens(t, clock)
	rec := &recordingMetrics{}
	return &authFixture{
		service: NewAuthService(repo, tokens, hasher, time.Second, rec),
		repo:    repo,
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		clock:   clock,
		metrics: rec,
	}
}

// --- Login Tests ---

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(t, f.users, f.hasher, "alice@example.com", true)

	var lastLogin string
	f.repo.updateLastLoginFn = func(_ context.Context, id string) error {
		lastLogin = id
		return nil
	}

	session, err := f.service.Login(context.Background(), LoginInput{Email: "  Alice@Example.com ", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.User.ID != user.ID {
		t.Errorf("session user = %s, want %s", session.User.ID, user.ID)
	}
	if lastLogin != user.ID {
		t.Error("expected last login to be recorded")
	}

	claims, err := f.tokens.Verify(session.Access.Token, token.KindAccess)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if claims.SubjectID() != user.ID || claims.Email != user.Email {
		t.Errorf("unexpected access claims %+v", claims)
	}
	if _, err := f.tokens.Verify(session.Refresh.Token, token.KindRefresh); err != nil {
		t.Errorf("refresh token does not verify: %v", err)
	}
	if len(f.metrics.logins) != 1 || f.metrics.logins[0] != loginOutcomeSuccess {
		t.Errorf("login metrics = %v", f.metrics.logins)
	}
}

func TestLogin_UniformFailures(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)

	tests := []struct {
		name  string
		input LoginInput
	}{
		{"unknown email", LoginInput{Email: "nobody@example.com", Password: testPassword}},
		{"wrong password", LoginInput{Email: "alice@example.com", Password: "Wrong-Horse-42"}},
		{"empty password", LoginInput{Email: "alice@example.com"}},
		{"empty email", LoginInput{Password: testPassword}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Login(context.Background(), tt.input)
			appErr := assertAppError(t, err, apperror.TypeUnauthorized)
			if appErr.Message != msgInvalidCredentials {
				t.Errorf("message = %q, want the uniform credentials message", appErr.Message)
			}
		})
	}
}

func TestLogin_UnconfirmedEmail(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", false)

	_, err := f.service.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: testPassword})
	assertAppError(t, err, apperror.TypeEmailNotVerified)

	// A wrong password must not reveal the unconfirmed state.
	_, err = f.service.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "Wrong-Horse-42"})
	assertAppError(t, err, apperror.TypeUnauthorized)
}

func TestLogin_StoreFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.repo.findByEmailFn = func(context.Context, string) (*User, error) {
		return nil, errors.New("connection refused")
	}

	_, err := f.service.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: testPassword})
	assertAppError(t, err, apperror.TypeDependency)
	if f.metrics.logins[0] != loginOutcomeError {
		t.Errorf("login metrics = %v", f.metrics.logins)
	}
}

// --- Refresh Tests ---

func TestRefresh(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)
	session, err := f.service.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	refreshed, err := f.service.Refresh(context.Background(), session.Refresh.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !refreshed.Access.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Errorf("new access expiry = %v", refreshed.Access.ExpiresAt)
	}
	if refreshed.Refresh.Token == "" || refreshed.Refresh.Token == session.Refresh.Token {
		t.Error("expected a rotated refresh token")
	}
	if !refreshed.Refresh.ExpiresAt.Equal(f.clock.Now().Add(7 * 24 * time.Hour)) {
		t.Errorf("new refresh expiry = %v", refreshed.Refresh.ExpiresAt)
	}
	if refreshed.Refresh.TTL != 7*24*time.Hour {
		t.Errorf("new refresh TTL = %v", refreshed.Refresh.TTL)
	}

	// An access token is not accepted as a refresh token.
	_, err = f.service.Refresh(context.Background(), refreshed.Access.Token)
	assertAppError(t, err, apperror.TypeUnauthorized)
}

func withTestDenylist(t *testing.T, f *authFixture) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.tokens.WithDenylist(token.NewRedisDenylist(rdb))
}

func TestRefresh_RevokesPresentedToken(t *testing.T) {
	f := newAuthFixture(t)
	withTestDenylist(t, f)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)
	session, err := f.service.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := f.service.Refresh(context.Background(), session.Refresh.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// The old refresh token cannot be replayed.
	_, err = f.service.Refresh(context.Background(), session.Refresh.Token)
	assertAppError(t, err, apperror.TypeUnauthorized)

	if _, err := f.service.Refresh(context.Background(), refreshed.Refresh.Token); err != nil {
		t.Errorf("rotated refresh token should be accepted: %v", err)
	}
}

func TestRefresh_DeletedUser(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(t, f.users, f.hasher, "alice@example.com", true)
	session, _ := f.service.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: testPassword})

	delete(f.users, user.ID)
	_, err := f.service.Refresh(context.Background(), session.Refresh.Token)
	assertAppError(t, err, apperror.TypeUnauthorized)
}

// --- Profile Tests ---

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(t, f.users, f.hasher, "alice@example.com", true)

	updated, err := f.service.UpdateProfile(context.Background(), user.ID, json.RawMessage(`{ "team": "blue",  "size": 5 }`))
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if string(updated.Profile) != `{"team":"blue","size":5}` {
		t.Errorf("profile = %s, want compacted JSON", updated.Profile)
	}
}

func TestUpdateProfile_Validation(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(t, f.users, f.hasher, "alice@example.com", true)

	big := make([]byte, 0, maxProfileBytes+32)
	big = append(big, `{"x":"`...)
	for len(big) < maxProfileBytes+16 {
		big = append(big, 'a')
	}
	big = append(big, `"}`...)

	for name, profile := range map[string]string{
		"empty":     ``,
		"array":     `[1,2]`,
		"string":    `"hi"`,
		"null":      `null`,
		"broken":    `{"a":`,
		"too large": string(big),
		"markup":    `{"bio":"<script>alert(1)</script>"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.UpdateProfile(context.Background(), user.ID, json.RawMessage(profile))
			assertAppError(t, err, apperror.TypeValidation)
		})
	}
}

func TestUpdateProfile_UnknownUser(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.service.UpdateProfile(context.Background(), "ghost", json.RawMessage(`{}`))
	assertAppError(t, err, apperror.TypeUnauthorized)
}

// --- Logout Tests ---

func TestLogout_RevokesWithDenylist(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)
	withTestDenylist(t, f)

	session, err := f.service.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.service.Logout(context.Background(), session.Access.Token, session.Refresh.Token)

	if _, err := f.tokens.VerifyContext(context.Background(), session.Access.Token, token.KindAccess); !errors.Is(err, token.ErrRevoked) {
		t.Errorf("access token: expected ErrRevoked, got %v", err)
	}
	_, err = f.service.Refresh(context.Background(), session.Refresh.Token)
	assertAppError(t, err, apperror.TypeUnauthorized)
}

func TestLogout_SameSecondLoginStaysValid(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)
	withTestDenylist(t, f)
	ctx := context.Background()

	first, err := f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.service.Logout(ctx, first.Access.Token, first.Refresh.Token)

	// Still inside the same wall-clock second, so iat matches the revoked pair.
	f.clock.Advance(300 * time.Millisecond)
	second, err := f.service.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}

	if _, err := f.tokens.VerifyContext(ctx, second.Access.Token, token.KindAccess); err != nil {
		t.Errorf("new access token should verify, got %v", err)
	}
	if _, err := f.service.Refresh(ctx, second.Refresh.Token); err != nil {
		t.Errorf("new refresh token should be accepted, got %v", err)
	}
	if _, err := f.tokens.VerifyContext(ctx, first.Access.Token, token.KindAccess); !errors.Is(err, token.ErrRevoked) {
		t.Errorf("logged-out access token: expected ErrRevoked, got %v", err)
	}
}

func TestLogout_IgnoresGarbage(t *testing.T) {
	f := newAuthFixture(t)
	// Must not panic or block on tokens that do not verify.
	f.service.Logout(context.Background(), "garbage", "")
}
