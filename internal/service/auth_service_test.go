package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gradedge/gradedge/internal/config"
	"github.com/gradedge/gradedge/internal/models"
	"github.com/gradedge/gradedge/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *fakeMailer) last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type authFixture struct {
	auth   *AuthService
	users  *repository.MemoryUserStore
	audit  *repository.MemoryAuditStore
	mailer *fakeMailer
	now    *time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	users := repository.NewMemoryUserStore()
	audit := repository.NewMemoryAuditStore()
	mailer := &fakeMailer{}

	now := time.Now().UTC()
	otp := NewOTPService(repository.NewMemoryChallengeStore(), testOTPConfig(), logger)
	otp.now = func() time.Time { return now }

	setup, err := NewSetupService(&config.SetupLinkConfig{
		Secret:  strings.Repeat("s", 32),
		Expiry:  time.Hour,
		BaseURL: "http://localhost:8080",
	}, logger)
	require.NoError(t, err)

	authCfg := &config.AuthConfig{
		AdminUsername: "root",
		AdminPassword: "override-secret",
	}

	fixture := &authFixture{
		users:  users,
		audit:  audit,
		mailer: mailer,
	}
	fixture.auth = NewAuthService(users, audit, otp, setup, mailer, authCfg, testOTPConfig(), logger)
	fixture.now = &now
	return fixture
}

func (f *authFixture) createUser(t *testing.T, username, password string, role models.Role, email string) {
	t.Helper()

	hash, err := HashPassword(password)
	require.NoError(t, err)

	err = f.users.Create(context.Background(), &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Email:        email,
	})
	require.NoError(t, err)
}

func TestLoginSuccessPerRole(t *testing.T) {
	tests := []struct {
		role     models.Role
		redirect string
	}{
		{models.RoleAdmin, "/admin/welcome"},
		{models.RoleFaculty, "/faculty/welcome"},
		{models.RoleStudent, "/student/welcome"},
		{models.RoleRecruiter, "/recruiter/welcome"},
		{models.RoleInstitutional, "/institutional/welcome"},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			f := newAuthFixture(t)
			f.createUser(t, "user1", "pw1", tt.role, "")

			result, err := f.auth.Login(context.Background(), "user1", "pw1")
			require.NoError(t, err)
			assert.Equal(t, tt.role, result.Role)
			assert.Equal(t, tt.redirect, result.Redirect)
			assert.Equal(t, "user1", result.Username)
		})
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "known", "pw1", models.RoleStudent, "")

	_, errUnknownUser := f.auth.Login(context.Background(), "nobody", "pw1")
	_, errWrongPassword := f.auth.Login(context.Background(), "known", "wrong")

	// Unknown username and wrong password are indistinguishable.
	assert.ErrorIs(t, errUnknownUser, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrongPassword, ErrInvalidCredentials)
	assert.Equal(t, errUnknownUser.Error(), errWrongPassword.Error())
}

func TestLoginAdminOverride(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.auth.Login(context.Background(), "root", "override-secret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, result.Role)
	assert.Equal(t, "/admin/welcome", result.Redirect)

	_, err = f.auth.Login(context.Background(), "root", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLegacyFacultyID(t *testing.T) {
	f := newAuthFixture(t)

	hash, err := HashPassword("pw1")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(context.Background(), &models.User{
		Username:     "prof.jones",
		PasswordHash: hash,
		Role:         models.RoleFaculty,
		FacultyID:    "INST1-7",
	}))

	result, err := f.auth.Login(context.Background(), "INST1-7", "pw1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleFaculty, result.Role)
	assert.Equal(t, "prof.jones", result.Username)
}

func TestLoginWritesAudit(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "")

	_, err := f.auth.Login(context.Background(), "stu1", "pw1")
	require.NoError(t, err)

	entries, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stu1", entries[0].Username)
	assert.Equal(t, models.ActionLogin, entries[0].Action)
	assert.Equal(t, models.RoleStudent, entries[0].Role)
}

func TestLogoutWritesAudit(t *testing.T) {
	f := newAuthFixture(t)

	f.auth.Logout(context.Background(), "stu1", models.RoleStudent)
	f.auth.Logout(context.Background(), "", models.RoleStudent) // ignored

	entries, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionLogout, entries[0].Action)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "fac1", "pw1", models.RoleFaculty, "fac1@example.com")

	code, err := f.auth.PasswordResetInit(context.Background(), "fac1", "FAC1@Example.com")
	require.NoError(t, err)

	mail, ok := f.mailer.last()
	require.True(t, ok)
	assert.Equal(t, "FAC1@Example.com", mail.To)
	assert.Contains(t, mail.Body, code)

	err = f.auth.PasswordResetVerify(context.Background(), "fac1", "FAC1@Example.com", code, "pw2")
	require.NoError(t, err)

	user, err := f.users.Find(context.Background(), "fac1")
	require.NoError(t, err)
	assert.False(t, CheckPassword(user.PasswordHash, "pw1"))
	assert.True(t, CheckPassword(user.PasswordHash, "pw2"))

	entries, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionPasswordReset, entries[0].Action)

	// The challenge was consumed with the reset.
	err = f.auth.PasswordResetVerify(context.Background(), "fac1", "FAC1@Example.com", code, "pw3")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestPasswordResetInitErrors(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "stored@example.com")

	_, err := f.auth.PasswordResetInit(context.Background(), "ghost", "a@b.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.auth.PasswordResetInit(context.Background(), "stu1", "other@example.com")
	assert.ErrorIs(t, err, ErrEmailMismatch)
}

func TestPasswordResetInitWithoutStoredEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "")

	// No stored email: any supplied address is accepted.
	_, err := f.auth.PasswordResetInit(context.Background(), "stu1", "whatever@example.com")
	assert.NoError(t, err)
}

func TestPasswordResetResend(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "a@b.com")

	_, err := f.auth.PasswordResetResend(context.Background(), "stu1", "a@b.com")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)

	first, err := f.auth.PasswordResetInit(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)

	second, err := f.auth.PasswordResetResend(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)

	if first != second {
		err = f.auth.PasswordResetVerify(context.Background(), "stu1", "a@b.com", first, "pw2")
		assert.ErrorIs(t, err, ErrOTPInvalid)
	}

	err = f.auth.PasswordResetVerify(context.Background(), "stu1", "a@b.com", second, "pw2")
	assert.NoError(t, err)
}

func TestPasswordResetLastIssuedCodeWins(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "a@b.com")

	first, err := f.auth.PasswordResetInit(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)
	second, err := f.auth.PasswordResetInit(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)

	if first != second {
		err = f.auth.PasswordResetVerify(context.Background(), "stu1", "a@b.com", first, "pw2")
		assert.ErrorIs(t, err, ErrOTPInvalid)
	}

	err = f.auth.PasswordResetVerify(context.Background(), "stu1", "a@b.com", second, "pw2")
	assert.NoError(t, err)
}

func TestMailFailureDoesNotFailReset(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "a@b.com")
	f.mailer.fail = true

	code, err := f.auth.PasswordResetInit(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)
	assert.NotEmpty(t, code)
}

func TestCredentialChangeFlow(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "stu1@example.com")

	code, err := f.auth.SendCredentialOTP(context.Background(), "stu1", "stu1@example.com")
	require.NoError(t, err)

	*f.now = f.now.Add(10 * time.Second)
	require.NoError(t, f.auth.VerifyCredentialOTP(context.Background(), "stu1", code))

	*f.now = f.now.Add(30 * time.Second)
	finalUsername, err := f.auth.UpdateCredentials(context.Background(), "stu1", "stu1-new", "pw2")
	require.NoError(t, err)
	assert.Equal(t, "stu1-new", finalUsername)

	old, err := f.users.Find(context.Background(), "stu1")
	require.NoError(t, err)
	assert.Nil(t, old)

	renamed, err := f.users.Find(context.Background(), "stu1-new")
	require.NoError(t, err)
	require.NotNil(t, renamed)
	assert.True(t, CheckPassword(renamed.PasswordHash, "pw2"))

	mail, ok := f.mailer.last()
	require.True(t, ok)
	assert.Contains(t, mail.Body, "username")
	assert.Contains(t, mail.Body, "password")
	assert.NotContains(t, mail.Body, "pw2")

	// The verification was consumed; a second update needs a fresh OTP.
	_, err = f.auth.UpdateCredentials(context.Background(), "stu1-new", "", "pw3")
	assert.ErrorIs(t, err, ErrVerificationRequired)
}

func TestCredentialChangeActionWindowExpiry(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "a@b.com")

	code, err := f.auth.SendCredentialOTP(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)

	*f.now = f.now.Add(10 * time.Second)
	require.NoError(t, f.auth.VerifyCredentialOTP(context.Background(), "stu1", code))

	// 301s after verification, past the 300s action window.
	*f.now = f.now.Add(301 * time.Second)
	_, err = f.auth.UpdateCredentials(context.Background(), "stu1", "", "pw2")
	assert.ErrorIs(t, err, ErrVerificationRequired)
}

func TestCredentialChangeVerifyWindowExpiry(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "a@b.com")

	code, err := f.auth.SendCredentialOTP(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)

	*f.now = f.now.Add(61 * time.Second)
	err = f.auth.VerifyCredentialOTP(context.Background(), "stu1", code)
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestCredentialChangeRequiresChange(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "a@b.com")

	code, err := f.auth.SendCredentialOTP(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, f.auth.VerifyCredentialOTP(context.Background(), "stu1", code))

	_, err = f.auth.UpdateCredentials(context.Background(), "stu1", "", "")
	assert.ErrorIs(t, err, ErrNoChange)

	// Renaming to the current username is not a change either.
	_, err = f.auth.UpdateCredentials(context.Background(), "stu1", "stu1", "")
	assert.ErrorIs(t, err, ErrNoChange)
}

func TestCredentialChangeUsernameTaken(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "stu1", "pw1", models.RoleStudent, "a@b.com")
	f.createUser(t, "stu2", "pw2", models.RoleStudent, "c@d.com")

	code, err := f.auth.SendCredentialOTP(context.Background(), "stu1", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, f.auth.VerifyCredentialOTP(context.Background(), "stu1", code))

	_, err = f.auth.UpdateCredentials(context.Background(), "stu1", "stu2", "")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestSignup(t *testing.T) {
	f := newAuthFixture(t)

	created, err := f.auth.Signup(context.Background(), &models.User{
		Username: "newstu",
		Role:     models.RoleStudent,
		Email:    "newstu@example.com",
		FullName: "New Student",
	}, "initial-pw")
	require.NoError(t, err)
	assert.Equal(t, "newstu", created.Username)

	result, err := f.auth.Login(context.Background(), "newstu", "initial-pw")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, result.Role)

	// Welcome mail carries a setup link, never credentials.
	var welcome sentMail
	for _, m := range f.mailer.sent {
		if m.Subject == "Welcome to GradEdge" {
			welcome = m
		}
	}
	require.NotEmpty(t, welcome.To)
	assert.Contains(t, welcome.Body, "/account-setup?token=")
	assert.NotContains(t, welcome.Body, "initial-pw")

	entries, err := f.audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSignup, entries[len(entries)-1].Action)
}

func TestSignupDuplicateUsername(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "taken", "pw1", models.RoleFaculty, "")

	// Username uniqueness is global, not per role partition.
	_, err := f.auth.Signup(context.Background(), &models.User{
		Username: "taken",
		Role:     models.RoleStudent,
	}, "pw2")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestSignupInvalidRole(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Signup(context.Background(), &models.User{
		Username: "u1",
		Role:     "superhero",
	}, "pw")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestCompleteAccountSetup(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Signup(context.Background(), &models.User{
		Username: "newstu",
		Role:     models.RoleStudent,
		Email:    "newstu@example.com",
	}, "temp-pw")
	require.NoError(t, err)

	mail, ok := f.mailer.last()
	require.True(t, ok)

	idx := strings.Index(mail.Body, "token=")
	require.GreaterOrEqual(t, idx, 0)
	token := strings.Fields(mail.Body[idx+len("token="):])[0]

	require.NoError(t, f.auth.CompleteAccountSetup(context.Background(), token, "chosen-pw"))

	_, err = f.auth.Login(context.Background(), "newstu", "chosen-pw")
	assert.NoError(t, err)

	err = f.auth.CompleteAccountSetup(context.Background(), "garbage-token", "x")
	assert.ErrorIs(t, err, ErrInvalidSetupToken)
}

func TestRecentLogsNewestFirst(t *testing.T) {
	f := newAuthFixture(t)

	f.auth.Logout(context.Background(), "first", models.RoleStudent)
	f.auth.Logout(context.Background(), "second", models.RoleStudent)
	f.auth.Logout(context.Background(), "third", models.RoleStudent)

	entries, err := f.auth.RecentLogs(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Username)
	assert.Equal(t, "second", entries[1].Username)
}
