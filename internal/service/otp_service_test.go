package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/gradedge/gradedge/internal/config"
	"github.com/gradedge/gradedge/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOTPConfig() *config.OTPConfig {
	return &config.OTPConfig{
		ResetWindow:  2 * time.Minute,
		VerifyWindow: 60 * time.Second,
		ActionWindow: 300 * time.Second,
		MaxAttempts:  5,
	}
}

// newTestOTPService returns a service over the in-memory store with a
// controllable clock.
func newTestOTPService(t *testing.T) (*OTPService, *time.Time) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	now := time.Now().UTC()
	svc := NewOTPService(repository.NewMemoryChallengeStore(), testOTPConfig(), logger)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestIssueGeneratesFourDigitCode(t *testing.T) {
	svc, _ := newTestOTPService(t)

	code, err := svc.Issue(context.Background(), "reset:u:a@b.com", "a@b.com", time.Minute)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), code)
}

func TestVerifyHappyPathAndConsume(t *testing.T) {
	svc, now := newTestOTPService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "cred:stu1", "a@b.com", 60*time.Second)
	require.NoError(t, err)

	*now = now.Add(10 * time.Second)

	result, err := svc.Verify(ctx, "cred:stu1", code)
	require.NoError(t, err)
	assert.Equal(t, ResultOk, result)

	ok, err := svc.ConsumeIfVerified(ctx, "cred:stu1", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// Consumption happens at most once.
	ok, err = svc.ConsumeIfVerified(ctx, "cred:stu1", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyExpiredDeletesChallenge(t *testing.T) {
	svc, now := newTestOTPService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "cred:stu1", "a@b.com", 60*time.Second)
	require.NoError(t, err)

	*now = now.Add(60 * time.Second)

	// Expired regardless of code correctness.
	result, err := svc.Verify(ctx, "cred:stu1", code)
	require.NoError(t, err)
	assert.Equal(t, ResultExpired, result)

	_, err = svc.Verify(ctx, "cred:stu1", code)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestVerifyWrongCodeKeepsChallenge(t *testing.T) {
	svc, _ := newTestOTPService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "cred:stu1", "a@b.com", time.Minute)
	require.NoError(t, err)

	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	result, err := svc.Verify(ctx, "cred:stu1", wrong)
	require.NoError(t, err)
	assert.Equal(t, ResultInvalid, result)

	result, err = svc.Verify(ctx, "cred:stu1", code)
	require.NoError(t, err)
	assert.Equal(t, ResultOk, result)
}

func TestVerifyAttemptCap(t *testing.T) {
	svc, _ := newTestOTPService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "cred:stu1", "a@b.com", time.Minute)
	require.NoError(t, err)

	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	for i := 0; i < 4; i++ {
		result, err := svc.Verify(ctx, "cred:stu1", wrong)
		require.NoError(t, err)
		assert.Equal(t, ResultInvalid, result)
	}

	result, err := svc.Verify(ctx, "cred:stu1", wrong)
	require.NoError(t, err)
	assert.Equal(t, ResultTooManyAttempts, result)

	// Even the right code is useless after the cap: the challenge is gone.
	_, err = svc.Verify(ctx, "cred:stu1", code)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestConsumeIfVerifiedRejectsStaleVerification(t *testing.T) {
	svc, now := newTestOTPService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "cred:stu1", "a@b.com", 60*time.Second)
	require.NoError(t, err)

	*now = now.Add(10 * time.Second)
	result, err := svc.Verify(ctx, "cred:stu1", code)
	require.NoError(t, err)
	require.Equal(t, ResultOk, result)

	*now = now.Add(301 * time.Second)

	ok, err := svc.ConsumeIfVerified(ctx, "cred:stu1", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// Stale challenge was deleted, not left around for retries.
	ok, err = svc.ConsumeIfVerified(ctx, "cred:stu1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeIfVerifiedRequiresVerification(t *testing.T) {
	svc, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "cred:stu1", "a@b.com", time.Minute)
	require.NoError(t, err)

	ok, err := svc.ConsumeIfVerified(ctx, "cred:stu1", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssueOverwritesPendingChallenge(t *testing.T) {
	svc, _ := newTestOTPService(t)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "reset:u:a@b.com", "a@b.com", time.Minute)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "reset:u:a@b.com", "a@b.com", time.Minute)
	require.NoError(t, err)

	if first != second {
		result, err := svc.Verify(ctx, "reset:u:a@b.com", first)
		require.NoError(t, err)
		assert.Equal(t, ResultInvalid, result)
	}

	result, err := svc.Verify(ctx, "reset:u:a@b.com", second)
	require.NoError(t, err)
	assert.Equal(t, ResultOk, result)
}

func TestRegenerate(t *testing.T) {
	svc, now := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.Regenerate(ctx, "reset:u:a@b.com", time.Minute)
	assert.ErrorIs(t, err, ErrNoChallenge)

	_, err = svc.Issue(ctx, "reset:u:a@b.com", "a@b.com", time.Minute)
	require.NoError(t, err)

	*now = now.Add(50 * time.Second)
	code, err := svc.Regenerate(ctx, "reset:u:a@b.com", time.Minute)
	require.NoError(t, err)

	// Expiry was extended past the original window.
	*now = now.Add(30 * time.Second)
	result, err := svc.VerifyAndConsume(ctx, "reset:u:a@b.com", code)
	require.NoError(t, err)
	assert.Equal(t, ResultOk, result)
}

func TestVerifyAndConsumeDeletesOnSuccess(t *testing.T) {
	svc, _ := newTestOTPService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "reset:u:a@b.com", "a@b.com", time.Minute)
	require.NoError(t, err)

	result, err := svc.VerifyAndConsume(ctx, "reset:u:a@b.com", code)
	require.NoError(t, err)
	assert.Equal(t, ResultOk, result)

	_, err = svc.VerifyAndConsume(ctx, "reset:u:a@b.com", code)
	assert.ErrorIs(t, err, ErrNoChallenge)
}
