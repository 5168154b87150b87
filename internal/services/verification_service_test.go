package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/database"
	"keyshop-api/internal/models"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verificationFixture struct {
	svc        *VerificationService
	store      *database.Store
	mailer     *recordingMailer
	dispatcher *Dispatcher
	mock       redismock.ClientMock
	now        time.Time
}

func newVerificationFixture(t *testing.T) *verificationFixture {
	t.Helper()
	store := newTestStore(t)
	client, mock := redismock.NewClientMock()

	email := "buyer@example.com"
	_, err := store.UpsertPayment(context.Background(), &models.Payment{
		TransactionID: "CAP-1",
		Channel:       models.ChannelPayPal,
		PayerEmail:    &email,
		Tier:          models.TierWeekly,
		Amount:        decimal.RequireFromString("4.99"),
		Currency:      "EUR",
		Status:        models.PaymentCompleted,
	})
	require.NoError(t, err)

	f := &verificationFixture{
		store:      store,
		mailer:     &recordingMailer{},
		dispatcher: NewDispatcher(time.Second),
		mock:       mock,
		now:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewVerificationService(store, NewRedisService(client), f.mailer, f.dispatcher, 10*time.Minute, time.Minute)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	}
}

func TestSendCodeAndVerify(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()
	f.svc.generate = func() (string, error) { return "012345", nil }
	f.mock.ExpectSetNX("rate_limit:send_code:buyer@example.com", "1", time.Minute).SetVal(true)

	require.NoError(t, f.svc.SendCode(ctx, " Buyer@Example.com"))
	f.dispatcher.Wait()

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "code", sent[0].Kind)
	assert.Equal(t, "buyer@example.com", sent[0].To)
	assert.Equal(t, "012345", sent[0].Body)

	require.NoError(t, f.svc.VerifyCode(ctx, "buyer@example.com", "012345"))
	err := f.svc.VerifyCode(ctx, "buyer@example.com", "012345")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "codes are single use")

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendCodeUnknownEmail(t *testing.T) {
	f := newVerificationFixture(t)

	err := f.svc.SendCode(context.Background(), "stranger@example.com")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet(), "no cooldown taken for unknown emails")
}

func TestSendCodeRateLimited(t *testing.T) {
	f := newVerificationFixture(t)
	f.mock.ExpectSetNX("rate_limit:send_code:buyer@example.com", "1", time.Minute).SetVal(false)
	f.mock.ExpectTTL("rate_limit:send_code:buyer@example.com").SetVal(42 * time.Second)

	err := f.svc.SendCode(context.Background(), "buyer@example.com")
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 42*time.Second, appErr.RetryAfter)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	f.dispatcher.Wait()
	assert.Empty(t, f.mailer.Sent())
}

func TestSendCodeRedisDownStillSends(t *testing.T) {
	f := newVerificationFixture(t)
	f.mock.ExpectSetNX("rate_limit:send_code:buyer@example.com", "1", time.Minute).SetErr(errors.New("connection refused"))

	require.NoError(t, f.svc.SendCode(context.Background(), "buyer@example.com"))
	f.dispatcher.Wait()
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestSendCodeMailFailureIsSwallowed(t *testing.T) {
	f := newVerificationFixture(t)
	f.mailer.err = errNotifierDown
	f.mock.ExpectSetNX("rate_limit:send_code:buyer@example.com", "1", time.Minute).SetVal(true)

	assert.NoError(t, f.svc.SendCode(context.Background(), "buyer@example.com"))
	f.dispatcher.Wait()
}

func TestVerifyCodeExpiry(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	vc, err := f.svc.CreateCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	err = f.svc.VerifyCode(ctx, "buyer@example.com", vc.Code)
	assert.True(t, errors.Is(err, apperrors.ErrExpired))
}

func TestNewCodeSupersedesOld(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()
	codes := []string{"111111", "222222"}
	f.svc.generate = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	_, err := f.svc.CreateCode(ctx, "buyer@example.com")
	require.NoError(t, err)
	_, err = f.svc.CreateCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	assert.True(t, errors.Is(f.svc.VerifyCode(ctx, "buyer@example.com", "111111"), apperrors.ErrNotFound))
	assert.NoError(t, f.svc.VerifyCode(ctx, "buyer@example.com", "222222"))
}

func TestCleanupExpired(t *testing.T) {
	f := newVerificationFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	removed, err := f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	f.now = f.now.Add(11 * time.Minute)
	removed, err = f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
