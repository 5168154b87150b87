package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*Store, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))

	db, err := OpenSQLite(dsn, clock.Now)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(db), clock
}

func strPtr(s string) *string { return &s }

func TestUpsertPaymentOverwritesKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := &models.Payment{
		TransactionID: "CAP-1",
		Channel:       models.ChannelPayPal,
		PayerEmail:    strPtr("buyer@example.com"),
		Tier:          models.TierMonthly,
		Amount:        decimal.RequireFromString("14.99"),
		Currency:      "EUR",
		Status:        models.PaymentCompleted,
		Keys:          []string{"KEY-A", "KEY-B"},
	}
	_, err := store.UpsertPayment(ctx, first)
	require.NoError(t, err)

	replay := &models.Payment{
		TransactionID: "CAP-1",
		Channel:       models.ChannelPayPal,
		Tier:          models.TierMonthly,
		Amount:        decimal.RequireFromString("14.99"),
		Currency:      "EUR",
		Status:        models.PaymentCompleted,
		Keys:          []string{"KEY-C"},
	}
	saved, err := store.UpsertPayment(ctx, replay)
	require.NoError(t, err)

	var count int64
	require.NoError(t, store.DB().Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, []string{"KEY-C"}, []string(saved.Keys))
	require.NotNil(t, saved.PayerEmail)
	assert.Equal(t, "buyer@example.com", *saved.PayerEmail)
	assert.True(t, saved.Amount.Equal(decimal.RequireFromString("14.99")))
}

func TestUpdatePaymentKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPayment(ctx, &models.Payment{
		TransactionID:  "CAP-2",
		Channel:        models.ChannelRoblox,
		RobloxUsername: strPtr("builderman"),
		Tier:           models.TierWeekly,
		Status:         models.PaymentCompleted,
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdatePaymentKeys(ctx, "CAP-2", []string{"K1"}))
	payment, err := store.GetPayment(ctx, "CAP-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"K1"}, []string(payment.Keys))

	err = store.UpdatePaymentKeys(ctx, "missing", []string{"K1"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserExists(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPayment(ctx, &models.Payment{
		TransactionID: "CAP-3",
		Channel:       models.ChannelPayPal,
		PayerEmail:    strPtr("paid@example.com"),
		Tier:          models.TierWeekly,
		Status:        models.PaymentCompleted,
	})
	require.NoError(t, err)

	exists, err := store.UserExists(ctx, "Paid@Example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.UserExists(ctx, "stranger@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestVerificationCodeSingleUse(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateVerificationCode(ctx, "a@example.com", "123456", clock.Now().Add(10*time.Minute))
	require.NoError(t, err)

	require.NoError(t, store.ConsumeVerificationCode(ctx, "a@example.com", "123456", clock.Now()))

	err = store.ConsumeVerificationCode(ctx, "a@example.com", "123456", clock.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestVerificationCodeExpiry(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateVerificationCode(ctx, "a@example.com", "654321", clock.Now().Add(10*time.Minute))
	require.NoError(t, err)

	err = store.ConsumeVerificationCode(ctx, "a@example.com", "654321", clock.Now().Add(11*time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrExpired)
}

func TestVerificationCodeSupersede(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateVerificationCode(ctx, "a@example.com", "111111", clock.Now().Add(10*time.Minute))
	require.NoError(t, err)
	_, err = store.CreateVerificationCode(ctx, "a@example.com", "222222", clock.Now().Add(10*time.Minute))
	require.NoError(t, err)

	err = store.ConsumeVerificationCode(ctx, "a@example.com", "111111", clock.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, store.ConsumeVerificationCode(ctx, "a@example.com", "222222", clock.Now()))
}

func TestVerificationCodeConcurrentConsume(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateVerificationCode(ctx, "race@example.com", "999999", clock.Now().Add(10*time.Minute))
	require.NoError(t, err)
	now := clock.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.ConsumeVerificationCode(ctx, "race@example.com", "999999", now) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestVerificationCodeLostRaceBetweenLookupAndUpdate(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateVerificationCode(ctx, "race@example.com", "424242", clock.Now().Add(10*time.Minute))
	require.NoError(t, err)

	// Another redemption lands after the lookup but before the conditional update.
	db := store.DB()
	var once sync.Once
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:concurrent_consume", func(tx *gorm.DB) {
		if tx.Statement.Table != "verification_code" {
			return
		}
		once.Do(func() {
			err := db.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE verification_code SET consumed = ? WHERE email = ?", true, "race@example.com").Error
			require.NoError(t, err)
		})
	}))

	err = store.ConsumeVerificationCode(ctx, "race@example.com", "424242", clock.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var consumed int64
	require.NoError(t, db.Model(&models.VerificationCode{}).
		Where("email = ? AND consumed = ?", "race@example.com", true).Count(&consumed).Error)
	assert.EqualValues(t, 1, consumed)
}

func TestCleanupVerificationCodes(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	base := clock.Now()
	_, err := store.CreateVerificationCode(ctx, "old@example.com", "000001", base.Add(-time.Hour))
	require.NoError(t, err)
	_, err = store.CreateVerificationCode(ctx, "new@example.com", "000002", base.Add(time.Hour))
	require.NoError(t, err)

	removed, err := store.CleanupVerificationCodes(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func createTicket(t *testing.T, store *Store, number string) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		TicketNumber: number,
		UserEmail:    "user@example.com",
		Category:     "billing",
		Subject:      "Key not working",
		Description:  "The key says expired",
		Status:       models.TicketOpen,
	}
	require.NoError(t, store.CreateTicket(context.Background(), ticket))
	return ticket
}

func TestCreateTicketDuplicateNumber(t *testing.T) {
	store, _ := newTestStore(t)
	createTicket(t, store, "TKT-1-AAAA")

	err := store.CreateTicket(context.Background(), &models.Ticket{
		TicketNumber: "TKT-1-AAAA",
		UserEmail:    "other@example.com",
		Subject:      "dup",
		Status:       models.TicketOpen,
	})
	assert.ErrorIs(t, err, ErrDuplicateTicketNumber)
}

func TestRepliesKeepOrderAndResolveRefs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	ticket := createTicket(t, store, "TKT-2-BBBB")

	_, err := store.AddReply(ctx, models.ByNumber(ticket.TicketNumber), &models.TicketReply{AuthorType: models.AuthorUser, Message: "A"})
	require.NoError(t, err)
	_, err = store.AddReply(ctx, models.ByID(ticket.ID), &models.TicketReply{AuthorType: models.AuthorAdmin, Message: "B"})
	require.NoError(t, err)
	_, err = store.AddReply(ctx, models.ByNumber(ticket.TicketNumber), &models.TicketReply{AuthorType: models.AuthorUser, Message: "C"})
	require.NoError(t, err)

	replies, err := store.ListReplies(ctx, ticket.TicketNumber)
	require.NoError(t, err)
	require.Len(t, replies, 3)
	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, want, replies[i].Message)
		assert.Equal(t, ticket.TicketNumber, replies[i].TicketNumber)
	}
}

func TestTicketUpdatedAtAdvances(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	ticket := createTicket(t, store, "TKT-3-CCCC")
	created := ticket.UpdatedAt

	afterReply, err := store.AddReply(ctx, models.ByNumber(ticket.TicketNumber), &models.TicketReply{AuthorType: models.AuthorUser, Message: "ping"})
	require.NoError(t, err)
	assert.True(t, afterReply.UpdatedAt.After(created))

	afterStatus, err := store.UpdateTicketStatus(ctx, models.ByID(ticket.ID), models.TicketClosed)
	require.NoError(t, err)
	assert.Equal(t, models.TicketClosed, afterStatus.Status)
	assert.True(t, afterStatus.UpdatedAt.After(afterReply.UpdatedAt))

	reloaded, err := store.GetTicket(ctx, models.ByNumber(ticket.TicketNumber))
	require.NoError(t, err)
	assert.Equal(t, models.TicketClosed, reloaded.Status)
	assert.True(t, reloaded.UpdatedAt.Equal(afterStatus.UpdatedAt))
}

func TestGetTicketNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetTicket(context.Background(), models.ByID(404))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = store.AddReply(context.Background(), models.ByNumber("TKT-NOPE"), &models.TicketReply{AuthorType: models.AuthorUser, Message: "x"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
