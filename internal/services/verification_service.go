package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/metrics"
	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"
)

const sendCodeScope = "send_code"

// VerificationStore is the storage used by the code flow.
type VerificationStore interface {
	UserExists(ctx context.Context, email string) (bool, error)
	CreateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) (*models.VerificationCode, error)
	ConsumeVerificationCode(ctx context.Context, email, code string, now time.Time) error
	CleanupVerificationCodes(ctx context.Context, now time.Time) (int64, error)
}

// Cooldown throttles repeated actions per subject.
type Cooldown interface {
	AcquireCooldown(ctx context.Context, scope, subject string, ttl time.Duration) (bool, error)
	ReleaseCooldown(ctx context.Context, scope, subject string) error
	CooldownRemaining(ctx context.Context, scope, subject string) (time.Duration, error)
}

// VerificationService provides verification code operations
type VerificationService struct {
	store      VerificationStore
	cooldown   Cooldown
	mailer     Mailer
	dispatcher *Dispatcher

	codeTTL      time.Duration
	resendWindow time.Duration

	now      func() time.Time
	generate func() (string, error)
}

// NewVerificationService creates a new verification service. cooldown may be nil.
func NewVerificationService(store VerificationStore, cooldown Cooldown, mailer Mailer, dispatcher *Dispatcher, codeTTL, resendWindow time.Duration) *VerificationService {
	return &VerificationService{
		store:        store,
		cooldown:     cooldown,
		mailer:       mailer,
		dispatcher:   dispatcher,
		codeTTL:      codeTTL,
		resendWindow: resendWindow,
		now:          time.Now,
		generate:     GenerateCode,
	}
}

// GenerateCode returns a uniformly random 6 digit code, leading zeros included.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// SendCode issues a code to a known paying customer and mails it in the background.
func (s *VerificationService) SendCode(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)

	exists, err := s.store.UserExists(ctx, email)
	if err != nil {
		return fmt.Errorf("check customer: %w", err)
	}
	if !exists {
		metrics.VerificationCodes.WithLabelValues("unknown_email").Inc()
		return apperrors.NotFound("No purchases found for this email")
	}

	if s.cooldown != nil && s.resendWindow > 0 {
		ok, err := s.cooldown.AcquireCooldown(ctx, sendCodeScope, email, s.resendWindow)
		if err != nil {
			// Redis trouble should not lock customers out.
			logging.Errorf("Cooldown check failed - email: %s, error: %v", email, err)
		} else if !ok {
			metrics.VerificationCodes.WithLabelValues("rate_limited").Inc()
			retryAfter, err := s.cooldown.CooldownRemaining(ctx, sendCodeScope, email)
			if err != nil || retryAfter <= 0 {
				retryAfter = s.resendWindow
			}
			return apperrors.RateLimited("Please wait before requesting another verification code").
				WithRetryAfter(retryAfter)
		}
	}

	vc, err := s.CreateCode(ctx, email)
	if err != nil {
		if s.cooldown != nil {
			_ = s.cooldown.ReleaseCooldown(ctx, sendCodeScope, email)
		}
		return err
	}

	code := vc.Code
	s.dispatcher.Go("verification_email", func(ctx context.Context) error {
		return s.mailer.SendVerificationEmail(ctx, email, code)
	})

	logging.Infof("Verification code issued - email: %s, expires_at: %s", email, vc.ExpiresAt.Format(time.RFC3339))
	return nil
}

// CreateCode stores a fresh code for email, superseding earlier ones.
func (s *VerificationService) CreateCode(ctx context.Context, email string) (*models.VerificationCode, error) {
	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	vc, err := s.store.CreateVerificationCode(ctx, models.NormalizeEmail(email), code, s.now().Add(s.codeTTL))
	if err != nil {
		return nil, err
	}
	metrics.VerificationCodes.WithLabelValues("issued").Inc()
	return vc, nil
}

// VerifyCode redeems a code. It fails with NotFound for unknown or used codes
// and Expired for codes past their TTL.
func (s *VerificationService) VerifyCode(ctx context.Context, email, code string) error {
	err := s.store.ConsumeVerificationCode(ctx, models.NormalizeEmail(email), code, s.now())
	switch {
	case err == nil:
		metrics.VerificationCodes.WithLabelValues("verified").Inc()
	case errors.Is(err, apperrors.ErrExpired):
		metrics.VerificationCodes.WithLabelValues("expired").Inc()
	default:
		metrics.VerificationCodes.WithLabelValues("rejected").Inc()
	}
	return err
}

// CleanupExpired deletes stale codes.
func (s *VerificationService) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.store.CleanupVerificationCodes(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logging.Infof("Removed %d stale verification codes", removed)
	}
	return removed, nil
}
