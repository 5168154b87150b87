package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"

	"gorm.io/gorm"
)

// CreateVerificationCode stores a new code and consumes every earlier unconsumed
// code of the same email, so only the newest one can be redeemed.
func (s *Store) CreateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) (*models.VerificationCode, error) {
	vc := &models.VerificationCode{
		Email:     models.NormalizeEmail(email),
		Code:      code,
		ExpiresAt: expiresAt,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := tx.NowFunc()
		if err := tx.Model(&models.VerificationCode{}).
			Where("email = ? AND consumed = ?", vc.Email, false).
			Updates(map[string]interface{}{"consumed": true, "consumed_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(vc).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create verification code: %w", err)
	}
	return vc, nil
}

// ConsumeVerificationCode redeems a code. The consumed flag is flipped with a
// conditional update, so two concurrent redemptions cannot both succeed.
func (s *Store) ConsumeVerificationCode(ctx context.Context, email, code string, now time.Time) error {
	var vc models.VerificationCode
	err := s.db.WithContext(ctx).
		Where("email = ? AND code = ? AND consumed = ?", models.NormalizeEmail(email), code, false).
		Order("id DESC").
		First(&vc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("Verification code not found")
		}
		return fmt.Errorf("find verification code: %w", err)
	}

	if !now.Before(vc.ExpiresAt) {
		return apperrors.Expired("Verification code expired")
	}

	result := s.db.WithContext(ctx).Model(&models.VerificationCode{}).
		Where("id = ? AND consumed = ?", vc.ID, false).
		Updates(map[string]interface{}{"consumed": true, "consumed_at": now})
	if result.Error != nil {
		return fmt.Errorf("consume verification code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("Verification code not found")
	}
	return nil
}

// CleanupVerificationCodes removes expired codes and codes consumed over a day ago.
func (s *Store) CleanupVerificationCodes(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR (consumed = ? AND consumed_at < ?)", now, true, now.Add(-24*time.Hour)).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup expired codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}
