package database

import (
	"context"
	"errors"
	"fmt"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm backed storage for payments, verification codes and tickets.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetPayment looks a payment up by provider transaction id.
func (s *Store) GetPayment(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Order not found")
		}
		return nil, fmt.Errorf("get payment %s: %w", transactionID, err)
	}
	return &payment, nil
}

// UpsertPayment inserts the payment or, when the transaction id already exists,
// overwrites its keys, status and channel fields in the same statement.
// Concurrent callers converge on one row.
func (s *Store) UpsertPayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment.Keys == nil {
		payment.Keys = datatypes.JSONSlice[string]{}
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "keys"}, Value: gorm.Expr("excluded.keys")},
			{Column: clause.Column{Name: "status"}, Value: gorm.Expr("excluded.status")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
			{Column: clause.Column{Name: "payer_email"}, Value: gorm.Expr("COALESCE(excluded.payer_email, payment.payer_email)")},
			{Column: clause.Column{Name: "roblox_username"}, Value: gorm.Expr("COALESCE(excluded.roblox_username, payment.roblox_username)")},
			{Column: clause.Column{Name: "roblox_user_id"}, Value: gorm.Expr("COALESCE(excluded.roblox_user_id, payment.roblox_user_id)")},
		},
	}).Create(payment).Error
	if err != nil {
		return nil, fmt.Errorf("upsert payment %s: %w", payment.TransactionID, err)
	}

	return s.GetPayment(ctx, payment.TransactionID)
}

// UpdatePaymentKeys replaces the stored key set of a payment.
func (s *Store) UpdatePaymentKeys(ctx context.Context, transactionID string, keys []string) error {
	if keys == nil {
		keys = []string{}
	}

	result := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ?", transactionID).
		Update("keys", datatypes.JSONSlice[string](keys))
	if result.Error != nil {
		return fmt.Errorf("update payment keys %s: %w", transactionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("Order not found")
	}
	return nil
}

// ListPaymentsByEmail returns the payments of one customer, newest first.
func (s *Store) ListPaymentsByEmail(ctx context.Context, email string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("payer_email = ?", models.NormalizeEmail(email)).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

// UserExists reports whether the email has at least one completed payment.
func (s *Store) UserExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("payer_email = ? AND status = ?", models.NormalizeEmail(email), models.PaymentCompleted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
