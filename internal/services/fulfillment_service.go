package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/metrics"
	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"

	"github.com/shopspring/decimal"
)

// PaymentStore is the storage used by fulfillment.
type PaymentStore interface {
	GetPayment(ctx context.Context, transactionID string) (*models.Payment, error)
	UpsertPayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	UpdatePaymentKeys(ctx context.Context, transactionID string, keys []string) error
	ListPaymentsByEmail(ctx context.Context, email string) ([]models.Payment, error)
}

// Identity is who paid. Email is empty for Roblox purchases.
type Identity struct {
	Email          string
	RobloxUsername string
	RobloxUserID   string
}

// FulfillmentRequest is a purchase whose payment has already been confirmed.
type FulfillmentRequest struct {
	Channel       models.Channel
	CorrelationID string
	Tier          models.Tier
	Identity      Identity
	Amount        decimal.Decimal
	Currency      string
	OrderID       string
}

// FulfillmentResult reports what fulfillment did. IssuanceFailed means the
// payment is recorded but keys must be reissued later.
type FulfillmentResult struct {
	Payment        *models.Payment `json:"payment"`
	Created        bool            `json:"created"`
	IssuanceFailed bool            `json:"issuance_failed"`
	IssuanceError  string          `json:"issuance_error,omitempty"`
}

// FulfillmentService turns confirmed payments into stored, delivered keys.
type FulfillmentService struct {
	store      PaymentStore
	issuer     KeyIssuer
	mailer     Mailer
	chat       ChatNotifier
	dispatcher *Dispatcher
}

func NewFulfillmentService(store PaymentStore, issuer KeyIssuer, mailer Mailer, chat ChatNotifier, dispatcher *Dispatcher) *FulfillmentService {
	return &FulfillmentService{
		store:      store,
		issuer:     issuer,
		mailer:     mailer,
		chat:       chat,
		dispatcher: dispatcher,
	}
}

// FulfillVerifiedPurchase issues keys for a confirmed purchase and records them
// under transaction id = CorrelationID. A first call creates the payment; later
// calls reissue keys and overwrite the stored set. A failed issuance still
// records the payment. Notifications run in the background after the write.
func (s *FulfillmentService) FulfillVerifiedPurchase(ctx context.Context, req FulfillmentRequest) (*FulfillmentResult, error) {
	if !req.Channel.Valid() {
		return nil, apperrors.Validation("Unknown payment channel")
	}
	if strings.TrimSpace(req.CorrelationID) == "" {
		return nil, apperrors.Validation("Transaction ID is required")
	}
	if !req.Tier.Valid() {
		return nil, apperrors.Validation("Unknown tier")
	}

	existing, err := s.store.GetPayment(ctx, req.CorrelationID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	replay := existing != nil

	if replay {
		// The stored purchase is authoritative for what was bought.
		req.Tier = existing.Tier
		if req.OrderID == "" {
			req.OrderID = existing.OrderID
		}
		if req.Currency == "" {
			req.Currency = existing.Currency
			req.Amount = existing.Amount
		}
	}

	issuance := s.issuer.GenerateKey(ctx, KeyRequest{
		Tier:     req.Tier,
		Quantity: 1,
		User: KeyUser{
			Email:          models.NormalizeEmail(req.Identity.Email),
			RobloxUsername: req.Identity.RobloxUsername,
			RobloxUserID:   req.Identity.RobloxUserID,
		},
		Payment: KeyPayment{
			TransactionID: req.CorrelationID,
			Channel:       string(req.Channel),
			Amount:        req.Amount.StringFixed(2),
			Currency:      req.Currency,
		},
	})

	payment := &models.Payment{
		TransactionID:  req.CorrelationID,
		OrderID:        req.OrderID,
		Channel:        req.Channel,
		PayerEmail:     optional(models.NormalizeEmail(req.Identity.Email)),
		RobloxUsername: optional(req.Identity.RobloxUsername),
		RobloxUserID:   optional(req.Identity.RobloxUserID),
		Tier:           req.Tier,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         models.PaymentCompleted,
		Keys:           issuance.Keys,
	}
	if replay && !issuance.Success {
		// Keep the last successful key set rather than wiping it.
		payment.Keys = existing.Keys
	}

	saved, err := s.store.UpsertPayment(ctx, payment)
	if err != nil {
		logging.Errorf("Failed to record payment - transaction: %s, channel: %s, error: %v", req.CorrelationID, req.Channel, err)
		return nil, err
	}

	outcome := "created"
	if replay {
		outcome = "replayed"
	}
	if !issuance.Success {
		outcome += "_without_keys"
	}
	metrics.Fulfillments.WithLabelValues(string(req.Channel), outcome).Inc()
	logging.Infof("Purchase fulfilled - transaction: %s, channel: %s, tier: %s, replay: %t, keys: %d",
		saved.TransactionID, saved.Channel, saved.Tier, replay, len(saved.Keys))

	if issuance.Success {
		s.notifyKeys(saved)
	}
	s.notifyPurchase(saved, replay, issuance)

	return &FulfillmentResult{
		Payment:        saved,
		Created:        !replay,
		IssuanceFailed: !issuance.Success,
		IssuanceError:  issuance.Error,
	}, nil
}

// Reissue replays fulfillment for a stored payment, e.g. to recover lost keys.
func (s *FulfillmentService) Reissue(ctx context.Context, transactionID string) (*FulfillmentResult, error) {
	payment, err := s.store.GetPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	return s.FulfillVerifiedPurchase(ctx, FulfillmentRequest{
		Channel:       payment.Channel,
		CorrelationID: payment.TransactionID,
		Tier:          payment.Tier,
		Identity: Identity{
			Email:          deref(payment.PayerEmail),
			RobloxUsername: deref(payment.RobloxUsername),
			RobloxUserID:   deref(payment.RobloxUserID),
		},
		Amount:   payment.Amount,
		Currency: payment.Currency,
		OrderID:  payment.OrderID,
	})
}

// SetKeys stores keys issued by hand and mails them to the payer.
func (s *FulfillmentService) SetKeys(ctx context.Context, transactionID string, keys []string) (*models.Payment, error) {
	keys = compactKeys(keys)
	if len(keys) == 0 {
		return nil, apperrors.Validation("At least one key is required")
	}

	if err := s.store.UpdatePaymentKeys(ctx, transactionID, keys); err != nil {
		return nil, err
	}
	payment, err := s.store.GetPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	logging.Infof("Keys set manually - transaction: %s, count: %d", transactionID, len(keys))
	s.notifyKeys(payment)
	return payment, nil
}

// GetPayment returns a payment without ownership checks, for admins.
func (s *FulfillmentService) GetPayment(ctx context.Context, transactionID string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, transactionID)
}

// GetOrderForEmail returns an order only to the customer who paid for it.
func (s *FulfillmentService) GetOrderForEmail(ctx context.Context, transactionID, email string) (*models.Payment, error) {
	payment, err := s.store.GetPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !payment.OwnedBy(email) {
		logging.Warnf("Order ownership mismatch - transaction: %s", transactionID)
		return nil, apperrors.Forbidden("This order does not belong to you")
	}
	return payment, nil
}

// ListOrders returns a customer's orders.
func (s *FulfillmentService) ListOrders(ctx context.Context, email string) ([]models.Payment, error) {
	return s.store.ListPaymentsByEmail(ctx, email)
}

func (s *FulfillmentService) notifyKeys(payment *models.Payment) {
	if payment.PayerEmail == nil || len(payment.Keys) == 0 {
		return
	}

	to := *payment.PayerEmail
	keys := append([]string(nil), payment.Keys...)
	tier := payment.Tier
	txID := payment.TransactionID
	s.dispatcher.Go("key_email", func(ctx context.Context) error {
		return s.mailer.SendKeyEmail(ctx, to, keys, tier, txID)
	})
}

func (s *FulfillmentService) notifyPurchase(payment *models.Payment, replay bool, issuance IssuanceResult) {
	title := "New purchase"
	color := 0x2ecc71
	if replay {
		title = "Purchase re-verified"
		color = 0x3498db
	}
	if !issuance.Success {
		title += " (key issuance failed)"
		color = 0xe74c3c
	}

	buyer := deref(payment.PayerEmail)
	if buyer == "" {
		buyer = deref(payment.RobloxUsername)
	}

	embed := DiscordEmbed{
		Title: title,
		Color: color,
		Fields: []DiscordField{
			{Name: "Channel", Value: string(payment.Channel), Inline: true},
			{Name: "Tier", Value: string(payment.Tier), Inline: true},
			{Name: "Amount", Value: fmt.Sprintf("%s %s", payment.Amount.StringFixed(2), payment.Currency), Inline: true},
			{Name: "Buyer", Value: valueOr(buyer, "unknown")},
			{Name: "Transaction", Value: payment.TransactionID},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !issuance.Success {
		embed.Fields = append(embed.Fields, DiscordField{Name: "Issuance error", Value: valueOr(issuance.Error, "unknown")})
	}

	s.dispatcher.Go("discord_purchase", func(ctx context.Context) error {
		return s.chat.SendDiscordNotification(ctx, "", []DiscordEmbed{embed})
	})
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
