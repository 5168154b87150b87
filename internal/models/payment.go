package models

import (
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Channel is the purchase path a payment came through.
type Channel string

const (
	ChannelPayPal Channel = "paypal"
	ChannelRoblox Channel = "roblox"
)

func (c Channel) Valid() bool {
	return c == ChannelPayPal || c == ChannelRoblox
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is the durable record of one provider transaction and the keys issued for it.
// TransactionID is the idempotency key: one row per transaction, keys overwritten on replay.
type Payment struct {
	BaseModel

	TransactionID string  `json:"transaction_id" gorm:"size:128;uniqueIndex;not null"`
	OrderID       string  `json:"order_id,omitempty" gorm:"size:128;index"`
	Channel       Channel `json:"channel" gorm:"size:16;not null;index"`

	PayerEmail     *string `json:"payer_email,omitempty" gorm:"size:255;index"`
	RobloxUsername *string `json:"roblox_username,omitempty" gorm:"size:64"`
	RobloxUserID   *string `json:"roblox_user_id,omitempty" gorm:"size:32"`

	Tier     Tier            `json:"tier" gorm:"size:16;not null"`
	Amount   decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Currency string          `json:"currency" gorm:"size:8"`
	Status   PaymentStatus   `json:"status" gorm:"size:16;not null;index"`

	Keys datatypes.JSONSlice[string] `json:"keys"`
}

// OwnedBy reports whether the payment belongs to the given email.
func (p *Payment) OwnedBy(email string) bool {
	if p.PayerEmail == nil {
		return false
	}
	return strings.EqualFold(*p.PayerEmail, strings.TrimSpace(email))
}

// NormalizeEmail lowercases and trims an address before it is stored or compared.
func NormalizeEmail(email string) string {
	return normalize(email)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
