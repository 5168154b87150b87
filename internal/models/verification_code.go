package models

import "time"

// VerificationCode is a one-time login code. Only the newest unconsumed code
// for an email can be redeemed; older ones are consumed when a new one is issued.
type VerificationCode struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	Email      string     `json:"email" gorm:"size:255;not null;index"`
	Code       string     `json:"-" gorm:"size:6;not null"`
	ExpiresAt  time.Time  `json:"expires_at" gorm:"not null;index"`
	Consumed   bool       `json:"consumed" gorm:"not null;default:false;index"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" gorm:"autoCreateTime"`
}
