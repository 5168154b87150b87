package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// Tier is a subscription class sold by the shop.
type Tier string

const (
	TierWeekly   Tier = "weekly"
	TierMonthly  Tier = "monthly"
	TierLifetime Tier = "lifetime"
)

// Tiers lists every tier from the most to the least valuable.
var Tiers = []Tier{TierLifetime, TierMonthly, TierWeekly}

func (t Tier) Valid() bool {
	switch t {
	case TierWeekly, TierMonthly, TierLifetime:
		return true
	}
	return false
}

// ParseTier accepts a tier name case-insensitively.
func ParseTier(s string) (Tier, bool) {
	t := Tier(normalize(s))
	return t, t.Valid()
}
