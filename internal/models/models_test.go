package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTicketRef(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want TicketRef
	}{
		{"ticket number", "TKT-LX2A9B-3F1C", ByNumber("TKT-LX2A9B-3F1C")},
		{"lowercase ticket number", "tkt-lx2a9b-3f1c", ByNumber("TKT-LX2A9B-3F1C")},
		{"internal id", "42", ByID(42)},
		{"zero is not an id", "0", ByNumber("0")},
		{"garbage", "abc", ByNumber("abc")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTicketRef(tt.raw))
		})
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier(" Monthly ")
	assert.True(t, ok)
	assert.Equal(t, TierMonthly, tier)

	_, ok = ParseTier("yearly")
	assert.False(t, ok)
}

func TestPaymentOwnedBy(t *testing.T) {
	email := "Buyer@Example.com"
	p := &Payment{PayerEmail: &email}

	assert.True(t, p.OwnedBy("buyer@example.com "))
	assert.False(t, p.OwnedBy("someone@example.com"))
	assert.False(t, (&Payment{}).OwnedBy("buyer@example.com"))
}
