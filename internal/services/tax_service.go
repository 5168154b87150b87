package services

import (
	"strings"

	"github.com/shopspring/decimal"
)

// vatRates holds standard VAT rates in percent.
var vatRates = map[string]decimal.Decimal{
	"AT": decimal.NewFromInt(20),
	"BE": decimal.NewFromInt(21),
	"BG": decimal.NewFromInt(20),
	"HR": decimal.NewFromInt(25),
	"CY": decimal.NewFromInt(19),
	"CZ": decimal.NewFromInt(21),
	"DK": decimal.NewFromInt(25),
	"EE": decimal.NewFromInt(22),
	"FI": decimal.NewFromInt(24),
	"FR": decimal.NewFromInt(20),
	"DE": decimal.NewFromInt(19),
	"GR": decimal.NewFromInt(24),
	"HU": decimal.NewFromInt(27),
	"IE": decimal.NewFromInt(23),
	"IT": decimal.NewFromInt(22),
	"LV": decimal.NewFromInt(21),
	"LT": decimal.NewFromInt(21),
	"LU": decimal.NewFromInt(17),
	"MT": decimal.NewFromInt(18),
	"NL": decimal.NewFromInt(21),
	"PL": decimal.NewFromInt(23),
	"PT": decimal.NewFromInt(23),
	"RO": decimal.NewFromInt(19),
	"SK": decimal.NewFromInt(20),
	"SI": decimal.NewFromInt(22),
	"ES": decimal.NewFromInt(21),
	"SE": decimal.NewFromInt(25),
	"GB": decimal.NewFromInt(20),
	"NO": decimal.NewFromInt(25),
	"CH": decimal.RequireFromString("8.1"),
}

var (
	defaultVATRate = decimal.NewFromInt(20)
	vatSurcharge   = decimal.NewFromInt(2)
	hundred        = decimal.NewFromInt(100)
)

// TaxBreakdown is the VAT inclusive price of an amount.
type TaxBreakdown struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// CalculateTax applies the country's VAT rate plus a flat two point surcharge.
// Unknown countries use the default rate. Amounts are rounded half up to cents.
func CalculateTax(amount decimal.Decimal, country string) TaxBreakdown {
	rate, ok := vatRates[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		rate = defaultVATRate
	}
	rate = rate.Add(vatSurcharge)

	subtotal := amount.Round(2)
	tax := amount.Mul(rate).Div(hundred).Round(2)

	return TaxBreakdown{
		Subtotal:    subtotal,
		VATRate:     rate,
		TaxAmount:   tax,
		TotalAmount: subtotal.Add(tax),
	}
}
