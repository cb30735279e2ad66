package services

import "github.com/shopspring/decimal"

var (
	feeRate  = decimal.RequireFromString("0.029")
	feeFixed = decimal.RequireFromString("0.30")
)

// CalculateFee applies the platform fee of 2.9% + 0.30, rounded half-up to
// cents, and returns the fee and the merchant's net amount.
func CalculateFee(amount decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(feeRate).Add(feeFixed).Round(2)
	return fee, amount.Sub(fee)
}

// ProrateFee returns the share of paymentFee attributable to amount.
func ProrateFee(amount, paymentAmount, paymentFee decimal.Decimal) decimal.Decimal {
	if paymentAmount.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(paymentFee).Div(paymentAmount).Round(2)
}
