package core

import (
	"fmt"

	"medipay/internal/projection"
	"medipay/pkg/domain"
)

// HighCostThreshold is the monthly cost above which a prescription raises a
// high cost alert. The comparison is strict: exactly 500 does not alert.
const HighCostThreshold = 500

// IsHighCost reports whether a monthly cost is above HighCostThreshold.
func IsHighCost(monthlyCost float64) bool {
	return monthlyCost > HighCostThreshold
}

// HighCostAlert returns the alert to record for a newly added prescription,
// or false when the prescription is under the threshold.
func HighCostAlert(p Prescription) (Alert, bool) {
	if !IsHighCost(p.MonthlyCost) {
		return Alert{}, false
	}
	return Alert{
		UserID:  p.UserID,
		Type:    domain.AlertHighCost,
		Message: fmt.Sprintf("High cost prescription added: %s - $%s/month", p.MedicineName, projection.FormatAmount(p.MonthlyCost)),
	}, true
}

// PaymentAlert returns the confirmation alert recorded after a payment.
func PaymentAlert(p Payment) Alert {
	label := "Payment"
	if p.Type == domain.PaymentTypeAutoPay {
		label = "Autopay payment"
	}
	return Alert{
		UserID:  p.UserID,
		Type:    domain.AlertUpcomingPayment,
		Message: fmt.Sprintf("%s of $%s processed successfully", label, projection.FormatAmount(p.Amount)),
	}
}
