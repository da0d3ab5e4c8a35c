package core

import (
	"context"

	"medipay/internal/projection"
)

const (
	dashboardAlertLimit = 5
	// dashboardBreakdownMonths is the number of leading projection months shown as the EMI breakdown.
	dashboardBreakdownMonths = 6
)

// Dashboard is the landing page aggregate for a user.
type Dashboard struct {
	TotalMonthlyCost  float64              `json:"total_monthly_cost"`
	PrescriptionCount int                  `json:"prescription_count"`
	LatestPrediction  *CostPrediction      `json:"latest_prediction,omitempty"`
	Insights          *projection.Insights `json:"insights,omitempty"`
	RecentAlerts      []Alert              `json:"recent_alerts"`
	UnreadAlerts      int                  `json:"unread_alerts"`
	EMIBreakdown      []MonthlyCostPoint   `json:"emi_breakdown"`
}

// Dashboard assembles the dashboard from one consistent snapshot.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	out := Dashboard{RecentAlerts: []Alert{}, EMIBreakdown: []MonthlyCostPoint{}}
	err := s.store.View(ctx, func(v TransactionView) error {
		prescriptions := v.ListPrescriptions(userID)
		out.PrescriptionCount = len(prescriptions)
		out.TotalMonthlyCost = v.SumMonthlyCost(userID)

		alerts := v.ListAlerts(userID)
		for _, a := range alerts {
			if !a.IsRead {
				out.UnreadAlerts++
			}
		}
		if len(alerts) > dashboardAlertLimit {
			alerts = alerts[:dashboardAlertLimit]
		}
		out.RecentAlerts = append(out.RecentAlerts, alerts...)

		if latest, ok := v.LatestPrediction(userID); ok {
			out.LatestPrediction = &latest
			insights := projection.Describe(latest.AnnualCost, latest.MonthlyEMI)
			out.Insights = &insights
			breakdown := latest.PredictionData.MonthlyBreakdown
			if len(breakdown) > dashboardBreakdownMonths {
				breakdown = breakdown[:dashboardBreakdownMonths]
			}
			out.EMIBreakdown = append(out.EMIBreakdown, breakdown...)
		}
		return nil
	})
	return out, err
}
