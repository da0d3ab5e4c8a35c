package projection

// AffordabilityThreshold is the monthly installment above which a projection
// is flagged as an affordability risk.
const AffordabilityThreshold = 300.0

// emergencyFundShare is the share of the annual cost recommended as savings.
const emergencyFundShare = 0.2

// AffordabilityRisk reports whether the installment strictly exceeds the threshold.
func AffordabilityRisk(monthlyInstallment float64) bool {
	return monthlyInstallment > AffordabilityThreshold
}

// EmergencyFund returns the recommended savings buffer for an annual cost.
func EmergencyFund(annualCost float64) float64 {
	return RoundAmount(annualCost * emergencyFundShare)
}

// Insights is the display-time view of a projection. It is computed on read
// and never persisted.
type Insights struct {
	AffordabilityRisk bool    `json:"affordability_risk"`
	EmergencyFund     float64 `json:"emergency_fund"`
}

// Describe derives display insights from annual and monthly totals.
func Describe(annualCost, monthlyInstallment float64) Insights {
	return Insights{
		AffordabilityRisk: AffordabilityRisk(monthlyInstallment),
		EmergencyFund:     EmergencyFund(annualCost),
	}
}
