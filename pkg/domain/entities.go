// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by medipay.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityUser identifies a registered patient account.
	EntityUser EntityType = "user"
	// EntityPrescription identifies a logged prescription.
	EntityPrescription EntityType = "prescription"
	// EntityAlert identifies a user-facing alert record.
	EntityAlert EntityType = "alert"
	// EntityCostPrediction identifies a persisted annual cost projection.
	EntityCostPrediction EntityType = "cost_prediction"
	// EntityPayment identifies a simulated payment transaction.
	EntityPayment EntityType = "payment"
)

// AlertType classifies alerts shown on the dashboard.
type AlertType string

// Alert types emitted by the service.
const (
	AlertHighCost        AlertType = "high_cost"
	AlertUpcomingPayment AlertType = "upcoming_payment"
	AlertGeneral         AlertType = "general"
)

// PaymentStatus enumerates payment ledger states.
type PaymentStatus string

// Canonical payment statuses.
const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentType distinguishes how a payment was triggered.
type PaymentType string

// Payment types recorded in the ledger.
const (
	// PaymentTypeEMI is a payment the user made on demand.
	PaymentTypeEMI PaymentType = "emi"
	// PaymentTypeAutoPay is a payment taken by the monthly autopay sweep.
	PaymentTypeAutoPay PaymentType = "autopay"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported to the caller but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action indicates the type of change applied to an entity.
type Action string

// Supported change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Base contains common fields for all entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a registered patient.
type User struct {
	Base
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	PasswordHash   string `json:"password_hash"`
	AutoPayEnabled bool   `json:"autopay_enabled"`
}

// Prescription is a medicine the user is paying for every month.
type Prescription struct {
	Base
	UserID       string  `json:"user_id"`
	MedicineName string  `json:"medicine_name"`
	Dosage       string  `json:"dosage"`
	Frequency    string  `json:"frequency"`
	MonthlyCost  float64 `json:"monthly_cost"`
	DiseaseType  string  `json:"disease_type"`
}

// Alert is a notification raised for a user.
type Alert struct {
	Base
	UserID  string    `json:"user_id"`
	Type    AlertType `json:"alert_type"`
	Message string    `json:"message"`
	IsRead  bool      `json:"is_read"`
}

// MonthlyCostPoint is one month of a cost projection.
type MonthlyCostPoint struct {
	Month  string  `json:"month"`
	Amount float64 `json:"amount"`
}

// PredictionData holds the chartable part of a prediction.
type PredictionData struct {
	MonthlyBreakdown []MonthlyCostPoint `json:"monthly_breakdown"`
}

// CostPrediction is a persisted projection. Version increases by one for every
// prediction stored for the same user, so the highest version is the latest.
type CostPrediction struct {
	Base
	UserID         string         `json:"user_id"`
	Version        int            `json:"version"`
	AnnualCost     float64        `json:"annual_cost"`
	MonthlyEMI     float64        `json:"monthly_emi"`
	PredictionData PredictionData `json:"prediction_data"`
}

// Payment is a simulated ledger entry.
type Payment struct {
	Base
	UserID      string        `json:"user_id"`
	Amount      float64       `json:"amount"`
	PaymentDate time.Time     `json:"payment_date"`
	Status      PaymentStatus `json:"status"`
	Type        PaymentType   `json:"payment_type"`
}

// Change describes a mutation recorded during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
