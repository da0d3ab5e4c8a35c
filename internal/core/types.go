package core

import (
	"errors"

	"medipay/pkg/domain"
)

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	User               = domain.User
	Prescription       = domain.Prescription
	Alert              = domain.Alert
	AlertType          = domain.AlertType
	CostPrediction     = domain.CostPrediction
	MonthlyCostPoint   = domain.MonthlyCostPoint
	PredictionData     = domain.PredictionData
	Payment            = domain.Payment
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	// ErrNotFound reports a missing record.
	ErrNotFound = domain.ErrNotFound
)

const (
	EntityUser           = domain.EntityUser
	EntityPrescription   = domain.EntityPrescription
	EntityAlert          = domain.EntityAlert
	EntityCostPrediction = domain.EntityCostPrediction
	EntityPayment        = domain.EntityPayment
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

var (
	// ErrValidation marks input rejected before it reaches the store.
	ErrValidation = errors.New("validation failed")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = domain.ErrEmailTaken
	// ErrNoInstallment is returned when a payment is requested but the user
	// has no positive monthly installment to pay.
	ErrNoInstallment = errors.New("no installment due")
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
