package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"medipay/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewPrescriptionValidationRule())
	engine.Register(NewPaymentValidationRule())
	engine.Register(NewHighCostNoticeRule())
	return engine
}

// NewPrescriptionValidationRule blocks prescriptions without a medicine name,
// with a negative or non-finite cost, or owned by an unknown user.
func NewPrescriptionValidationRule() domain.Rule {
	return prescriptionValidationRule{}
}

type prescriptionValidationRule struct{}

func (prescriptionValidationRule) Name() string { return "prescription_validation" }

func (r prescriptionValidationRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		p, ok := change.After.(domain.Prescription)
		if !ok || change.Entity != domain.EntityPrescription {
			continue
		}
		block := func(msg string) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  msg,
				Entity:   domain.EntityPrescription,
				EntityID: p.ID,
			})
		}
		if strings.TrimSpace(p.MedicineName) == "" {
			block("medicine name is required")
		}
		if math.IsNaN(p.MonthlyCost) || math.IsInf(p.MonthlyCost, 0) || p.MonthlyCost < 0 {
			block(fmt.Sprintf("monthly cost %v must be a finite amount >= 0", p.MonthlyCost))
		}
		if _, ok := view.FindUser(p.UserID); !ok {
			block(fmt.Sprintf("user %s does not exist", p.UserID))
		}
	}
	return res, nil
}

// NewPaymentValidationRule blocks payments with a non-positive amount, an
// unknown status or type, or an unknown owner.
func NewPaymentValidationRule() domain.Rule {
	return paymentValidationRule{}
}

type paymentValidationRule struct{}

func (paymentValidationRule) Name() string { return "payment_validation" }

func (r paymentValidationRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		p, ok := change.After.(domain.Payment)
		if !ok || change.Entity != domain.EntityPayment {
			continue
		}
		block := func(msg string) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  msg,
				Entity:   domain.EntityPayment,
				EntityID: p.ID,
			})
		}
		if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) || p.Amount <= 0 {
			block(fmt.Sprintf("payment amount %v must be positive", p.Amount))
		}
		switch p.Status {
		case domain.PaymentStatusCompleted, domain.PaymentStatusPending, domain.PaymentStatusFailed:
		default:
			block(fmt.Sprintf("unknown payment status %q", p.Status))
		}
		switch p.Type {
		case domain.PaymentTypeEMI, domain.PaymentTypeAutoPay:
		default:
			block(fmt.Sprintf("unknown payment type %q", p.Type))
		}
		if _, ok := view.FindUser(p.UserID); !ok {
			block(fmt.Sprintf("user %s does not exist", p.UserID))
		}
	}
	return res, nil
}

// NewHighCostNoticeRule warns when a newly added prescription is above the
// high cost threshold. It never blocks.
func NewHighCostNoticeRule() domain.Rule {
	return highCostNoticeRule{}
}

type highCostNoticeRule struct{}

func (highCostNoticeRule) Name() string { return "high_cost_notice" }

func (r highCostNoticeRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPrescription || change.Action != domain.ActionCreate {
			continue
		}
		p, ok := change.After.(domain.Prescription)
		if !ok || !IsHighCost(p.MonthlyCost) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("This prescription exceeds $%d/month. Consider discussing alternatives with your healthcare provider.", HighCostThreshold),
			Entity:   domain.EntityPrescription,
			EntityID: p.ID,
		})
	}
	return res, nil
}
