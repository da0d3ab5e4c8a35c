package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medipay/internal/projection"
	"medipay/pkg/domain"
)

// PaymentReceipt is the ledger entry and confirmation alert written by a payment.
type PaymentReceipt struct {
	Payment Payment `json:"payment"`
	Alert   Alert   `json:"alert"`
}

// MakePayment pays the user's latest monthly installment now. It fails with
// ErrNoInstallment when there is no prediction or its installment is zero.
func (s *Service) MakePayment(ctx context.Context, userID string) (PaymentReceipt, error) {
	var receipt PaymentReceipt
	err := s.run(ctx, "make_payment", userID, func() (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			receipt, err = chargeInstallment(tx, userID, domain.PaymentTypeEMI, s.clock.Now())
			return err
		})
		return receipt.Payment.ID, err
	})
	if err != nil {
		return PaymentReceipt{}, err
	}
	s.logger.Info("payment_processed", "user_id", userID, "payment_id", receipt.Payment.ID, "amount", receipt.Payment.Amount)
	return receipt, nil
}

func chargeInstallment(tx Transaction, userID string, kind domain.PaymentType, now time.Time) (PaymentReceipt, error) {
	latest, ok := tx.Snapshot().LatestPrediction(userID)
	if !ok || latest.MonthlyEMI <= 0 {
		return PaymentReceipt{}, ErrNoInstallment
	}
	payment, err := tx.CreatePayment(Payment{
		UserID:      userID,
		Amount:      projection.RoundAmount(latest.MonthlyEMI),
		PaymentDate: now,
		Status:      domain.PaymentStatusCompleted,
		Type:        kind,
	})
	if err != nil {
		return PaymentReceipt{}, err
	}
	alert, err := tx.CreateAlert(PaymentAlert(payment))
	if err != nil {
		return PaymentReceipt{}, err
	}
	return PaymentReceipt{Payment: payment, Alert: alert}, nil
}

// ListPayments returns a user's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, userID string) ([]Payment, error) {
	var payments []Payment
	err := s.store.View(ctx, func(v TransactionView) error {
		payments = v.ListPayments(userID)
		return nil
	})
	return payments, err
}

// PaymentSummary aggregates a user's payment plan.
type PaymentSummary struct {
	MonthlyEMI     float64 `json:"monthly_emi"`
	AnnualCost     float64 `json:"annual_cost"`
	TotalPaid      float64 `json:"total_paid"`
	PendingCount   int     `json:"pending_count"`
	PaymentCount   int     `json:"payment_count"`
	AutoPayEnabled bool    `json:"autopay_enabled"`
}

// PaymentSummary totals completed payments and counts pending ones.
func (s *Service) PaymentSummary(ctx context.Context, userID string) (PaymentSummary, error) {
	var out PaymentSummary
	err := s.store.View(ctx, func(v TransactionView) error {
		user, ok := v.FindUser(userID)
		if !ok {
			return ErrNotFound{Entity: EntityUser, ID: userID}
		}
		out.AutoPayEnabled = user.AutoPayEnabled
		if latest, ok := v.LatestPrediction(userID); ok {
			out.MonthlyEMI = latest.MonthlyEMI
			out.AnnualCost = latest.AnnualCost
		}
		payments := v.ListPayments(userID)
		out.PaymentCount = len(payments)
		for _, p := range payments {
			switch p.Status {
			case domain.PaymentStatusCompleted:
				out.TotalPaid += p.Amount
			case domain.PaymentStatusPending:
				out.PendingCount++
			}
		}
		return nil
	})
	out.TotalPaid = projection.RoundAmount(out.TotalPaid)
	return out, err
}

// SetAutoPay turns the monthly autopay sweep on or off for a user.
func (s *Service) SetAutoPay(ctx context.Context, userID string, enabled bool) (User, error) {
	var updated User
	err := s.run(ctx, "set_autopay", userID, func() (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateUser(userID, func(u *User) error {
				u.AutoPayEnabled = enabled
				return nil
			})
			return err
		})
		return userID, err
	})
	return updated, err
}

// AutoPayReport summarises one autopay sweep.
type AutoPayReport struct {
	Charged  []Payment `json:"charged"`
	Skipped  int       `json:"skipped"`
	Failures []string  `json:"failures,omitempty"`
}

// RunAutoPay charges every opted-in user their latest installment, at most
// once per calendar month (UTC) of now. Users without a positive installment
// are skipped. A failure for one user does not stop the sweep.
func (s *Service) RunAutoPay(ctx context.Context, now time.Time) (AutoPayReport, error) {
	var report AutoPayReport
	now = now.UTC()
	var users []User
	if err := s.store.View(ctx, func(v TransactionView) error {
		users = v.ListUsers()
		return nil
	}); err != nil {
		return report, err
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !user.AutoPayEnabled {
			continue
		}
		var receipt PaymentReceipt
		charged := false
		err := s.run(ctx, "autopay_charge", user.ID, func() (string, error) {
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				if paidThisMonth(tx.Snapshot().ListPayments(user.ID), now) {
					return nil
				}
				var err error
				receipt, err = chargeInstallment(tx, user.ID, domain.PaymentTypeAutoPay, now)
				if errors.Is(err, ErrNoInstallment) {
					return nil
				}
				charged = err == nil
				return err
			})
			return receipt.Payment.ID, err
		})
		switch {
		case err != nil:
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", user.ID, err))
		case charged:
			report.Charged = append(report.Charged, receipt.Payment)
		default:
			report.Skipped++
		}
	}
	s.logger.Info("autopay_sweep", "charged", len(report.Charged), "skipped", report.Skipped, "failed", len(report.Failures))
	return report, nil
}

func paidThisMonth(payments []Payment, now time.Time) bool {
	year, month, _ := now.Date()
	for _, p := range payments {
		if p.Type != domain.PaymentTypeAutoPay || p.Status == domain.PaymentStatusFailed {
			continue
		}
		y, m, _ := p.PaymentDate.UTC().Date()
		if y == year && m == month {
			return true
		}
	}
	return false
}
