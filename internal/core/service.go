// Package core hosts the medipay application service: prescription records,
// cost predictions, alerts and the simulated payment ledger, all executed as
// transactions against a PersistentStore.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medipay/internal/infra/persistence/memory"
	"medipay/internal/projection"
)

// Projector produces a twelve-month cost projection. *projection.Engine satisfies it.
type Projector interface {
	Project(startingMonthlyCost float64) (projection.Result, error)
}

// Service exposes transactional operations for the medipay domain.
type Service struct {
	store     PersistentStore
	projector Projector
	clock     Clock
	logger    Logger
	metrics   MetricsRecorder
	audit     AuditRecorder
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithProjector overrides the projection engine.
func WithProjector(p Projector) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.projector = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		projector: projection.New(nil),
		clock:     systemClock{},
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		audit:     noopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// run wraps an operation with metrics, audit and logging.
func (s *Service) run(ctx context.Context, op, userID string, fn func() (string, error)) error {
	started := time.Now()
	entityID, err := fn()
	elapsed := time.Since(started)

	s.metrics.Observe(ctx, op, err == nil, elapsed)
	entry := AuditEntry{
		Operation: op,
		Status:    AuditStatusSuccess,
		UserID:    userID,
		EntityID:  entityID,
		Timestamp: s.clock.Now(),
		Duration:  elapsed,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)

	switch {
	case err == nil:
		s.logger.Debug(op, "user_id", userID, "entity_id", entityID)
	case isClientError(err):
		s.logger.Info(op+"_rejected", "user_id", userID, "error", err)
	default:
		s.logger.Error(op+"_failed", "user_id", userID, "error", err)
	}
	return err
}

func isClientError(err error) bool {
	var violation RuleViolationError
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEmailTaken) ||
		errors.Is(err, ErrNoInstallment) ||
		errors.Is(err, projection.ErrInvalidInput) ||
		errors.As(err, &violation) ||
		IsNotFound(err)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}

// CreateUser registers a user with an already hashed password.
func (s *Service) CreateUser(ctx context.Context, email, fullName, passwordHash string) (User, error) {
	var created User
	email = NormalizeEmail(email)
	err := s.run(ctx, "create_user", "", func() (string, error) {
		if err := validateRegistration(email, fullName); err != nil {
			return "", err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateUser(User{Email: email, FullName: fullName, PasswordHash: passwordHash})
			return err
		})
		return created.ID, err
	})
	return created, err
}

// GetUser returns the user with the given ID.
func (s *Service) GetUser(_ context.Context, id string) (User, error) {
	u, ok := s.store.GetUser(id)
	if !ok {
		return User{}, ErrNotFound{Entity: EntityUser, ID: id}
	}
	return u, nil
}

// FindUserByEmail looks up a user by email, case-insensitively.
func (s *Service) FindUserByEmail(ctx context.Context, email string) (User, bool, error) {
	var (
		user  User
		found bool
	)
	err := s.store.View(ctx, func(v TransactionView) error {
		user, found = v.FindUserByEmail(NormalizeEmail(email))
		return nil
	})
	return user, found, err
}

// PrescriptionOutcome is everything produced by adding one prescription.
type PrescriptionOutcome struct {
	Prescription Prescription        `json:"prescription"`
	Alert        *Alert              `json:"alert,omitempty"`
	Prediction   CostPrediction      `json:"prediction"`
	Insights     projection.Insights `json:"insights"`
	Warnings     []Violation         `json:"warnings,omitempty"`
}

// AddPrescription stores a prescription, raises the high cost alert when due,
// recomputes the user's monthly total and persists a fresh projection. All
// writes happen in one transaction.
func (s *Service) AddPrescription(ctx context.Context, userID string, in PrescriptionInput) (PrescriptionOutcome, error) {
	var out PrescriptionOutcome
	in = in.Normalize()
	err := s.run(ctx, "add_prescription", userID, func() (string, error) {
		if err := in.Validate(); err != nil {
			return "", err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err := tx.CreatePrescription(in.Prescription(userID))
			if err != nil {
				return err
			}
			out.Prescription = created

			if alert, ok := HighCostAlert(created); ok {
				stored, err := tx.CreateAlert(alert)
				if err != nil {
					return err
				}
				out.Alert = &stored
			}

			total := tx.Snapshot().SumMonthlyCost(userID)
			result, err := s.projector.Project(total)
			if err != nil {
				return fmt.Errorf("project %v: %w", total, err)
			}
			out.Prediction, err = tx.CreatePrediction(CostPrediction{
				UserID:         userID,
				AnnualCost:     result.AnnualCost,
				MonthlyEMI:     result.MonthlyInstallment,
				PredictionData: PredictionData{MonthlyBreakdown: result.MonthlyBreakdown},
			})
			return err
		})
		out.Warnings = res.Warnings()
		return out.Prescription.ID, err
	})
	if err != nil {
		return PrescriptionOutcome{}, err
	}
	out.Insights = projection.Describe(out.Prediction.AnnualCost, out.Prediction.MonthlyEMI)
	s.logger.Info("prescription_added",
		"user_id", userID,
		"prescription_id", out.Prescription.ID,
		"high_cost", out.Alert != nil,
		"prediction_version", out.Prediction.Version,
	)
	return out, nil
}

// PrescriptionList is a user's prescriptions together with their monthly total.
type PrescriptionList struct {
	Prescriptions    []Prescription `json:"prescriptions"`
	TotalMonthlyCost float64        `json:"total_monthly_cost"`
}

// ListPrescriptions returns a user's prescriptions in the order they were added.
func (s *Service) ListPrescriptions(ctx context.Context, userID string) (PrescriptionList, error) {
	var out PrescriptionList
	err := s.store.View(ctx, func(v TransactionView) error {
		out.Prescriptions = v.ListPrescriptions(userID)
		out.TotalMonthlyCost = v.SumMonthlyCost(userID)
		return nil
	})
	return out, err
}

// MonthlyCost returns the sum of the monthly cost of a user's prescriptions.
func (s *Service) MonthlyCost(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := s.store.View(ctx, func(v TransactionView) error {
		total = v.SumMonthlyCost(userID)
		return nil
	})
	return total, err
}

// Preview runs a projection without persisting anything.
func (s *Service) Preview(ctx context.Context, monthlyCost float64) (projection.Result, projection.Insights, error) {
	var result projection.Result
	err := s.run(ctx, "preview_projection", "", func() (string, error) {
		var err error
		result, err = s.projector.Project(monthlyCost)
		return "", err
	})
	if err != nil {
		return projection.Result{}, projection.Insights{}, err
	}
	return result, projection.Describe(result.AnnualCost, result.MonthlyInstallment), nil
}

// LatestPrediction returns the most recent prediction for a user.
func (s *Service) LatestPrediction(ctx context.Context, userID string) (CostPrediction, bool, error) {
	var (
		p  CostPrediction
		ok bool
	)
	err := s.store.View(ctx, func(v TransactionView) error {
		p, ok = v.LatestPrediction(userID)
		return nil
	})
	return p, ok, err
}

// ListAlerts returns a user's alerts, newest first. A positive limit truncates the list.
func (s *Service) ListAlerts(ctx context.Context, userID string, limit int) ([]Alert, error) {
	var alerts []Alert
	err := s.store.View(ctx, func(v TransactionView) error {
		alerts = v.ListAlerts(userID)
		return nil
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, err
}

// MarkAlertRead flags an alert owned by userID as read.
func (s *Service) MarkAlertRead(ctx context.Context, userID, alertID string) (Alert, error) {
	var updated Alert
	err := s.run(ctx, "mark_alert_read", userID, func() (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.Snapshot().FindAlert(alertID)
			if !ok || current.UserID != userID {
				return ErrNotFound{Entity: EntityAlert, ID: alertID}
			}
			var err error
			updated, err = tx.UpdateAlert(alertID, func(a *Alert) error {
				a.IsRead = true
				return nil
			})
			return err
		})
		return alertID, err
	})
	return updated, err
}
