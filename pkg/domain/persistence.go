package domain

import "context"

// TransactionView provides read-only access to snapshot data for rules and
// read paths.
type TransactionView interface {
	FindUser(id string) (User, bool)
	FindUserByEmail(email string) (User, bool)
	ListUsers() []User
	ListPrescriptions(userID string) []Prescription
	SumMonthlyCost(userID string) float64
	FindAlert(id string) (Alert, bool)
	ListAlerts(userID string) []Alert
	LatestPrediction(userID string) (CostPrediction, bool)
	ListPayments(userID string) []Payment
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateUser(User) (User, error)
	UpdateUser(id string, mutator func(*User) error) (User, error)
	CreatePrescription(Prescription) (Prescription, error)
	CreateAlert(Alert) (Alert, error)
	UpdateAlert(id string, mutator func(*Alert) error) (Alert, error)
	CreatePrediction(CostPrediction) (CostPrediction, error)
	CreatePayment(Payment) (Payment, error)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetUser(id string) (User, bool)
}
