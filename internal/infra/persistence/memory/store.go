// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"medipay/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// User aliases domain.User for in-memory persistence operations.
	User = domain.User
	// Prescription aliases domain.Prescription.
	Prescription = domain.Prescription
	// Alert aliases domain.Alert.
	Alert = domain.Alert
	// CostPrediction aliases domain.CostPrediction.
	CostPrediction = domain.CostPrediction
	// Payment aliases domain.Payment.
	Payment = domain.Payment
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	users         map[string]User
	prescriptions map[string]Prescription
	alerts        map[string]Alert
	predictions   map[string]CostPrediction
	payments      map[string]Payment
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Users         map[string]User           `json:"users"`
	Prescriptions map[string]Prescription   `json:"prescriptions"`
	Alerts        map[string]Alert          `json:"alerts"`
	Predictions   map[string]CostPrediction `json:"predictions"`
	Payments      map[string]Payment        `json:"payments"`
}

func newMemoryState() memoryState {
	return memoryState{
		users:         make(map[string]User),
		prescriptions: make(map[string]Prescription),
		alerts:        make(map[string]Alert),
		predictions:   make(map[string]CostPrediction),
		payments:      make(map[string]Payment),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Users:         cloned.users,
		Prescriptions: cloned.prescriptions,
		Alerts:        cloned.alerts,
		Predictions:   cloned.predictions,
		Payments:      cloned.payments,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		users:         s.Users,
		prescriptions: s.Prescriptions,
		alerts:        s.Alerts,
		predictions:   s.Predictions,
		payments:      s.Payments,
	}.clone()
}

// migrateSnapshot initialises missing buckets, normalises legacy values and
// drops records whose owning user no longer exists.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Users == nil {
		snapshot.Users = map[string]User{}
	}
	if snapshot.Prescriptions == nil {
		snapshot.Prescriptions = map[string]Prescription{}
	}
	if snapshot.Alerts == nil {
		snapshot.Alerts = map[string]Alert{}
	}
	if snapshot.Predictions == nil {
		snapshot.Predictions = map[string]CostPrediction{}
	}
	if snapshot.Payments == nil {
		snapshot.Payments = map[string]Payment{}
	}

	for id, user := range snapshot.Users {
		user.Email = normalizeEmail(user.Email)
		snapshot.Users[id] = user
	}
	userExists := func(id string) bool {
		_, ok := snapshot.Users[id]
		return ok
	}

	for id, p := range snapshot.Prescriptions {
		if !userExists(p.UserID) {
			delete(snapshot.Prescriptions, id)
		}
	}
	for id, a := range snapshot.Alerts {
		if !userExists(a.UserID) {
			delete(snapshot.Alerts, id)
			continue
		}
		if a.Type == "" {
			a.Type = domain.AlertGeneral
			snapshot.Alerts[id] = a
		}
	}
	for id, p := range snapshot.Predictions {
		if !userExists(p.UserID) {
			delete(snapshot.Predictions, id)
		}
	}
	for id, p := range snapshot.Payments {
		if !userExists(p.UserID) {
			delete(snapshot.Payments, id)
			continue
		}
		if p.Status == "" {
			p.Status = domain.PaymentStatusCompleted
		}
		if p.Type == "" {
			p.Type = domain.PaymentTypeEMI
		}
		snapshot.Payments[id] = p
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.users {
		cloned.users[k] = v
	}
	for k, v := range s.prescriptions {
		cloned.prescriptions[k] = v
	}
	for k, v := range s.alerts {
		cloned.alerts[k] = v
	}
	for k, v := range s.predictions {
		cloned.predictions[k] = clonePrediction(v)
	}
	for k, v := range s.payments {
		cloned.payments[k] = v
	}
	return cloned
}

func clonePrediction(p CostPrediction) CostPrediction {
	if p.PredictionData.MonthlyBreakdown != nil {
		p.PredictionData.MonthlyBreakdown = append([]domain.MonthlyCostPoint(nil), p.PredictionData.MonthlyBreakdown...)
	}
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// oldestFirst orders by creation time, breaking ties on ID so listings are stable.
func oldestFirst(a, b domain.Base) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider. Intended for tests and replays.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// FindUser returns the user with the given ID.
func (v transactionView) FindUser(id string) (User, bool) {
	u, ok := v.state.users[id]
	return u, ok
}

// FindUserByEmail looks a user up by case-insensitive email.
func (v transactionView) FindUserByEmail(email string) (User, bool) {
	email = normalizeEmail(email)
	for _, u := range v.state.users {
		if u.Email == email {
			return u, true
		}
	}
	return User{}, false
}

// ListUsers returns every user ordered by registration time.
func (v transactionView) ListUsers() []User {
	out := make([]User, 0, len(v.state.users))
	for _, u := range v.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return oldestFirst(out[i].Base, out[j].Base) })
	return out
}

// ListPrescriptions returns a user's prescriptions in the order they were added.
func (v transactionView) ListPrescriptions(userID string) []Prescription {
	out := make([]Prescription, 0)
	for _, p := range v.state.prescriptions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return oldestFirst(out[i].Base, out[j].Base) })
	return out
}

// SumMonthlyCost totals the monthly cost of every prescription owned by userID.
func (v transactionView) SumMonthlyCost(userID string) float64 {
	total := 0.0
	for _, p := range v.ListPrescriptions(userID) {
		total += p.MonthlyCost
	}
	return total
}

// FindAlert returns the alert with the given ID.
func (v transactionView) FindAlert(id string) (Alert, bool) {
	a, ok := v.state.alerts[id]
	return a, ok
}

// ListAlerts returns a user's alerts, newest first.
func (v transactionView) ListAlerts(userID string) []Alert {
	out := make([]Alert, 0)
	for _, a := range v.state.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return oldestFirst(out[j].Base, out[i].Base) })
	return out
}

// LatestPrediction returns the highest-versioned prediction for userID.
func (v transactionView) LatestPrediction(userID string) (CostPrediction, bool) {
	var (
		latest CostPrediction
		found  bool
	)
	for _, p := range v.state.predictions {
		if p.UserID != userID {
			continue
		}
		if !found || p.Version > latest.Version {
			latest = p
			found = true
		}
	}
	if !found {
		return CostPrediction{}, false
	}
	return clonePrediction(latest), true
}

// ListPayments returns a user's payments, newest first.
func (v transactionView) ListPayments(userID string) []Payment {
	out := make([]Payment, 0)
	for _, p := range v.state.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.After(out[j].PaymentDate)
		}
		return oldestFirst(out[j].Base, out[i].Base)
	})
	return out
}

// RunInTransaction executes fn within a transactional snapshot. Changes are
// committed only when fn succeeds and no rule reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state, including
// writes made earlier in the same transaction.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) requireUser(userID string) error {
	if _, ok := tx.state.users[userID]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityUser, ID: userID}
	}
	return nil
}

func (tx *transaction) emailInUse(email, exceptID string) bool {
	for id, u := range tx.state.users {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

// CreateUser stores a new user. Emails are stored lower-cased and must be unique.
func (tx *transaction) CreateUser(u User) (User, error) {
	if u.ID == "" {
		u.ID = tx.store.newID()
	}
	if _, exists := tx.state.users[u.ID]; exists {
		return User{}, fmt.Errorf("user %q already exists", u.ID)
	}
	u.Email = normalizeEmail(u.Email)
	if tx.emailInUse(u.Email, "") {
		return User{}, fmt.Errorf("create user %s: %w", u.Email, domain.ErrEmailTaken)
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.ID] = u
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionCreate, After: u})
	return u, nil
}

// UpdateUser mutates a user using the provided mutator function.
func (tx *transaction) UpdateUser(id string, mutator func(*User) error) (User, error) {
	current, ok := tx.state.users[id]
	if !ok {
		return User{}, domain.ErrNotFound{Entity: domain.EntityUser, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return User{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.Email = normalizeEmail(current.Email)
	if current.Email != before.Email && tx.emailInUse(current.Email, id) {
		return User{}, fmt.Errorf("update user %s: %w", id, domain.ErrEmailTaken)
	}
	current.UpdatedAt = tx.now
	tx.state.users[id] = current
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreatePrescription stores a prescription for an existing user.
func (tx *transaction) CreatePrescription(p Prescription) (Prescription, error) {
	if err := tx.requireUser(p.UserID); err != nil {
		return Prescription{}, err
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.prescriptions[p.ID]; exists {
		return Prescription{}, fmt.Errorf("prescription %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.prescriptions[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityPrescription, Action: domain.ActionCreate, After: p})
	return p, nil
}

// CreateAlert stores an alert for an existing user.
func (tx *transaction) CreateAlert(a Alert) (Alert, error) {
	if err := tx.requireUser(a.UserID); err != nil {
		return Alert{}, err
	}
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.alerts[a.ID]; exists {
		return Alert{}, fmt.Errorf("alert %q already exists", a.ID)
	}
	if a.Type == "" {
		a.Type = domain.AlertGeneral
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.alerts[a.ID] = a
	tx.recordChange(Change{Entity: domain.EntityAlert, Action: domain.ActionCreate, After: a})
	return a, nil
}

// UpdateAlert mutates an alert using the provided mutator function. Ownership
// and identity fields are preserved.
func (tx *transaction) UpdateAlert(id string, mutator func(*Alert) error) (Alert, error) {
	current, ok := tx.state.alerts[id]
	if !ok {
		return Alert{}, domain.ErrNotFound{Entity: domain.EntityAlert, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Alert{}, err
	}
	current.ID = id
	current.UserID = before.UserID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.alerts[id] = current
	tx.recordChange(Change{Entity: domain.EntityAlert, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreatePrediction appends a prediction. The version is assigned by the store
// as one more than the user's current latest version.
func (tx *transaction) CreatePrediction(p CostPrediction) (CostPrediction, error) {
	if err := tx.requireUser(p.UserID); err != nil {
		return CostPrediction{}, err
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.predictions[p.ID]; exists {
		return CostPrediction{}, fmt.Errorf("prediction %q already exists", p.ID)
	}
	p.Version = 1
	if latest, ok := tx.Snapshot().LatestPrediction(p.UserID); ok {
		p.Version = latest.Version + 1
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	p = clonePrediction(p)
	tx.state.predictions[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityCostPrediction, Action: domain.ActionCreate, After: clonePrediction(p)})
	return clonePrediction(p), nil
}

// CreatePayment records a payment for an existing user. A zero payment date
// defaults to the transaction time.
func (tx *transaction) CreatePayment(p Payment) (Payment, error) {
	if err := tx.requireUser(p.UserID); err != nil {
		return Payment{}, err
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.payments[p.ID]; exists {
		return Payment{}, fmt.Errorf("payment %q already exists", p.ID)
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = tx.now
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.payments[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityPayment, Action: domain.ActionCreate, After: p})
	return p, nil
}

// GetUser retrieves a user by ID from committed state.
func (s *Store) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[id]
	return u, ok
}

// ListUsers returns all users from committed state.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListUsers()
}

// ListPrescriptions returns a user's prescriptions from committed state.
func (s *Store) ListPrescriptions(userID string) []Prescription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListPrescriptions(userID)
}

// ListAlerts returns a user's alerts from committed state.
func (s *Store) ListAlerts(userID string) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAlerts(userID)
}

// ListPayments returns a user's payments from committed state.
func (s *Store) ListPayments(userID string) []Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListPayments(userID)
}
