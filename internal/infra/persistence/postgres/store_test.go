package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"medipay/internal/infra/persistence/postgres/testutil"
	"medipay/pkg/domain"
)

func openStub(t *testing.T) (*sql.DB, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return db, conn
}

func TestNewStoreCreatesStateTableAndLoadsSnapshot(t *testing.T) {
	_, conn := openStub(t)
	users, _ := json.Marshal(map[string]domain.User{
		"u1": {Base: domain.Base{ID: "u1"}, Email: "Seed@Example.com"},
	})
	prescriptions, _ := json.Marshal(map[string]domain.Prescription{
		"p1": {Base: domain.Base{ID: "p1"}, UserID: "u1", MedicineName: "Lisinopril", MonthlyCost: 15},
	})
	conn.Seed("users", users)
	conn.Seed("prescriptions", prescriptions)
	conn.Seed("retired_bucket", []byte(`{"x":1}`))

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := store.ListPrescriptions("u1"); len(got) != 1 || got[0].MedicineName != "Lisinopril" {
		t.Fatalf("expected seeded prescription, got %+v", got)
	}
	if u, ok := store.GetUser("u1"); !ok || u.Email != "seed@example.com" {
		t.Fatalf("expected migrated user, got %+v", u)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	_, conn := openStub(t)
	store, err := NewStore(context.Background(), "ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		u, err := tx.CreateUser(domain.User{Email: "pg@example.com"})
		if err != nil {
			return err
		}
		_, err = tx.CreatePayment(domain.Payment{UserID: u.ID, Amount: 42.5, Status: domain.PaymentStatusCompleted, Type: domain.PaymentTypeEMI})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if got := len(conn.Tables["state"]); got != 5 {
		t.Fatalf("expected one row per bucket, got %d", got)
	}
	row, ok := conn.Row("state", "bucket", "payments")
	if !ok {
		t.Fatalf("expected payments bucket row")
	}
	var payments map[string]domain.Payment
	if err := json.Unmarshal(row["payload"].([]byte), &payments); err != nil {
		t.Fatalf("decode payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected one payment persisted, got %d", len(payments))
	}

	// A second commit upserts rather than appending rows.
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("second tx: %v", err)
	}
	if got := len(conn.Tables["state"]); got != 5 {
		t.Fatalf("expected upsert to keep 5 rows, got %d", got)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	_, conn := openStub(t)
	conn.FailPing = true
	if _, err := NewStore(context.Background(), "", nil); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestPersistFailuresSurface(t *testing.T) {
	_, conn := openStub(t)
	store, err := NewStore(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateUser(domain.User{Email: "commit@example.com"})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	conn.FailCommit = false
	conn.FailBegin = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected begin error")
	}
}
