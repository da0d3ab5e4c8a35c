package statements

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"medipay/internal/blob"
	"medipay/internal/core"
	"medipay/internal/projection"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (m *memoryAudit) Record(_ context.Context, e core.AuditEntry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

func (m *memoryAudit) operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Operation+":"+string(e.Status))
	}
	return out
}

func seededService(t *testing.T) (*core.Service, core.User) {
	t.Helper()
	ctx := context.Background()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), core.WithProjector(projection.NewSeeded(3)))
	user, err := svc.CreateUser(ctx, "ledger@example.com", "Lee Ledger", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := svc.AddPrescription(ctx, user.ID, core.PrescriptionInput{
		MedicineName: "Insulin", Dosage: "10u", Frequency: "Twice daily", MonthlyCost: 120, DiseaseType: "Diabetes",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.MakePayment(ctx, user.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	return svc, user
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitForExport(t *testing.T, w *Worker, userID, id string) Export {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := w.Get(userID, id)
		if !ok {
			t.Fatalf("export %s disappeared", id)
		}
		if rec.Status == StatusSucceeded || rec.Status == StatusFailed {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return Export{}
}

func TestWorkerExportsAllFormats(t *testing.T) {
	svc, user := seededService(t)
	store := blob.NewMemory()
	audit := &memoryAudit{}
	w := NewWorker(svc, store, WithAuditRecorder(audit))
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	ctx := context.Background()
	queued, err := w.Enqueue(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != StatusQueued || len(queued.Formats) != 3 {
		t.Fatalf("unexpected queued record %+v", queued)
	}
	done := waitForExport(t, w, user.ID, queued.ID)
	if done.Status != StatusSucceeded || len(done.Artifacts) != 3 || done.CompletedAt == nil {
		t.Fatalf("unexpected finished record %+v", done)
	}

	listed, err := store.List(ctx, "statements/"+user.ID+"/")
	if err != nil || len(listed) != 3 {
		t.Fatalf("expected three stored artifacts: %v %+v", err, listed)
	}

	artifact, body, err := w.OpenArtifact(ctx, user.ID, queued.ID, FormatCSV)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer body.Close()
	if artifact.Key != ArtifactKey(user.ID, queued.ID, FormatCSV) || artifact.ContentType != "text/csv" {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
	rows, err := csv.NewReader(body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	sections := map[string]int{}
	for _, row := range rows[1:] {
		sections[row[0]]++
	}
	if sections["prescription"] != 1 || sections["projection"] != 12 || sections["payment"] != 1 {
		t.Fatalf("unexpected csv sections %v", sections)
	}

	if _, err := w.ArtifactURL(ctx, user.ID, queued.ID, FormatJSON, time.Minute); !errors.Is(err, blob.ErrUnsupported) {
		t.Fatalf("memory backend cannot presign, got %v", err)
	}

	ops := audit.operations()
	if len(ops) != 2 || ops[0] != "statement_export_queued:success" || ops[1] != "statement_export:success" {
		t.Fatalf("unexpected audit trail %v", ops)
	}
}

func TestWorkerOwnershipAndReadiness(t *testing.T) {
	svc, user := seededService(t)
	w := NewWorker(svc, blob.NewMemory())
	ctx := context.Background()
	rec, err := w.Enqueue(ctx, user.ID, []Format{FormatJSON, FormatJSON})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(rec.Formats) != 1 {
		t.Fatalf("duplicate formats should collapse, got %v", rec.Formats)
	}
	if _, ok := w.Get("someone-else", rec.ID); ok {
		t.Fatalf("foreign user must not see export")
	}
	// Not started yet, so the export is still queued.
	if _, _, err := w.OpenArtifact(ctx, user.ID, rec.ID, FormatJSON); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, _, err := w.OpenArtifact(ctx, user.ID, "missing", FormatJSON); !errors.Is(err, ErrExportNotFound) {
		t.Fatalf("expected ErrExportNotFound, got %v", err)
	}

	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	waitForExport(t, w, user.ID, rec.ID)
	if _, _, err := w.OpenArtifact(ctx, user.ID, rec.ID, FormatXLSX); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("format not rendered should fail, got %v", err)
	}
	_, body, err := w.OpenArtifact(ctx, user.ID, rec.ID, FormatJSON)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer body.Close()
	var st Statement
	if err := json.NewDecoder(body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.UserID != user.ID || st.Prediction == nil || len(st.Payments) != 1 || st.TotalPaid != st.Payments[0].Amount {
		t.Fatalf("unexpected statement %+v", st)
	}
}

func TestEnqueueValidation(t *testing.T) {
	w := NewWorker(nil, blob.NewMemory(), WithQueueSize(1))
	ctx := context.Background()
	if _, err := w.Enqueue(ctx, "u1", []Format{"pdf"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := w.Enqueue(ctx, "u1", nil); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := w.Enqueue(ctx, "u1", nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWorkerRecordsFailures(t *testing.T) {
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine())
	audit := &memoryAudit{}
	w := NewWorker(svc, blob.NewMemory(), WithAuditRecorder(audit))
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	rec, err := w.Enqueue(context.Background(), "ghost", []Format{FormatCSV})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForExport(t, w, "ghost", rec.ID)
	if done.Status != StatusFailed || done.Error == "" {
		t.Fatalf("expected failure, got %+v", done)
	}
	ops := audit.operations()
	if ops[len(ops)-1] != "statement_export:error" {
		t.Fatalf("expected error audit, got %v", ops)
	}
}

func TestRenderXLSX(t *testing.T) {
	svc, user := seededService(t)
	st, err := Build(context.Background(), svc, user.ID, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	payload, err := Render(st, FormatXLSX)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	wb, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = wb.Close() }()

	want := []string{SheetSummary, SheetPrescriptions, SheetProjection, SheetPayments}
	got := wb.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("sheets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sheets = %v, want %v", got, want)
		}
	}
	rows, err := wb.GetRows(SheetProjection)
	if err != nil {
		t.Fatalf("projection rows: %v", err)
	}
	if len(rows) != 13 || rows[1][0] != "Jan" || rows[12][0] != "Dec" {
		t.Fatalf("unexpected projection sheet %v", rows)
	}
	name, err := wb.GetCellValue(SheetSummary, "B1")
	if err != nil || name != "Lee Ledger" {
		t.Fatalf("summary name = %q %v", name, err)
	}
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	if _, err := Render(Statement{}, "pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if Format("pdf").ContentType() != "application/octet-stream" {
		t.Fatalf("unexpected fallback content type")
	}
}

func TestWorkerPrunesExpiredRecords(t *testing.T) {
	svc, user := seededService(t)
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	w := NewWorker(svc, blob.NewMemory(), WithRetention(time.Hour), WithNowFunc(clock.Now))
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	ctx := context.Background()

	first, err := w.Enqueue(ctx, user.ID, []Format{FormatJSON})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForExport(t, w, user.ID, first.ID)

	clock.Advance(30 * time.Minute)
	second, err := w.Enqueue(ctx, user.ID, []Format{FormatJSON})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := w.Get(user.ID, first.ID); !ok {
		t.Fatalf("record inside the retention window was pruned")
	}
	waitForExport(t, w, user.ID, second.ID)

	clock.Advance(2 * time.Hour)
	third, err := w.Enqueue(ctx, user.ID, []Format{FormatJSON})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for _, id := range []string{first.ID, second.ID} {
		if _, ok := w.Get(user.ID, id); ok {
			t.Fatalf("expired record %s still held", id)
		}
	}
	if _, ok := w.Get(user.ID, third.ID); !ok {
		t.Fatalf("new record missing")
	}
}

func TestWorkerKeepsUnfinishedRecords(t *testing.T) {
	svc, user := seededService(t)
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	w := NewWorker(svc, blob.NewMemory(), WithRetention(time.Minute), WithNowFunc(clock.Now))
	ctx := context.Background()

	pending, err := w.Enqueue(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clock.Advance(48 * time.Hour)
	if _, err := w.Enqueue(ctx, user.ID, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if rec, ok := w.Get(user.ID, pending.ID); !ok || rec.Status != StatusQueued {
		t.Fatalf("queued record must survive pruning, got %+v %v", rec, ok)
	}
}
