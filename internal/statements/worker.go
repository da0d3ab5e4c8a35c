// Package statements renders a user's prescriptions, projection and payment
// ledger into downloadable CSV, JSON and XLSX artifacts. Exports run on a
// background worker and the artifacts are written to the blob store.
package statements

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"medipay/internal/blob"
	"medipay/internal/core"
)

// Status is the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const (
	// DefaultQueueSize bounds pending exports when no size is configured.
	DefaultQueueSize = 32
	// DefaultRetention is how long a finished export record stays queryable.
	DefaultRetention = 24 * time.Hour
)

var (
	ErrUnsupportedFormat = errors.New("unsupported statement format")
	ErrQueueFull         = errors.New("statement export queue full")
	ErrExportNotFound    = errors.New("statement export not found")
	ErrNotReady          = errors.New("statement export not finished")
)

// Artifact is one rendered format of an export.
type Artifact struct {
	Format      Format    `json:"format"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Export tracks an export request and its artifacts.
type Export struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (e Export) copy() Export {
	dup := e
	dup.Formats = slices.Clone(e.Formats)
	dup.Artifacts = slices.Clone(e.Artifacts)
	return dup
}

// Artifact returns the artifact rendered in format f.
func (e Export) Artifact(f Format) (Artifact, bool) {
	for _, a := range e.Artifacts {
		if a.Format == f {
			return a, true
		}
	}
	return Artifact{}, false
}

// ArtifactKey is the blob key an export's artifact is written to.
func ArtifactKey(userID, exportID string, f Format) string {
	return fmt.Sprintf("statements/%s/%s.%s", userID, exportID, f)
}

// Worker executes statement exports asynchronously. Export records live in
// memory; finished ones are dropped once older than the retention window.
// Artifacts stay in the blob store.
type Worker struct {
	source Source
	store  blob.Store
	audit  core.AuditRecorder
	logger core.Logger
	now    func() time.Time
	keep   time.Duration

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Export

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithAuditRecorder records queued and finished exports.
func WithAuditRecorder(a core.AuditRecorder) Option {
	return func(w *Worker) { w.audit = a }
}

// WithLogger sets the worker logger.
func WithLogger(l core.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithQueueSize bounds the number of pending exports.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithRetention sets how long finished export records are kept.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.keep = d
		}
	}
}

// WithNowFunc overrides the clock.
func WithNowFunc(fn func() time.Time) Option {
	return func(w *Worker) {
		if fn != nil {
			w.now = fn
		}
	}
}

// NewWorker constructs a worker. Call Start to begin processing.
func NewWorker(src Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source: src,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		keep:   DefaultRetention,
		queue:  make(chan string, DefaultQueueSize),
		jobs:   make(map[string]*Export),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current export.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules an export of userID's statement. An empty format list
// means every supported format; duplicates are dropped.
func (w *Worker) Enqueue(ctx context.Context, userID string, formats []Format) (Export, error) {
	if len(formats) == 0 {
		formats = Formats
	}
	uniq := make([]Format, 0, len(formats))
	for _, f := range formats {
		if !f.Supported() {
			return Export{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
		}
		if !slices.Contains(uniq, f) {
			uniq = append(uniq, f)
		}
	}

	now := w.now()
	record := &Export{
		ID:        uuid.NewString(),
		UserID:    userID,
		Formats:   uniq,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.mu.Lock()
	w.pruneLocked(now)
	w.jobs[record.ID] = record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return Export{}, ErrQueueFull
	}
	w.record(ctx, queued, "statement_export_queued", nil, 0)
	return queued, nil
}

// pruneLocked drops finished records completed more than the retention window
// before now. w.mu must be held.
func (w *Worker) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.keep)
	for id, record := range w.jobs {
		if record.CompletedAt != nil && record.CompletedAt.Before(cutoff) {
			delete(w.jobs, id)
		}
	}
}

// Get returns a snapshot of an export owned by userID.
func (w *Worker) Get(userID, id string) (Export, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok || record.UserID != userID {
		return Export{}, false
	}
	return record.copy(), true
}

// OpenArtifact streams a finished artifact. The caller closes the reader.
func (w *Worker) OpenArtifact(ctx context.Context, userID, id string, f Format) (Artifact, io.ReadCloser, error) {
	artifact, err := w.finishedArtifact(userID, id, f)
	if err != nil {
		return Artifact{}, nil, err
	}
	_, body, err := w.store.Get(ctx, artifact.Key)
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("open artifact %s: %w", artifact.Key, err)
	}
	return artifact, body, nil
}

// ArtifactURL returns a presigned download URL when the blob backend supports
// one, and blob.ErrUnsupported otherwise.
func (w *Worker) ArtifactURL(ctx context.Context, userID, id string, f Format, expiry time.Duration) (string, error) {
	artifact, err := w.finishedArtifact(userID, id, f)
	if err != nil {
		return "", err
	}
	return w.store.PresignURL(ctx, artifact.Key, blob.SignedURLOptions{Expiry: expiry})
}

func (w *Worker) finishedArtifact(userID, id string, f Format) (Artifact, error) {
	record, ok := w.Get(userID, id)
	if !ok {
		return Artifact{}, ErrExportNotFound
	}
	if record.Status != StatusSucceeded {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotReady, record.Status)
	}
	artifact, ok := record.Artifact(f)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %q not rendered for export %s", ErrUnsupportedFormat, f, id)
	}
	return artifact, nil
}

func (w *Worker) process(id string) {
	started := time.Now()
	record, ok := w.setStatus(id, StatusRunning)
	if !ok {
		return
	}

	st, err := Build(w.ctx, w.source, record.UserID, w.now())
	if err != nil {
		w.finish(id, nil, fmt.Errorf("build statement: %w", err), time.Since(started))
		return
	}

	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, f := range record.Formats {
		payload, err := Render(st, f)
		if err != nil {
			w.finish(id, nil, fmt.Errorf("render %s: %w", f, err), time.Since(started))
			return
		}
		key := ArtifactKey(record.UserID, id, f)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: f.ContentType(),
			Metadata:    map[string]string{"user_id": record.UserID, "export_id": id, "format": string(f)},
		})
		if err != nil {
			w.finish(id, nil, fmt.Errorf("store %s: %w", key, err), time.Since(started))
			return
		}
		artifacts = append(artifacts, Artifact{
			Format:      f,
			Key:         key,
			ContentType: f.ContentType(),
			SizeBytes:   int64(len(payload)),
			ETag:        info.ETag,
			CreatedAt:   w.now(),
		})
	}
	w.finish(id, artifacts, nil, time.Since(started))
}

func (w *Worker) setStatus(id string, status Status) (Export, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.jobs[id]
	if !ok {
		return Export{}, false
	}
	record.Status = status
	record.UpdatedAt = w.now()
	return record.copy(), true
}

func (w *Worker) finish(id string, artifacts []Artifact, failure error, elapsed time.Duration) {
	now := w.now()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	record.UpdatedAt = now
	record.CompletedAt = &now
	if failure != nil {
		record.Status = StatusFailed
		record.Error = failure.Error()
	} else {
		record.Status = StatusSucceeded
		record.Artifacts = artifacts
	}
	snapshot := record.copy()
	w.mu.Unlock()

	w.record(w.ctx, snapshot, "statement_export", failure, elapsed)
	if w.logger == nil {
		return
	}
	if failure != nil {
		w.logger.Error("statement_export_failed", "export_id", id, "user_id", snapshot.UserID, "error", failure)
		return
	}
	w.logger.Info("statement_export_completed", "export_id", id, "user_id", snapshot.UserID, "artifacts", len(artifacts))
}

func (w *Worker) record(ctx context.Context, e Export, op string, failure error, elapsed time.Duration) {
	if w.audit == nil {
		return
	}
	entry := core.AuditEntry{
		Operation: op,
		Status:    core.AuditStatusSuccess,
		UserID:    e.UserID,
		EntityID:  e.ID,
		Timestamp: e.UpdatedAt,
		Duration:  elapsed,
	}
	if failure != nil {
		entry.Status = core.AuditStatusError
		entry.Error = failure.Error()
	}
	w.audit.Record(ctx, entry)
}
