package blob

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"medipay/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "artifacts")

	fsStore, err := Open(ctx, config.BlobConfig{FSRoot: root})
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("empty driver should open fs, got %s", fsStore.Driver())
	}
	if _, err := fsStore.Put(ctx, "a.txt", bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	mem, err := Open(ctx, config.BlobConfig{Driver: config.BlobMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory: %v", err)
	}

	s3Store, err := Open(ctx, config.BlobConfig{Driver: config.BlobS3, S3: config.S3Config{
		Bucket: "statements", Region: "eu-west-1", AccessKey: "AKIA", SecretKey: "SECRET",
	}})
	if err != nil || s3Store.Driver() != DriverS3 {
		t.Fatalf("s3: %v", err)
	}

	if _, err := Open(ctx, config.BlobConfig{Driver: config.BlobS3}); err == nil {
		t.Fatalf("s3 without bucket should fail")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestSentinelsAreShared(t *testing.T) {
	_, _, err := NewMemory().Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
