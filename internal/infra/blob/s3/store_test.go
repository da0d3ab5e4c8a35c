package s3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"medipay/internal/blob/core"
)

// fakeS3 serves the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	pageLen int
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]fakeObject), pageLen: 1} }

func respond(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header, ContentLength: int64(len(body))}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, "", nil), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"etag-` + key + `"`},
			"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		for k, v := range obj.metadata {
			header.Set("X-Amz-Meta-"+k, v)
		}
		body := ""
		if req.Method == http.MethodGet {
			body = string(obj.body)
		}
		resp := respond(http.StatusOK, body, header)
		resp.ContentLength = int64(len(obj.body))
		return resp, nil
	case http.MethodPut:
		raw, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			raw = decodeAWSChunked(raw)
		}
		meta := map[string]string{}
		for name, values := range req.Header {
			if after, ok := strings.CutPrefix(strings.ToLower(name), "x-amz-meta-"); ok {
				meta[after] = values[0]
			}
		}
		f.objects[key] = fakeObject{body: raw, contentType: req.Header.Get("Content-Type"), metadata: meta}
		return respond(http.StatusOK, "", http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, "", nil), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

// list returns pageLen keys per page so pagination is exercised.
func (f *fakeS3) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if tok := req.URL.Query().Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+f.pageLen, len(keys))
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if end < len(keys) {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", end)
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}})
}

// decodeAWSChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n" until a zero chunk.
func decodeAWSChunked(raw []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return raw
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return raw
		}
		if n == 0 {
			return out.Bytes()
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return raw
		}
		_, _ = r.ReadString('\n')
	}
}

func newMockStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	store, err := New(context.Background(), Config{
		Bucket:          "statements",
		Endpoint:        "http://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: fake},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, fake
}

func TestStoreBasicFlow(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	info, err := store.Put(ctx, "statements/u1/s1.csv", bytes.NewReader([]byte("hello")), core.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"format": "csv"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "statements/u1/s1.csv" || info.ContentType != "text/csv" || info.Size != 5 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.ETag != "etag-statements/u1/s1.csv" {
		t.Fatalf("etag should be unquoted, got %q", info.ETag)
	}
	if _, err := store.Put(ctx, "statements/u1/s1.csv", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := store.Get(ctx, "statements/u1/s1.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" || got.Metadata["format"] != "csv" {
		t.Fatalf("get mismatch: %q %+v", data, got)
	}
	if ok, err := store.Delete(ctx, "statements/u1/s1.csv"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "statements/u1/s1.csv"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

func TestStoreMissingKeysMapToErrNotFound(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestStoreListPaginates(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	for _, key := range []string{"statements/u1/c", "statements/u1/a", "statements/u1/b", "statements/u2/a"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte(key)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "statements/u1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Key != "statements/u1/a" || list[2].Key != "statements/u1/c" {
		t.Fatalf("unexpected list %+v", list)
	}
	if empty, err := store.List(ctx, "none/"); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, empty)
	}
}

func TestStorePresign(t *testing.T) {
	store, _ := newMockStore(t)
	url, err := store.PresignURL(context.Background(), "statements/u1/s1.xlsx", core.SignedURLOptions{Expiry: 30 * time.Second})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "statements/u1/s1.xlsx") || !strings.Contains(url, "X-Amz-Expires=30") {
		t.Fatalf("unexpected url %s", url)
	}
	def, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{})
	if err != nil || !strings.Contains(def, "X-Amz-Expires=900") {
		t.Fatalf("default expiry: %v %s", err, def)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	store, _ := newMockStore(t)
	if store.Driver() != core.DriverS3 || store.Bucket() != "statements" {
		t.Fatalf("unexpected store identity")
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	framed := []byte("5;chunk-signature=abc\r\nhello\r\n0\r\nx-amz-checksum-crc32:xyz\r\n\r\n")
	if got := decodeAWSChunked(framed); string(got) != "hello" {
		t.Fatalf("decoded %q", got)
	}
	if got := decodeAWSChunked([]byte("plain")); string(got) != "plain" {
		t.Fatalf("unframed body should pass through, got %q", got)
	}
}
