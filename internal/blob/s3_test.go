package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 serves a path-style bucket from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// /bucket/key
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch req.Method {
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return response(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return notFound(), nil
		}
		return response(http.StatusOK, obj.body, http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Last-Modified":  {time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return response(http.StatusNoContent, nil, http.Header{}), nil
	}
	return response(http.StatusNotImplemented, nil, http.Header{}), nil
}

func response(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h}
}

func notFound() *http.Response {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
	return response(http.StatusNotFound, body, http.Header{"Content-Type": {"application/xml"}})
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) ([]byte, bool) {
	lines := strings.Split(string(b), "\r\n")
	if len(lines) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(strings.SplitN(lines[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(lines[1])) != size || !strings.HasPrefix(lines[2], "0") {
		return nil, false
	}
	return []byte(lines[1]), true
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]fakeObject{}}
	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "nxledger-test",
		Region:          "us-east-1",
		Endpoint:        "https://s3.test.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: fake},
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	return store, fake
}

func TestS3StorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestS3Store(t)

	if err := store.Put(ctx, "parts/PNX1/abc.jpg", "image/jpeg", []byte("jpeg-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := fake.objects["parts/PNX1/abc.jpg"]; !ok {
		t.Fatalf("object not stored, have %v", keys(fake))
	}

	obj, err := store.Get(ctx, "parts/PNX1/abc.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj == nil {
		t.Fatal("expected object, got nil")
	}
	if !bytes.Equal(obj.Data, []byte("jpeg-bytes")) {
		t.Errorf("unexpected data %q", obj.Data)
	}
	if obj.ContentType != "image/jpeg" {
		t.Errorf("unexpected content type %q", obj.ContentType)
	}

	if err := store.Delete(ctx, "parts/PNX1/abc.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(fake.objects) != 0 {
		t.Errorf("expected empty bucket, have %v", keys(fake))
	}
}

func TestS3StoreGetMissing(t *testing.T) {
	store, _ := newTestS3Store(t)

	obj, err := store.Get(context.Background(), "parts/missing.jpg")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if obj != nil {
		t.Errorf("expected nil, got %+v", obj)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}

func keys(f *fakeS3) string {
	var ks []string
	for k := range f.objects {
		ks = append(ks, k)
	}
	return fmt.Sprint(ks)
}
