package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitRef(t *testing.T) {
	tests := []struct {
		ref, bucket, key string
		ok               bool
	}{
		{"/data/emd/1234.mdb", "", "", false},
		{"gs://density/x-ray/1cbs.mdb", "gs://density", "x-ray/1cbs.mdb", true},
		{"s3://maps/emd-8003.mdb", "s3://maps", "emd-8003.mdb", true},
		{"file:///tmp/maps/1cbs.mdb", "file:///tmp/maps", "1cbs.mdb", true},
	}
	for _, tc := range tests {
		b, k, ok, err := splitRef(tc.ref)
		if err != nil {
			t.Fatalf("%s: %v", tc.ref, err)
		}
		if b != tc.bucket || k != tc.key || ok != tc.ok {
			t.Errorf("%s: got (%q, %q, %t)", tc.ref, b, k, ok)
		}
	}
	if _, _, _, err := splitRef("gs://bucket-only"); err == nil {
		t.Errorf("expected error for reference without key")
	}
}

func TestLocalAndBlobReaders(t *testing.T) {
	dir := t.TempDir()
	data := []byte("0123456789abcdef")
	local := filepath.Join(dir, "test.mdb")
	if err := os.WriteFile(local, data, 0644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, ref := range []string{local, "file://" + local} {
		r, err := Open(ctx, ref)
		if err != nil {
			t.Fatalf("%s: %v", ref, err)
		}
		if r.Size() != int64(len(data)) {
			t.Errorf("%s: bad size %d", ref, r.Size())
		}
		if r.Version() == "" {
			t.Errorf("%s: expected a content version", ref)
		}
		buf := make([]byte, 4)
		if _, err := r.ReadAt(buf, 10); err != nil {
			t.Fatalf("%s: %v", ref, err)
		}
		if string(buf) != "abcd" {
			t.Errorf("%s: expected abcd, got %q", ref, buf)
		}
		n, err := r.ReadAt(make([]byte, 8), 12)
		if n != 4 || err != io.EOF {
			t.Errorf("%s: expected short read with EOF, got %d, %v", ref, n, err)
		}
		if err := r.Close(); err != nil {
			t.Error(err)
		}
	}
	for _, ref := range []string{filepath.Join(dir, "missing.mdb"), "file://" + filepath.Join(dir, "missing.mdb")} {
		if _, err := Open(ctx, ref); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected not found, got %v", ref, err)
		}
	}
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "packed.tmp")
	if err := os.WriteFile(src, []byte("packed"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "bucket"), 0755); err != nil {
		t.Fatal(err)
	}
	dst := "file://" + filepath.Join(dir, "bucket", "packed.mdb")
	ctx := context.Background()
	if err := Upload(ctx, src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("expected source removed after upload")
	}
	r, err := Open(ctx, dst)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Size() != 6 {
		t.Errorf("expected 6 bytes, got %d", r.Size())
	}
}

func TestSwiftReference(t *testing.T) {
	b, k, ok, err := splitRef("swift://maps/x-ray/1cbs.mdb")
	if err != nil || !ok || b != "swift://maps" || k != "x-ray/1cbs.mdb" {
		t.Fatalf("got (%q, %q, %t, %v)", b, k, ok, err)
	}
	for _, name := range []string{"SWIFT_USER", "SWIFT_KEY", "SWIFT_AUTH"} {
		t.Setenv(name, "")
	}
	_, err = Open(context.Background(), "swift://maps/x-ray/1cbs.mdb")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a configuration error without Swift credentials, got %v", err)
	}
}
