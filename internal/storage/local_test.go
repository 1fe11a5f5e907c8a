package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorage_PutGet(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	objectPath := "frames/weather/A.fkf"
	content := []byte("hello world")

	if err := storage.Put(ctx, objectPath, content); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := storage.Get(ctx, objectPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	if etag, ok := storage.ETag(objectPath); !ok || etag != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("unexpected etag %q (ok=%v)", etag, ok)
	}

	// Overwrite replaces content
	if err := storage.Put(ctx, objectPath, []byte("v2")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, _ = storage.Get(ctx, objectPath)
	if string(got) != "v2" {
		t.Errorf("overwrite failed: got %q", got)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = storage.Exists(ctx, objectPath)
	if exists {
		t.Error("expected object to not exist after delete")
	}
}

func TestLocalStorage_GetMissing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = storage.Get(context.Background(), "nope")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_DeleteIdempotent(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.Delete(context.Background(), "missing/object"); err != nil {
		t.Fatalf("deleting a missing object should succeed, got %v", err)
	}
}

func TestLocalStorage_List(t *testing.T) {
	base := t.TempDir()
	storage, err := NewLocalStorage(base)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, p := range []string{"frames/b/2", "frames/b/1", "frames/a/1", "other/x"} {
		if err := storage.Put(ctx, p, []byte(p)); err != nil {
			t.Fatalf("Put(%s) failed: %v", p, err)
		}
	}
	// Leftover temp files are not objects
	if err := os.WriteFile(filepath.Join(base, "frames", "b", ".put-123"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := storage.List(ctx, "frames/b")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"frames/b/1", "frames/b/2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	empty, err := storage.List(ctx, "nothing/here")
	if err != nil {
		t.Fatalf("List of missing prefix failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %v", empty)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Put(ctx, "x", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put: expected context.Canceled, got %v", err)
	}
	if _, err := storage.Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get: expected context.Canceled, got %v", err)
	}
}
