package storage

import (
	"os"
	"testing"
)

func TestStoreSetGetDelete(t *testing.T) {
	dir, err := os.MkdirTemp("", "svnn-storage-test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := Open("test", dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if ok, err := store.Has(KeyForkDBSnapshot); err != nil || ok {
		t.Fatalf("Has on empty store = %v, %v, want false, nil", ok, err)
	}

	payload := []byte("snapshot-bytes")
	if err := store.Set(KeyForkDBSnapshot, payload); err != nil {
		t.Fatalf("set: %v", err)
	}

	if ok, err := store.Has(KeyForkDBSnapshot); err != nil || !ok {
		t.Fatalf("Has after set = %v, %v, want true, nil", ok, err)
	}

	got, err := store.Get(KeyForkDBSnapshot)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	if err := store.Delete(KeyForkDBSnapshot); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := store.Has(KeyForkDBSnapshot); ok {
		t.Fatal("key still present after delete")
	}
}

func TestStoreReopenPersists(t *testing.T) {
	dir, err := os.MkdirTemp("", "svnn-storage-reopen-test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := Open("test", dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(KeyForkDBSnapshot, []byte("persisted")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open("test", dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(KeyForkDBSnapshot)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("got %q, want %q", got, "persisted")
	}
}
