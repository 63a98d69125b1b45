package blob

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStore_PutGetDelete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := "users/u1/d1/notes.txt"

	if err := store.Put(ctx, key, []byte("hello"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("Get = %q", data)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("deleting a missing key should succeed: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir(), "")
	ctx := context.Background()
	for _, key := range []string{"../outside", "/etc/passwd", "", ".."} {
		if err := store.Put(ctx, key, []byte("x"), ""); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

func TestLocalStore_URL(t *testing.T) {
	ctx := context.Background()
	store, _ := NewLocalStore(t.TempDir(), "")
	if u, _ := store.URL(ctx, "a/b.png"); u != "" {
		t.Errorf("URL without public base = %q, want empty", u)
	}
	store, _ = NewLocalStore(t.TempDir(), "https://cdn.example.com/files/")
	if u, _ := store.URL(ctx, "a/b.png"); u != "https://cdn.example.com/files/a/b.png" {
		t.Errorf("URL = %q", u)
	}
}
