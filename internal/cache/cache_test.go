package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := New("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create cache store: %v", err)
	}
	return store, s
}

func TestSetAndGet(t *testing.T) {
	store, s := setupTestCache(t, 5*time.Minute)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	items := []map[string]any{{"actionItemId": "AI-1", "title": "Refill fax"}}

	if err := store.Set(ctx, "items", items); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got []map[string]any
	if err := store.Get(ctx, "items", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "Refill fax" {
		t.Errorf("unexpected cached value: %v", got)
	}
}

func TestGetMiss(t *testing.T) {
	store, s := setupTestCache(t, 5*time.Minute)
	defer store.Close()
	defer s.Close()

	var got []map[string]any
	err := store.Get(context.Background(), "items", &got)
	if !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestEntryExpires(t *testing.T) {
	store, s := setupTestCache(t, 300*time.Second)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "options", map[string]any{"categories": map[string]any{}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Fast-forward past the TTL
	s.FastForward(301 * time.Second)

	var got map[string]any
	if err := store.Get(ctx, "options", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after TTL, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	store, s := setupTestCache(t, 5*time.Minute)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	store.Set(ctx, "items", []string{"a"})
	store.Set(ctx, "options", []string{"b"})

	if err := store.Invalidate(ctx, "items", "options"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	var got []string
	if err := store.Get(ctx, "items", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("items should be gone, got %v", err)
	}
	if err := store.Get(ctx, "options", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("options should be gone, got %v", err)
	}
}
