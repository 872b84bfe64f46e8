package conversation

import (
	"context"
	"errors"
	"testing"
)

type flakyStore struct {
	Store
	misses int
	calls  int
}

func (f *flakyStore) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	f.calls++
	if f.calls <= f.misses {
		return nil, ErrNotFound
	}
	return &Conversation{ID: id, OwnerID: ownerID}, nil
}

func TestWithGetRetry_RecoversFromLateWrite(t *testing.T) {
	inner := &flakyStore{misses: 2}
	store := WithGetRetry(inner, 3, 0)

	conv, err := store.Get(context.Background(), "c", "alice")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if conv.ID != "c" || inner.calls != 3 {
		t.Fatalf("expected success on third attempt, calls=%d", inner.calls)
	}
}

func TestWithGetRetry_GivesUpAfterAttempts(t *testing.T) {
	inner := &flakyStore{misses: 10}
	store := WithGetRetry(inner, 3, 0)

	if _, err := store.Get(context.Background(), "c", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestWithGetRetry_StopsOnCancelledContext(t *testing.T) {
	inner := &flakyStore{misses: 10}
	store := WithGetRetry(inner, 5, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Get(ctx, "c", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected retries to stop after first miss, got %d calls", inner.calls)
	}
}
