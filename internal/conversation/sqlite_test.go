package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteTestStore(t *testing.T, now func() time.Time) Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	store.now = now
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newSQLiteTestStore)
}

func TestSQLiteStore_NilMetadataKeepsStored(t *testing.T) {
	store := newSQLiteTestStore(t, newTestClock().Now)
	ctx := context.Background()

	if _, err := store.Save(ctx, SaveInput{ID: "c", AgentName: "ops", OwnerID: "alice", Metadata: map[string]any{"source": "sms"}}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	saved, err := store.Save(ctx, SaveInput{ID: "c", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory()})
	if err != nil {
		t.Fatalf("second Save error: %v", err)
	}
	if saved.Metadata["source"] != "sms" {
		t.Fatalf("expected stored metadata to survive, got %+v", saved.Metadata)
	}
}

func TestSQLiteStore_ClosedDatabaseIsStorageError(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	_ = store.Close()

	_, err = store.Get(context.Background(), "c", "alice")
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("storage failures must not look like not-found")
	}
}
