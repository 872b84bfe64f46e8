package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testClock hands out strictly increasing times one second apart.
type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newTestClock() *testClock {
	return &testClock{cur: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type storeFactory func(t *testing.T, now func() time.Time) Store

func sampleHistory() []Message {
	return []Message{
		UserPrompt("text Bob hello"),
		ToolCall("c1", "send_sms", map[string]any{"to": "+15550100", "body": "hello"}),
	}
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("SaveThenGet", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()

		saved, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory(), Metadata: map[string]any{"channel": "web"}})
		if err != nil {
			t.Fatalf("Save error: %v", err)
		}
		if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
			t.Fatalf("expected timestamps to be set, got %+v", saved)
		}

		got, err := store.Get(ctx, "conv-1", "alice")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got.AgentName != "ops" || got.OwnerID != "alice" {
			t.Fatalf("unexpected conversation: %+v", got)
		}
		if len(got.Messages) != 2 || got.Messages[1].ToolCallID != "c1" {
			t.Fatalf("unexpected messages: %+v", got.Messages)
		}
		if got.Metadata["channel"] != "web" {
			t.Fatalf("expected metadata to be stored, got %+v", got.Metadata)
		}
	})

	t.Run("OwnerReportsHolder", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()

		if _, err := store.Owner(ctx, "conv-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
		}
		if _, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory()}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		owner, err := store.Owner(ctx, "conv-1")
		if err != nil {
			t.Fatalf("Owner error: %v", err)
		}
		if owner != "alice" {
			t.Fatalf("Owner()=%q want alice", owner)
		}
		if err := store.Delete(ctx, "conv-1", "alice"); err != nil {
			t.Fatalf("Delete error: %v", err)
		}
		if _, err := store.Owner(ctx, "conv-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()
		in := SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory()}

		first, err := store.Save(ctx, in)
		if err != nil {
			t.Fatalf("first Save error: %v", err)
		}
		second, err := store.Save(ctx, in)
		if err != nil {
			t.Fatalf("second Save error: %v", err)
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Fatalf("expected created_at preserved, got %s then %s", first.CreatedAt, second.CreatedAt)
		}
		if !second.UpdatedAt.After(first.UpdatedAt) {
			t.Fatalf("expected updated_at to advance, got %s then %s", first.UpdatedAt, second.UpdatedAt)
		}

		got, err := store.Get(ctx, "conv-1", "alice")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if len(got.Messages) != len(in.Messages) {
			t.Fatalf("expected %d messages after repeated save, got %d", len(in.Messages), len(got.Messages))
		}
	})

	t.Run("SaveReplacesHistory", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()

		if _, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory()}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		replacement := []Message{UserPrompt("fresh start"), AssistantText("ok")}
		if _, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: replacement}); err != nil {
			t.Fatalf("Save replacement error: %v", err)
		}

		got, err := store.Get(ctx, "conv-1", "alice")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if len(got.Messages) != 2 || got.Messages[0].Text != "fresh start" {
			t.Fatalf("expected history to be replaced, got %+v", got.Messages)
		}
	})

	t.Run("OwnerIsolation", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()

		if _, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory()}); err != nil {
			t.Fatalf("Save error: %v", err)
		}

		if _, err := store.Get(ctx, "conv-1", "mallory"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for other owner, got %v", err)
		}
		if _, err := store.Get(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for missing id, got %v", err)
		}

		_, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "mallory", Messages: []Message{UserPrompt("hijack")}})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound when saving over another owner, got %v", err)
		}
		got, err := store.Get(ctx, "conv-1", "alice")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got.Messages[0].Text != "text Bob hello" {
			t.Fatalf("expected original history untouched, got %+v", got.Messages)
		}

		if err := store.Delete(ctx, "conv-1", "mallory"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound deleting another owner's conversation, got %v", err)
		}
		items, err := store.List(ctx, ListQuery{OwnerID: "mallory"})
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(items) != 0 {
			t.Fatalf("expected other owner to list nothing, got %+v", items)
		}
	})

	t.Run("ListNewestFirstWithPendingFilter", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()

		done := []Message{UserPrompt("hello"), AssistantText("hi")}
		for _, in := range []SaveInput{
			{ID: "a", AgentName: "ops", OwnerID: "alice", Messages: done},
			{ID: "b", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory()},
			{ID: "c", AgentName: "billing", OwnerID: "alice", Messages: done},
		} {
			if _, err := store.Save(ctx, in); err != nil {
				t.Fatalf("Save %s error: %v", in.ID, err)
			}
		}

		items, err := store.List(ctx, ListQuery{OwnerID: "alice"})
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(items) != 3 || items[0].ID != "c" || items[2].ID != "a" {
			t.Fatalf("expected newest first [c b a], got %+v", items)
		}

		items, err = store.List(ctx, ListQuery{OwnerID: "alice", AgentName: "ops"})
		if err != nil {
			t.Fatalf("List by agent error: %v", err)
		}
		if len(items) != 2 || items[0].ID != "b" {
			t.Fatalf("expected ops conversations [b a], got %+v", items)
		}

		items, err = store.List(ctx, ListQuery{OwnerID: "alice", PendingOnly: true})
		if err != nil {
			t.Fatalf("List pending error: %v", err)
		}
		if len(items) != 1 || items[0].ID != "b" || !items[0].Pending {
			t.Fatalf("expected only b pending, got %+v", items)
		}
		if items[0].Preview != "text Bob hello" || items[0].MessageCount != 2 {
			t.Fatalf("unexpected summary: %+v", items[0])
		}

		items, err = store.List(ctx, ListQuery{OwnerID: "alice", Limit: 1})
		if err != nil {
			t.Fatalf("List limit error: %v", err)
		}
		if len(items) != 1 || items[0].ID != "c" {
			t.Fatalf("expected limit to keep newest, got %+v", items)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()

		if _, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: sampleHistory()}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		if err := store.Delete(ctx, "conv-1", "alice"); err != nil {
			t.Fatalf("Delete error: %v", err)
		}
		if _, err := store.Get(ctx, "conv-1", "alice"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := store.Delete(ctx, "conv-1", "alice"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("BinaryResultsAreSanitized", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		ctx := context.Background()
		at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		msgs := []Message{
			UserPrompt("fetch the invoice"),
			ToolCall("c1", "fetch_invoice", nil),
			ToolReturn("c1", "fetch_invoice", []byte{0x25, 0x50, 0x44, 0x46, 0x00}, at),
		}

		if _, err := store.Save(ctx, SaveInput{ID: "conv-1", AgentName: "ops", OwnerID: "alice", Messages: msgs}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		got, err := store.Get(ctx, "conv-1", "alice")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got.Messages[2].Result != "<binary 5 bytes>" {
			t.Fatalf("expected binary placeholder, got %v", got.Messages[2].Result)
		}
	})

	t.Run("RejectsMissingOwner", func(t *testing.T) {
		store := newStore(t, newTestClock().Now)
		if _, err := store.Save(context.Background(), SaveInput{ID: "conv-1"}); err == nil {
			t.Fatal("expected missing owner to be rejected")
		}
	})
}
