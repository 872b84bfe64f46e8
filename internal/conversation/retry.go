package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultGetAttempts   = 3
	DefaultGetRetryDelay = 50 * time.Millisecond
)

// retryingStore retries Get on ErrNotFound so a read racing a very recent
// write still finds the record.
type retryingStore struct {
	Store
	attempts int
	delay    time.Duration
}

// WithGetRetry wraps s so Get retries ErrNotFound up to attempts times,
// waiting delay between tries. Other operations pass through.
func WithGetRetry(s Store, attempts int, delay time.Duration) Store {
	if attempts <= 1 {
		return s
	}
	if delay < 0 {
		delay = 0
	}
	return &retryingStore{Store: s, attempts: attempts, delay: delay}
}

func (r *retryingStore) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		conv, err := r.Store.Get(ctx, id, ownerID)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return conv, err
		}
		lastErr = err
		if attempt == r.attempts || ctx.Err() != nil {
			break
		}
		slog.Debug("conversation not found, retrying", "conversation_id", id, "attempt", attempt)
		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
	return nil, lastErr
}
