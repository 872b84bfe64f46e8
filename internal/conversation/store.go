package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a conversation does not exist or belongs to
// another owner. Callers cannot tell the two apart.
var ErrNotFound = errors.New("conversation not found")

// StorageError wraps a failure of the underlying storage layer. Operations
// that fail with it are safe to retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("conversation store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Conversation is the persisted record of one conversation.
type Conversation struct {
	ID              string         `json:"id"`
	AgentName       string         `json:"agent_name"`
	OwnerID         string         `json:"owner_id"`
	Messages        []Message      `json:"messages"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	EstimatedTokens int            `json:"estimated_tokens"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Summary is the list view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	AgentName    string    `json:"agent_name"`
	Preview      string    `json:"preview"`
	Pending      bool      `json:"pending"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SaveInput carries a full replacement of a conversation. A nil Metadata
// keeps whatever metadata is already stored.
type SaveInput struct {
	ID              string
	AgentName       string
	OwnerID         string
	Messages        []Message
	Metadata        map[string]any
	EstimatedTokens int
}

// ListQuery filters List results.
type ListQuery struct {
	OwnerID     string
	AgentName   string
	Limit       int
	PendingOnly bool
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
	previewRunes     = 80
)

// Store persists conversations scoped by owner.
type Store interface {
	Get(ctx context.Context, id, ownerID string) (*Conversation, error)
	Save(ctx context.Context, in SaveInput) (*Conversation, error)
	List(ctx context.Context, q ListQuery) ([]Summary, error)
	Delete(ctx context.Context, id, ownerID string) error
	// Owner reports who holds id, or ErrNotFound when no conversation has
	// it. Callers must not pass the result on to other owners.
	Owner(ctx context.Context, id string) (string, error)
	Close() error
}

func (in SaveInput) validate() error {
	if strings.TrimSpace(in.ID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	for i, m := range in.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

func (q ListQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultListLimit
	case q.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return q.Limit
	}
}

// Summarize builds the list view of c.
func Summarize(c *Conversation) Summary {
	return Summary{
		ID:           c.ID,
		AgentName:    c.AgentName,
		Preview:      preview(c.Messages),
		Pending:      len(PendingApprovals(c.Messages)) > 0,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func preview(msgs []Message) string {
	for _, m := range msgs {
		if m.Kind != KindUserPrompt {
			continue
		}
		text := strings.Join(strings.Fields(m.Text), " ")
		if utf8.RuneCountInString(text) <= previewRunes {
			return text
		}
		runes := []rune(text)
		return string(runes[:previewRunes]) + "..."
	}
	return ""
}

// filterPending keeps only summaries with pending approvals when asked to.
func filterPending(items []Summary, pendingOnly bool) []Summary {
	if !pendingOnly {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.Pending {
			out = append(out, item)
		}
	}
	return out
}
