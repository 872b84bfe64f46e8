package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	fileStoreVersion  = 1
	conversationMode  = 0o600
	conversationsMode = 0o755
)

type fileRecord struct {
	Version int `json:"version"`
	Conversation
}

// FileStore keeps one JSON document per conversation under a directory.
// It suits single-user CLI setups; List reads every document.
type FileStore struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) pathFor(id string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(id))+".json")
}

// Get loads a conversation owned by ownerID.
func (s *FileStore) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(s.pathFor(id))
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &rec.Conversation, nil
}

// Save replaces or inserts the document.
func (s *FileStore) Save(ctx context.Context, in SaveInput) (*Conversation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(in.ID)
	now := s.now().UTC()
	conv := Conversation{
		ID:              in.ID,
		AgentName:       in.AgentName,
		OwnerID:         in.OwnerID,
		Metadata:        in.Metadata,
		EstimatedTokens: in.EstimatedTokens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	existing, err := s.loadLocked(path)
	switch {
	case err == nil:
		if existing.OwnerID != in.OwnerID {
			return nil, ErrNotFound
		}
		conv.CreatedAt = existing.CreatedAt
		if conv.Metadata == nil {
			conv.Metadata = existing.Metadata
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	// Round-trip through the codec so the stored form is sanitized.
	encodedMsgs, err := EncodeMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	if conv.Messages, err = DecodeMessages(encodedMsgs); err != nil {
		return nil, err
	}
	if conv.Metadata != nil {
		conv.Metadata = sanitizeMap(conv.Metadata)
	}

	if err := s.writeLocked(path, fileRecord{Version: fileStoreVersion, Conversation: conv}); err != nil {
		return nil, storageError("save", err)
	}
	return &conv, nil
}

// List returns the owner's conversations, most recently updated first.
func (s *FileStore) List(ctx context.Context, q ListQuery) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, storageError("list", err)
	}

	agent := strings.TrimSpace(q.AgentName)
	var convs []*Conversation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.loadLocked(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if rec.OwnerID != q.OwnerID || (agent != "" && rec.AgentName != agent) {
			continue
		}
		convs = append(convs, &rec.Conversation)
	}

	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})
	if limit := q.limit(); len(convs) > limit {
		convs = convs[:limit]
	}

	items := make([]Summary, 0, len(convs))
	for _, c := range convs {
		items = append(items, Summarize(c))
	}
	return filterPending(items, q.PendingOnly), nil
}

// Delete removes a conversation owned by ownerID.
func (s *FileStore) Delete(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(id)
	rec, err := s.loadLocked(path)
	if err != nil {
		return err
	}
	if rec.OwnerID != ownerID {
		return ErrNotFound
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return storageError("delete", err)
	}
	return nil
}

// Owner reports the owner of id.
func (s *FileStore) Owner(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(s.pathFor(id))
	if err != nil {
		return "", err
	}
	return rec.OwnerID, nil
}

func (s *FileStore) loadLocked(path string) (*fileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, storageError("read", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, storageError("read", fmt.Errorf("parse %s: %w", filepath.Base(path), err))
	}
	for i, m := range rec.Messages {
		if err := m.Validate(); err != nil {
			return nil, storageError("read", fmt.Errorf("message %d: %w", i, err))
		}
	}
	if rec.Messages == nil {
		rec.Messages = []Message{}
	}
	return &rec, nil
}

func (s *FileStore) writeLocked(path string, rec fileRecord) error {
	encoded, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := os.MkdirAll(s.dir, conversationsMode); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "conversation-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp conversation file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp conversation file: %w", err)
	}
	if err := tmpFile.Chmod(conversationMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp conversation file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp conversation file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("replace conversation file: rename failed (%v), remove failed (%v)", err, removeErr)
		}
		if retryErr := os.Rename(tmpPath, path); retryErr != nil {
			return fmt.Errorf("replace conversation file after remove: %w", retryErr)
		}
	}
	return nil
}
