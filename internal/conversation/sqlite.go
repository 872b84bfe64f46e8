package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	messages_json TEXT NOT NULL,
	metadata_json TEXT,
	estimated_tokens INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated
	ON conversations(owner_id, agent_name, updated_at);
`

const (
	sqliteBusyAttempts  = 3
	sqliteBusyBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get loads a conversation owned by ownerID.
func (s *SQLiteStore) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	const query = `
		SELECT id, owner_id, agent_name, messages_json, metadata_json,
		       estimated_tokens, created_at, updated_at
		FROM conversations WHERE id = ? AND owner_id = ?`

	var conv *Conversation
	err := s.withBusyRetry(ctx, "get", func() error {
		row := s.db.QueryRowContext(ctx, query, id, ownerID)
		c, err := scanConversation(row)
		if err != nil {
			return err
		}
		conv = c
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("get", err)
	}
	return conv, nil
}

// Save replaces the stored record or inserts a new one. A record owned by
// someone else is left alone and ErrNotFound is returned.
func (s *SQLiteStore) Save(ctx context.Context, in SaveInput) (*Conversation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	messagesJSON, err := EncodeMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	var metadataJSON sql.NullString
	if in.Metadata != nil {
		encoded, err := json.Marshal(sanitizeMap(in.Metadata))
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	const query = `
		INSERT INTO conversations (
			id, owner_id, agent_name, messages_json, metadata_json,
			estimated_tokens, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_name = excluded.agent_name,
			messages_json = excluded.messages_json,
			metadata_json = COALESCE(excluded.metadata_json, conversations.metadata_json),
			estimated_tokens = excluded.estimated_tokens,
			updated_at = excluded.updated_at
		WHERE conversations.owner_id = excluded.owner_id
		RETURNING created_at, metadata_json`

	now := s.now().UTC()
	var createdAt int64
	var storedMeta sql.NullString
	err = s.withBusyRetry(ctx, "save", func() error {
		return s.db.QueryRowContext(ctx, query,
			in.ID, in.OwnerID, in.AgentName, string(messagesJSON), metadataJSON,
			in.EstimatedTokens, now.UnixNano(), now.UnixNano(),
		).Scan(&createdAt, &storedMeta)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("save", err)
	}

	conv := &Conversation{
		ID:              in.ID,
		AgentName:       in.AgentName,
		OwnerID:         in.OwnerID,
		Messages:        CloneMessages(in.Messages),
		EstimatedTokens: in.EstimatedTokens,
		CreatedAt:       time.Unix(0, createdAt).UTC(),
		UpdatedAt:       now,
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	if storedMeta.Valid {
		if err := json.Unmarshal([]byte(storedMeta.String), &conv.Metadata); err != nil {
			return nil, storageError("save", fmt.Errorf("decode metadata: %w", err))
		}
	}
	return conv, nil
}

// List returns the owner's conversations, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, q ListQuery) ([]Summary, error) {
	query := `
		SELECT id, owner_id, agent_name, messages_json, metadata_json,
		       estimated_tokens, created_at, updated_at
		FROM conversations WHERE owner_id = ?`
	args := []any{q.OwnerID}
	if agent := strings.TrimSpace(q.AgentName); agent != "" {
		query += ` AND agent_name = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, q.limit())

	var items []Summary
	err := s.withBusyRetry(ctx, "list", func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		items = items[:0]
		for rows.Next() {
			conv, err := scanConversation(rows)
			if err != nil {
				return err
			}
			items = append(items, Summarize(conv))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storageError("list", err)
	}
	return filterPending(items, q.PendingOnly), nil
}

// Delete removes a conversation owned by ownerID.
func (s *SQLiteStore) Delete(ctx context.Context, id, ownerID string) error {
	var affected int64
	err := s.withBusyRetry(ctx, "delete", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND owner_id = ?`, id, ownerID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return storageError("delete", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Owner reports the owner of id.
func (s *SQLiteStore) Owner(ctx context.Context, id string) (string, error) {
	var owner string
	err := s.withBusyRetry(ctx, "owner", func() error {
		return s.db.QueryRowContext(ctx, `SELECT owner_id FROM conversations WHERE id = ?`, id).Scan(&owner)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageError("owner", err)
	}
	return owner, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv                 Conversation
		messagesJSON         string
		metadataJSON         sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&conv.ID, &conv.OwnerID, &conv.AgentName, &messagesJSON, &metadataJSON,
		&conv.EstimatedTokens, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	msgs, err := DecodeMessages([]byte(messagesJSON))
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &conv.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	conv.CreatedAt = time.Unix(0, createdAt).UTC()
	conv.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &conv, nil
}

// withBusyRetry retries fn with exponential backoff while SQLite reports
// the database as locked.
func (s *SQLiteStore) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < sqliteBusyAttempts; i++ {
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}
		if i == sqliteBusyAttempts-1 {
			break
		}
		delay := sqliteBusyBaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
