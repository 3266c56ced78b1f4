// Package store provides read-only access to the external message store.
//
// This file implements the SQLite adapter, the common case where MessagePipe
// runs next to the messaging application and polls its database file
// directly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSource polls a SQLite message database.
type SQLiteSource struct {
	db  *sql.DB
	dsn string
}

// NewSQLiteSource opens the SQLite message database at the DSN path. The
// database belongs to the messaging application; it is opened for reading
// only and never migrated.
func NewSQLiteSource(opts ...Option) (*SQLiteSource, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("SQLiteSource DSN not set")
		return nil, models.ErrStoreNotConfigured
	}

	slog.Debug("Opening SQLite message store", "dsn_set", cfg.DSN != "")
	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite message store", "error", err)
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite message store ping failed", "error", err)
		return nil, fmt.Errorf("message store unreachable: %w", err)
	}
	slog.Debug("SQLite message store opened")
	return &SQLiteSource{db: db, dsn: cfg.DSN}, nil
}

// Path returns the database file path, used by the poll accelerator to watch
// for file changes.
func (s *SQLiteSource) Path() string {
	return s.dsn
}

// NewMessagesSince returns rows whose sent timestamp is strictly greater
// than since, ascending.
func (s *SQLiteSource) NewMessagesSince(ctx context.Context, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guid, chat_id, text, subject, is_from_me, is_attachment, sent_at, delivered_at, read_at
		FROM message WHERE sent_at > ? ORDER BY sent_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("query new messages failed: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return s.attachTransferNames(ctx, messages)
}

// UpdatedMessagesSince returns rows whose delivery or read timestamp was
// populated after since, ascending by sent time.
func (s *SQLiteSource) UpdatedMessagesSince(ctx context.Context, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guid, chat_id, text, subject, is_from_me, is_attachment, sent_at, delivered_at, read_at
		FROM message WHERE delivered_at > ? OR read_at > ? ORDER BY sent_at ASC`, since, since)
	if err != nil {
		return nil, fmt.Errorf("query updated messages failed: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return s.attachTransferNames(ctx, messages)
}

// ChatsUpdatedSince returns the IDs of chats touched after since.
func (s *SQLiteSource) ChatsUpdatedSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chat WHERE updated_at > ?`, since)
	if err != nil {
		return nil, fmt.Errorf("query updated chats failed: %w", err)
	}
	return collectStrings(rows)
}

// ChatSnapshot returns the current title, participant set, and last actor
// attribution for a chat.
func (s *SQLiteSource) ChatSnapshot(ctx context.Context, chatID string) (*models.ChatSnapshot, error) {
	snapshot := &models.ChatSnapshot{ChatID: chatID}
	var title, actor sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT title, last_actor FROM chat WHERE chat_id = ?`, chatID).Scan(&title, &actor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chat snapshot failed: %w", err)
	}
	snapshot.Title = title.String
	snapshot.Actor = actor.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT participant FROM chat_participant WHERE chat_id = ? ORDER BY participant ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query chat participants failed: %w", err)
	}
	participants, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}
	snapshot.Participants = participants
	return snapshot, nil
}

// MessageByGUID returns the row with the given store identity, or nil if the
// row has not appeared yet.
func (s *SQLiteSource) MessageByGUID(ctx context.Context, guid string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guid, chat_id, text, subject, is_from_me, is_attachment, sent_at, delivered_at, read_at
		FROM message WHERE guid = ?`, guid)
	m, err := scanMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query message by guid failed: %w", err)
	}
	messages, err := s.attachTransferNames(ctx, []models.Message{m})
	if err != nil {
		return nil, err
	}
	return &messages[0], nil
}

// attachTransferNames loads attachment transfer names for each message that
// carries attachments.
func (s *SQLiteSource) attachTransferNames(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	for i := range messages {
		if !messages[i].IsAttachment {
			continue
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT transfer_name FROM attachment WHERE message_guid = ? ORDER BY transfer_name ASC`, messages[i].GUID)
		if err != nil {
			return nil, fmt.Errorf("query transfer names failed: %w", err)
		}
		names, err := collectStrings(rows)
		if err != nil {
			return nil, err
		}
		messages[i].TransferNames = names
	}
	return messages, nil
}

// Close closes the SQLite connection.
func (s *SQLiteSource) Close() error {
	slog.Debug("Closing SQLite message store")
	return s.db.Close()
}
