// Package store provides read-only access to the external message store.
//
// The message store belongs to the external messaging application;
// MessagePipe only polls it. Listeners receive a MessageSource handle by
// injection so they can be tested against fakes, and the SQL adapters here
// never issue writes.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// MessageSource is the query capability injected into each listener.
type MessageSource interface {
	// NewMessagesSince returns message rows whose sent timestamp is strictly
	// greater than since, in ascending sent order.
	NewMessagesSince(ctx context.Context, since time.Time) ([]models.Message, error)

	// UpdatedMessagesSince returns message rows whose delivery or read
	// timestamp was populated after since, in ascending sent order.
	UpdatedMessagesSince(ctx context.Context, since time.Time) ([]models.Message, error)

	// ChatsUpdatedSince returns the IDs of chats touched after since.
	ChatsUpdatedSince(ctx context.Context, since time.Time) ([]string, error)

	// ChatSnapshot returns the current structural state of a chat.
	ChatSnapshot(ctx context.Context, chatID string) (*models.ChatSnapshot, error)

	// MessageByGUID returns the row with the given store identity, or nil if
	// no such row exists yet.
	MessageByGUID(ctx context.Context, guid string) (*models.Message, error)
}

// Opts holds configuration options for store adapters.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store adapters.
type Option func(*Opts)

// WithDSN sets the message store connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite" so callers can
// pick the matching adapter. Anything that does not look like a PostgreSQL
// connection string is treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	// Keyword/value form, e.g. "host=localhost user=bridge dbname=messages"
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// NewMessageSource opens the adapter matching the DSN type.
func NewMessageSource(opts ...Option) (MessageSource, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, models.ErrStoreNotConfigured
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresSource(opts...)
	}
	return NewSQLiteSource(opts...)
}
