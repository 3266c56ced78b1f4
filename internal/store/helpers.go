package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// scanMessage scans a message row from sql.Rows. The column order must be
// guid, chat_id, text, subject, is_from_me, is_attachment, sent_at,
// delivered_at, read_at.
func scanMessage(rows *sql.Rows) (models.Message, error) {
	var m models.Message
	var text, subject sql.NullString
	var deliveredAt, readAt sql.NullTime
	err := rows.Scan(
		&m.GUID, &m.ChatID, &text, &subject, &m.IsFromMe, &m.IsAttachment,
		&m.SentAt, &deliveredAt, &readAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan message row failed: %w", err)
	}
	m.Text = text.String
	m.Subject = subject.String
	if deliveredAt.Valid {
		m.DeliveredAt = deliveredAt.Time
	}
	if readAt.Valid {
		m.ReadAt = readAt.Time
	}
	return m, nil
}

// scanMessageRow scans a message from a single sql.Row.
func scanMessageRow(row *sql.Row) (models.Message, error) {
	var m models.Message
	var text, subject sql.NullString
	var deliveredAt, readAt sql.NullTime
	err := row.Scan(
		&m.GUID, &m.ChatID, &text, &subject, &m.IsFromMe, &m.IsAttachment,
		&m.SentAt, &deliveredAt, &readAt,
	)
	if err != nil {
		return m, err
	}
	m.Text = text.String
	m.Subject = subject.String
	if deliveredAt.Valid {
		m.DeliveredAt = deliveredAt.Time
	}
	if readAt.Valid {
		m.ReadAt = readAt.Time
	}
	return m, nil
}

// collectMessages drains rows into a slice using scanMessage.
func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows failed: %w", err)
	}
	return messages, nil
}

// collectStrings drains a single-column string result set.
func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan string row failed: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate string rows failed: %w", err)
	}
	return values, nil
}
