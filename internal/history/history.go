package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ErrInvalidEntry is returned when a reading cannot be recorded.
var ErrInvalidEntry = errors.New("history: invalid entry")

// Entry is one published mapping as stored in the database.
type Entry struct {
	ID int64 `json:"id"`

	// Topic is the MQTT topic the mapping was published on.
	Topic string `json:"topic"`

	// Readings is the published variable name to value mapping.
	Readings map[string]float64 `json:"readings"`

	// CreatedAt is when the mapping was recorded (UTC, second precision).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores published readings in the reading_history table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository on an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record stores one published payload.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - topic: Topic the payload was published on
//   - payload: JSON object of variable name to number
//
// Returns:
//   - error: ErrInvalidEntry for an empty topic or a non-JSON payload,
//     otherwise the underlying database error
func (r *Repository) Record(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidEntry)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEntry)
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO reading_history (topic, readings) VALUES (?, ?)",
		topic,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting reading history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a topic, newest first.
// limit defaults to 50 and is clamped to 500.
func (r *Repository) GetHistory(ctx context.Context, topic string, limit int) ([]Entry, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidEntry)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, topic, readings, created_at
		 FROM reading_history
		 WHERE topic = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		topic,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying reading history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var readings, createdAt string

		if err := rows.Scan(&entry.ID, &entry.Topic, &readings, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reading history: %w", err)
		}
		if err := json.Unmarshal([]byte(readings), &entry.Readings); err != nil {
			return nil, fmt.Errorf("unmarshalling readings: %w", err)
		}
		entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reading history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM reading_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting reading history: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return removed, nil
}
