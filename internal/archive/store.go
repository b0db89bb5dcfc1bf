// Package archive persists finished meetings in PostgreSQL so transcripts
// survive beyond the JSON log files and can be served over the API.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/aideepspeak/pkg/models"
)

// schemaStatements bootstrap the archive tables. Every statement is
// idempotent, so EnsureSchema can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meetings (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  topic TEXT NOT NULL DEFAULT '',
  setup JSONB NOT NULL,
  transcript JSONB NOT NULL,
  turn_count INTEGER NOT NULL DEFAULT 0,
  termination_reason TEXT NOT NULL DEFAULT '',
  total_tokens INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_created_at ON meetings (created_at DESC)`,
}

// MeetingSummary is one row of a meeting listing, without the transcript
// and setup payloads.
type MeetingSummary struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	Topic             string    `json:"topic" db:"topic"`
	TurnCount         int       `json:"turn_count" db:"turn_count"`
	TerminationReason string    `json:"termination_reason" db:"termination_reason"`
	TotalTokens       int       `json:"total_tokens" db:"total_tokens"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Store handles database operations for archived meetings
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, verifies the connection and returns a store.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing connection, for callers that manage the pool
// themselves.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection, for collaborators that need their
// own handle on the same database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the archive tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply archive schema: %w", err)
		}
	}
	return nil
}

// SaveMeeting stores a finished meeting. Saving the same meeting id again
// replaces the stored record, so re-running a setup updates its archive
// entry instead of duplicating it.
func (s *Store) SaveMeeting(ctx context.Context, record models.MeetingRecord) error {
	if record.ID == "" {
		record.ID = record.Transcript.ConversationID
	}
	if record.ID == "" {
		return fmt.Errorf("meeting record has no id")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	setupJSON, err := json.Marshal(record.Setup)
	if err != nil {
		return fmt.Errorf("failed to encode setup: %w", err)
	}
	transcriptJSON, err := json.Marshal(record.Transcript)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	query := `
		INSERT INTO meetings (id, name, topic, setup, transcript, turn_count, termination_reason, total_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			topic = EXCLUDED.topic,
			setup = EXCLUDED.setup,
			transcript = EXCLUDED.transcript,
			turn_count = EXCLUDED.turn_count,
			termination_reason = EXCLUDED.termination_reason,
			total_tokens = EXCLUDED.total_tokens
	`

	_, err = s.db.ExecContext(
		ctx, query,
		record.ID,
		record.Name,
		record.Setup.Topic,
		setupJSON,
		transcriptJSON,
		record.Transcript.Summary.TotalTurns,
		record.Transcript.Summary.TerminationReason,
		record.Transcript.Summary.TotalUsage.TotalTokens,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save meeting: %w", err)
	}

	return nil
}

// GetMeeting loads one archived meeting by id. A missing id returns
// (nil, nil).
func (s *Store) GetMeeting(ctx context.Context, id string) (*models.MeetingRecord, error) {
	query := `
		SELECT id, name, setup, transcript, created_at
		FROM meetings
		WHERE id = $1
	`

	record := &models.MeetingRecord{}
	var setupJSON, transcriptJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.Name,
		&setupJSON,
		&transcriptJSON,
		&record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}

	if err := json.Unmarshal(setupJSON, &record.Setup); err != nil {
		return nil, fmt.Errorf("failed to decode stored setup: %w", err)
	}
	if err := json.Unmarshal(transcriptJSON, &record.Transcript); err != nil {
		return nil, fmt.Errorf("failed to decode stored transcript: %w", err)
	}

	return record, nil
}

// ListMeetings returns the most recent meetings, newest first.
func (s *Store) ListMeetings(ctx context.Context, limit int) ([]MeetingSummary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, name, topic, turn_count, termination_reason, total_tokens, created_at
		FROM meetings
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	meetings := make([]MeetingSummary, 0)
	for rows.Next() {
		var m MeetingSummary
		err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.Topic,
			&m.TurnCount,
			&m.TerminationReason,
			&m.TotalTokens,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting row: %w", err)
		}
		meetings = append(meetings, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meetings: %w", err)
	}

	return meetings, nil
}

// DeleteMeeting removes one archived meeting. Deleting an unknown id is
// not an error.
func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	return nil
}

// CountByTerminationReason returns how many archived meetings ended for
// each reason.
func (s *Store) CountByTerminationReason(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT termination_reason, COUNT(*) AS count
		FROM meetings
		GROUP BY termination_reason
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count meetings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan meeting count: %w", err)
		}
		counts[reason] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meeting counts: %w", err)
	}

	return counts, nil
}
