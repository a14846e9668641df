// Package persistence owns the durable side of the venue: the append-only
// event log in Postgres, schema migrations, and state snapshots used for
// restart recovery.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"PerpClear/internal/engine"
)

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence  int64
	EventID   uuid.UUID
	EventType string
	MarketID  *string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// RowFromOutput converts a committed engine output into its event-log row.
func RowFromOutput(out engine.Output) (EventRow, error) {
	env := out.Envelope
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal event payload: %w", err)
	}

	var marketID *string
	if env.MarketID != "" {
		s := env.MarketID
		marketID = &s
	}

	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID,
		EventType: env.Type.String(),
		MarketID:  marketID,
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// EventLogWriter appends event rows using multi-row INSERT. Inserts are
// idempotent on sequence, so a retried batch after a partial failure never
// duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch appends a batch of rows inside the given transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_id, event_type, market_id, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)

	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			r.Sequence, r.EventID, r.EventType, r.MarketID, r.Payload, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest sequence in the event log, 0 when empty.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
