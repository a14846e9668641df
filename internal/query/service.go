// Package query serves read-only history from the durable event log. Live
// risk figures (margin ratios, notionals, liquidatability) come from the
// engine's read API, not from here; this package answers "what happened",
// with freshness expressed through as_of_sequence.
package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1_000
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// AccountHistory returns the account's events newest-first, optionally
// filtered by market and event type. before is an exclusive sequence cursor;
// zero starts from the newest event.
func (s *Service) AccountHistory(ctx context.Context, account uuid.UUID, marketID, eventType string, before int64, limit int) (*HistoryPage, error) {
	query := `
		SELECT sequence, event_id, event_type, market_id, payload, timestamp
		FROM event_log.events
		WHERE payload->>'account' = $1
	`
	args := []interface{}{account.String()}
	argIdx := 2

	if marketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, marketID)
		argIdx++
	}
	if eventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, eventType)
		argIdx++
	}
	return s.page(ctx, query, args, argIdx, before, limit)
}

// MarketHistory returns a market's events newest-first, optionally filtered
// by event type.
func (s *Service) MarketHistory(ctx context.Context, marketID, eventType string, before int64, limit int) (*HistoryPage, error) {
	query := `
		SELECT sequence, event_id, event_type, market_id, payload, timestamp
		FROM event_log.events
		WHERE market_id = $1
	`
	args := []interface{}{marketID}
	argIdx := 2

	if eventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, eventType)
		argIdx++
	}
	return s.page(ctx, query, args, argIdx, before, limit)
}

// FundingHistory returns an account's funding settlements in a market,
// newest-first.
func (s *Service) FundingHistory(ctx context.Context, account uuid.UUID, marketID string, before int64, limit int) (*HistoryPage, error) {
	return s.AccountHistory(ctx, account, marketID, "FundingSettled", before, limit)
}

// Liquidations returns liquidations executed against the account.
func (s *Service) Liquidations(ctx context.Context, account uuid.UUID, before int64, limit int) (*HistoryPage, error) {
	return s.AccountHistory(ctx, account, "", "PositionLiquidated", before, limit)
}

// BadDebt returns recorded bad-debt events across the venue.
func (s *Service) BadDebt(ctx context.Context, before int64, limit int) (*HistoryPage, error) {
	query := `
		SELECT sequence, event_id, event_type, market_id, payload, timestamp
		FROM event_log.events
		WHERE event_type = 'BadDebtRecorded'
	`
	return s.page(ctx, query, nil, 1, before, limit)
}

// LatestSequence returns the highest durably written sequence.
func (s *Service) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// page finishes a filtered query with the cursor, ordering and limit, then
// scans the rows.
func (s *Service) page(ctx context.Context, query string, args []interface{}, argIdx int, before int64, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	asOf, err := s.LatestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	if before > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, before)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &HistoryPage{AsOfSequence: asOf}
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(
			&rec.Sequence, &rec.EventID, &rec.EventType,
			&rec.MarketID, &rec.Payload, &rec.Timestamp,
		); err != nil {
			return nil, err
		}
		page.Events = append(page.Events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Events) > limit {
		page.Events = page.Events[:limit]
		page.NextBefore = page.Events[limit-1].Sequence
	}
	return page, nil
}
