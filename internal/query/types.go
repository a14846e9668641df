package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventRecord is one event-log row. Payload is the raw JSON event body.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	MarketID  *string         `json:"market_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// HistoryPage is a cursor-paginated slice of events. NextBefore is the cursor
// for the following page, zero when the page is the last one.
type HistoryPage struct {
	Events       []EventRecord `json:"events"`
	NextBefore   int64         `json:"next_before,omitempty"`
	AsOfSequence int64         `json:"as_of_sequence"`
}
