package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrTradeNotFound is returned when a trade id has no record.
var ErrTradeNotFound = errors.New("trade not found")

// TradeStore is the persistence interface for candidate and managed trades.
// Writes are last-write-wins; callers that need authoritative broker state
// re-derive it from the broker instead of trusting a read.
type TradeStore interface {
	ListByStatus(ctx context.Context, status string) ([]*Trade, error)
	Get(ctx context.Context, id string) (*Trade, error)
	Save(ctx context.Context, t *Trade) error
}

// PostgresTradeStore implements TradeStore on the trades table.
type PostgresTradeStore struct {
	db *DB
}

// NewPostgresTradeStore creates a trade store backed by the given pool.
func NewPostgresTradeStore(db *DB) *PostgresTradeStore {
	return &PostgresTradeStore{db: db}
}

const tradeColumns = `id, ticker, side, entry_price, stop_price, initial_stop, take_profit, quantity,
	score, grade, status, created_at, scored_at, session_date, session_tag,
	rescore_attempted, stop_order_id, partials_taken,
	last_rescue_at, last_rescue_status, last_stop_sync_at, last_stop_sync_status, updated_at`

// ListByStatus returns all trades with the given status, oldest first.
func (s *PostgresTradeStore) ListByStatus(ctx context.Context, status string) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = $1 ORDER BY created_at ASC`

	rows, err := s.db.Pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(
			&t.ID, &t.Ticker, &t.Side, &t.EntryPrice, &t.StopPrice, &t.InitialStop, &t.TakeProfit, &t.Quantity,
			&t.Score, &t.Grade, &t.Status, &t.CreatedAt, &t.ScoredAt, &t.SessionDate, &t.SessionTag,
			&t.RescoreAttempted, &t.StopOrderID, &t.PartialsTaken,
			&t.LastRescueAt, &t.LastRescueStatus, &t.LastStopSyncAt, &t.LastStopSyncStatus, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Get returns a single trade by id.
func (s *PostgresTradeStore) Get(ctx context.Context, id string) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`

	t := &Trade{}
	err := s.db.Pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Ticker, &t.Side, &t.EntryPrice, &t.StopPrice, &t.InitialStop, &t.TakeProfit, &t.Quantity,
		&t.Score, &t.Grade, &t.Status, &t.CreatedAt, &t.ScoredAt, &t.SessionDate, &t.SessionTag,
		&t.RescoreAttempted, &t.StopOrderID, &t.PartialsTaken,
		&t.LastRescueAt, &t.LastRescueStatus, &t.LastStopSyncAt, &t.LastStopSyncStatus, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("failed to get trade %s: %w", id, err)
	}
	return t, nil
}

// Save upserts a trade record. Last write wins.
func (s *PostgresTradeStore) Save(ctx context.Context, t *Trade) error {
	t.UpdatedAt = time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}

	query := `INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (id) DO UPDATE SET
			ticker = EXCLUDED.ticker,
			side = EXCLUDED.side,
			entry_price = EXCLUDED.entry_price,
			stop_price = EXCLUDED.stop_price,
			initial_stop = EXCLUDED.initial_stop,
			take_profit = EXCLUDED.take_profit,
			quantity = EXCLUDED.quantity,
			score = EXCLUDED.score,
			grade = EXCLUDED.grade,
			status = EXCLUDED.status,
			scored_at = EXCLUDED.scored_at,
			session_date = EXCLUDED.session_date,
			session_tag = EXCLUDED.session_tag,
			rescore_attempted = EXCLUDED.rescore_attempted,
			stop_order_id = EXCLUDED.stop_order_id,
			partials_taken = EXCLUDED.partials_taken,
			last_rescue_at = EXCLUDED.last_rescue_at,
			last_rescue_status = EXCLUDED.last_rescue_status,
			last_stop_sync_at = EXCLUDED.last_stop_sync_at,
			last_stop_sync_status = EXCLUDED.last_stop_sync_status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Pool.Exec(ctx, query,
		t.ID, t.Ticker, t.Side, t.EntryPrice, t.StopPrice, t.InitialStop, t.TakeProfit, t.Quantity,
		t.Score, t.Grade, t.Status, t.CreatedAt, t.ScoredAt, t.SessionDate, t.SessionTag,
		t.RescoreAttempted, t.StopOrderID, t.PartialsTaken,
		t.LastRescueAt, t.LastRescueStatus, t.LastStopSyncAt, t.LastStopSyncStatus, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", t.ID, err)
	}
	return nil
}

var _ TradeStore = (*PostgresTradeStore)(nil)
