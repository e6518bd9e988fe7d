package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryTradeStore is an in-memory TradeStore used in tests and dry-run
// tooling. Semantics mirror the Postgres store: upserts are last-write-wins
// and listings are ordered oldest first.
type MemoryTradeStore struct {
	mu     sync.RWMutex
	trades map[string]*Trade
}

// NewMemoryTradeStore creates an empty in-memory store.
func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{trades: make(map[string]*Trade)}
}

// ListByStatus returns copies of all trades with the given status.
func (s *MemoryTradeStore) ListByStatus(ctx context.Context, status string) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []*Trade
	for _, t := range s.trades {
		if t.Status == status {
			cp := *t
			trades = append(trades, &cp)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].CreatedAt.Equal(trades[j].CreatedAt) {
			return trades[i].ID < trades[j].ID
		}
		return trades[i].CreatedAt.Before(trades[j].CreatedAt)
	})
	return trades, nil
}

// Get returns a copy of the trade with the given id.
func (s *MemoryTradeStore) Get(ctx context.Context, id string) (*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

// Save upserts a copy of the trade.
func (s *MemoryTradeStore) Save(ctx context.Context, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.UpdatedAt = time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

var _ TradeStore = (*MemoryTradeStore)(nil)
