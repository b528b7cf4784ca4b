package trade

import (
	"context"
	"fmt"
	"sort"

	"github.com/congo-pay/p2p_market/internal/apperr"
)

// MemoryRepository stores trades in a map; see store.Memory for locking.
type MemoryRepository struct {
	trades map[string]Trade
}

// NewMemoryRepository constructs an empty in-memory trade repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{trades: make(map[string]Trade)}
}

// Clone returns an independent copy.
func (r *MemoryRepository) Clone() *MemoryRepository {
	out := &MemoryRepository{trades: make(map[string]Trade, len(r.trades))}
	for k, v := range r.trades {
		out.trades[k] = v
	}
	return out
}

func (r *MemoryRepository) Insert(_ context.Context, t Trade) error {
	if _, exists := r.trades[t.ID]; exists {
		return fmt.Errorf("trade %s already exists", t.ID)
	}
	r.trades[t.ID] = t
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Trade, error) {
	t, ok := r.trades[id]
	if !ok {
		return Trade{}, fmt.Errorf("trade %s: %w", id, apperr.ErrNotFound)
	}
	return t, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (Trade, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) Update(_ context.Context, t Trade, expected Status) error {
	stored, ok := r.trades[t.ID]
	if !ok {
		return fmt.Errorf("trade %s: %w", t.ID, apperr.ErrNotFound)
	}
	if stored.Status != expected {
		return ErrStaleState
	}
	r.trades[t.ID] = t
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Trade, error) {
	var out []Trade
	for _, t := range r.trades {
		if f.matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
