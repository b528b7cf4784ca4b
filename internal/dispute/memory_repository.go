package dispute

import (
	"context"
	"fmt"
	"sort"

	"github.com/congo-pay/p2p_market/internal/apperr"
)

// MemoryRepository keeps disputes in memory for tests and development.
type MemoryRepository struct {
	disputes map[string]Dispute
	notes    map[string][]AdminNote
}

// NewMemoryRepository builds an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		disputes: make(map[string]Dispute),
		notes:    make(map[string][]AdminNote),
	}
}

// Clone returns an independent copy.
func (r *MemoryRepository) Clone() *MemoryRepository {
	out := NewMemoryRepository()
	for k, v := range r.disputes {
		out.disputes[k] = v
	}
	for k, v := range r.notes {
		out.notes[k] = append([]AdminNote(nil), v...)
	}
	return out
}

func (r *MemoryRepository) Insert(_ context.Context, d Dispute) error {
	for _, existing := range r.disputes {
		if existing.TradeID == d.TradeID {
			return ErrDuplicateDispute
		}
	}
	r.disputes[d.ID] = d
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Dispute, error) {
	d, ok := r.disputes[id]
	if !ok {
		return Dispute{}, fmt.Errorf("dispute: %w", apperr.ErrNotFound)
	}
	return d, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (Dispute, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) GetByTrade(_ context.Context, tradeID string) (Dispute, error) {
	for _, d := range r.disputes {
		if d.TradeID == tradeID {
			return d, nil
		}
	}
	return Dispute{}, fmt.Errorf("dispute: %w", apperr.ErrNotFound)
}

func (r *MemoryRepository) Update(_ context.Context, d Dispute) error {
	if _, ok := r.disputes[d.ID]; !ok {
		return fmt.Errorf("dispute: %w", apperr.ErrNotFound)
	}
	r.disputes[d.ID] = d
	return nil
}

func (r *MemoryRepository) List(_ context.Context, status Status) ([]Dispute, error) {
	var out []Dispute
	for _, d := range r.disputes {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) AppendNote(_ context.Context, note AdminNote) error {
	if _, ok := r.disputes[note.DisputeID]; !ok {
		return fmt.Errorf("dispute: %w", apperr.ErrNotFound)
	}
	r.notes[note.DisputeID] = append(r.notes[note.DisputeID], note)
	return nil
}

func (r *MemoryRepository) Notes(_ context.Context, disputeID string) ([]AdminNote, error) {
	return append([]AdminNote(nil), r.notes[disputeID]...), nil
}
