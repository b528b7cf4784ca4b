package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// MemoryRepository keeps balances and transactions in maps. It performs no
// locking of its own: the in-memory unit of work serializes access and swaps
// clones in on commit.
type MemoryRepository struct {
	balances     map[string]Balance
	transactions []Transaction
}

// NewMemoryRepository creates an empty in-memory ledger repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{balances: make(map[string]Balance)}
}

// Clone returns a copy used as the working set of a unit of work. The
// transaction log is append-only, so the clone shares it behind a capped
// slice and the first append reallocates.
func (r *MemoryRepository) Clone() *MemoryRepository {
	n := len(r.transactions)
	out := &MemoryRepository{
		balances:     make(map[string]Balance, len(r.balances)),
		transactions: r.transactions[:n:n],
	}
	for k, v := range r.balances {
		out.balances[k] = v
	}
	return out
}

func balanceKey(userID, currency string) string {
	return userID + "|" + currency
}

func (r *MemoryRepository) LockBalance(_ context.Context, userID, currency string) (Balance, error) {
	if b, ok := r.balances[balanceKey(userID, currency)]; ok {
		return b, nil
	}
	return Balance{UserID: userID, Currency: currency, Amount: decimal.Zero}, nil
}

func (r *MemoryRepository) SaveBalance(_ context.Context, balance Balance) error {
	r.balances[balanceKey(balance.UserID, balance.Currency)] = balance
	return nil
}

func (r *MemoryRepository) AppendTransaction(_ context.Context, tx Transaction) error {
	r.transactions = append(r.transactions, tx)
	return nil
}

func (r *MemoryRepository) Balances(_ context.Context, userID string) ([]Balance, error) {
	var out []Balance
	for _, b := range r.balances {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (r *MemoryRepository) Transactions(_ context.Context, userID string, limit int) ([]Transaction, error) {
	var out []Transaction
	for i := len(r.transactions) - 1; i >= 0; i-- {
		tx := r.transactions[i]
		if tx.UserID != userID {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) TransactionTotals(_ context.Context, userID string) (map[string]decimal.Decimal, error) {
	totals := make(map[string]decimal.Decimal)
	for _, tx := range r.transactions {
		if tx.UserID == userID {
			totals[tx.Currency] = totals[tx.Currency].Add(tx.Amount)
		}
	}
	return totals, nil
}
