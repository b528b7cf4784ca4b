package wallet

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceView is a ledger balance with its derived USD value.
type BalanceView struct {
	Currency  string
	Amount    decimal.Decimal
	USDValue  decimal.Decimal
	UpdatedAt time.Time
}

// Pricer quotes a currency in USD. ok is false for unknown currencies.
type Pricer interface {
	USDPrice(currency string) (price decimal.Decimal, ok bool)
}

// StaticPricer serves prices from a fixed table.
type StaticPricer map[string]decimal.Decimal

// DefaultPrices is the built-in quote table.
func DefaultPrices() StaticPricer {
	return StaticPricer{
		"BTC":  decimal.NewFromInt(40000),
		"ETH":  decimal.NewFromInt(2200),
		"USDT": decimal.NewFromInt(1),
		"USDC": decimal.NewFromInt(1),
		"BNB":  decimal.NewFromInt(300),
		"SOL":  decimal.NewFromInt(100),
		"XRP":  decimal.RequireFromString("0.6"),
		"LTC":  decimal.NewFromInt(70),
	}
}

func (p StaticPricer) USDPrice(currency string) (decimal.Decimal, bool) {
	price, ok := p[strings.ToUpper(currency)]
	return price, ok
}
