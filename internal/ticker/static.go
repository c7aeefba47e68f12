package ticker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpeak/exchange-core/internal/types"
)

// StaticSource serves prices from an in-memory table. Used by the simulation
// binary and by tests.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string]Quote)}
}

// SetPrice records the latest price for a symbol.
func (s *StaticSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = Quote{Symbol: symbol, Price: price, AsOf: time.Now()}
}

func (s *StaticSource) GetLatestPrice(_ context.Context, symbol string) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no recent price for %s: %w", symbol, types.ErrSymbolUnavailable)
	}
	return &quote, nil
}
