package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpeak/exchange-core/internal/types"
)

// Quote is the latest traded price for a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
}

// Source provides the latest traded price for a symbol. Calls must honour the
// context deadline; a missing or stale symbol fails with ErrSymbolUnavailable.
type Source interface {
	GetLatestPrice(ctx context.Context, symbol string) (*Quote, error)
}

// HTTPSource fetches quotes from an upstream ticker service over REST.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource builds a source against baseURL with a bounded per-call
// timeout. The timeout caps every call even when the caller's context has no
// deadline of its own.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) GetLatestPrice(ctx context.Context, symbol string) (*Quote, error) {
	reqURL := fmt.Sprintf("%s/price?symbol=%s", s.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticker request for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no recent price for %s: %w", symbol, types.ErrSymbolUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticker returned status %d for %s", resp.StatusCode, symbol)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("decoding quote for %s: %w", symbol, err)
	}
	if quote.Symbol == "" {
		quote.Symbol = symbol
	}
	return &quote, nil
}
