// Package exchange provides exchange implementations
package exchange

import (
	"fmt"
	"strings"

	"dca_trader/internal/config"
	"dca_trader/internal/core"
	"dca_trader/internal/exchange/binance"
	"dca_trader/internal/mock"

	"github.com/shopspring/decimal"
)

// NewExchange creates the exchange named in the configuration
func NewExchange(cfg *config.Config, logger core.ILogger) (core.IExchange, error) {
	switch strings.ToLower(cfg.App.Exchange) {
	case "binance":
		return binance.NewExchange(&cfg.Exchange, logger), nil
	case "mock":
		venue := mock.NewExchange(cfg.Exchange.QuoteAsset, decimal.NewFromFloat(cfg.Exchange.MinOrderValue), logger)
		venue.SetBalance(cfg.Exchange.QuoteAsset, decimal.NewFromInt(1_000_000))
		return venue, nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.App.Exchange)
	}
}
