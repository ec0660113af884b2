package config

import (
	"fmt"
	"strings"

	"github.com/marketpulse/pipeline/internal/exchange"

	// Register the supported adapters so Validate knows their names
	// regardless of which packages the caller imports.
	_ "github.com/marketpulse/pipeline/internal/exchange/binance"
	_ "github.com/marketpulse/pipeline/internal/exchange/bybit"
	_ "github.com/marketpulse/pipeline/internal/exchange/deribit"
	_ "github.com/marketpulse/pipeline/internal/exchange/okx"
)

// Validate checks high-impact runtime configuration constraints before the
// engine starts any collaborator.
func (c Config) Validate() error {
	if len(c.Ingestion.Exchanges) == 0 {
		return fmt.Errorf("ingestion.exchanges must name at least one exchange")
	}
	known := make(map[string]struct{})
	for _, name := range exchange.Names() {
		known[name] = struct{}{}
	}
	for _, name := range c.Ingestion.Exchanges {
		if _, ok := known[strings.ToLower(name)]; !ok {
			return fmt.Errorf("ingestion.exchanges: unknown exchange %q", name)
		}
	}
	if len(c.Ingestion.Symbols) == 0 {
		return fmt.Errorf("ingestion.symbols must name at least one symbol")
	}

	if c.Cache.TradeStreamLen <= 0 {
		return fmt.Errorf("cache.trade_stream_len must be > 0, got %d", c.Cache.TradeStreamLen)
	}
	if c.Cache.KlineRingSize <= 0 {
		return fmt.Errorf("cache.kline_ring_size must be > 0, got %d", c.Cache.KlineRingSize)
	}
	if c.Cache.Channel == "" {
		return fmt.Errorf("cache.channel must not be empty")
	}

	if c.Aggregator.TickInterval <= 0 {
		return fmt.Errorf("aggregator.tick_interval must be > 0, got %s", c.Aggregator.TickInterval)
	}
	if c.Aggregator.ArbThresholdPct.IsNegative() {
		return fmt.Errorf("aggregator.arb_threshold_pct must be >= 0, got %s", c.Aggregator.ArbThresholdPct)
	}

	if c.Account.MarginRefreshInterval <= 0 {
		return fmt.Errorf("account.margin_refresh_interval must be > 0, got %s", c.Account.MarginRefreshInterval)
	}
	if c.Account.PriceRefreshInterval <= 0 {
		return fmt.Errorf("account.price_refresh_interval must be > 0, got %s", c.Account.PriceRefreshInterval)
	}

	if c.Risk.CheckInterval <= 0 {
		return fmt.Errorf("risk.check_interval must be > 0, got %s", c.Risk.CheckInterval)
	}

	if c.BlackSwan.CooldownDuration <= 0 {
		return fmt.Errorf("blackswan.cooldown_duration must be > 0, got %s", c.BlackSwan.CooldownDuration)
	}
	if c.BlackSwan.StabilityDuration <= 0 {
		return fmt.Errorf("blackswan.stability_duration must be > 0, got %s", c.BlackSwan.StabilityDuration)
	}

	if c.API.Enabled && strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr must not be empty when api.enabled is true")
	}

	return nil
}
