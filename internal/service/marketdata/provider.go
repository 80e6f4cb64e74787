// Package marketdata is the HTTP client for quotes, candles and option chains.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/cache"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"
)

var ErrNotConfigured = errors.New("market data provider not configured")

// HTTPProvider fetches from a REST market-data gateway. Requests are rate
// limited and responses cached briefly so bursts of alerts share one fetch.
type HTTPProvider struct {
	client  *resty.Client
	limiter *rate.Limiter
	cache   cache.Service
	cfg     config.MarketDataConfig
	log     *logger.Logger
}

var _ repository.MarketData = (*HTTPProvider)(nil)

func NewHTTPProvider(cfg config.MarketDataConfig, c cache.Service, l *logger.Logger) *HTTPProvider {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPProvider{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		cache:   c,
		cfg:     cfg,
		log:     l,
	}
}

type quoteDTO struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

type candleDTO struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type candlesDTO struct {
	Candles []candleDTO `json:"candles"`
}

type chainDTO struct {
	Contracts []models.OptionContract `json:"contracts"`
}

func (p *HTTPProvider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	key := cache.GenerateKey("md", "quote", symbol)
	var q models.Quote
	if p.cached(ctx, key, &q) {
		return &q, nil
	}
	var dto quoteDTO
	if err := p.get(ctx, "/quote", map[string]string{"symbol": symbol}, &dto); err != nil {
		return nil, err
	}
	q = models.Quote{
		Symbol:    dto.Symbol,
		Bid:       dto.Bid,
		Ask:       dto.Ask,
		Last:      dto.Last,
		Volume:    dto.Volume,
		Timestamp: time.Unix(dto.Timestamp, 0).UTC(),
	}
	p.store(ctx, key, q, p.cfg.QuoteTTL)
	return &q, nil
}

func (p *HTTPProvider) GetOHLC(ctx context.Context, req models.OHLCRequest) ([]models.Candle, error) {
	lookback := strconv.Itoa(req.Lookback)
	key := cache.GenerateKey("md", "ohlc", req.Symbol, req.Timeframe, lookback)
	var out []models.Candle
	if p.cached(ctx, key, &out) {
		return out, nil
	}
	var dto candlesDTO
	q := map[string]string{"symbol": req.Symbol, "timeframe": req.Timeframe, "lookback": lookback}
	if err := p.get(ctx, "/ohlc", q, &dto); err != nil {
		return nil, err
	}
	out = make([]models.Candle, 0, len(dto.Candles))
	for _, c := range dto.Candles {
		out = append(out, models.Candle{Time: time.Unix(c.T, 0).UTC(), Open: c.O, High: c.H, Low: c.L, Close: c.C, Volume: c.V})
	}
	p.store(ctx, key, out, p.cfg.CandleTTL)
	return out, nil
}

func (p *HTTPProvider) GetOptionsChain(ctx context.Context, req models.ChainRequest) ([]models.OptionContract, error) {
	maxDTE := strconv.Itoa(req.MaxDTE)
	key := cache.GenerateKey("md", "chain", req.Symbol, req.Side, maxDTE)
	var out []models.OptionContract
	if p.cached(ctx, key, &out) {
		return out, nil
	}
	var dto chainDTO
	q := map[string]string{"symbol": req.Symbol, "side": req.Side, "max_dte": maxDTE}
	if err := p.get(ctx, "/options/chain", q, &dto); err != nil {
		return nil, err
	}
	p.store(ctx, key, dto.Contracts, p.cfg.ChainTTL)
	return dto.Contracts, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string, query map[string]string, out any) error {
	if p.cfg.BaseURL == "" {
		return ErrNotConfigured
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("marketdata %s: rate limit: %w", path, err)
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("marketdata %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("marketdata %s: status %d: %s", path, resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

func (p *HTTPProvider) cached(ctx context.Context, key string, dest any) bool {
	if p.cache == nil {
		return false
	}
	if err := p.cache.Get(ctx, key, dest); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.log.Warn("marketdata cache read failed", logger.String("key", key), logger.Error(err))
		}
		return false
	}
	return true
}

func (p *HTTPProvider) store(ctx context.Context, key string, v any, ttl time.Duration) {
	if p.cache == nil || ttl <= 0 {
		return
	}
	if err := p.cache.Set(ctx, key, v, ttl); err != nil {
		p.log.Warn("marketdata cache write failed", logger.String("key", key), logger.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
