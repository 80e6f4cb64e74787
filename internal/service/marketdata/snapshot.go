package marketdata

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/internal/service/engine"
)

// Snapshot fetches everything a zone decision needs in parallel. Each fetch
// is bounded by timeout; a failure is recorded on the snapshot, never returned,
// so the dependent gate fails closed.
func Snapshot(ctx context.Context, md repository.MarketData, req engine.ZoneData, timeout time.Duration) *models.MarketSnapshot {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap := &models.MarketSnapshot{}
	var wg conc.WaitGroup
	wg.Go(func() {
		q, err := md.GetQuote(ctx, req.Symbol)
		if err != nil {
			snap.QuoteErr = err.Error()
			return
		}
		snap.Quote = q
	})
	wg.Go(func() {
		cs, err := md.GetOHLC(ctx, req.Candles)
		if err != nil {
			snap.CandlesErr = err.Error()
			return
		}
		snap.Candles = cs
	})
	wg.Go(func() {
		cs, err := md.GetOHLC(ctx, req.HTF)
		if err != nil {
			snap.HTFErr = err.Error()
			return
		}
		snap.HTF = cs
	})
	if req.Chain != nil {
		wg.Go(func() {
			chain, err := md.GetOptionsChain(ctx, *req.Chain)
			if err != nil {
				snap.ChainErr = err.Error()
				return
			}
			snap.Chain = chain
		})
	} else {
		snap.ChainErr = "direction unresolved"
	}
	wg.Wait()
	return snap
}
