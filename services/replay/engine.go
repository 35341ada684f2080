package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"replay-backtest/services/aggregate"
	"replay-backtest/services/execution"
	"replay-backtest/services/feed"
	"replay-backtest/services/market"
	"replay-backtest/services/risk"
)

// Config tunes the run itself; domain behavior lives in the injected parts.
type Config struct {
	Mode market.Mode
	// EquityEveryMinutes is the equity sampling cadence. Zero means every
	// processed minute; set it higher to thin the curve on long runs.
	EquityEveryMinutes int
	// ConfigHash, when set, is stamped into the manifest so runs can be
	// matched to the exact configuration that produced them.
	ConfigHash string
}

// Deps are the injected collaborators. Dataset, Aggregator, Risk, Execution
// and at least one provider are required; Sink and Log default to no-ops.
type Deps struct {
	Dataset    *feed.Dataset
	Aggregator *aggregate.Aggregator
	Risk       *risk.Manager
	Execution  *execution.Engine
	Providers  []SetupProvider
	Sink       EventSink
	Log        *zap.Logger
}

// Result bundles everything a run produced.
type Result struct {
	Summary  Summary
	Manifest RunManifest
	Trades   []*market.Trade
}

// Engine replays a dataset minute by minute: aggregate, resolve exits,
// collect candidates, pick one winner, gate it through risk, place it.
// Iteration order is fixed (timeline asc, symbols asc, providers in the
// order given) so identical inputs give identical runs.
type Engine struct {
	cfg        Config
	dataset    *feed.Dataset
	agg        *aggregate.Aggregator
	cache      *aggregate.StateCache
	riskMgr    *risk.Manager
	exec       *execution.Engine
	providers  []SetupProvider
	sink       EventSink
	log        *zap.Logger
	guardrails []risk.GuardrailEvent
}

func New(cfg Config, d Deps) (*Engine, error) {
	if d.Dataset == nil {
		return nil, errors.New("replay: dataset is required")
	}
	if d.Aggregator == nil {
		return nil, errors.New("replay: aggregator is required")
	}
	if d.Risk == nil {
		return nil, errors.New("replay: risk manager is required")
	}
	if d.Execution == nil {
		return nil, errors.New("replay: execution engine is required")
	}
	if len(d.Providers) == 0 {
		return nil, errors.New("replay: at least one setup provider is required")
	}
	for i, p := range d.Providers {
		if p == nil {
			return nil, fmt.Errorf("replay: provider %d is nil", i)
		}
	}
	if cfg.EquityEveryMinutes <= 0 {
		cfg.EquityEveryMinutes = 1
	}
	if d.Sink == nil {
		d.Sink = NopSink{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		dataset:   d.Dataset,
		agg:       d.Aggregator,
		cache:     aggregate.NewStateCache(),
		riskMgr:   d.Risk,
		exec:      d.Execution,
		providers: d.Providers,
		sink:      d.Sink,
		log:       d.Log,
	}, nil
}

func (e *Engine) providerNames() []string {
	names := make([]string, len(e.providers))
	for i, p := range e.providers {
		names[i] = p.Name()
	}
	return names
}

// Run replays the whole dataset. It returns an error only for fatal
// conditions (broken input ordering, unclassified setups, double closes,
// strategy faults); rejected candidates and tripped guardrails are normal
// output, not errors. Cancellation between timestamps returns the partial
// result alongside ctx's error; open positions stay unresolved.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	manifest := newManifest(e.cfg.Mode.String(), e.providerNames(), e.dataset.Symbols())
	manifest.FromTs = e.dataset.From()
	manifest.ToTs = e.dataset.To()
	manifest.Bars = e.dataset.Len()
	manifest.DatasetHash = e.dataset.Checksum()
	manifest.ConfigHash = e.cfg.ConfigHash

	e.log.Info("replay starting",
		zap.String("run_id", manifest.RunID),
		zap.String("mode", manifest.Mode),
		zap.Strings("symbols", manifest.Symbols),
		zap.Strings("strategies", manifest.Strategies),
		zap.Int("bars", manifest.Bars),
		zap.Time("from", time.UnixMilli(manifest.FromTs).UTC()),
		zap.Time("to", time.UnixMilli(manifest.ToTs).UTC()))

	symbols := e.dataset.Symbols()
	barsSeen := make(map[string]int, len(symbols))
	equityEveryMs := int64(e.cfg.EquityEveryMinutes) * 60_000

	var (
		closedTrades []*market.Trade
		lastTs       int64
		lastEquityTs int64
	)

	for _, ts := range e.dataset.Timeline() {
		select {
		case <-ctx.Done():
			e.log.Warn("replay canceled",
				zap.String("run_id", manifest.RunID),
				zap.String("at", stamp(ts)),
				zap.Int("closed_trades", len(closedTrades)))
			return e.finish(closedTrades, &manifest, lastTs, start),
				fmt.Errorf("replay canceled at %s: %w", stamp(ts), ctx.Err())
		default:
		}

		tick := e.dataset.At(ts)

		// Fold the minute into every timeframe before anything reads
		// history on this tick.
		closesBySym := make(map[string]market.CloseFlags, len(tick))
		for _, sym := range symbols {
			bar, ok := tick[sym]
			if !ok {
				continue
			}
			flags, err := e.agg.Update(bar)
			if err != nil {
				return nil, e.fatal(lastTs, fmt.Errorf("aggregate %s: %w", sym, err))
			}
			closesBySym[sym] = flags
			barsSeen[sym]++
		}

		// Exits resolve before any new entry on the same tick.
		closed, err := e.exec.UpdateOpenPositions(tick, ts)
		if err != nil {
			return nil, e.fatal(lastTs, err)
		}
		for _, t := range closed {
			closedTrades = append(closedTrades, t)
			e.sink.OnTrade(t)
		}
		e.drainGuardrails()

		var candidates []market.Setup
		for _, p := range e.providers {
			warmup := p.WarmupBars()
			for _, sym := range symbols {
				bar, ok := tick[sym]
				if !ok || e.exec.HasOpen(sym) || barsSeen[sym] < warmup {
					continue
				}
				setup, err := p.Evaluate(EvalRequest{
					Symbol:  sym,
					Ts:      ts,
					Bar:     bar,
					Closes:  closesBySym[sym],
					History: e.agg,
					Cache:   e.cache,
					Key:     e.agg.ContextKey(sym, ts),
					Mode:    e.cfg.Mode,
				})
				if err != nil {
					return nil, e.fatal(lastTs, fmt.Errorf("strategy %s on %s: %w", p.Name(), sym, err))
				}
				if setup != nil {
					candidates = append(candidates, *setup)
				}
			}
		}

		if winner, ok := SelectBest(candidates); ok {
			dec := e.riskMgr.CheckEntry(winner, e.exec.Instrument(winner.Symbol), ts)
			if dec.Allowed {
				if _, err := e.exec.PlaceOrder(winner, dec, ts); err != nil {
					return nil, e.fatal(lastTs, err)
				}
			} else {
				e.log.Debug("candidate rejected",
					zap.String("symbol", winner.Symbol),
					zap.String("strategy", winner.Strategy),
					zap.String("reason", string(dec.Reason)))
			}
		}

		if lastEquityTs == 0 || ts-lastEquityTs >= equityEveryMs {
			e.sink.OnEquity(EquityPoint{
				Ts:            ts,
				Capital:       e.riskMgr.Capital(),
				CumR:          e.riskMgr.CumulativeR(),
				DrawdownR:     e.riskMgr.DrawdownR(),
				OpenPositions: e.exec.OpenCount(),
			})
			lastEquityTs = ts
		}
		lastTs = ts
	}

	// Anything still open settles at the last seen price.
	closed, err := e.exec.CloseAll(lastTs)
	if err != nil {
		return nil, e.fatal(lastTs, err)
	}
	for _, t := range closed {
		closedTrades = append(closedTrades, t)
		e.sink.OnTrade(t)
	}
	e.drainGuardrails()

	res := e.finish(closedTrades, &manifest, lastTs, start)

	e.log.Info("replay finished",
		zap.String("run_id", manifest.RunID),
		zap.Int("trades", res.Summary.TotalTrades),
		zap.String("total_r", res.Summary.TotalR.String()),
		zap.Float64("win_rate_pct", res.Summary.WinRatePct),
		zap.String("equity_end", res.Summary.EquityEnd.String()),
		zap.Int64("elapsed_ms", res.Manifest.ElapsedMs))

	return res, nil
}

// finish assembles the summary and manifest over whatever closed so far
// and delivers the run-end event. Used by both the complete and the
// canceled exit paths.
func (e *Engine) finish(trades []*market.Trade, manifest *RunManifest, lastTs int64, start time.Time) *Result {
	summary := Summarize(trades)
	summary.GeneratedAt = time.Now().UTC()
	summary.EngineVersion = EngineVersion
	summary.Mode = e.cfg.Mode.String()
	summary.EquityStart = e.riskMgr.RunConfig().InitialCapital
	summary.EquityEnd = e.riskMgr.Capital()
	summary.FinalTier = e.riskMgr.Tier()
	summary.FirstTs = manifest.FromTs
	summary.LastTs = lastTs
	summary.Bars = manifest.Bars
	summary.Rejections = e.riskMgr.RejectionCounts()
	summary.CacheHits, summary.CacheMisses = e.cache.Stats()
	summary.Guardrails = append([]risk.GuardrailEvent(nil), e.guardrails...)
	summary.Strategies = e.riskMgr.Ledgers()
	e.sink.OnRunEnd(&summary)

	manifest.FinishedAt = time.Now().UTC()
	manifest.ElapsedMs = time.Since(start).Milliseconds()
	return &Result{Summary: summary, Manifest: *manifest, Trades: trades}
}

func (e *Engine) drainGuardrails() {
	for _, ev := range e.riskMgr.DrainEvents() {
		e.guardrails = append(e.guardrails, ev)
		e.sink.OnGuardrail(ev)
	}
}

// fatal stamps the halt with the last timestamp that fully processed, so
// the operator knows where a resumed run would pick up.
func (e *Engine) fatal(lastTs int64, err error) error {
	e.log.Error("replay halted", zap.String("after", stamp(lastTs)), zap.Error(err))
	return fmt.Errorf("replay halted after %s: %w", stamp(lastTs), err)
}

func stamp(ts int64) string {
	return time.UnixMilli(ts).UTC().Format("2006-01-02 15:04")
}
