package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Gridix/gridix-core/internal/accounting"
	"github.com/Gridix/gridix-core/internal/asset"
	"github.com/Gridix/gridix-core/internal/backtest"
	"github.com/Gridix/gridix-core/internal/config"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/crank"
	"github.com/Gridix/gridix-core/internal/custody"
	"github.com/Gridix/gridix-core/internal/logger"
	"github.com/Gridix/gridix-core/internal/oracle"
	"github.com/Gridix/gridix-core/internal/registry"
	"github.com/Gridix/gridix-core/internal/safety"
	"github.com/Gridix/gridix-core/internal/store"
	"github.com/Gridix/gridix-core/internal/strategy"
	"github.com/Gridix/gridix-core/internal/venue"
)

// gridixd runs the keeper daemon: it builds the market adapters, creates
// the configured strategies in a registry, and cranks them until shutdown.
// In sim mode the pool price is pinned at each strategy's trigger price;
// in live mode the websocket feed drives the pool, while venue and custody
// stay simulated (paper execution against live prices).

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	// .env is optional; existing env vars win inside config.Load.
	_ = godotenv.Overload()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(cfg.State.Dir, string(cfg.Mode), cfg.InstanceID)
	st, err := store.New(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	instanceLock, err := store.AcquireInstanceLock(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if relErr := instanceLock.Release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "release instance lock failed: %v\n", relErr)
		}
	}()

	if err := run(ctx, cfg, st, log); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Errorw("daemon failed", "err", err)
		fatal(err.Error())
	}
}

func run(ctx context.Context, cfg config.Config, st *store.Store, log *zap.SugaredLogger) error {
	pair, err := strategyPair(cfg)
	if err != nil {
		return err
	}
	if cfg.Mode == config.ModeLive && !cfg.Feed.Enabled {
		return fmt.Errorf("live mode requires the price feed")
	}
	if cfg.Mode == config.ModeBacktest && cfg.Feed.Enabled {
		return fmt.Errorf("backtest mode replays recorded ticks; disable the feed")
	}

	// One market per process: the pool opens at the first strategy's
	// trigger price and the feed (when enabled) moves it from there.
	openPrice, err := enginePrice(cfg.Strategies[0].TriggerPrice, pair)
	if err != nil {
		return err
	}
	pool := oracle.NewSimPool(pair.A.Address, pair.B.Address, cfg.Strategies[0].FeeTier, openPrice)
	vault := asset.NewMemoryVault()

	breaker := safety.NewBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.MaxOracleFailures,
		cfg.CircuitBreaker.MaxSwapFailures,
		cfg.CircuitBreaker.MaxCustodyFailures,
		log,
	)
	breaker.SetRecovery(
		time.Duration(cfg.CircuitBreaker.CooldownSec)*time.Second,
		cfg.CircuitBreaker.HalfOpenSuccesses,
	)

	venueFeeBp := uint64(cfg.Strategies[0].FeeTier / 100)
	router := safety.NewGuardedVenue(venue.NewSimRouter(pair, pool, vault, venueFeeBp), breaker)
	positions := safety.NewGuardedCustody(custody.NewSimCustody(pair, pool, vault), breaker)

	notifier := accounting.NewWebhookNotifier(
		cfg.Accounting.Enabled,
		cfg.Accounting.WebhookURL,
		time.Duration(cfg.Accounting.TimeoutSec)*time.Second,
	)
	acct := accounting.NewManager(notifier, log, cfg.Accounting.QueueSize)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := acct.Close(closeCtx); err != nil {
			log.Warnw("close accounting manager failed", "err", err)
		}
	}()

	reg, err := buildRegistry(cfg, strategy.Deps{
		Oracle:    pool,
		Venue:     router,
		Custody:   positions,
		Vault:     vault,
		Notifier:  acct,
		Events:    logger.NewEventSink(log),
		Persister: st,
		Log:       log,
	})
	if err != nil {
		return err
	}
	if err := createStrategies(ctx, cfg, reg, vault, pair); err != nil {
		return err
	}

	caller := cfg.Crank.Caller.Address
	if caller == (common.Address{}) {
		caller = cfg.Registry.Owner.Address
	}
	cr := crank.New(reg, breaker, st, log, crank.Config{
		Interval: time.Duration(cfg.Crank.IntervalSec) * time.Second,
		Caller:   caller,
	})

	if cfg.Mode == config.ModeBacktest {
		return runBacktest(ctx, cfg, pool, cr, pair, log)
	}

	if cfg.Feed.Enabled {
		feed := oracle.NewFeed(cfg.Feed.WSURL, log)
		go feed.Run(ctx)
		relay := make(chan oracle.PriceUpdate, 64)
		go func() {
			defer close(relay)
			for {
				select {
				case <-ctx.Done():
					return
				case upd, ok := <-feed.Updates:
					if !ok {
						return
					}
					pool.SetPrice(upd.Price)
					select {
					case relay <- upd:
					default:
					}
				}
			}
		}()
		go cr.WatchFeed(ctx, relay)
	}

	log.Infow("gridixd started",
		"mode", cfg.Mode,
		"instance", cfg.InstanceID,
		"pair", pair.A.Symbol+"/"+pair.B.Symbol,
		"strategies", len(reg.Strategies()),
	)
	return cr.Run(ctx)
}

func runBacktest(ctx context.Context, cfg config.Config, pool *oracle.SimPool, cr *crank.Crank, pair core.Pair, log *zap.SugaredLogger) error {
	feed, err := backtest.NewJSONLFeed(cfg.Backtest.DataPath)
	if err != nil {
		return err
	}
	replay := &backtest.Replay{
		Feed:    feed,
		Pool:    pool,
		Sweeper: cr,
		ToEngine: func(d decimal.Decimal) (*uint256.Int, error) {
			return enginePrice(config.Decimal{Decimal: d}, pair)
		},
	}
	result, err := replay.Run(ctx)
	if err != nil {
		return err
	}
	log.Infow("backtest finished",
		"ticks", result.Ticks,
		"skipped", result.Skipped,
		"start", result.StartTime,
		"end", result.EndTime,
		"start_price", result.StartPrice,
		"end_price", result.EndPrice,
	)
	fmt.Printf("backtest instance=%s ticks=%d skipped=%d window=%s..%s price=%s..%s\n",
		cfg.InstanceID, result.Ticks, result.Skipped,
		result.StartTime.Format(time.RFC3339), result.EndTime.Format(time.RFC3339),
		result.StartPrice, result.EndPrice)
	return nil
}

// strategyPair resolves the single market this daemon trades. Multi-pair
// configs need one instance per pair.
func strategyPair(cfg config.Config) (core.Pair, error) {
	if len(cfg.Strategies) == 0 {
		return core.Pair{}, fmt.Errorf("no strategies configured")
	}
	first := cfg.Strategies[0]
	for _, s := range cfg.Strategies[1:] {
		if s.TokenA != first.TokenA || s.TokenB != first.TokenB {
			return core.Pair{}, fmt.Errorf("all strategies must trade the same pair; run one instance per market")
		}
	}
	tokA, ok := cfg.Token(first.TokenA)
	if !ok {
		return core.Pair{}, fmt.Errorf("unknown token %s", first.TokenA)
	}
	tokB, ok := cfg.Token(first.TokenB)
	if !ok {
		return core.Pair{}, fmt.Errorf("unknown token %s", first.TokenB)
	}
	return core.Pair{
		A: core.Token{Address: tokA.Address.Address, Symbol: tokA.Symbol, Decimals: tokA.Decimals},
		B: core.Token{Address: tokB.Address.Address, Symbol: tokB.Symbol, Decimals: tokB.Decimals},
	}, nil
}

func buildRegistry(cfg config.Config, deps strategy.Deps) (*registry.Registry, error) {
	whitelist := make([]common.Address, 0, len(cfg.Registry.Whitelist))
	for _, sym := range cfg.Registry.Whitelist {
		tok, _ := cfg.Token(sym)
		whitelist = append(whitelist, tok.Address.Address)
	}
	reg, err := registry.New(registry.Config{
		Owner:           cfg.Registry.Owner.Address,
		FeeSink:         cfg.Registry.FeeSink.Address,
		DefaultSlippage: cfg.Registry.DefaultSlippage,
		SwapFeeBp:       cfg.Registry.SwapFeeBp,
		Whitelist:       whitelist,
	}, deps)
	if err != nil {
		return nil, err
	}
	for sym, fee := range cfg.Registry.ExecutionFees {
		tok, _ := cfg.Token(sym)
		amount, err := fee.Scaled(tok.Decimals)
		if err != nil {
			return nil, fmt.Errorf("execution fee %s: %w", sym, err)
		}
		if err := reg.SetExecutionFee(cfg.Registry.Owner.Address, tok.Address.Address, amount); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func createStrategies(ctx context.Context, cfg config.Config, reg *registry.Registry, vault *asset.MemoryVault, pair core.Pair) error {
	owner := cfg.Registry.Owner.Address
	for i, s := range cfg.Strategies {
		params, investA, investB, err := createParams(s, pair)
		if err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
		// The memory vault starts empty; credit the owner with the
		// capital each strategy will draw at creation.
		vault.Mint(pair.A.Address, owner, investA)
		vault.Mint(pair.B.Address, owner, investB)

		switch s.Variant {
		case config.VariantRanged:
			var g *strategy.RangedGrid
			g, err = reg.CreateRangedGrid(ctx, owner, params)
			if err == nil && s.Slippage != cfg.Registry.DefaultSlippage {
				err = g.SetSlippage(owner, s.Slippage)
			}
		default:
			var g *strategy.SwapGrid
			g, err = reg.CreateSwapGrid(ctx, owner, params)
			if err == nil && s.Slippage != cfg.Registry.DefaultSlippage {
				err = g.SetSlippage(owner, s.Slippage)
			}
		}
		if err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
	}
	return nil
}

func createParams(s config.StrategyConfig, pair core.Pair) (registry.CreateParams, *uint256.Int, *uint256.Int, error) {
	lower, err := enginePrice(s.LowerPrice, pair)
	if err != nil {
		return registry.CreateParams{}, nil, nil, fmt.Errorf("lower_price: %w", err)
	}
	upper, err := enginePrice(s.UpperPrice, pair)
	if err != nil {
		return registry.CreateParams{}, nil, nil, fmt.Errorf("upper_price: %w", err)
	}
	trigger, err := enginePrice(s.TriggerPrice, pair)
	if err != nil {
		return registry.CreateParams{}, nil, nil, fmt.Errorf("trigger_price: %w", err)
	}
	investA, err := s.TotalInvestment.Scaled(pair.A.Decimals)
	if err != nil {
		return registry.CreateParams{}, nil, nil, fmt.Errorf("total_investment: %w", err)
	}
	investB, err := s.ExtraTokenB.Scaled(pair.B.Decimals)
	if err != nil {
		return registry.CreateParams{}, nil, nil, fmt.Errorf("extra_token_b: %w", err)
	}
	return registry.CreateParams{
		Pair:            pair,
		LowerPrice:      lower,
		UpperPrice:      upper,
		GridCount:       s.GridCount,
		TotalInvestment: investA,
		ExtraTokenB:     investB,
		TriggerPrice:    trigger,
		FeeTier:         s.FeeTier,
	}, investA, investB, nil
}

// enginePrice converts a human-quoted price (units of A per B) to the
// engine's fixed-point scale, adjusting for the token decimal gap.
func enginePrice(d config.Decimal, pair core.Pair) (*uint256.Int, error) {
	shifted := config.Decimal{Decimal: d.Shift(int32(pair.A.Decimals) - int32(pair.B.Decimals))}
	return shifted.Price()
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
