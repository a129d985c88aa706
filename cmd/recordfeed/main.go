package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gridix/gridix-core/internal/config"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/logger"
	"github.com/Gridix/gridix-core/internal/oracle"
)

// recordfeed subscribes to the websocket price feed and appends each tick
// to a JSONL file in the shape the backtest replayer reads. Prices are
// rescaled from the feed's fixed-point encoding back to the human quote,
// so recorded files line up with the prices in config.

func main() {
	var (
		configPath string
		outPath    string
		wsURL      string
		maxTicks   int
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&outPath, "out", "", "output jsonl path (required)")
	flag.StringVar(&wsURL, "url", "", "feed websocket url (defaults to feed.ws_url)")
	flag.IntVar(&maxTicks, "max", 0, "stop after this many ticks (0 = run until interrupted)")
	flag.Parse()

	if outPath == "" {
		fatal("-out is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if wsURL == "" {
		wsURL = cfg.Feed.WSURL
	}
	if wsURL == "" {
		fatal("no feed url: set -url or feed.ws_url")
	}
	pair, err := recordedPair(cfg)
	if err != nil {
		fatal(err.Error())
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog()

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fatal(err.Error())
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := oracle.NewFeed(wsURL, log)
	go feed.Run(ctx)

	// Feed prices carry 18 fixed decimals plus the token decimal gap.
	shift := int32(-18) - (int32(pair.A.Decimals) - int32(pair.B.Decimals))
	written := 0
	for {
		select {
		case <-ctx.Done():
			log.Infow("recorder stopped", "ticks", written, "out", outPath)
			return
		case upd := <-feed.Updates:
			quote, err := decimal.NewFromString(upd.Price.Dec())
			if err != nil {
				continue
			}
			line, err := json.Marshal(map[string]string{
				"time":  upd.At.Format(time.RFC3339),
				"price": quote.Shift(shift).String(),
			})
			if err != nil {
				continue
			}
			if _, err := out.Write(append(line, '\n')); err != nil {
				fatal(err.Error())
			}
			written++
			if maxTicks > 0 && written >= maxTicks {
				log.Infow("recorder finished", "ticks", written, "out", outPath)
				return
			}
		}
	}
}

// recordedPair picks the market whose decimals decode the feed prices:
// the pair the configured strategies trade.
func recordedPair(cfg config.Config) (core.Pair, error) {
	if len(cfg.Strategies) == 0 {
		return core.Pair{}, fmt.Errorf("config has no strategies to derive the pair from")
	}
	s := cfg.Strategies[0]
	tokA, ok := cfg.Token(s.TokenA)
	if !ok {
		return core.Pair{}, fmt.Errorf("unknown token %s", s.TokenA)
	}
	tokB, ok := cfg.Token(s.TokenB)
	if !ok {
		return core.Pair{}, fmt.Errorf("unknown token %s", s.TokenB)
	}
	return core.Pair{
		A: core.Token{Address: tokA.Address.Address, Symbol: tokA.Symbol, Decimals: tokA.Decimals},
		B: core.Token{Address: tokB.Address.Address, Symbol: tokB.Symbol, Decimals: tokB.Decimals},
	}, nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
