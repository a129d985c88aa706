package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Gridix/gridix-core/internal/config"
	"github.com/Gridix/gridix-core/internal/store"
)

// inspect prints the persisted state of a gridixd instance: runtime
// status, per-strategy snapshots, and the tail of the rebalance ledger.
// It reads only the state directory, so it is safe to run against a live
// daemon.

func main() {
	var (
		configPath string
		strategyID string
		ledgerTail int
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&strategyID, "strategy", "", "limit output to one strategy address")
	flag.IntVar(&ledgerTail, "n", 10, "rebalance ledger entries to show per strategy")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	stateDir := filepath.Join(cfg.State.Dir, string(cfg.Mode), cfg.InstanceID)
	st, err := store.New(stateDir)
	if err != nil {
		fatal(err.Error())
	}

	if status, ok, err := st.LoadRuntimeStatus(); err != nil {
		fatal(err.Error())
	} else if ok {
		fmt.Printf("instance %s mode=%s state=%s pid=%d strategies=%d updated=%s\n",
			status.InstanceID, status.Mode, status.State, status.PID,
			status.Strategies, status.UpdatedAt.Format("2006-01-02 15:04:05"))
		if status.LastError != "" {
			fmt.Printf("  last_error: %s\n", status.LastError)
		}
	} else {
		fmt.Printf("instance %s: no runtime status recorded\n", cfg.InstanceID)
	}

	snaps, err := st.ListSnapshots()
	if err != nil {
		fatal(err.Error())
	}
	shown := 0
	for _, snap := range snaps {
		if strategyID != "" && !strings.EqualFold(snap.Strategy, strategyID) {
			continue
		}
		shown++
		printSnapshot(cfg, snap)
		recs, err := st.RecentRebalances(snap.Strategy, ledgerTail)
		if err != nil {
			fatal(err.Error())
		}
		for _, rec := range recs {
			fmt.Printf("    %s %-4s price=%s in=%s out=%s swap_fee=%s\n",
				rec.At.Format("2006-01-02 15:04:05"), rec.Direction,
				renderPrice(cfg, snap.Pair, rec.Price),
				rec.AmountIn, rec.AmountOut, orDash(rec.SwapFee))
		}
	}
	if shown == 0 {
		fmt.Println("no matching snapshots")
	}
}

func printSnapshot(cfg config.Config, snap store.Snapshot) {
	fmt.Printf("\n%s %s %s [%s]\n", snap.Strategy, snap.Variant, snap.Pair, snap.Status)
	fmt.Printf("  range %s .. %s cell=%s trigger=%s\n",
		renderPrice(cfg, snap.Pair, snap.LowerPrice),
		renderPrice(cfg, snap.Pair, snap.UpperPrice),
		renderPrice(cfg, snap.Pair, snap.GridPrice),
		renderPrice(cfg, snap.Pair, snap.TriggerPrice))
	if snap.LastPrice != "" {
		fmt.Printf("  last_price=%s\n", renderPrice(cfg, snap.Pair, snap.LastPrice))
	}
	if snap.Anchor != "" {
		fmt.Printf("  anchor=%s positions lower=%d upper=%d\n",
			renderPrice(cfg, snap.Pair, snap.Anchor), snap.LowerPosition, snap.UpperPosition)
	}
	symA, symB := splitPair(snap.Pair)
	fmt.Printf("  balances %s=%s %s=%s slippage=%d\n",
		symA, renderAmount(cfg, symA, snap.BalanceA),
		symB, renderAmount(cfg, symB, snap.BalanceB),
		snap.Slippage)
}

func splitPair(pair string) (string, string) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair, pair
	}
	return parts[0], parts[1]
}

// renderAmount rescales a base-unit amount using the token decimals from
// the config. Unknown tokens print raw.
func renderAmount(cfg config.Config, symbol, raw string) string {
	tok, ok := cfg.Token(symbol)
	if !ok {
		return raw
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return d.Shift(-int32(tok.Decimals)).String()
}

// renderPrice undoes the engine's fixed-point scale and the token decimal
// gap, recovering the human quote (units of A per B).
func renderPrice(cfg config.Config, pair, raw string) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	symA, symB := splitPair(pair)
	tokA, okA := cfg.Token(symA)
	tokB, okB := cfg.Token(symB)
	shift := int32(-18)
	if okA && okB {
		shift -= int32(tokA.Decimals) - int32(tokB.Decimals)
	}
	return d.Shift(shift).String()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
