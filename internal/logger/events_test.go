package logger

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Gridix/gridix-core/internal/core"
)

func TestEventSinkLogsKnownEvents(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	sink := NewEventSink(zap.New(obsCore).Sugar())

	sink.Emit(core.StrategyActivated{
		Strategy: common.HexToAddress("0xabc0000000000000000000000000000000000001"),
		Price:    uint256.NewInt(1500),
		BalanceA: uint256.NewInt(500),
		BalanceB: uint256.NewInt(1),
		At:       time.Now(),
	})
	sink.Emit(core.SlippageUpdated{
		Strategy: common.HexToAddress("0xabc0000000000000000000000000000000000001"),
		Old:      500,
		New:      1000,
		At:       time.Now(),
	})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("logged %d entries, want 2", len(entries))
	}
	if entries[0].Message != "strategy activated" {
		t.Fatalf("first message = %q, want strategy activated", entries[0].Message)
	}
	if entries[1].Message != "slippage updated" {
		t.Fatalf("second message = %q, want slippage updated", entries[1].Message)
	}
}

func TestEventSinkUnknownEventIsDebug(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	sink := NewEventSink(zap.New(obsCore).Sugar())

	sink.Emit(struct{ X int }{1})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if entries[0].Level != zap.DebugLevel {
		t.Fatalf("level = %v, want debug", entries[0].Level)
	}
}

func TestEventSinkNilLoggerIsSafe(t *testing.T) {
	sink := NewEventSink(nil)
	sink.Emit(core.StrategyTerminated{})
}
