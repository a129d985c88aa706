package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/venue"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(true, 3, 3, 3, nil)
	boom := errors.New("boom")

	if err := b.RecordSwap(boom); err != nil {
		t.Fatalf("first failure tripped early: %v", err)
	}
	if err := b.RecordSwap(boom); err != nil {
		t.Fatalf("second failure tripped early: %v", err)
	}
	err := b.RecordSwap(boom)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("third failure: err = %v, want ErrCircuitOpen", err)
	}
	if err := b.AllowSwap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("AllowSwap while open: err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(true, 2, 2, 2, nil)
	boom := errors.New("boom")

	if err := b.RecordOracle(boom); err != nil {
		t.Fatalf("failure one: %v", err)
	}
	if err := b.RecordOracle(nil); err != nil {
		t.Fatalf("success: %v", err)
	}
	// The counter restarted, so one more failure must not trip.
	if err := b.RecordOracle(boom); err != nil {
		t.Fatalf("failure after reset tripped: %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(true, 1, 1, 1, nil)
	b.SetRecovery(time.Millisecond, 1)
	boom := errors.New("boom")

	if err := b.RecordOracle(boom); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("trip: err = %v, want ErrCircuitOpen", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Cooldown elapsed: one probe is allowed.
	if err := b.AllowOracle(); err != nil {
		t.Fatalf("AllowOracle after cooldown: %v", err)
	}
	if err := b.RecordOracle(nil); err != nil {
		t.Fatalf("probe success: %v", err)
	}
	if err := b.AllowOracle(); err != nil {
		t.Fatalf("circuit should be closed: %v", err)
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := NewBreaker(true, 1, 1, 1, nil)
	b.SetRecovery(time.Millisecond, 1)
	boom := errors.New("boom")

	if err := b.RecordOracle(boom); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("trip: err = %v, want ErrCircuitOpen", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := b.AllowOracle(); err != nil {
		t.Fatalf("AllowOracle after cooldown: %v", err)
	}
	if err := b.RecordOracle(boom); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("probe failure: err = %v, want ErrCircuitOpen", err)
	}
	if err := b.AllowOracle(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("circuit should be open again: %v", err)
	}
}

func TestBreakerDisabledIsTransparent(t *testing.T) {
	b := NewBreaker(false, 1, 1, 1, nil)
	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		if err := b.RecordSwap(boom); err != nil {
			t.Fatalf("disabled breaker returned %v", err)
		}
	}
	if err := b.AllowSwap(); err != nil {
		t.Fatalf("disabled AllowSwap: %v", err)
	}
}

type failingVenue struct{ err error }

func (f failingVenue) Swap(context.Context, venue.SwapRequest) (*uint256.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return uint256.NewInt(1), nil
}

func TestGuardedVenueRefusesWhileOpen(t *testing.T) {
	b := NewBreaker(true, 1, 1, 1, nil)
	boom := errors.New("venue down")
	gv := NewGuardedVenue(failingVenue{err: boom}, b)

	_, err := gv.Swap(context.Background(), venue.SwapRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("trip: err = %v, want ErrCircuitOpen", err)
	}
	// Open circuit short-circuits before the inner venue is reached.
	_, err = gv.Swap(context.Background(), venue.SwapRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("refused call: err = %v, want ErrCircuitOpen", err)
	}
}
