package accounting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 128
	defaultSendTimeout = 20 * time.Second
)

// Manager decouples strategy operations from notification delivery: Notify
// enqueues and always returns nil; a background loop drains the queue.
// When the queue is full the event is dropped and counted.
type Manager struct {
	notifier Notifier
	logger   *zap.SugaredLogger
	queue    chan feeEvent
	stop     chan struct{}
	done     chan struct{}

	droppedTotal uint64

	mu     sync.RWMutex
	closed bool
}

type feeEvent struct {
	owner common.Address
	token common.Address
	value *uint256.Int
}

func NewManager(notifier Notifier, logger *zap.SugaredLogger, queueSize int) *Manager {
	if notifier == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	m := &Manager{
		notifier: notifier,
		logger:   logger,
		queue:    make(chan feeEvent, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

// Notify enqueues the event. It never returns an error; a full queue drops
// the event with a warning.
func (m *Manager) Notify(_ context.Context, owner, token common.Address, value *uint256.Int) error {
	if m == nil {
		return nil
	}
	ev := feeEvent{owner: owner, token: token, value: new(uint256.Int).Set(value)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	select {
	case m.queue <- ev:
	default:
		dropped := atomic.AddUint64(&m.droppedTotal, 1)
		m.logger.Warnw("accounting event dropped",
			"reason", "queue_full",
			"dropped_total", dropped,
			"queue_cap", cap(m.queue),
		)
	}
	return nil
}

// Close drains pending events, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DroppedTotal reports how many events were lost to a full queue.
func (m *Manager) DroppedTotal() uint64 {
	return atomic.LoadUint64(&m.droppedTotal)
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.queue:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) send(ev feeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, ev.owner, ev.token, ev.value); err != nil {
		m.logger.Warnw("accounting notify failed",
			"owner", ev.owner.Hex(),
			"token", ev.token.Hex(),
			"err", err,
		)
	}
}
