package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// PriceUpdate is one observed spot price.
type PriceUpdate struct {
	Price *uint256.Int
	At    time.Time
}

const (
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
	feedRedialWait = 5 * time.Second
)

// Feed subscribes to a websocket price stream and republishes updates.
// The crank uses it to avoid polling the chain for every lap; the feed is
// advisory only; strategies always re-read the oracle inside an operation.
type Feed struct {
	URL     string
	Logger  *zap.SugaredLogger
	Updates chan PriceUpdate
}

func NewFeed(url string, logger *zap.SugaredLogger) *Feed {
	return &Feed{
		URL:     url,
		Logger:  logger,
		Updates: make(chan PriceUpdate, 64),
	}
}

// Run maintains the subscription until ctx is canceled, redialing after
// any read failure.
func (f *Feed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.runConn(ctx); err != nil && ctx.Err() == nil {
			f.Logger.Warnw("price feed disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(feedRedialWait):
		}
	}
}

func (f *Feed) runConn(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.Logger.Infow("price feed connected", "url", f.URL)

	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick struct {
			Price string `json:"price"`
		}
		if err := json.Unmarshal(message, &tick); err != nil {
			f.Logger.Debugw("unparseable feed message", "err", err)
			continue
		}
		price, err := uint256.FromDecimal(tick.Price)
		if err != nil || price.IsZero() {
			f.Logger.Debugw("bad feed price", "raw", tick.Price)
			continue
		}
		update := PriceUpdate{Price: price, At: time.Now().UTC()}
		select {
		case f.Updates <- update:
		default:
			// Slow consumer: drop the oldest pending update.
			select {
			case <-f.Updates:
			default:
			}
			select {
			case f.Updates <- update:
			default:
			}
		}
	}
}
