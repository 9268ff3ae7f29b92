package market

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type klineEnvelope struct {
	Data klinePayload `json:"data"`
}

type klinePayload struct {
	Kline klineBar `json:"k"`
}

type klineBar struct {
	OpenTime int64  `json:"t"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Final    bool   `json:"x"`
}

// BarStream consumes a kline websocket feed and maintains a rolling PriceBar
// window that a live venue adapter can serve synchronously. A forming bar
// replaces the previous update for the same open time; only its final update
// is frozen into history.
type BarStream struct {
	url   string
	log   zerolog.Logger
	limit int

	mu    sync.RWMutex
	bars  []PriceBar
	final func(PriceBar) // optional callback on each completed bar
}

// NewBarStream builds a stream that retains at most limit bars.
func NewBarStream(url string, limit int, log zerolog.Logger) *BarStream {
	if limit <= 0 {
		limit = 500
	}
	return &BarStream{url: url, limit: limit, log: log}
}

// OnFinalBar registers a callback invoked for every completed bar. Must be set
// before Run.
func (b *BarStream) OnFinalBar(fn func(PriceBar)) { b.final = fn }

// Bars returns a copy of the trailing n bars collected so far.
func (b *BarStream) Bars(n int) []PriceBar {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.bars) {
		n = len(b.bars)
	}
	out := make([]PriceBar, n)
	copy(out, b.bars[len(b.bars)-n:])
	return out
}

// Run consumes the stream until the context is canceled, reconnecting with
// exponential backoff on transport failures.
func (b *BarStream) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn().Err(err).Msg("bar stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (b *BarStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.log.Info().Str("url", b.url).Msg("connected bar stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var env klineEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			b.log.Debug().Err(err).Msg("skipping unparseable stream message")
			continue
		}
		bar, err := env.Data.Kline.toBar()
		if err != nil {
			b.log.Debug().Err(err).Msg("skipping malformed kline")
			continue
		}
		b.apply(bar, env.Data.Kline.Final)
	}
}

func (k klineBar) toBar() (PriceBar, error) {
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	closePx, err4 := strconv.ParseFloat(k.Close, 64)
	vol, err5 := strconv.ParseFloat(k.Volume, 64)
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return PriceBar{}, fmt.Errorf("parse kline: %w", err)
		}
	}
	return PriceBar{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: vol,
	}, nil
}

func (b *BarStream) apply(bar PriceBar, final bool) {
	b.mu.Lock()
	if n := len(b.bars); n > 0 && b.bars[n-1].Time.Equal(bar.Time) {
		b.bars[n-1] = bar
	} else {
		b.bars = append(b.bars, bar)
		if len(b.bars) > b.limit {
			b.bars = b.bars[len(b.bars)-b.limit:]
		}
	}
	cb := b.final
	b.mu.Unlock()

	if final && cb != nil {
		cb(bar)
	}
}
