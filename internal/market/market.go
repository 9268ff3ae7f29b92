// Package market defines the data and order types shared with the execution venue,
// plus the Venue boundary the engine trades through.
package market

import (
	"context"
	"errors"
	"time"
)

// ErrDataUnavailable marks a failed price or account snapshot fetch. The engine
// treats it as recoverable: skip the tick and retry on the next one.
var ErrDataUnavailable = errors.New("market data unavailable")

// ErrExecution marks a failed order submit/modify/close. Recoverable with a
// bounded retry on the next tick.
var ErrExecution = errors.New("order execution failed")

// Side enumerates order directions.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PriceBar is one OHLCV candle. Bars are ordered and immutable once emitted.
type PriceBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// AccountSnapshot is a point-in-time view of the trading account.
type AccountSnapshot struct {
	Equity   float64
	Balance  float64
	Margin   float64
	Currency string
}

// SymbolInfo describes broker constraints for an instrument.
type SymbolInfo struct {
	Point        float64 // minimum price increment
	PipSize      float64 // pip used for stats and SL/TP hit tolerance
	StopsLevel   float64 // minimum SL/TP distance from price
	LotStep      float64
	MinLot       float64
	MaxLot       float64
	ContractSize float64 // units per 1.0 lot
}

// Position is a venue-confirmed open position.
type Position struct {
	Ticket     int64
	Symbol     string
	Magic      int64
	Side       Side
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
	Profit     float64 // floating P&L in account currency
}

// OrderRequest asks the venue to open a market position with protective levels attached.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64
	Comment    string
}

// FillResult confirms an order fill. Absence of a FillResult means no position exists.
type FillResult struct {
	Ticket int64
	Price  float64
	At     time.Time
}

// ModifyResult reports the outcome of a stop/target modification. Done=false with
// a reason is a rejection, not an error; the previous levels remain in force.
type ModifyResult struct {
	Done   bool
	Reason string
}

// CloseResult reports the outcome of a position close request.
type CloseResult struct {
	Done   bool
	Price  float64
	Profit float64
	Reason string
}

// ClosedTrade summarizes a completed round trip, used for realized P&L accounting.
type ClosedTrade struct {
	Ticket   int64
	Symbol   string
	Magic    int64
	Side     Side
	Volume   float64
	Entry    float64
	Exit     float64
	Profit   float64
	ClosedAt time.Time
	Comment  string
}

// Venue is the market-data and order-execution boundary. Implementations must be
// safe for single-threaded polling; calls are synchronous with caller timeouts
// carried by ctx.
type Venue interface {
	PriceSeries(ctx context.Context, symbol string, bars int) ([]PriceBar, error)
	Account(ctx context.Context) (AccountSnapshot, error)
	OpenPositions(ctx context.Context, symbol string, magic int64) ([]Position, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (FillResult, error)
	ModifyStop(ctx context.Context, ticket int64, newStop float64) (ModifyResult, error)
	ClosePosition(ctx context.Context, ticket int64, comment string) (CloseResult, error)
	ClosedTrades(ctx context.Context, from, to time.Time, magic int64) ([]ClosedTrade, error)
}
