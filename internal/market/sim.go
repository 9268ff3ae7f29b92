package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const epsilon = 1e-9

// Sim is an in-memory venue used by tests and paper mode. Orders fill at the
// requested price, stops and targets are honored against incoming bars, and
// balances track realized P&L the way a netting broker account would.
type Sim struct {
	mu         sync.Mutex
	symbol     string
	info       SymbolInfo
	balance    float64
	bars       []PriceBar
	positions  map[int64]*Position
	closed     []ClosedTrade
	nextTicket int64

	// RejectModifies makes every ModifyStop call fail; used to exercise the
	// keep-last-confirmed-stop path.
	RejectModifies bool
	// FailData makes snapshot fetches fail; used to exercise skip-tick handling.
	FailData bool
}

// NewSim builds a simulated venue seeded with history and a starting balance.
func NewSim(symbol string, info SymbolInfo, startBalance float64, bars []PriceBar) *Sim {
	if info.LotStep <= 0 {
		info.LotStep = 0.01
	}
	if info.MinLot <= 0 {
		info.MinLot = 0.01
	}
	if info.MaxLot <= 0 {
		info.MaxLot = 100
	}
	if info.ContractSize <= 0 {
		info.ContractSize = 100000
	}
	if info.PipSize <= 0 {
		info.PipSize = 0.0001
	}
	s := &Sim{
		symbol:     symbol,
		info:       info,
		balance:    startBalance,
		positions:  make(map[int64]*Position),
		nextTicket: 1000,
	}
	s.bars = append(s.bars, bars...)
	return s
}

// Advance appends a bar, marks open positions to its close, and fills any stop
// or target the bar's range crossed.
func (s *Sim) Advance(bar PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, bar)

	for ticket, pos := range s.positions {
		if hit, price, reason := stopOrTargetHit(pos, bar); hit {
			s.closeLocked(ticket, price, bar.Time, reason)
			continue
		}
		pos.Profit = s.floatingProfit(pos, bar.Close)
	}
}

func stopOrTargetHit(pos *Position, bar PriceBar) (bool, float64, string) {
	if pos.Side == Buy {
		if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
			return true, pos.StopLoss, "sl"
		}
		if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
			return true, pos.TakeProfit, "tp"
		}
		return false, 0, ""
	}
	if pos.StopLoss > 0 && bar.High >= pos.StopLoss {
		return true, pos.StopLoss, "sl"
	}
	if pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit {
		return true, pos.TakeProfit, "tp"
	}
	return false, 0, ""
}

func (s *Sim) floatingProfit(pos *Position, price float64) float64 {
	diff := price - pos.OpenPrice
	if pos.Side == Sell {
		diff = -diff
	}
	return diff * pos.Volume * s.info.ContractSize
}

func (s *Sim) closeLocked(ticket int64, price float64, at time.Time, comment string) {
	pos, ok := s.positions[ticket]
	if !ok {
		return
	}
	profit := s.floatingProfit(pos, price)
	s.balance += profit
	s.closed = append(s.closed, ClosedTrade{
		Ticket:   ticket,
		Symbol:   pos.Symbol,
		Magic:    pos.Magic,
		Side:     pos.Side,
		Volume:   pos.Volume,
		Entry:    pos.OpenPrice,
		Exit:     price,
		Profit:   profit,
		ClosedAt: at,
		Comment:  comment,
	})
	delete(s.positions, ticket)
}

// LastClose returns the most recent bar close, or 0 with no history.
func (s *Sim) LastClose() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bars) == 0 {
		return 0
	}
	return s.bars[len(s.bars)-1].Close
}

// PriceSeries returns the trailing n bars.
func (s *Sim) PriceSeries(_ context.Context, symbol string, n int) ([]PriceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailData {
		return nil, fmt.Errorf("%w: simulated outage", ErrDataUnavailable)
	}
	if symbol != s.symbol {
		return nil, fmt.Errorf("%w: unknown symbol %s", ErrDataUnavailable, symbol)
	}
	if len(s.bars) == 0 {
		return nil, fmt.Errorf("%w: no bars", ErrDataUnavailable)
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	out := make([]PriceBar, n)
	copy(out, s.bars[len(s.bars)-n:])
	return out, nil
}

// Account reports balance plus floating P&L as equity.
func (s *Sim) Account(_ context.Context) (AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailData {
		return AccountSnapshot{}, fmt.Errorf("%w: simulated outage", ErrDataUnavailable)
	}
	floating := 0.0
	for _, pos := range s.positions {
		floating += pos.Profit
	}
	return AccountSnapshot{Equity: s.balance + floating, Balance: s.balance, Currency: "GBP"}, nil
}

// OpenPositions lists open positions scoped to symbol and magic, as copies.
func (s *Sim) OpenPositions(_ context.Context, symbol string, magic int64) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Position
	for _, pos := range s.positions {
		if pos.Symbol == symbol && pos.Magic == magic {
			out = append(out, *pos)
		}
	}
	return out, nil
}

// SymbolInfo returns broker constraints for the instrument.
func (s *Sim) SymbolInfo(_ context.Context, symbol string) (SymbolInfo, error) {
	if symbol != s.symbol {
		return SymbolInfo{}, fmt.Errorf("%w: unknown symbol %s", ErrDataUnavailable, symbol)
	}
	return s.info, nil
}

// SubmitOrder fills immediately at the requested price (or last close when zero).
func (s *Sim) SubmitOrder(_ context.Context, req OrderRequest) (FillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Volume < s.info.MinLot-epsilon {
		return FillResult{}, fmt.Errorf("%w: volume %.2f below minimum", ErrExecution, req.Volume)
	}
	price := req.Price
	if price <= 0 {
		if len(s.bars) == 0 {
			return FillResult{}, fmt.Errorf("%w: no market price", ErrExecution)
		}
		price = s.bars[len(s.bars)-1].Close
	}
	at := time.Now()
	if len(s.bars) > 0 {
		at = s.bars[len(s.bars)-1].Time
	}
	s.nextTicket++
	ticket := s.nextTicket
	s.positions[ticket] = &Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Magic:      req.Magic,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   at,
	}
	return FillResult{Ticket: ticket, Price: price, At: at}, nil
}

// ModifyStop updates a position's protective stop unless rejection is forced.
func (s *Sim) ModifyStop(_ context.Context, ticket int64, newStop float64) (ModifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectModifies {
		return ModifyResult{Done: false, Reason: "modify rejected by venue"}, nil
	}
	pos, ok := s.positions[ticket]
	if !ok {
		return ModifyResult{}, fmt.Errorf("%w: position %d not found", ErrExecution, ticket)
	}
	pos.StopLoss = newStop
	return ModifyResult{Done: true}, nil
}

// ClosePosition closes at the last bar close.
func (s *Sim) ClosePosition(_ context.Context, ticket int64, comment string) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[ticket]
	if !ok {
		return CloseResult{}, fmt.Errorf("%w: position %d not found", ErrExecution, ticket)
	}
	if len(s.bars) == 0 {
		return CloseResult{}, fmt.Errorf("%w: no market price", ErrExecution)
	}
	price := s.bars[len(s.bars)-1].Close
	profit := s.floatingProfit(pos, price)
	s.closeLocked(ticket, price, s.bars[len(s.bars)-1].Time, comment)
	return CloseResult{Done: true, Price: price, Profit: profit}, nil
}

// ClosedTrades returns trades closed within [from, to] for the magic.
func (s *Sim) ClosedTrades(_ context.Context, from, to time.Time, magic int64) ([]ClosedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ClosedTrade
	for _, tr := range s.closed {
		if tr.Magic != magic {
			continue
		}
		if tr.ClosedAt.Before(from) || tr.ClosedAt.After(to) {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}
