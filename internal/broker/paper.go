package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/alphaguard/internal/bars"
)

// Paper is an in-memory venue. It backs paper-trading runs and every test
// that needs a broker on the other side of the wire.
type Paper struct {
	mu       sync.Mutex
	account  AccountStatus
	position map[string]Position
	quote    map[string]Quote
	atr      map[string]float64
	histATR  map[string]float64
	closed   []ClosedTrade
	failures map[string]error
}

func NewPaper(balance float64) *Paper {
	return &Paper{
		account: AccountStatus{
			Balance:     balance,
			Equity:      balance,
			FreeMargin:  balance,
			Currency:    "USD",
			AutoTrading: true,
		},
		position: make(map[string]Position),
		quote:    make(map[string]Quote),
		atr:      make(map[string]float64),
		histATR:  make(map[string]float64),
		failures: make(map[string]error),
	}
}

// Open registers a position and returns its ID.
func (p *Paper) Open(pos Position) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos.ID == "" {
		pos.ID = uuid.New().String()
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now()
	}
	p.position[pos.ID] = pos
	return pos.ID
}

// SetQuote publishes a quote for a symbol.
func (p *Paper) SetQuote(q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quote[q.Symbol] = q
}

// SetProfit updates the floating P&L on a position.
func (p *Paper) SetProfit(id string, profit float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.position[id]; ok {
		pos.Profit = profit
		p.position[id] = pos
	}
}

// SetEquity updates the account equity reading.
func (p *Paper) SetEquity(equity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account.Equity = equity
}

// SetBalance updates the account balance reading.
func (p *Paper) SetBalance(balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account.Balance = balance
}

// SetATR publishes the live ATR reading for a symbol.
func (p *Paper) SetATR(symbol string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.atr[symbol] = v
}

// SetHistoricalATR publishes the lookback-average ATR for a symbol.
func (p *Paper) SetHistoricalATR(symbol string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.histATR[symbol] = v
}

// FailNext makes the next call to the named operation return err.
func (p *Paper) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
}

func (p *Paper) takeFailure(op string) error {
	if err, ok := p.failures[op]; ok {
		delete(p.failures, op)
		return err
	}
	return nil
}

// ClosedTrades returns the realized close records so far.
func (p *Paper) ClosedTrades() []ClosedTrade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ClosedTrade, len(p.closed))
	copy(out, p.closed)
	return out
}

// Lookup returns the live copy of a position.
func (p *Paper) Lookup(id string) (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.position[id]
	return pos, ok
}

func (p *Paper) Positions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("positions"); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(p.position))
	for _, pos := range p.position {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (p *Paper) Quote(ctx context.Context, symbol string) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("quote"); err != nil {
		return Quote{}, err
	}
	q, ok := p.quote[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (p *Paper) Account(ctx context.Context) (AccountStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("account"); err != nil {
		return AccountStatus{}, err
	}
	return p.account, nil
}

func (p *Paper) Modify(ctx context.Context, positionID string, mod Modification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("modify"); err != nil {
		return err
	}
	pos, ok := p.position[positionID]
	if !ok {
		return fmt.Errorf("modify %s: %w", positionID, ErrPositionNotFound)
	}
	if mod.StopLoss != 0 {
		pos.StopLoss = mod.StopLoss
	}
	if mod.TakeProfit != 0 {
		pos.TakeProfit = mod.TakeProfit
	}
	p.position[positionID] = pos
	return nil
}

func (p *Paper) ClosePartial(ctx context.Context, positionID string, volume float64, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("close_partial"); err != nil {
		return err
	}
	pos, ok := p.position[positionID]
	if !ok {
		return fmt.Errorf("partial close %s: %w", positionID, ErrPositionNotFound)
	}
	if volume <= 0 || volume >= pos.Volume {
		return fmt.Errorf("partial close %s: volume %.2f outside (0, %.2f)", positionID, volume, pos.Volume)
	}

	share := volume / pos.Volume
	realized := pos.Profit * share
	p.closed = append(p.closed, ClosedTrade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Volume:     volume,
		Profit:     realized,
		AlphaID:    pos.AlphaID,
		Reason:     reason,
		ClosedAt:   time.Now(),
	})
	pos.Volume -= volume
	pos.Profit -= realized
	p.position[positionID] = pos
	p.account.Balance += realized
	return nil
}

func (p *Paper) Close(ctx context.Context, positionID string, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("close"); err != nil {
		return err
	}
	pos, ok := p.position[positionID]
	if !ok {
		return fmt.Errorf("close %s: %w", positionID, ErrPositionNotFound)
	}
	// Swap and commission settle with the final close.
	p.closed = append(p.closed, ClosedTrade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Volume:     pos.Volume,
		Profit:     pos.NetProfit(),
		AlphaID:    pos.AlphaID,
		Reason:     reason,
		ClosedAt:   time.Now(),
	})
	p.account.Balance += pos.NetProfit()
	delete(p.position, positionID)
	return nil
}

func (p *Paper) SetAutoTrading(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("set_auto_trading"); err != nil {
		return err
	}
	p.account.AutoTrading = enabled
	return nil
}

func (p *Paper) ATR(ctx context.Context, symbol string, tf bars.Timeframe, period int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("atr"); err != nil {
		return 0, err
	}
	v, ok := p.atr[symbol]
	if !ok {
		return 0, fmt.Errorf("no ATR series for %s", symbol)
	}
	return v, nil
}

// HistoricalATR falls back to the live reading until a dedicated lookback
// average has been published.
func (p *Paper) HistoricalATR(ctx context.Context, symbol string, tf bars.Timeframe, period, lookbackDays int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("historical_atr"); err != nil {
		return 0, err
	}
	if v, ok := p.histATR[symbol]; ok {
		return v, nil
	}
	v, ok := p.atr[symbol]
	if !ok {
		return 0, fmt.Errorf("no ATR series for %s", symbol)
	}
	return v, nil
}
