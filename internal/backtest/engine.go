package backtest

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alphaguard/internal/bars"
)

// openState is the single in-flight position during a run.
type openState struct {
	direction  Direction
	entryPrice float64
	entryTime  int // bar index
	quantity   float64
	stopLoss   float64
	takeProfit float64
}

// Run replays strategy over the series with the given materialized parameters.
// At most one position is open at a time. Exits are evaluated only on bars
// where a position was already open at the bar's start; entries only when flat
// at the bar's start, so a reversal close never re-opens on the same bar.
func Run(series *bars.Series, strategy StrategyFunc, params Params, cfg Config) (*Result, error) {
	if series == nil || series.Len() == 0 {
		return nil, fmt.Errorf("backtest: %w", bars.ErrInsufficientData)
	}
	if strategy == nil {
		return nil, fmt.Errorf("backtest: strategy function is required")
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("backtest: initial capital must be positive, got %.2f", cfg.InitialCapital)
	}
	if cfg.PositionFraction <= 0 || cfg.PositionFraction > 1 {
		return nil, fmt.Errorf("backtest: position fraction must be in (0,1], got %.4f", cfg.PositionFraction)
	}

	capital := cfg.InitialCapital
	peak := capital
	equity := make([]float64, 0, series.Len()+1)
	drawdown := make([]float64, 0, series.Len()+1)
	equity = append(equity, capital)
	drawdown = append(drawdown, 0)

	var trades []Trade
	var open *openState

	closeTrade := func(exitPrice float64, exitIdx int, reason ExitReason) {
		var gross float64
		if open.direction == Buy {
			gross = (exitPrice - open.entryPrice) * open.quantity
		} else {
			gross = (open.entryPrice - exitPrice) * open.quantity
		}
		commission := open.entryPrice * open.quantity * cfg.CommissionRate
		profit := gross - commission
		capital += profit

		trades = append(trades, Trade{
			ID:         uuid.New().String(),
			Symbol:     series.Symbol,
			Direction:  open.direction,
			EntryPrice: open.entryPrice,
			ExitPrice:  exitPrice,
			EntryTime:  series.At(open.entryTime).Time,
			ExitTime:   series.At(exitIdx).Time,
			Quantity:   open.quantity,
			Profit:     profit,
			Commission: commission,
			StopLoss:   open.stopLoss,
			TakeProfit: open.takeProfit,
			ExitReason: reason.String(),
		})
		open = nil
	}

	for i := 0; i < series.Len(); i++ {
		bar := series.At(i)

		if open != nil {
			// Exit priority: stop-loss, then take-profit, then reversal.
			switch {
			case open.stopLoss > 0 && open.direction == Buy && bar.Low <= open.stopLoss:
				closeTrade(open.stopLoss, i, ExitStopLoss)
			case open.stopLoss > 0 && open.direction == Sell && bar.High >= open.stopLoss:
				closeTrade(open.stopLoss, i, ExitStopLoss)
			case open.takeProfit > 0 && open.direction == Buy && bar.High >= open.takeProfit:
				closeTrade(open.takeProfit, i, ExitTakeProfit)
			case open.takeProfit > 0 && open.direction == Sell && bar.Low <= open.takeProfit:
				closeTrade(open.takeProfit, i, ExitTakeProfit)
			default:
				if sig := strategy(series, params, i); sig != nil && sig.Direction != open.direction {
					closeTrade(bar.Close, i, ExitReversal)
				}
			}
		} else if sig := strategy(series, params, i); sig != nil {
			if sig.Direction != Buy && sig.Direction != Sell {
				return nil, fmt.Errorf("backtest: bar %d: invalid signal direction %q", i, sig.Direction)
			}
			entry := sig.EntryPrice
			if entry <= 0 {
				entry = bar.Close
			}
			// Slippage moves the fill against the trader.
			if sig.Direction == Buy {
				entry *= 1 + cfg.Slippage
			} else {
				entry *= 1 - cfg.Slippage
			}
			open = &openState{
				direction:  sig.Direction,
				entryPrice: entry,
				entryTime:  i,
				quantity:   capital * cfg.PositionFraction / entry,
				stopLoss:   sig.StopLoss,
				takeProfit: sig.TakeProfit,
			}
		}

		equity = append(equity, capital)
		if capital > peak {
			peak = capital
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - capital) / peak
		}
		drawdown = append(drawdown, dd)
	}

	result := &Result{
		Trades:        trades,
		EquityCurve:   equity,
		DrawdownCurve: drawdown,
		Parameters:    params.Clone(),
		StartDate:     series.Start(),
		EndDate:       series.End(),
	}
	if open != nil {
		result.OpenAtEnd = &OpenPosition{
			Symbol:     series.Symbol,
			Direction:  open.direction,
			EntryPrice: open.entryPrice,
			EntryTime:  series.At(open.entryTime).Time,
			Quantity:   open.quantity,
			StopLoss:   open.stopLoss,
			TakeProfit: open.takeProfit,
		}
		log.Debug().
			Str("symbol", series.Symbol).
			Str("direction", string(open.direction)).
			Float64("entry", open.entryPrice).
			Msg("Position still open after final bar, excluded from trade list")
	}
	result.Metrics = CalculateMetrics(trades, equity, drawdown, cfg.InitialCapital)
	return result, nil
}
