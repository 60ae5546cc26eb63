package broker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/sawpanic/alphaguard/infra/breakers"
)

// Protected wraps a venue with a circuit breaker and a token-bucket rate
// limit. Every call waits for a token first, then runs through the breaker,
// so a flapping venue is backed off instead of hammered.
type Protected struct {
	inner   Broker
	breaker *breakers.Breaker
	limiter *rate.Limiter
}

// Protect wires the venue through the named breaker at the given request
// rate and burst.
func Protect(inner Broker, reg *breakers.Registry, name string, rps float64, burst int) *Protected {
	return &Protected{
		inner:   inner,
		breaker: reg.Get(name),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Breaker exposes the underlying circuit so the entry gate can refuse new
// positions while the venue is open.
func (p *Protected) Breaker() *breakers.Breaker { return p.breaker }

func (p *Protected) call(ctx context.Context, op string, fn func() error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", op, err)
	}
	if err := p.breaker.Do(fn); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Protected) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := p.call(ctx, "positions", func() error {
		var err error
		out, err = p.inner.Positions(ctx)
		return err
	})
	return out, err
}

func (p *Protected) Quote(ctx context.Context, symbol string) (Quote, error) {
	var out Quote
	err := p.call(ctx, "quote", func() error {
		var err error
		out, err = p.inner.Quote(ctx, symbol)
		return err
	})
	return out, err
}

func (p *Protected) Account(ctx context.Context) (AccountStatus, error) {
	var out AccountStatus
	err := p.call(ctx, "account", func() error {
		var err error
		out, err = p.inner.Account(ctx)
		return err
	})
	return out, err
}

func (p *Protected) Modify(ctx context.Context, positionID string, mod Modification) error {
	return p.call(ctx, "modify", func() error {
		return p.inner.Modify(ctx, positionID, mod)
	})
}

func (p *Protected) ClosePartial(ctx context.Context, positionID string, volume float64, reason string) error {
	return p.call(ctx, "close_partial", func() error {
		return p.inner.ClosePartial(ctx, positionID, volume, reason)
	})
}

func (p *Protected) Close(ctx context.Context, positionID string, reason string) error {
	return p.call(ctx, "close", func() error {
		return p.inner.Close(ctx, positionID, reason)
	})
}

func (p *Protected) SetAutoTrading(ctx context.Context, enabled bool) error {
	return p.call(ctx, "set_auto_trading", func() error {
		return p.inner.SetAutoTrading(ctx, enabled)
	})
}
