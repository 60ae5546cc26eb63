// Package breakers wraps outbound venue calls in circuit breakers. Repeated
// broker or news-source failures open the circuit and the protection loop
// skips the venue until the cool-off expires.
package breakers

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

type Breaker struct {
	name string
	cb   *cb.CircuitBreaker
}

// New builds a breaker that trips on 3 consecutive failures, or on a >5%
// failure rate once 20 requests have been seen in the rolling interval.
func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state change")
	}
	return &Breaker{name: name, cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// Do runs an error-only call through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, fn() })
	return err
}

// Open reports whether the circuit is currently refusing calls. The entry
// gate blocks new positions while the broker breaker is open.
func (b *Breaker) Open() bool { return b.cb.State() == cb.StateOpen }

func (b *Breaker) State() cb.State { return b.cb.State() }

// Registry hands out one breaker per venue name so the broker wrapper and
// the protection loop observe the same circuit.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name)
		r.breakers[name] = b
	}
	return b
}
