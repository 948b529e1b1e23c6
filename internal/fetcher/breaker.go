package fetcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// breakerRegistry holds one circuit breaker per host. A breaker opens after
// a run of consecutive failures, fails fast while open, and after the
// cooldown admits a single probe; one success closes it again.
type breakerRegistry struct {
	failures uint32
	cooldown time.Duration
	onOpen   func(host string)
	logger   *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry(failures int, cooldown time.Duration, logger *slog.Logger, onOpen func(string)) *breakerRegistry {
	return &breakerRegistry{
		failures: uint32(failures),
		cooldown: cooldown,
		onOpen:   onOpen,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// get returns the breaker for host, creating it on first use.
func (r *breakerRegistry) get(host string) *gobreaker.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[host]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check: another goroutine may have created it
	if cb, ok = r.breakers[host]; ok {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("breaker state change", "host", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && r.onOpen != nil {
				r.onOpen(name)
			}
		},
	})
	r.breakers[host] = cb
	return cb
}
