package fetcher

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// Fetcher is the interface for page fetcher implementations.
type Fetcher interface {
	// Fetch retrieves the content at the given URL.
	Fetch(ctx context.Context, rawURL string) (*types.Page, error)

	// Close releases any resources held by the fetcher.
	Close() error
}

// admission gates fetches with a global slot count and a per-host slot
// count. Slots are held for the whole retry loop of one URL, including the
// polite post-success delay, so an unruly host cannot soak the pool.
type admission struct {
	global   *semaphore.Weighted
	perHostN int64

	mu      sync.Mutex
	perHost map[string]*semaphore.Weighted
}

func newAdmission(globalN, perHostN int) *admission {
	return &admission{
		global:   semaphore.NewWeighted(int64(globalN)),
		perHostN: int64(perHostN),
		perHost:  make(map[string]*semaphore.Weighted),
	}
}

func (a *admission) hostSem(host string) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	sem, ok := a.perHost[host]
	if !ok {
		sem = semaphore.NewWeighted(a.perHostN)
		a.perHost[host] = sem
	}
	return sem
}

// acquire blocks until both slots are held. The returned release must be
// called exactly once.
func (a *admission) acquire(ctx context.Context, host string) (func(), error) {
	if err := a.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	sem := a.hostSem(host)
	if err := sem.Acquire(ctx, 1); err != nil {
		a.global.Release(1)
		return nil, err
	}
	return func() {
		sem.Release(1)
		a.global.Release(1)
	}, nil
}
