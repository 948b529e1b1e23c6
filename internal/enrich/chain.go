package enrich

import (
	"context"
	"log/slog"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// Article is the unit passed through the chain: the entry under
// enrichment, its extracted text, and the write-back values accumulated
// so far.
type Article struct {
	Entry  *types.Entry
	Text   string
	Out    *types.Enrichment
	Topics []types.Topic
}

// Enricher annotates an Article in place. Enrichers are best-effort:
// a failure is logged and the chain continues.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, a *Article) error
}

// Chain runs enrichers in registration order.
type Chain struct {
	enrichers []Enricher
	logger    *slog.Logger
}

// NewChain creates an empty enrichment chain.
func NewChain(logger *slog.Logger) *Chain {
	return &Chain{logger: logger.With("component", "enrich")}
}

// Use appends an enricher to the chain.
func (c *Chain) Use(e Enricher) {
	c.enrichers = append(c.enrichers, e)
}

// Len returns the number of registered enrichers.
func (c *Chain) Len() int { return len(c.enrichers) }

// Enrich runs every enricher over the article. Individual failures are
// non-fatal; context cancellation stops the chain.
func (c *Chain) Enrich(ctx context.Context, a *Article) error {
	if a.Out == nil {
		a.Out = &types.Enrichment{}
	}
	for _, e := range c.enrichers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Enrich(ctx, a); err != nil {
			c.logger.Warn("enricher failed",
				"enricher", e.Name(),
				"entry_id", a.Entry.ID,
				"error", err,
			)
		}
	}
	return nil
}

// Hostname derives the entry's hostname from its URL. Pure parse, no I/O.
type Hostname struct{}

func (Hostname) Name() string { return "hostname" }

func (Hostname) Enrich(_ context.Context, a *Article) error {
	host := types.HostOf(a.Entry.URL)
	if host == "" {
		return nil
	}
	a.Entry.Hostname = host
	a.Out.Hostname = &host
	return nil
}
