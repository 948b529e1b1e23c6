package enrich

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// sourceCountryScore is the confidence assigned to the publisher's
// country when no tagged mention resolved to it.
const sourceCountryScore = 0.5

// Geo resolves LOC and GPE mentions against the country gazetteer and
// aggregates them into per-country geo entities.
type Geo struct {
	logger *slog.Logger
}

func NewGeo(logger *slog.Logger) *Geo {
	return &Geo{logger: logger.With("component", "enrich.geo")}
}

func (g *Geo) Name() string { return "geo_entities" }

func (g *Geo) Enrich(_ context.Context, a *Article) error {
	a.Out.GeoEntities = ResolveGeo(a.Out.Entities, a.Entry.SourceCountry)
	return nil
}

type geoAccum struct {
	country Country
	count   int
	sum     float64
	n       int
}

// ResolveGeo maps tagged location mentions to ISO-3166 countries. The
// publisher's source country is appended at a fixed low score when no
// mention already resolved to it. Results are ordered by count
// descending, then name ascending.
func ResolveGeo(ents *types.EntitySet, sourceCountry string) []types.GeoEntity {
	byAlpha3 := make(map[string]*geoAccum)

	if ents != nil {
		for _, cat := range []string{"LOC", "GPE"} {
			for _, m := range ents.Categories[cat] {
				country, ok := LookupCountry(m.Text)
				if !ok {
					continue
				}
				acc := byAlpha3[country.Alpha3]
				if acc == nil {
					acc = &geoAccum{country: country}
					byAlpha3[country.Alpha3] = acc
				}
				acc.count++
				acc.sum += m.Score
				acc.n++
			}
		}
	}

	if sourceCountry != "" {
		if country, ok := LookupCountry(sourceCountry); ok {
			if _, seen := byAlpha3[country.Alpha3]; !seen {
				byAlpha3[country.Alpha3] = &geoAccum{
					country: country,
					count:   1,
					sum:     sourceCountryScore,
					n:       1,
				}
			}
		}
	}

	if len(byAlpha3) == 0 {
		return nil
	}

	out := make([]types.GeoEntity, 0, len(byAlpha3))
	for _, acc := range byAlpha3 {
		out = append(out, types.GeoEntity{
			Name:     acc.country.Name,
			Count:    acc.count,
			Alpha2:   acc.country.Alpha2,
			Alpha3:   acc.country.Alpha3,
			AvgScore: math.Round(acc.sum/float64(acc.n)*10000) / 10000,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
