package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
	"github.com/agenthands/mnemo/pkg/logger"
)

// Query carries everything known about the node being looked up. Name is
// required; the rest are hints that narrow the candidate pool.
type Query struct {
	Name      string
	Kind      model.NodeKind
	Context   string
	Time      string // canonical time text the node should be linked to
	Location  string // location name the node should be linked to
	Companion string // name of a node expected adjacent to the target
}

// Candidate is one node sharing the queried name, with its linked time and
// location names collected for filtering.
type Candidate struct {
	ID          string
	Kind        string
	Context     string
	LastUpdated string
	Times       []string
	Locations   []string
}

// Resolver narrows same-name nodes down to a single graph id.
type Resolver struct {
	Driver driver.GraphDriver
	logger *zap.Logger
}

func NewResolver(d driver.GraphDriver) *Resolver {
	return &Resolver{Driver: d, logger: logger.Get()}
}

// Resolve runs the narrowing funnel and returns the id of the single best
// match, or ErrNotFound when no candidate survives. Hard filters (kind,
// context, time, location) can fail the resolution; the companion hint and
// the recency tie-break only rank survivors.
func (r *Resolver) Resolve(ctx context.Context, q Query) (string, error) {
	if q.Name == "" {
		return "", fmt.Errorf("%w: resolve needs a name", model.ErrValidation)
	}

	candidates, err := r.fetch(ctx, q.Name)
	if err != nil {
		return "", err
	}

	candidates = filterKind(candidates, q.Kind)
	candidates = filterContext(candidates, q.Context)
	candidates = filterLinked(candidates, q.Time, func(c Candidate) []string { return c.Times })
	candidates = filterLinked(candidates, q.Location, func(c Candidate) []string { return c.Locations })

	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no node named %q matches", model.ErrNotFound, q.Name)
	}
	if len(candidates) == 1 {
		return candidates[0].ID, nil
	}

	if q.Companion != "" {
		narrowed, err := r.filterCompanion(ctx, candidates, q.Companion)
		if err != nil {
			r.logger.Warn("companion narrowing failed, ignoring hint",
				zap.String("name", q.Name), zap.String("companion", q.Companion), zap.Error(err))
		} else if len(narrowed) > 0 {
			// A hint that would empty the pool is treated as wrong and dropped.
			candidates = narrowed
		}
	}

	return mostRecent(candidates).ID, nil
}

func (r *Resolver) fetch(ctx context.Context, name string) ([]Candidate, error) {
	res, err := r.Driver.ExecuteQuery(ctx, driver.GetNodesByNameQuery, map[string]interface{}{"name": name})
	if err != nil {
		return nil, fmt.Errorf("candidate lookup failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(res.Records))
	for _, rec := range res.Records {
		candidates = append(candidates, Candidate{
			ID:          driver.RecordString(rec, "id"),
			Kind:        driver.RecordString(rec, "node_type"),
			Context:     driver.RecordString(rec, "context"),
			LastUpdated: driver.RecordString(rec, "last_updated"),
			Times:       driver.RecordStringSlice(rec, "times"),
			Locations:   driver.RecordStringSlice(rec, "locations"),
		})
	}
	return candidates, nil
}

func filterKind(candidates []Candidate, kind model.NodeKind) []Candidate {
	if kind == "" {
		return candidates
	}
	var kept []Candidate
	for _, c := range candidates {
		if c.Kind == string(kind) {
			kept = append(kept, c)
		}
	}
	return kept
}

// filterContext keeps candidates whose context contains the filter context,
// so a candidate tagged "reality,game" stays plausible for "reality".
func filterContext(candidates []Candidate, context string) []Candidate {
	if context == "" {
		return candidates
	}
	var kept []Candidate
	for _, c := range candidates {
		if strings.Contains(c.Context, context) {
			kept = append(kept, c)
		}
	}
	return kept
}

// filterLinked applies a time or location hint. Candidates linked to the
// hinted value win outright; if none are, candidates with no links of that
// kind remain plausible. Candidates linked elsewhere are dropped either way.
func filterLinked(candidates []Candidate, hint string, links func(Candidate) []string) []Candidate {
	if hint == "" {
		return candidates
	}
	var exact, unlinked []Candidate
	for _, c := range candidates {
		vals := links(c)
		if len(vals) == 0 {
			unlinked = append(unlinked, c)
			continue
		}
		for _, v := range vals {
			if v == hint {
				exact = append(exact, c)
				break
			}
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return unlinked
}

func (r *Resolver) filterCompanion(ctx context.Context, candidates []Candidate, companion string) ([]Candidate, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	res, err := r.Driver.ExecuteQuery(ctx, driver.CompanionLinkedQuery, map[string]interface{}{
		"ids":       ids,
		"companion": companion,
	})
	if err != nil {
		return nil, err
	}

	linked := make(map[string]bool, len(res.Records))
	for _, rec := range res.Records {
		linked[driver.RecordString(rec, "id")] = true
	}

	var kept []Candidate
	for _, c := range candidates {
		if linked[c.ID] {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// mostRecent breaks remaining ties by last_updated. Timestamps are stored as
// RFC3339Nano so string comparison orders them correctly.
func mostRecent(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LastUpdated > best.LastUpdated {
			best = c
		}
	}
	return best
}
