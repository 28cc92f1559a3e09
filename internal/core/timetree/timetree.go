package timetree

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
	"github.com/agenthands/mnemo/internal/llm"
	"github.com/agenthands/mnemo/pkg/logger"
)

// Builder turns free-text temporal expressions into a chain of Time nodes
// linked by BELONGS_TO edges, reusing existing nodes so re-parsing the same
// expression never duplicates the chain.
type Builder struct {
	Driver   driver.GraphDriver
	Embedder llm.EmbedderClient
	Context  string
	logger   *zap.Logger
}

func NewBuilder(d driver.GraphDriver, embedder llm.EmbedderClient, defaultContext string) *Builder {
	if defaultContext == "" {
		defaultContext = "reality"
	}
	return &Builder{
		Driver:   d,
		Embedder: embedder,
		Context:  defaultContext,
		logger:   logger.Get(),
	}
}

// Build parses expr and upserts the hierarchy, returning the id of the most
// granular node. An empty expression returns ("", nil): no node, no error.
// An expression with no recognizable marker degrades to a single generic
// Time node keyed on the raw string.
func (b *Builder) Build(ctx context.Context, expr string) (string, error) {
	units, timeType := parse(expr)
	if len(units) == 0 {
		trimmed := strings.TrimSpace(expr)
		if trimmed == "" {
			return "", nil
		}
		// No year marker either, so the generic node is recurring.
		return b.upsertNode(ctx, trimmed, trimmed, model.TimeTypeRecurring)
	}

	var prevID string
	var lastID string
	for i, unit := range units {
		id, err := b.upsertNode(ctx, unit.name, unit.text, timeType)
		if err != nil {
			return "", err
		}
		if i > 0 {
			if err := b.ensureBelongsTo(ctx, id, prevID, hierarchyType(units[i], units[i-1])); err != nil {
				return "", err
			}
		}
		prevID = id
		lastID = id
	}

	return lastID, nil
}

// upsertNode finds a Time node by exact (name, canonical text) match or
// creates it. Time nodes embed their canonical text, best effort.
func (b *Builder) upsertNode(ctx context.Context, name, text, timeType string) (string, error) {
	res, err := b.Driver.ExecuteQuery(ctx, driver.FindTimeNodeQuery, map[string]interface{}{
		"name": name,
		"time": text,
	})
	if err != nil {
		return "", fmt.Errorf("time node lookup failed: %w", err)
	}
	if len(res.Records) > 0 {
		return driver.RecordString(res.Records[0], "id"), nil
	}

	now := model.Timestamp(time.Now())
	props := map[string]interface{}{
		"name":         name,
		"time":         text,
		"type":         timeType,
		"node_type":    string(model.KindTime),
		"context":      b.Context,
		"created_at":   now,
		"last_updated": now,
	}
	if b.Embedder != nil {
		if vec, err := b.Embedder.Embed(ctx, text); err == nil {
			props["embedding"] = vec
		} else {
			b.logger.Warn("time node embedding failed", zap.String("time", text), zap.Error(err))
		}
	}

	res, err = b.Driver.ExecuteQuery(ctx, driver.CreateTimeNodeQuery, map[string]interface{}{"props": props})
	if err != nil {
		return "", fmt.Errorf("time node create failed: %w", err)
	}
	if len(res.Records) == 0 {
		return "", fmt.Errorf("time node create returned no id")
	}
	return driver.RecordString(res.Records[0], "id"), nil
}

// ensureBelongsTo keeps exactly one BELONGS_TO edge per child/parent pair.
func (b *Builder) ensureBelongsTo(ctx context.Context, childID, parentID, hierarchy string) error {
	res, err := b.Driver.ExecuteQuery(ctx, driver.FindBelongsToQuery, map[string]interface{}{
		"start_id": childID,
		"end_id":   parentID,
	})
	if err != nil {
		return fmt.Errorf("hierarchy edge lookup failed: %w", err)
	}
	if len(res.Records) > 0 {
		return nil
	}

	now := model.Timestamp(time.Now())
	props := map[string]interface{}{
		"predicate":      model.TypeBelongsTo,
		"tech_type":      model.TypeBelongsTo,
		"hierarchy_type": hierarchy,
		"created_at":     now,
		"last_updated":   now,
	}
	_, err = b.Driver.ExecuteQuery(ctx, driver.CreateBelongsToQuery, map[string]interface{}{
		"start_id": childID,
		"end_id":   parentID,
		"props":    props,
	})
	if err != nil {
		return fmt.Errorf("hierarchy edge create failed: %w", err)
	}
	return nil
}
