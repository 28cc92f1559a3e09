package search

import (
	"context"
	"fmt"
	"math"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
	"github.com/agenthands/mnemo/internal/llm"
	"github.com/agenthands/mnemo/pkg/logger"
)

// Result is the retrieved memory subgraph.
type Result struct {
	Nodes         []model.NodeRecord `json:"nodes"`
	Relationships []model.RelRecord  `json:"relationships"`
}

// Searcher retrieves the subgraph relevant to a set of keywords: exact name
// seeds with an embedding-similarity fallback, then bounded neighbor
// expansion with an optional relevance judgment between rounds.
type Searcher struct {
	Driver     driver.GraphDriver
	Embedder   llm.EmbedderClient
	Filter     RelevanceFilter
	Threshold  float64
	MaxRounds  int
	MaxResults int
	logger     *zap.Logger
}

func NewSearcher(d driver.GraphDriver, embedder llm.EmbedderClient, filter RelevanceFilter, threshold float64, maxRounds, maxResults int) *Searcher {
	if threshold <= 0 {
		threshold = 0.6
	}
	if maxRounds <= 0 {
		maxRounds = 3
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	return &Searcher{
		Driver:     d,
		Embedder:   embedder,
		Filter:     filter,
		Threshold:  threshold,
		MaxRounds:  maxRounds,
		MaxResults: maxResults,
		logger:     logger.Get(),
	}
}

// RelevantMemories runs the seed-expand-filter loop. maxResults of 0 uses
// the configured default.
func (s *Searcher) RelevantMemories(ctx context.Context, keywords []string, summary string, maxResults int) (Result, error) {
	if maxResults <= 0 || maxResults > s.MaxResults {
		maxResults = s.MaxResults
	}

	kept := map[string]model.NodeRecord{}
	var order []string
	add := func(n model.NodeRecord) {
		if _, ok := kept[n.ID]; ok || len(kept) >= maxResults {
			return
		}
		kept[n.ID] = n
		order = append(order, n.ID)
	}

	for _, keyword := range keywords {
		seeds, err := s.seed(ctx, keyword)
		if err != nil {
			return Result{}, err
		}
		for _, n := range seeds {
			add(n)
		}
	}
	if len(kept) == 0 {
		return Result{}, nil
	}

	frontier := append([]string(nil), order...)
	for round := 0; round < s.MaxRounds && len(frontier) > 0 && len(kept) < maxResults; round++ {
		neighbors, err := s.expand(ctx, frontier)
		if err != nil {
			return Result{}, err
		}

		var fresh []model.NodeRecord
		for _, n := range neighbors {
			if _, ok := kept[n.ID]; !ok {
				fresh = append(fresh, n)
			}
		}
		if s.Filter != nil && summary != "" && len(fresh) > 0 {
			filtered, err := s.Filter.Filter(ctx, fresh, summary)
			if err != nil {
				s.logger.Warn("relevance filter errored, keeping round unfiltered", zap.Error(err))
			} else {
				fresh = filtered
			}
		}

		frontier = frontier[:0]
		for _, n := range fresh {
			if len(kept) >= maxResults {
				break
			}
			add(n)
			frontier = append(frontier, n.ID)
		}
	}

	nodes := make([]model.NodeRecord, 0, len(order))
	for _, id := range order {
		nodes = append(nodes, kept[id])
	}
	rels, err := s.relsAmong(ctx, order)
	if err != nil {
		return Result{}, err
	}
	return Result{Nodes: nodes, Relationships: rels}, nil
}

// seed finds starting nodes for one keyword: exact name matches first, then
// nodes whose embedding sits above the similarity threshold.
func (s *Searcher) seed(ctx context.Context, keyword string) ([]model.NodeRecord, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.SeedByNameQuery, map[string]interface{}{"name": keyword})
	if err != nil {
		return nil, fmt.Errorf("seed lookup failed: %w", err)
	}
	if len(res.Records) > 0 {
		return nodeRecords(res.Records), nil
	}
	return s.similarSeeds(ctx, keyword)
}

func (s *Searcher) similarSeeds(ctx context.Context, keyword string) ([]model.NodeRecord, error) {
	if s.Embedder == nil {
		return nil, nil
	}
	query, err := s.Embedder.Embed(ctx, keyword)
	if err != nil || len(query) == 0 {
		if err != nil {
			s.logger.Warn("seed embedding failed", zap.String("keyword", keyword), zap.Error(err))
		}
		return nil, nil
	}

	res, err := s.Driver.ExecuteQuery(ctx, driver.AllEmbeddingsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding scan failed: %w", err)
	}

	var ids []string
	for _, rec := range res.Records {
		stored := driver.RecordFloatSlice(rec, "embedding")
		if cosine(query, stored) >= s.Threshold {
			ids = append(ids, driver.RecordString(rec, "id"))
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	res, err = s.Driver.ExecuteQuery(ctx, driver.ExportNodesQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("seed fetch failed: %w", err)
	}
	return nodeRecords(res.Records), nil
}

func (s *Searcher) expand(ctx context.Context, ids []string) ([]model.NodeRecord, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.NeighborhoodQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("neighbor expansion failed: %w", err)
	}
	return nodeRecords(res.Records), nil
}

func (s *Searcher) relsAmong(ctx context.Context, ids []string) ([]model.RelRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	res, err := s.Driver.ExecuteQuery(ctx, driver.RelsAmongQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("relationship collection failed: %w", err)
	}
	rels := make([]model.RelRecord, 0, len(res.Records))
	for _, rec := range res.Records {
		rels = append(rels, model.RelRecord{
			ID:         driver.RecordString(rec, "id"),
			Type:       driver.RecordString(rec, "type"),
			StartNode:  driver.RecordString(rec, "start_id"),
			EndNode:    driver.RecordString(rec, "end_id"),
			Properties: driver.RecordProps(rec, "properties"),
		})
	}
	return rels, nil
}

func nodeRecords(records []*neo4j.Record) []model.NodeRecord {
	out := make([]model.NodeRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, model.NodeRecord{
			ID:         driver.RecordString(rec, "id"),
			Labels:     driver.RecordStringSlice(rec, "labels"),
			Properties: driver.RecordProps(rec, "properties"),
		})
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
