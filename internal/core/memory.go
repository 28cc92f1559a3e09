package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/mnemo/internal/config"
	"github.com/agenthands/mnemo/internal/core/ingest"
	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/core/resolver"
	"github.com/agenthands/mnemo/internal/core/search"
	"github.com/agenthands/mnemo/internal/core/snapshot"
	"github.com/agenthands/mnemo/internal/core/timetree"
	"github.com/agenthands/mnemo/internal/core/writer"
	"github.com/agenthands/mnemo/internal/driver"
	"github.com/agenthands/mnemo/internal/llm"
	"github.com/agenthands/mnemo/pkg/logger"
)

// Memory is the top-level handle over the temporal knowledge graph. Every
// public operation that touches the store gates on cached connectivity and
// returns ErrNoConnection fast when the store is down.
type Memory struct {
	Driver   driver.GraphDriver
	Status   *driver.Status
	LLM      llm.LLMClient
	Embedder llm.EmbedderClient

	TimeTree *timetree.Builder
	Resolver *resolver.Resolver
	Writer   *writer.Writer
	Pipeline *ingest.Pipeline
	Searcher *search.Searcher
	Keywords *search.KeywordExtractor
	Syncer   *snapshot.Syncer

	bulkWorkers int
	logger      *zap.Logger
}

// NewMemory wires the full engine from configuration: store driver, model
// clients and every component on top of them.
func NewMemory(ctx context.Context, cfg *config.Config) (*Memory, error) {
	d, err := driver.NewNeo4jDriver(cfg.Neo4j)
	if err != nil {
		return nil, fmt.Errorf("initializing graph driver: %w", err)
	}
	llmClient, embedder, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing llm client: %w", err)
	}
	m := NewMemoryWithDeps(d, llmClient, embedder, cfg)
	if err := d.BuildIndices(ctx); err != nil {
		m.logger.Warn("index build failed", zap.Error(err))
	}
	return m, nil
}

// NewMemoryWithDeps assembles the engine around injected dependencies.
func NewMemoryWithDeps(d driver.GraphDriver, llmClient llm.LLMClient, embedder llm.EmbedderClient, cfg *config.Config) *Memory {
	tt := timetree.NewBuilder(d, embedder, cfg.Graph.DefaultContext)
	res := resolver.NewResolver(d)
	w := writer.NewWriter(d, embedder)

	var filter search.RelevanceFilter
	if llmClient != nil {
		filter = search.NewLLMRelevanceFilter(llmClient)
	}

	return &Memory{
		Driver:      d,
		Status:      driver.NewStatus(d),
		LLM:         llmClient,
		Embedder:    embedder,
		TimeTree:    tt,
		Resolver:    res,
		Writer:      w,
		Pipeline:    ingest.NewPipeline(res, w, tt, cfg.Graph.DefaultContext),
		Searcher:    search.NewSearcher(d, embedder, filter, cfg.Graph.SimilarityThreshold, cfg.Graph.ExpansionRounds, cfg.Graph.MaxResults),
		Keywords:    search.NewKeywordExtractor(llmClient),
		Syncer:      snapshot.NewSyncer(d, snapshot.NewFile(cfg.Snapshot.Path)),
		bulkWorkers: cfg.Concurrency.BulkIngest,
		logger:      logger.Get(),
	}
}

func (m *Memory) connected(ctx context.Context) error {
	if !m.Status.Check(ctx) {
		return model.ErrNoConnection
	}
	return nil
}

// AddFact ingests one extracted fact.
func (m *Memory) AddFact(ctx context.Context, fact ingest.Fact) (ingest.Result, error) {
	if err := m.connected(ctx); err != nil {
		return ingest.Result{}, err
	}
	return m.Pipeline.Ingest(ctx, fact)
}

// TripleRecord is the raw bulk-upload shape for plain facts. TimeRecord is
// the upstream bookkeeping timestamp, accepted for wire compatibility; the
// writer stamps its own created_at/last_updated and it never becomes fact
// time.
type TripleRecord struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	TimeRecord string  `json:"time_record"`
}

// QuintupleRecord is the raw bulk-upload shape for facts with time and
// location.
type QuintupleRecord struct {
	Subject    string  `json:"subject"`
	Action     string  `json:"action"`
	Object     string  `json:"object"`
	Time       string  `json:"time,omitempty"`
	Location   string  `json:"location,omitempty"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	TimeRecord string  `json:"time_record"`
}

func (r TripleRecord) fact() ingest.Fact {
	return ingest.Fact{
		Subject:    r.Subject,
		Predicate:  r.Predicate,
		Object:     r.Object,
		Source:     r.Source,
		Confidence: r.Confidence,
	}
}

func (r QuintupleRecord) fact() ingest.Fact {
	return ingest.Fact{
		Subject:    r.Subject,
		Predicate:  r.Action,
		Object:     r.Object,
		Time:       r.Time,
		Location:   r.Location,
		Source:     r.Source,
		Confidence: r.Confidence,
	}
}

// BulkReport summarizes a bulk ingestion. The batch succeeds when at least
// one fact landed.
type BulkReport struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// UploadTriples ingests raw triples on a bounded worker pool.
func (m *Memory) UploadTriples(ctx context.Context, records []TripleRecord) (BulkReport, error) {
	facts := make([]ingest.Fact, len(records))
	for i, r := range records {
		facts[i] = r.fact()
	}
	return m.uploadFacts(ctx, facts)
}

// UploadQuintuples ingests raw quintuples on a bounded worker pool.
func (m *Memory) UploadQuintuples(ctx context.Context, records []QuintupleRecord) (BulkReport, error) {
	facts := make([]ingest.Fact, len(records))
	for i, r := range records {
		facts[i] = r.fact()
	}
	return m.uploadFacts(ctx, facts)
}

func (m *Memory) uploadFacts(ctx context.Context, facts []ingest.Fact) (BulkReport, error) {
	if err := m.connected(ctx); err != nil {
		return BulkReport{}, err
	}
	workers := m.bulkWorkers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	var report BulkReport
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, fact := range facts {
		fact := fact
		g.Go(func() error {
			_, err := m.Pipeline.Ingest(gctx, fact)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s %s: %v", fact.Subject, fact.Predicate, err))
				return nil
			}
			report.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	if report.Succeeded == 0 && report.Failed > 0 {
		return report, fmt.Errorf("bulk ingestion failed for all %d facts", report.Failed)
	}
	return report, nil
}

// RelevantMemories retrieves the subgraph relevant to the keywords.
func (m *Memory) RelevantMemories(ctx context.Context, keywords []string, summary string, maxResults int) (search.Result, error) {
	if err := m.connected(ctx); err != nil {
		return search.Result{}, err
	}
	return m.Searcher.RelevantMemories(ctx, keywords, summary, maxResults)
}

// SearchText extracts keywords from free text, then retrieves.
func (m *Memory) SearchText(ctx context.Context, text, summary string, maxResults int) (search.Result, error) {
	if err := m.connected(ctx); err != nil {
		return search.Result{}, err
	}
	keywords := m.Keywords.Extract(ctx, text)
	if len(keywords) == 0 {
		return search.Result{}, nil
	}
	return m.Searcher.RelevantMemories(ctx, keywords, summary, maxResults)
}

// ModifyNode updates a node through the writer's validation rules.
func (m *Memory) ModifyNode(ctx context.Context, id string, update writer.NodeUpdate, mode writer.Mode) error {
	if err := m.connected(ctx); err != nil {
		return err
	}
	return m.Writer.ModifyNode(ctx, id, update, mode)
}

// ModifyRelationship updates a relationship through the writer's rules.
func (m *Memory) ModifyRelationship(ctx context.Context, id string, update writer.RelUpdate, mode writer.Mode) (string, error) {
	if err := m.connected(ctx); err != nil {
		return "", err
	}
	return m.Writer.ModifyRelationship(ctx, id, update, mode)
}

// UpdateSignificance applies decay or pins an explicit value.
func (m *Memory) UpdateSignificance(ctx context.Context, id string, explicit *float64, increaseImportance bool) error {
	if err := m.connected(ctx); err != nil {
		return err
	}
	return m.Writer.UpdateSignificance(ctx, id, explicit, increaseImportance)
}

// Delete removes a mixed batch of nodes and relationships from the store.
func (m *Memory) Delete(ctx context.Context, nodeIDs, relIDs []string) (int, []error) {
	if err := m.connected(ctx); err != nil {
		return 0, []error{err}
	}
	return m.Writer.Delete(ctx, nodeIDs, relIDs)
}

// Statistics reports node counts by kind and relationship counts by shape.
type Statistics struct {
	Entities   int64 `json:"entities"`
	Characters int64 `json:"characters"`
	Locations  int64 `json:"locations"`
	Times      int64 `json:"times"`
	Triples    int64 `json:"triples"`
	Quintuples int64 `json:"quintuples"`
}

func (m *Memory) Statistics(ctx context.Context) (Statistics, error) {
	if err := m.connected(ctx); err != nil {
		return Statistics{}, err
	}
	var stats Statistics
	counts := []struct {
		query string
		dest  *int64
	}{
		{driver.CountEntityQuery, &stats.Entities},
		{driver.CountCharacterQuery, &stats.Characters},
		{driver.CountLocationQuery, &stats.Locations},
		{driver.CountTimeQuery, &stats.Times},
		{driver.CountTripleRelsQuery, &stats.Triples},
		{driver.CountQuintupleRelsQuery, &stats.Quintuples},
	}
	for _, c := range counts {
		res, err := m.Driver.ExecuteQuery(ctx, c.query, nil)
		if err != nil {
			return Statistics{}, fmt.Errorf("statistics query failed: %w", err)
		}
		if len(res.Records) > 0 {
			*c.dest = driver.RecordInt(res.Records[0], "count")
		}
	}
	return stats, nil
}

// Export merges the requested store elements into the local snapshot.
func (m *Memory) Export(ctx context.Context, nodeIDs, relIDs []string) (snapshot.ExportReport, error) {
	if err := m.connected(ctx); err != nil {
		return snapshot.ExportReport{}, err
	}
	return m.Syncer.Export(ctx, nodeIDs, relIDs)
}

// Import pushes the requested local snapshot elements into the store.
func (m *Memory) Import(ctx context.Context, nodeIDs, relIDs []string) (snapshot.ImportReport, error) {
	if err := m.connected(ctx); err != nil {
		return snapshot.ImportReport{}, err
	}
	return m.Syncer.Import(ctx, nodeIDs, relIDs)
}

// LocalDelete edits the snapshot only; it works with the store down.
func (m *Memory) LocalDelete(nodeIDs, relIDs []string) (int, int, error) {
	return m.Syncer.LocalDelete(nodeIDs, relIDs)
}

// ClearAll wipes the entire store.
func (m *Memory) ClearAll(ctx context.Context) error {
	if err := m.connected(ctx); err != nil {
		return err
	}
	if _, err := m.Driver.ExecuteQuery(ctx, driver.ClearAllQuery, nil); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	return nil
}

// InvalidateConnectivity forces a fresh reachability probe on the next call.
func (m *Memory) InvalidateConnectivity() {
	m.Status.Invalidate()
}

func (m *Memory) Close(ctx context.Context) error {
	return m.Driver.Close(ctx)
}
