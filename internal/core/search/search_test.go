package search

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
)

type mockDriver struct {
	results map[string][]neo4j.EagerResult
	calls   []string
}

func newMockDriver() *mockDriver {
	return &mockDriver{results: map[string][]neo4j.EagerResult{}}
}

func (m *mockDriver) queue(query string, res neo4j.EagerResult) {
	m.results[query] = append(m.results[query], res)
}

func (m *mockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.calls = append(m.calls, query)
	queue := m.results[query]
	if len(queue) == 0 {
		return neo4j.EagerResult{}, nil
	}
	m.results[query] = queue[1:]
	return queue[0], nil
}

func (m *mockDriver) VerifyConnectivity(ctx context.Context) error { return nil }
func (m *mockDriver) BuildIndices(ctx context.Context) error       { return nil }
func (m *mockDriver) Close(ctx context.Context) error              { return nil }

func nodeRow(id, name, kind string) *neo4j.Record {
	return &neo4j.Record{
		Keys: []string{"id", "labels", "properties"},
		Values: []interface{}{id, []interface{}{kind}, map[string]interface{}{
			"name": name, "node_type": kind,
		}},
	}
}

func rows(records ...*neo4j.Record) neo4j.EagerResult {
	return neo4j.EagerResult{Records: records}
}

type stubLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *stubLLM) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.response, s.err
}

type stubEmbedder struct {
	vecs map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector")
}

// keepNames is a RelevanceFilter pinned to an allow-list, standing in for
// the model judgment.
type keepNames map[string]bool

func (k keepNames) Filter(ctx context.Context, candidates []model.NodeRecord, summary string) ([]model.NodeRecord, error) {
	var kept []model.NodeRecord
	for _, c := range candidates {
		if name, _ := c.Properties["name"].(string); k[name] {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func TestRelevantMemoriesSeedAndExpand(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.SeedByNameQuery, rows(nodeRow("a", "小明", "Character")))
	m.queue(driver.NeighborhoodQuery, rows(
		nodeRow("b", "演唱会", "Entity"),
		nodeRow("c", "天气", "Entity"),
	))
	m.queue(driver.RelsAmongQuery, neo4j.EagerResult{Records: []*neo4j.Record{{
		Keys:   []string{"id", "type", "properties", "start_id", "end_id"},
		Values: []interface{}{"r1", "RELATED_TO", map[string]interface{}{"predicate": "参加了"}, "a", "b"},
	}}})

	s := NewSearcher(m, nil, keepNames{"演唱会": true}, 0.6, 3, 20)
	res, err := s.RelevantMemories(context.Background(), []string{"小明"}, "concert plans", 0)
	require.NoError(t, err)

	require.Len(t, res.Nodes, 2, "the filter drops the irrelevant neighbor")
	assert.Equal(t, "a", res.Nodes[0].ID)
	assert.Equal(t, "b", res.Nodes[1].ID)
	require.Len(t, res.Relationships, 1)
	assert.Equal(t, "r1", res.Relationships[0].ID)
}

func TestRelevantMemoriesNoSeeds(t *testing.T) {
	s := NewSearcher(newMockDriver(), nil, nil, 0.6, 3, 20)
	res, err := s.RelevantMemories(context.Background(), []string{"ghost"}, "", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
	assert.Empty(t, res.Relationships)
}

func TestRelevantMemoriesCap(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.SeedByNameQuery, rows(nodeRow("a", "小明", "Character")))
	m.queue(driver.NeighborhoodQuery, rows(
		nodeRow("b", "b", "Entity"),
		nodeRow("c", "c", "Entity"),
		nodeRow("d", "d", "Entity"),
	))

	s := NewSearcher(m, nil, nil, 0.6, 3, 20)
	res, err := s.RelevantMemories(context.Background(), []string{"小明"}, "", 2)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 2)
}

func TestRelevantMemoriesEmbeddingFallback(t *testing.T) {
	m := newMockDriver()
	// no exact name match queued, so the seed path falls through
	m.queue(driver.AllEmbeddingsQuery, neo4j.EagerResult{Records: []*neo4j.Record{
		{Keys: []string{"id", "embedding"}, Values: []interface{}{"a", []interface{}{1.0, 0.0}}},
		{Keys: []string{"id", "embedding"}, Values: []interface{}{"b", []interface{}{0.0, 1.0}}},
	}})
	m.queue(driver.ExportNodesQuery, rows(nodeRow("a", "晚餐", "Entity")))

	embedder := &stubEmbedder{vecs: map[string][]float32{"晚饭": {1, 0}}}
	s := NewSearcher(m, embedder, nil, 0.6, 3, 20)

	res, err := s.RelevantMemories(context.Background(), []string{"晚饭"}, "", 0)
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "a", res.Nodes[0].ID, "only the cosine match above threshold seeds")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1, 0}, []float32{1}), "mismatched lengths never match")
	assert.Equal(t, 0.0, cosine(nil, nil))
}

func TestKeywordExtractorParsesModelOutput(t *testing.T) {
	llm := &stubLLM{response: "Sure! ```json\n{\"keywords\": [\"小明\", \"演唱会\", \"小明\"]}\n```"}
	e := NewKeywordExtractor(llm)

	keywords := e.Extract(context.Background(), "小明昨天去了演唱会")
	assert.Equal(t, []string{"小明", "演唱会"}, keywords, "duplicates collapse")
}

func TestKeywordExtractorFallback(t *testing.T) {
	llm := &stubLLM{err: errors.New("model down")}
	e := NewKeywordExtractor(llm)

	keywords := e.Extract(context.Background(), "Alice visited the Shanghai concert")
	assert.Contains(t, keywords, "Alice")
	assert.Contains(t, keywords, "Shanghai")
	assert.NotContains(t, keywords, "the")
}

func TestKeywordExtractorEmptyText(t *testing.T) {
	e := NewKeywordExtractor(nil)
	assert.Nil(t, e.Extract(context.Background(), "   "))
}

func TestLLMRelevanceFilterKeepsListed(t *testing.T) {
	llm := &stubLLM{response: "0, 2"}
	f := NewLLMRelevanceFilter(llm)

	candidates := []model.NodeRecord{
		{ID: "a", Properties: map[string]interface{}{"name": "a"}},
		{ID: "b", Properties: map[string]interface{}{"name": "b"}},
		{ID: "c", Properties: map[string]interface{}{"name": "c"}},
	}
	kept, err := f.Filter(context.Background(), candidates, "topic")
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].ID)
	assert.Equal(t, "c", kept[1].ID)
}

func TestLLMRelevanceFilterFailOpen(t *testing.T) {
	llm := &stubLLM{err: errors.New("model down")}
	f := NewLLMRelevanceFilter(llm)

	candidates := []model.NodeRecord{
		{ID: "a", Properties: map[string]interface{}{"name": "a"}},
		{ID: "b", Properties: map[string]interface{}{"name": "b"}},
	}
	kept, err := f.Filter(context.Background(), candidates, "topic")
	require.NoError(t, err)
	assert.Len(t, kept, 2, "a broken judge never hides memories")
}
