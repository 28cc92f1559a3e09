package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
)

// mockDriver serves canned candidate pools per name and companion adjacency
// per (id, companion) pair.
type mockDriver struct {
	candidates map[string][]*neo4j.Record
	companions map[string][]string // companion name -> linked ids
	queries    []string
	failWith   error
}

func (m *mockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.queries = append(m.queries, query)
	if m.failWith != nil {
		return neo4j.EagerResult{}, m.failWith
	}
	switch query {
	case driver.GetNodesByNameQuery:
		return neo4j.EagerResult{Records: m.candidates[params["name"].(string)]}, nil
	case driver.CompanionLinkedQuery:
		pool := map[string]bool{}
		for _, id := range params["ids"].([]string) {
			pool[id] = true
		}
		var recs []*neo4j.Record
		for _, id := range m.companions[params["companion"].(string)] {
			if pool[id] {
				recs = append(recs, &neo4j.Record{Keys: []string{"id"}, Values: []interface{}{id}})
			}
		}
		return neo4j.EagerResult{Records: recs}, nil
	}
	return neo4j.EagerResult{}, fmt.Errorf("unexpected query: %s", query)
}

func (m *mockDriver) VerifyConnectivity(ctx context.Context) error { return nil }
func (m *mockDriver) BuildIndices(ctx context.Context) error       { return nil }
func (m *mockDriver) Close(ctx context.Context) error              { return nil }

func candidateRecord(id, kind, context, updated string, times, locations []interface{}) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"id", "node_type", "context", "last_updated", "times", "locations"},
		Values: []interface{}{id, kind, context, updated, times, locations},
	}
}

func TestResolveSingleCandidate(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"小明": {candidateRecord("c1", "Character", "reality", "2026-01-01T00:00:00Z", nil, nil)},
	}}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "小明"})
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestResolveEmptyNameRejected(t *testing.T) {
	r := NewResolver(&mockDriver{})
	_, err := r.Resolve(context.Background(), Query{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestResolveNoCandidates(t *testing.T) {
	r := NewResolver(&mockDriver{candidates: map[string][]*neo4j.Record{}})
	_, err := r.Resolve(context.Background(), Query{Name: "ghost"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResolveKindAndContextFilter(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"apple": {
			candidateRecord("e1", "Entity", "reality", "2026-01-01T00:00:00Z", nil, nil),
			candidateRecord("e2", "Entity", "dream", "2026-01-02T00:00:00Z", nil, nil),
			candidateRecord("c1", "Character", "reality", "2026-01-03T00:00:00Z", nil, nil),
		},
	}}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "apple", Kind: model.KindEntity, Context: "dream"})
	require.NoError(t, err)
	assert.Equal(t, "e2", id)
}

func TestResolveCompoundContextContainsFilter(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"apple": {
			candidateRecord("e1", "Entity", "reality,game", "2026-01-01T00:00:00Z", nil, nil),
			candidateRecord("e2", "Entity", "dream", "2026-01-02T00:00:00Z", nil, nil),
		},
	}}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "apple", Kind: model.KindEntity, Context: "reality"})
	require.NoError(t, err)
	assert.Equal(t, "e1", id, "a compound context stays plausible for its parts")
}

func TestResolveTimeLinkedBeatsUnlinked(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"晚饭": {
			candidateRecord("e1", "Entity", "reality", "2026-01-05T00:00:00Z", nil, nil),
			candidateRecord("e2", "Entity", "reality", "2026-01-01T00:00:00Z", []interface{}{"2024年3月15日"}, nil),
		},
	}}
	r := NewResolver(m)

	// The linked candidate wins even though the unlinked one is more recent.
	id, err := r.Resolve(context.Background(), Query{Name: "晚饭", Time: "2024年3月15日"})
	require.NoError(t, err)
	assert.Equal(t, "e2", id)
}

func TestResolveTimeFallsBackToUnlinked(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"晚饭": {
			candidateRecord("e1", "Entity", "reality", "2026-01-01T00:00:00Z", nil, nil),
			candidateRecord("e2", "Entity", "reality", "2026-01-02T00:00:00Z", []interface{}{"2023年1月1日"}, nil),
		},
	}}
	r := NewResolver(m)

	// No candidate carries the hinted time, so nodes pinned to a different
	// time are ruled out and the unlinked node remains plausible.
	id, err := r.Resolve(context.Background(), Query{Name: "晚饭", Time: "2024年3月15日"})
	require.NoError(t, err)
	assert.Equal(t, "e1", id)
}

func TestResolveTimeHintExhaustsPool(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"晚饭": {
			candidateRecord("e2", "Entity", "reality", "2026-01-02T00:00:00Z", []interface{}{"2023年1月1日"}, nil),
		},
	}}
	r := NewResolver(m)

	_, err := r.Resolve(context.Background(), Query{Name: "晚饭", Time: "2024年3月15日"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResolveLocationFilter(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"演唱会": {
			candidateRecord("e1", "Entity", "reality", "2026-01-01T00:00:00Z", nil, []interface{}{"上海"}),
			candidateRecord("e2", "Entity", "reality", "2026-01-02T00:00:00Z", nil, []interface{}{"北京"}),
		},
	}}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "演唱会", Location: "上海"})
	require.NoError(t, err)
	assert.Equal(t, "e1", id)
}

func TestResolveCompanionNarrows(t *testing.T) {
	m := &mockDriver{
		candidates: map[string][]*neo4j.Record{
			"会议": {
				candidateRecord("e1", "Entity", "reality", "2026-01-05T00:00:00Z", nil, nil),
				candidateRecord("e2", "Entity", "reality", "2026-01-01T00:00:00Z", nil, nil),
			},
		},
		companions: map[string][]string{"老板": {"e2"}},
	}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "会议", Companion: "老板"})
	require.NoError(t, err)
	assert.Equal(t, "e2", id, "companion adjacency outranks recency")
}

func TestResolveCompanionIgnoredWhenEmpty(t *testing.T) {
	m := &mockDriver{
		candidates: map[string][]*neo4j.Record{
			"会议": {
				candidateRecord("e1", "Entity", "reality", "2026-01-05T00:00:00Z", nil, nil),
				candidateRecord("e2", "Entity", "reality", "2026-01-01T00:00:00Z", nil, nil),
			},
		},
		companions: map[string][]string{},
	}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "会议", Companion: "陌生人"})
	require.NoError(t, err)
	assert.Equal(t, "e1", id, "a hint matching nothing is dropped, recency decides")
}

func TestResolveRecencyTieBreak(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"笔记": {
			candidateRecord("e1", "Entity", "reality", "2026-01-01T10:00:00.000000001Z", nil, nil),
			candidateRecord("e2", "Entity", "reality", "2026-01-01T10:00:00.000000002Z", nil, nil),
		},
	}}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "笔记"})
	require.NoError(t, err)
	assert.Equal(t, "e2", id)
}

func TestResolveSingleSurvivorShortCircuitsCompanion(t *testing.T) {
	m := &mockDriver{candidates: map[string][]*neo4j.Record{
		"独奏": {candidateRecord("e1", "Entity", "reality", "2026-01-01T00:00:00Z", nil, nil)},
	}}
	r := NewResolver(m)

	id, err := r.Resolve(context.Background(), Query{Name: "独奏", Companion: "某人"})
	require.NoError(t, err)
	assert.Equal(t, "e1", id)
	assert.NotContains(t, m.queries, driver.CompanionLinkedQuery)
}
