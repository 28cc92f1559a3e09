package writer

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
)

type call struct {
	query  string
	params map[string]interface{}
}

// mockDriver replays queued results per query and records every call.
// Queries with no queued result return an empty result set.
type mockDriver struct {
	results map[string][]neo4j.EagerResult
	calls   []call
}

func newMockDriver() *mockDriver {
	return &mockDriver{results: map[string][]neo4j.EagerResult{}}
}

func (m *mockDriver) queue(query string, res neo4j.EagerResult) {
	m.results[query] = append(m.results[query], res)
}

func (m *mockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.calls = append(m.calls, call{query: query, params: params})
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

func (m *mockDriver) queried(query string) bool {
	for _, c := range m.calls {
		if c.query == query {
			return true
		}
	}
	return false
}

func (m *mockDriver) paramsOf(query string) map[string]interface{} {
	for _, c := range m.calls {
		if c.query == query {
			return c.params
		}
	}
	return nil
}

func idResult(id string) neo4j.EagerResult {
	return neo4j.EagerResult{Records: []*neo4j.Record{
		{Keys: []string{"id"}, Values: []interface{}{id}},
	}}
}

func nodeResult(id string, labels []interface{}, props map[string]interface{}) neo4j.EagerResult {
	return neo4j.EagerResult{Records: []*neo4j.Record{
		{Keys: []string{"id", "labels", "properties"}, Values: []interface{}{id, labels, props}},
	}}
}

func relResult(id, relType string, props map[string]interface{}, startID, endID string) neo4j.EagerResult {
	return neo4j.EagerResult{Records: []*neo4j.Record{
		{
			Keys:   []string{"id", "type", "properties", "start_id", "end_id"},
			Values: []interface{}{id, relType, props, startID, endID},
		},
	}}
}

type stubEmbedder struct{ vec []float32 }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, nil
}

func TestCreateNodeEntityDefaults(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.CreateEntityNodeQuery, idResult("e1"))
	w := NewWriter(m, &stubEmbedder{vec: []float32{0.1, 0.2}})

	id, err := w.CreateNode(context.Background(), NodeSpec{
		Kind: model.KindEntity, Name: "晚饭", Importance: 0.7, Note: "at home",
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", id)

	props := m.paramsOf(driver.CreateEntityNodeQuery)["props"].(map[string]interface{})
	assert.Equal(t, 1.0, props["significance"])
	assert.Equal(t, 0.7, props["importance"])
	assert.Equal(t, "reality", props["context"])
	assert.Equal(t, "Entity", props["node_type"])
	assert.Equal(t, "at home", props["note"])
	assert.Equal(t, []float32{0.1, 0.2}, props["embedding"])
	assert.Equal(t, props["created_at"], props["last_updated"])
}

func TestCreateNodeValidation(t *testing.T) {
	w := NewWriter(newMockDriver(), nil)

	_, err := w.CreateNode(context.Background(), NodeSpec{Kind: model.KindEntity})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = w.CreateNode(context.Background(), NodeSpec{Kind: "Robot", Name: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCreateNodeSkipsMalformedKeys(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.CreateCharacterNodeQuery, idResult("c1"))
	w := NewWriter(m, nil)

	_, err := w.CreateNode(context.Background(), NodeSpec{
		Kind: model.KindCharacter, Name: "小明", Trust: 0.5,
		Extra: map[string]interface{}{"mood": "happy", "bad key!": "x"},
	})
	require.NoError(t, err)

	props := m.paramsOf(driver.CreateCharacterNodeQuery)["props"].(map[string]interface{})
	assert.Equal(t, "happy", props["mood"])
	assert.NotContains(t, props, "bad key!")
	assert.Equal(t, 0.5, props["trust"])
}

func TestModifyNodeTimeImmutable(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("t1", []interface{}{"Time"}, map[string]interface{}{
		"name": "3月", "node_type": "Time", "context": "reality",
	}))
	w := NewWriter(m, nil)

	err := w.ModifyNode(context.Background(), "t1", NodeUpdate{
		Name: "3月", Kind: model.KindTime, Context: "reality",
	}, ModePassive)
	assert.ErrorIs(t, err, model.ErrImmutable)
	assert.False(t, m.queried(driver.SetNodePropertiesQuery))
}

func TestModifyNodePassiveIdentityMismatch(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("e1", []interface{}{"Entity"}, map[string]interface{}{
		"name": "晚饭", "node_type": "Entity", "context": "reality",
	}))
	w := NewWriter(m, nil)

	err := w.ModifyNode(context.Background(), "e1", NodeUpdate{
		Name: "午饭", Kind: model.KindEntity, Context: "reality",
	}, ModePassive)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.False(t, m.queried(driver.SetNodePropertiesQuery))
}

func TestModifyNodeReplaceSemantics(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("e1", []interface{}{"Entity"}, map[string]interface{}{
		"name": "晚饭", "node_type": "Entity", "context": "reality",
		"created_at": "2026-01-01T00:00:00Z", "importance": 0.4,
		"mood": "stale", "note": "old",
	}))
	w := NewWriter(m, nil)

	err := w.ModifyNode(context.Background(), "e1", NodeUpdate{
		Name: "晚饭", Kind: model.KindEntity, Context: "reality",
		Props: map[string]interface{}{"note": "new", "name": "sneaky"},
	}, ModePassive)
	require.NoError(t, err)

	sent := m.paramsOf(driver.SetNodePropertiesQuery)["props"].(map[string]interface{})
	assert.Equal(t, "晚饭", sent["name"], "protected name survives a sneaky override")
	assert.Equal(t, "new", sent["note"])
	assert.NotContains(t, sent, "mood", "omitted properties are removed")
	assert.Equal(t, "2026-01-01T00:00:00Z", sent["created_at"])
	assert.Equal(t, touchedSignificance, sent["significance"])
	assert.Equal(t, 0.4, sent["importance"], "importance carried when not supplied")
}

func TestModifyNodeActiveRelabel(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("e1", []interface{}{"Entity"}, map[string]interface{}{
		"name": "小李", "node_type": "Entity", "context": "reality",
	}))
	w := NewWriter(m, nil)

	err := w.ModifyNode(context.Background(), "e1", NodeUpdate{Kind: model.KindCharacter}, ModeActive)
	require.NoError(t, err)
	assert.True(t, m.queried(driver.RelabelCharacterQuery))

	sent := m.paramsOf(driver.SetNodePropertiesQuery)["props"].(map[string]interface{})
	assert.Equal(t, "Character", sent["node_type"], "label set and node_type stay in sync")
}

func TestModifyNodeLocationScoreStrip(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("l1", []interface{}{"Location"}, map[string]interface{}{
		"name": "上海", "node_type": "Location", "context": "reality",
	}))
	w := NewWriter(m, nil)

	err := w.ModifyNode(context.Background(), "l1", NodeUpdate{
		Name: "上海", Kind: model.KindLocation, Context: "reality",
	}, ModePassive)
	require.NoError(t, err)
	assert.True(t, m.queried(driver.RemoveLocationScoresQuery))
}

func TestModifyNodeNotFound(t *testing.T) {
	w := NewWriter(newMockDriver(), nil)
	err := w.ModifyNode(context.Background(), "ghost", NodeUpdate{}, ModeActive)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateRelationshipFreePredicate(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.CreateRelatedToQuery, idResult("r1"))
	w := NewWriter(m, nil)

	id, err := w.CreateRelationship(context.Background(), RelSpec{
		StartID: "a", EndID: "b", Predicate: "喜欢", Confidence: 0.8, Source: "chat-1",
		Shape: model.ShapeTriple,
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	props := m.paramsOf(driver.CreateRelatedToQuery)["props"].(map[string]interface{})
	assert.Equal(t, "喜欢", props["predicate"])
	assert.Equal(t, model.FallbackTriple, props["tech_type"], "non-ascii predicate folds to the generic type")
	assert.Equal(t, []string{"chat-1"}, props["source"])
	assert.Equal(t, "triple", props["shape"])
}

func TestCreateRelationshipMergesDuplicate(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.FindRelByPredicateQuery, relResult("r1", "RELATED_TO", map[string]interface{}{
		"predicate": "喜欢", "tech_type": "RELATED_TO",
		"source": []interface{}{"chat-1"}, "confidence": 0.5,
	}, "a", "b"))
	w := NewWriter(m, nil)

	id, err := w.CreateRelationship(context.Background(), RelSpec{
		StartID: "a", EndID: "b", Predicate: "喜欢", Confidence: 0.8, Source: "chat-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", id, "merge reuses the existing edge")
	assert.False(t, m.queried(driver.CreateRelatedToQuery))

	sent := m.paramsOf(driver.SetRelPropertiesQuery)["props"].(map[string]interface{})
	assert.ElementsMatch(t, []string{"chat-1", "chat-2"}, sent["source"])
	assert.InDelta(t, 0.7, sent["confidence"], 1e-9, "1-(1-0.5)*(1-0.8/2)")
}

func TestCreateRelationshipSameSourceNoConfidenceChange(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.FindRelByPredicateQuery, relResult("r1", "RELATED_TO", map[string]interface{}{
		"predicate": "喜欢", "source": []interface{}{"chat-1"}, "confidence": 0.5,
	}, "a", "b"))
	w := NewWriter(m, nil)

	_, err := w.CreateRelationship(context.Background(), RelSpec{
		StartID: "a", EndID: "b", Predicate: "喜欢", Confidence: 0.9, Source: "chat-1",
	})
	require.NoError(t, err)

	sent := m.paramsOf(driver.SetRelPropertiesQuery)["props"].(map[string]interface{})
	assert.Equal(t, 0.5, sent["confidence"], "a repeated source never moves confidence")
}

func TestCreateRelationshipHappenedAtDisplaces(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.CreateHappenedAtQuery, idResult("r1"))
	w := NewWriter(m, nil)

	_, err := w.CreateRelationship(context.Background(), RelSpec{
		StartID: "e1", EndID: "t1", Predicate: model.TypeHappenedAt,
	})
	require.NoError(t, err)
	assert.True(t, m.queried(driver.DeleteHappenedAtQuery), "previous time pin is removed first")
	assert.Equal(t, "e1", m.paramsOf(driver.DeleteHappenedAtQuery)["start_id"])
}

func TestCreateRelationshipBidirectional(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.CreateRelatedToQuery, idResult("r1"))
	m.queue(driver.CreateRelatedToQuery, idResult("r2"))
	w := NewWriter(m, nil)

	id, err := w.CreateRelationship(context.Background(), RelSpec{
		StartID: "a", EndID: "b", Predicate: "partners_with",
		Directivity: model.DirectivityBidirectional,
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	creates := 0
	for _, c := range m.calls {
		if c.query == driver.CreateRelatedToQuery {
			creates++
		}
	}
	assert.Equal(t, 2, creates, "mirror edge shares the same properties")
}

func TestModifyRelationshipBelongsToImmutable(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetRelQuery, relResult("r1", "BELONGS_TO", map[string]interface{}{
		"predicate": "BELONGS_TO",
	}, "a", "b"))
	w := NewWriter(m, nil)

	_, err := w.ModifyRelationship(context.Background(), "r1", RelUpdate{Source: "x"}, ModeActive)
	assert.ErrorIs(t, err, model.ErrImmutable)
}

func TestModifyRelationshipPassivePredicateGuard(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetRelQuery, relResult("r1", "RELATED_TO", map[string]interface{}{
		"predicate": "喜欢",
	}, "a", "b"))
	w := NewWriter(m, nil)

	_, err := w.ModifyRelationship(context.Background(), "r1", RelUpdate{Predicate: "讨厌"}, ModePassive)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestModifyRelationshipReversal(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetRelQuery, relResult("r1", "RELATED_TO", map[string]interface{}{
		"predicate": "supports", "tech_type": "SUPPORTS", "confidence": 0.5,
	}, "a", "b"))
	m.queue(driver.CreateRelatedToQuery, idResult("r2"))
	w := NewWriter(m, nil)

	id, err := w.ModifyRelationship(context.Background(), "r1", RelUpdate{
		Predicate: "supports", Directivity: model.DirectivityToStart,
	}, ModePassive)
	require.NoError(t, err)
	assert.Equal(t, "r2", id)
	assert.True(t, m.queried(driver.DeleteRelQuery))

	params := m.paramsOf(driver.CreateRelatedToQuery)
	assert.Equal(t, "b", params["start_id"], "endpoints swapped")
	assert.Equal(t, "a", params["end_id"])
}

func TestUpdateSignificanceDecay(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("e1", []interface{}{"Entity"}, map[string]interface{}{
		"name": "x", "node_type": "Entity", "context": "reality",
		"significance": 0.5, "importance": 0.6,
	}))
	w := NewWriter(m, nil)

	err := w.UpdateSignificance(context.Background(), "e1", nil, false)
	require.NoError(t, err)

	params := m.paramsOf(driver.SetSignificanceQuery)
	assert.InDelta(t, 0.436, params["significance"], 1e-9, "0.5 - (1-0.36)/10")
	assert.Equal(t, 0.6, params["importance"])
}

func TestUpdateSignificanceFullImportanceNoDecay(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("e1", []interface{}{"Entity"}, map[string]interface{}{
		"name": "x", "node_type": "Entity", "context": "reality",
		"significance": 0.5, "importance": 1.0,
	}))
	w := NewWriter(m, nil)

	err := w.UpdateSignificance(context.Background(), "e1", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.paramsOf(driver.SetSignificanceQuery)["significance"])
}

func TestUpdateSignificanceFloor(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("e1", []interface{}{"Entity"}, map[string]interface{}{
		"name": "x", "node_type": "Entity", "context": "reality",
		"significance": 0.05, "importance": 0.0,
	}))
	w := NewWriter(m, nil)

	err := w.UpdateSignificance(context.Background(), "e1", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.paramsOf(driver.SetSignificanceQuery)["significance"])
}

func TestUpdateSignificanceImportanceNudge(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.GetNodeQuery, nodeResult("c1", []interface{}{"Character"}, map[string]interface{}{
		"name": "x", "node_type": "Character", "context": "reality",
		"significance": 0.8, "importance": 0.5,
	}))
	w := NewWriter(m, nil)

	err := w.UpdateSignificance(context.Background(), "c1", nil, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, m.paramsOf(driver.SetSignificanceQuery)["importance"], 1e-9)
}

func TestDeleteBatchPartialFailure(t *testing.T) {
	m := newMockDriver()
	m.queue(driver.DeleteNodeQuery, idResult("n1"))
	// second node id has no queued result, so it reads as not found
	m.queue(driver.DeleteRelQuery, idResult("r1"))
	w := NewWriter(m, nil)

	deleted, errs := w.Delete(context.Background(), []string{"n1", "ghost"}, []string{"r1"})
	assert.Equal(t, 2, deleted)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], model.ErrNotFound)
}
