package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
	"github.com/agenthands/mnemo/internal/llm"
	"github.com/agenthands/mnemo/pkg/logger"
)

// Mode selects how strictly a modification is validated. Passive is the
// default for AI-driven updates: the caller must restate the node's identity
// exactly or the update is rejected. Active trusts the caller to rename,
// relabel or recontextualize.
type Mode string

const (
	ModePassive Mode = "passive"
	ModeActive  Mode = "active"
)

const touchedSignificance = 0.99

// NodeSpec describes a node to create.
type NodeSpec struct {
	Kind       model.NodeKind
	Name       string
	Context    string
	Importance float64
	Trust      float64                // Character only
	Note       string                 // Entity only
	Extra      map[string]interface{} // free properties, malformed keys skipped
}

// NodeUpdate carries a modification. Props uses replace semantics: anything
// stored but absent here (and not protected) is removed.
type NodeUpdate struct {
	Name    string
	Kind    model.NodeKind
	Context string
	Props   map[string]interface{}
}

// RelSpec describes a relationship to create or merge into.
type RelSpec struct {
	StartID     string
	EndID       string
	Predicate   string
	Directivity string
	Confidence  float64
	Evidence    string
	Source      string
	Shape       string
	Fallback    string // technical type used when the predicate cannot be normalized
}

// RelUpdate carries a relationship modification.
type RelUpdate struct {
	Predicate   string
	Directivity string
	Confidence  float64
	Evidence    string
	Source      string
}

// Writer is the only component that mutates store state. It owns the
// protected-property, reserved-type and decay invariants.
type Writer struct {
	Driver   driver.GraphDriver
	Embedder llm.EmbedderClient
	logger   *zap.Logger
}

func NewWriter(d driver.GraphDriver, embedder llm.EmbedderClient) *Writer {
	return &Writer{Driver: d, Embedder: embedder, logger: logger.Get()}
}

var createNodeQueries = map[model.NodeKind]string{
	model.KindEntity:    driver.CreateEntityNodeQuery,
	model.KindCharacter: driver.CreateCharacterNodeQuery,
	model.KindLocation:  driver.CreateLocationNodeQuery,
	model.KindTime:      driver.CreateTimeNodeQuery,
}

var relabelQueries = map[model.NodeKind]string{
	model.KindEntity:    driver.RelabelEntityQuery,
	model.KindCharacter: driver.RelabelCharacterQuery,
	model.KindLocation:  driver.RelabelLocationQuery,
	model.KindTime:      driver.RelabelTimeQuery,
}

var createRelQueries = map[string]string{
	model.TypeRelatedTo:  driver.CreateRelatedToQuery,
	model.TypeBelongsTo:  driver.CreateBelongsToQuery,
	model.TypeHappenedAt: driver.CreateHappenedAtQuery,
	model.TypeHappenedIn: driver.CreateHappenedInQuery,
	model.TypeHasAction:  driver.CreateHasActionQuery,
}

// CreateNode creates a node of the given kind with stamped timestamps, kind
// defaults and a best-effort embedding over its name.
func (w *Writer) CreateNode(ctx context.Context, spec NodeSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("%w: node needs a name", model.ErrValidation)
	}
	if !model.ValidKind(spec.Kind) {
		return "", fmt.Errorf("%w: unknown node kind %q", model.ErrValidation, spec.Kind)
	}
	if spec.Context == "" {
		spec.Context = "reality"
	}

	now := model.Timestamp(time.Now())
	props := map[string]interface{}{
		"name":         spec.Name,
		"node_type":    string(spec.Kind),
		"context":      spec.Context,
		"created_at":   now,
		"last_updated": now,
	}
	switch spec.Kind {
	case model.KindEntity:
		props["importance"] = clamp01(spec.Importance)
		props["significance"] = 1.0
		if spec.Note != "" {
			props["note"] = spec.Note
		}
	case model.KindCharacter:
		props["importance"] = clamp01(spec.Importance)
		props["significance"] = 1.0
		props["trust"] = clamp01(spec.Trust)
	}
	for k, v := range spec.Extra {
		if !model.ValidPropKey(k) {
			w.logger.Warn("skipping malformed property key", zap.String("key", k))
			continue
		}
		if _, taken := props[k]; !taken {
			props[k] = v
		}
	}
	if vec := w.embed(ctx, spec.Name); vec != nil {
		props["embedding"] = vec
	}

	res, err := w.Driver.ExecuteQuery(ctx, createNodeQueries[spec.Kind], map[string]interface{}{"props": props})
	if err != nil {
		return "", fmt.Errorf("node create failed: %w", err)
	}
	if len(res.Records) == 0 {
		return "", fmt.Errorf("node create returned no id")
	}
	return driver.RecordString(res.Records[0], "id"), nil
}

// ModifyNode applies a replace-semantics update. Time nodes reject all
// modification. In passive mode the update's name, kind and context must
// match the stored identity exactly.
func (w *Writer) ModifyNode(ctx context.Context, id string, update NodeUpdate, mode Mode) error {
	node, err := w.getNode(ctx, id)
	if err != nil {
		return err
	}

	storedKind := node.Kind()
	storedName, _ := node.Properties["name"].(string)
	storedContext, _ := node.Properties["context"].(string)

	if storedKind == model.KindTime {
		return fmt.Errorf("%w: time nodes do not accept modification", model.ErrImmutable)
	}
	if mode == ModePassive {
		if update.Name != storedName || update.Kind != storedKind || update.Context != storedContext {
			return fmt.Errorf("%w: identity mismatch, stored (%s/%s/%s) vs update (%s/%s/%s)",
				model.ErrValidation, storedName, storedKind, storedContext,
				update.Name, update.Kind, update.Context)
		}
	}
	if update.Kind != "" && !model.ValidKind(update.Kind) {
		return fmt.Errorf("%w: unknown node kind %q", model.ErrValidation, update.Kind)
	}

	newKind := storedKind
	newName := storedName
	newContext := storedContext
	if mode == ModeActive {
		if update.Kind != "" {
			newKind = update.Kind
		}
		if update.Name != "" {
			newName = update.Name
		}
		if update.Context != "" {
			newContext = update.Context
		}
	}
	if newKind == model.KindTime {
		return fmt.Errorf("%w: nodes cannot be relabeled to Time", model.ErrValidation)
	}

	// Replace semantics: start from the protected stored values, then layer
	// the caller's property bag on top. Stored properties the caller omitted
	// vanish.
	props := map[string]interface{}{
		"name":       newName,
		"node_type":  string(newKind),
		"context":    newContext,
		"created_at": node.Properties["created_at"],
	}
	for k, v := range update.Props {
		if model.ProtectedProp(k) || k == "embedding" {
			continue
		}
		if !model.ValidPropKey(k) {
			w.logger.Warn("skipping malformed property key", zap.String("key", k), zap.String("id", id))
			continue
		}
		props[k] = v
	}
	if newKind == model.KindEntity || newKind == model.KindCharacter {
		// Any accepted modification counts as a touch.
		props["significance"] = touchedSignificance
		if imp, ok := node.Properties["importance"]; ok {
			if _, supplied := props["importance"]; !supplied {
				props["importance"] = imp
			}
		}
	}
	props["last_updated"] = model.Timestamp(time.Now())
	if vec := w.embed(ctx, newName); vec != nil {
		props["embedding"] = vec
	} else if stored, ok := node.Properties["embedding"]; ok && newName == storedName {
		props["embedding"] = stored
	}

	if _, err := w.Driver.ExecuteQuery(ctx, driver.SetNodePropertiesQuery, map[string]interface{}{
		"id": id, "props": props,
	}); err != nil {
		return fmt.Errorf("node update failed: %w", err)
	}

	if newKind != storedKind {
		if _, err := w.Driver.ExecuteQuery(ctx, relabelQueries[newKind], map[string]interface{}{"id": id}); err != nil {
			return fmt.Errorf("node relabel failed: %w", err)
		}
	}
	if newKind == model.KindLocation {
		if _, err := w.Driver.ExecuteQuery(ctx, driver.RemoveLocationScoresQuery, map[string]interface{}{"id": id}); err != nil {
			w.logger.Warn("location score cleanup failed", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// CreateRelationship creates an edge, merging into an existing edge when the
// same predicate already links the endpoints. Reserved single-live types
// (HAPPENED_AT, HAPPENED_IN) displace any previous edge from the same start
// node. Bidirectional directivity creates a mirrored twin. Both endpoints
// are touched.
func (w *Writer) CreateRelationship(ctx context.Context, spec RelSpec) (string, error) {
	if spec.StartID == "" || spec.EndID == "" {
		return "", fmt.Errorf("%w: relationship needs both endpoints", model.ErrValidation)
	}
	if spec.Predicate == "" {
		return "", fmt.Errorf("%w: relationship needs a predicate", model.ErrValidation)
	}
	fallback := spec.Fallback
	if fallback == "" {
		fallback = model.FallbackTriple
	}
	techType := model.SafeRelType(spec.Predicate, fallback)

	existing, err := w.findByPredicate(ctx, spec.StartID, spec.EndID, spec.Predicate)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := w.mergeRelationship(ctx, *existing, spec.Source, spec.Confidence, spec.Evidence); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	switch techType {
	case model.TypeHappenedAt:
		if _, err := w.Driver.ExecuteQuery(ctx, driver.DeleteHappenedAtQuery, map[string]interface{}{"start_id": spec.StartID}); err != nil {
			return "", fmt.Errorf("displacing previous time edge failed: %w", err)
		}
	case model.TypeHappenedIn:
		if _, err := w.Driver.ExecuteQuery(ctx, driver.DeleteHappenedInQuery, map[string]interface{}{"start_id": spec.StartID}); err != nil {
			return "", fmt.Errorf("displacing previous location edge failed: %w", err)
		}
	}

	now := model.Timestamp(time.Now())
	props := map[string]interface{}{
		"predicate":    spec.Predicate,
		"tech_type":    techType,
		"confidence":   clamp01(spec.Confidence),
		"created_at":   now,
		"last_updated": now,
	}
	if spec.Source != "" {
		props["source"] = []string{spec.Source}
	}
	if spec.Evidence != "" {
		props["evidence"] = spec.Evidence
	}
	if spec.Shape != "" {
		props["shape"] = spec.Shape
	}
	if spec.Directivity != "" {
		props["directivity"] = spec.Directivity
	}

	id, err := w.createEdge(ctx, techType, spec.StartID, spec.EndID, props)
	if err != nil {
		return "", err
	}
	if spec.Directivity == model.DirectivityBidirectional {
		if _, err := w.createEdge(ctx, techType, spec.EndID, spec.StartID, props); err != nil {
			w.logger.Warn("mirror edge create failed", zap.String("id", id), zap.Error(err))
		}
	}

	w.touch(ctx, spec.StartID)
	w.touch(ctx, spec.EndID)
	return id, nil
}

// ModifyRelationship updates an edge's provenance and properties. BELONGS_TO
// is permanently immutable. Passive mode rejects a predicate that does not
// match the stored one. Directivity to_startNode reverses the edge first.
func (w *Writer) ModifyRelationship(ctx context.Context, id string, update RelUpdate, mode Mode) (string, error) {
	rel, err := w.getRel(ctx, id)
	if err != nil {
		return "", err
	}
	if rel.Type == model.TypeBelongsTo {
		return "", fmt.Errorf("%w: BELONGS_TO edges cannot be modified", model.ErrImmutable)
	}
	storedPredicate, _ := rel.Properties["predicate"].(string)
	if mode == ModePassive && update.Predicate != "" && update.Predicate != storedPredicate {
		return "", fmt.Errorf("%w: predicate mismatch, stored %q vs update %q",
			model.ErrValidation, storedPredicate, update.Predicate)
	}

	if update.Directivity == model.DirectivityToStart {
		reversed, err := w.reverseRelationship(ctx, rel)
		if err != nil {
			return "", err
		}
		rel = reversed
	}

	if err := w.mergeRelationship(ctx, rel, update.Source, update.Confidence, update.Evidence); err != nil {
		return "", err
	}
	return rel.ID, nil
}

// UpdateSignificance applies the decay law, or pins an explicit value.
// Without an explicit value: new = max(0, stored - (1 - importance^2)/10),
// so a fully important node does not decay at all. increaseImportance closes
// a tenth of the remaining gap to 1.
func (w *Writer) UpdateSignificance(ctx context.Context, id string, explicit *float64, increaseImportance bool) error {
	node, err := w.getNode(ctx, id)
	if err != nil {
		return err
	}
	kind := node.Kind()
	if kind != model.KindEntity && kind != model.KindCharacter {
		return fmt.Errorf("%w: %s nodes carry no significance", model.ErrValidation, kind)
	}

	importance := propFloat(node.Properties, "importance")
	significance := propFloat(node.Properties, "significance")

	if explicit != nil {
		significance = clamp01(*explicit)
	} else {
		significance -= (1 - importance*importance) / 10
		if significance < 0 {
			significance = 0
		}
	}
	if increaseImportance {
		importance += (1 - importance) * 0.1
	}

	_, err = w.Driver.ExecuteQuery(ctx, driver.SetSignificanceQuery, map[string]interface{}{
		"id":           id,
		"significance": significance,
		"importance":   importance,
		"now":          model.Timestamp(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("significance update failed: %w", err)
	}
	return nil
}

// Delete removes a mixed batch of nodes and relationships. Node deletion
// detaches incident edges. Items fail independently; the batch reports every
// failure alongside the successes.
func (w *Writer) Delete(ctx context.Context, nodeIDs, relIDs []string) (int, []error) {
	deleted := 0
	var errs []error
	for _, id := range relIDs {
		res, err := w.Driver.ExecuteQuery(ctx, driver.DeleteRelQuery, map[string]interface{}{"id": id})
		if err != nil {
			errs = append(errs, fmt.Errorf("relationship %s: %w", id, err))
			continue
		}
		if len(res.Records) == 0 {
			errs = append(errs, fmt.Errorf("relationship %s: %w", id, model.ErrNotFound))
			continue
		}
		deleted++
	}
	for _, id := range nodeIDs {
		res, err := w.Driver.ExecuteQuery(ctx, driver.DeleteNodeQuery, map[string]interface{}{"id": id})
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", id, err))
			continue
		}
		if len(res.Records) == 0 {
			errs = append(errs, fmt.Errorf("node %s: %w", id, model.ErrNotFound))
			continue
		}
		deleted++
	}
	return deleted, errs
}

func (w *Writer) getNode(ctx context.Context, id string) (model.NodeRecord, error) {
	res, err := w.Driver.ExecuteQuery(ctx, driver.GetNodeQuery, map[string]interface{}{"id": id})
	if err != nil {
		return model.NodeRecord{}, fmt.Errorf("node lookup failed: %w", err)
	}
	if len(res.Records) == 0 {
		return model.NodeRecord{}, fmt.Errorf("%w: node %s", model.ErrNotFound, id)
	}
	rec := res.Records[0]
	return model.NodeRecord{
		ID:         driver.RecordString(rec, "id"),
		Labels:     driver.RecordStringSlice(rec, "labels"),
		Properties: driver.RecordProps(rec, "properties"),
	}, nil
}

func (w *Writer) getRel(ctx context.Context, id string) (model.RelRecord, error) {
	res, err := w.Driver.ExecuteQuery(ctx, driver.GetRelQuery, map[string]interface{}{"id": id})
	if err != nil {
		return model.RelRecord{}, fmt.Errorf("relationship lookup failed: %w", err)
	}
	if len(res.Records) == 0 {
		return model.RelRecord{}, fmt.Errorf("%w: relationship %s", model.ErrNotFound, id)
	}
	rec := res.Records[0]
	return model.RelRecord{
		ID:         driver.RecordString(rec, "id"),
		Type:       driver.RecordString(rec, "type"),
		StartNode:  driver.RecordString(rec, "start_id"),
		EndNode:    driver.RecordString(rec, "end_id"),
		Properties: driver.RecordProps(rec, "properties"),
	}, nil
}

func (w *Writer) findByPredicate(ctx context.Context, startID, endID, predicate string) (*model.RelRecord, error) {
	res, err := w.Driver.ExecuteQuery(ctx, driver.FindRelByPredicateQuery, map[string]interface{}{
		"start_id": startID, "end_id": endID, "predicate": predicate,
	})
	if err != nil {
		return nil, fmt.Errorf("relationship lookup failed: %w", err)
	}
	if len(res.Records) == 0 {
		return nil, nil
	}
	rec := res.Records[0]
	return &model.RelRecord{
		ID:         driver.RecordString(rec, "id"),
		Type:       driver.RecordString(rec, "type"),
		StartNode:  startID,
		EndNode:    endID,
		Properties: driver.RecordProps(rec, "properties"),
	}, nil
}

// mergeRelationship folds a corroborating observation into an existing edge.
// Confidence only moves when the source is new to the edge.
func (w *Writer) mergeRelationship(ctx context.Context, rel model.RelRecord, source string, confidence float64, evidence string) error {
	props := make(map[string]interface{}, len(rel.Properties)+2)
	for k, v := range rel.Properties {
		props[k] = v
	}

	sources, added := model.MergeSources(propStrings(rel.Properties, "source"), source)
	if len(sources) > 0 {
		props["source"] = sources
	}
	if added {
		props["confidence"] = model.MergeConfidence(propFloat(rel.Properties, "confidence"), clamp01(confidence))
	}
	if evidence != "" {
		props["evidence"] = evidence
	}
	props["last_updated"] = model.Timestamp(time.Now())

	if _, err := w.Driver.ExecuteQuery(ctx, driver.SetRelPropertiesQuery, map[string]interface{}{
		"id": rel.ID, "props": props,
	}); err != nil {
		return fmt.Errorf("relationship update failed: %w", err)
	}
	return nil
}

// reverseRelationship deletes the edge and recreates it with swapped
// endpoints, carrying every property over.
func (w *Writer) reverseRelationship(ctx context.Context, rel model.RelRecord) (model.RelRecord, error) {
	if rel.Type == model.TypeBelongsTo {
		return model.RelRecord{}, fmt.Errorf("%w: BELONGS_TO edges cannot be reversed", model.ErrImmutable)
	}
	if _, err := w.Driver.ExecuteQuery(ctx, driver.DeleteRelQuery, map[string]interface{}{"id": rel.ID}); err != nil {
		return model.RelRecord{}, fmt.Errorf("reversal delete failed: %w", err)
	}
	techType, _ := rel.Properties["tech_type"].(string)
	if techType == "" {
		techType = rel.Type
	}
	id, err := w.createEdge(ctx, techType, rel.EndNode, rel.StartNode, rel.Properties)
	if err != nil {
		return model.RelRecord{}, fmt.Errorf("reversal recreate failed: %w", err)
	}
	return model.RelRecord{
		ID:         id,
		Type:       model.CypherType(techType),
		StartNode:  rel.EndNode,
		EndNode:    rel.StartNode,
		Properties: rel.Properties,
	}, nil
}

func (w *Writer) createEdge(ctx context.Context, techType, startID, endID string, props map[string]interface{}) (string, error) {
	query := createRelQueries[model.CypherType(techType)]
	res, err := w.Driver.ExecuteQuery(ctx, query, map[string]interface{}{
		"start_id": startID, "end_id": endID, "props": props,
	})
	if err != nil {
		return "", fmt.Errorf("relationship create failed: %w", err)
	}
	if len(res.Records) == 0 {
		return "", fmt.Errorf("%w: relationship endpoints", model.ErrNotFound)
	}
	return driver.RecordString(res.Records[0], "id"), nil
}

// touch bumps a node's memory freshness as a side effect of being referenced.
// Best effort; nodes without scores are left alone.
func (w *Writer) touch(ctx context.Context, id string) {
	node, err := w.getNode(ctx, id)
	if err != nil {
		w.logger.Warn("touch lookup failed", zap.String("id", id), zap.Error(err))
		return
	}
	kind := node.Kind()
	if kind != model.KindEntity && kind != model.KindCharacter {
		return
	}
	importance := propFloat(node.Properties, "importance")
	importance += (1 - importance) * 0.1
	if _, err := w.Driver.ExecuteQuery(ctx, driver.SetSignificanceQuery, map[string]interface{}{
		"id":           id,
		"significance": touchedSignificance,
		"importance":   importance,
		"now":          model.Timestamp(time.Now()),
	}); err != nil {
		w.logger.Warn("touch update failed", zap.String("id", id), zap.Error(err))
	}
}

func (w *Writer) embed(ctx context.Context, text string) []float32 {
	if w.Embedder == nil || text == "" {
		return nil
	}
	vec, err := w.Embedder.Embed(ctx, text)
	if err != nil {
		w.logger.Warn("embedding failed", zap.String("text", text), zap.Error(err))
		return nil
	}
	return vec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func propFloat(props map[string]interface{}, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func propStrings(props map[string]interface{}, key string) []string {
	switch v := props[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
