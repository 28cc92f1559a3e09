package snapshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/driver"
	"github.com/agenthands/mnemo/pkg/logger"
)

// ExportReport summarizes a store-to-file export.
type ExportReport struct {
	Nodes         int `json:"nodes"`
	Relationships int `json:"relationships"`
	Dropped       int `json:"dropped"`
}

// ImportReport summarizes a file-to-store import. The batch succeeds when at
// least one item landed; per-item failures ride alongside.
type ImportReport struct {
	Nodes         int      `json:"nodes"`
	Relationships int      `json:"relationships"`
	Skipped       int      `json:"skipped"`
	Errors        []string `json:"errors,omitempty"`
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

// Syncer merges graph state between the store and the local snapshot file,
// keyed by element id.
type Syncer struct {
	Driver driver.GraphDriver
	File   *File
	logger *zap.Logger
}

func NewSyncer(d driver.GraphDriver, file *File) *Syncer {
	return &Syncer{Driver: d, File: file, logger: logger.Get()}
}

// Export fetches the requested elements from the store and merges them into
// the snapshot file.
func (s *Syncer) Export(ctx context.Context, nodeIDs, relIDs []string) (ExportReport, error) {
	graph, err := s.File.Load()
	if err != nil {
		return ExportReport{}, err
	}

	var nodes []model.NodeRecord
	if len(nodeIDs) > 0 {
		res, err := s.Driver.ExecuteQuery(ctx, driver.ExportNodesQuery, map[string]interface{}{"ids": nodeIDs})
		if err != nil {
			return ExportReport{}, fmt.Errorf("node export failed: %w", err)
		}
		for _, rec := range res.Records {
			nodes = append(nodes, model.NodeRecord{
				ID:         driver.RecordString(rec, "id"),
				Labels:     driver.RecordStringSlice(rec, "labels"),
				Properties: driver.RecordProps(rec, "properties"),
			})
		}
	}

	var rels []model.RelRecord
	if len(relIDs) > 0 {
		res, err := s.Driver.ExecuteQuery(ctx, driver.ExportRelsQuery, map[string]interface{}{"ids": relIDs})
		if err != nil {
			return ExportReport{}, fmt.Errorf("relationship export failed: %w", err)
		}
		for _, rec := range res.Records {
			rels = append(rels, model.RelRecord{
				ID:         driver.RecordString(rec, "id"),
				Type:       driver.RecordString(rec, "type"),
				StartNode:  driver.RecordString(rec, "start_id"),
				EndNode:    driver.RecordString(rec, "end_id"),
				Properties: driver.RecordProps(rec, "properties"),
			})
		}
	}

	dropped := graph.Merge(nodes, rels)
	if err := s.File.Save(graph); err != nil {
		return ExportReport{}, err
	}
	return ExportReport{Nodes: len(nodes), Relationships: len(rels), Dropped: dropped}, nil
}

// Import pushes the requested snapshot elements into the store. Nodes whose
// local id is unknown to the store are created fresh, and the store-assigned
// id replaces the local id everywhere, including inside relationships not
// yet processed. Relationship creation verifies both endpoints are live.
// The file is rewritten afterwards so remapped ids stick.
func (s *Syncer) Import(ctx context.Context, nodeIDs, relIDs []string) (ImportReport, error) {
	graph, err := s.File.Load()
	if err != nil {
		return ImportReport{}, err
	}

	var report ImportReport
	nodeIdx := graph.nodeIndex()
	for _, id := range nodeIDs {
		i, ok := nodeIdx[id]
		if !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("node %s: not in snapshot", id))
			continue
		}
		if err := s.importNode(ctx, graph, graph.Nodes[i]); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("node %s: %v", id, err))
			continue
		}
		report.Nodes++
		// creation may have remapped ids, so the index is stale
		nodeIdx = graph.nodeIndex()
	}

	relIdx := graph.relIndex()
	for _, id := range relIDs {
		i, ok := relIdx[id]
		if !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("relationship %s: not in snapshot", id))
			continue
		}
		skipped, err := s.importRel(ctx, graph, graph.Relationships[i])
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("relationship %s: %v", id, err))
			continue
		}
		if skipped {
			report.Skipped++
			continue
		}
		report.Relationships++
		relIdx = graph.relIndex()
	}

	if err := s.File.Save(graph); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Syncer) importNode(ctx context.Context, graph *MemoryGraph, node model.NodeRecord) error {
	kind := node.Kind()
	if kind == "" {
		return fmt.Errorf("%w: record carries no recognizable kind label", model.ErrValidation)
	}

	exists, err := s.nodeExists(ctx, node.ID)
	if err != nil {
		return err
	}
	if exists {
		if _, err := s.Driver.ExecuteQuery(ctx, driver.SetNodePropertiesQuery, map[string]interface{}{
			"id": node.ID, "props": node.Properties,
		}); err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		// label reconciliation: converge the store's label set on the
		// recorded kind
		if _, err := s.Driver.ExecuteQuery(ctx, relabelQueries[kind], map[string]interface{}{"id": node.ID}); err != nil {
			return fmt.Errorf("relabel failed: %w", err)
		}
		return nil
	}

	res, err := s.Driver.ExecuteQuery(ctx, createNodeQueries[kind], map[string]interface{}{"props": node.Properties})
	if err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("create returned no id")
	}
	newID := driver.RecordString(res.Records[0], "id")
	if newID != node.ID {
		graph.remapID(node.ID, newID)
	}
	return nil
}

func (s *Syncer) importRel(ctx context.Context, graph *MemoryGraph, rel model.RelRecord) (skipped bool, err error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.GetRelQuery, map[string]interface{}{"id": rel.ID})
	if err != nil {
		return false, fmt.Errorf("lookup failed: %w", err)
	}
	if len(res.Records) > 0 {
		if _, err := s.Driver.ExecuteQuery(ctx, driver.SetRelPropertiesQuery, map[string]interface{}{
			"id": rel.ID, "props": rel.Properties,
		}); err != nil {
			return false, fmt.Errorf("update failed: %w", err)
		}
		return false, nil
	}

	for _, endpoint := range []string{rel.StartNode, rel.EndNode} {
		live, err := s.nodeExists(ctx, endpoint)
		if err != nil {
			return false, err
		}
		if !live {
			s.logger.Warn("skipping relationship with dead endpoint",
				zap.String("rel", rel.ID), zap.String("endpoint", endpoint))
			return true, nil
		}
	}

	res, err = s.Driver.ExecuteQuery(ctx, createRelQueries[model.CypherType(rel.Type)], map[string]interface{}{
		"start_id": rel.StartNode, "end_id": rel.EndNode, "props": rel.Properties,
	})
	if err != nil {
		return false, fmt.Errorf("create failed: %w", err)
	}
	if len(res.Records) == 0 {
		return false, fmt.Errorf("create returned no id")
	}
	newID := driver.RecordString(res.Records[0], "id")
	if newID != rel.ID {
		graph.remapID(rel.ID, newID)
	}
	return false, nil
}

// LocalDelete removes elements from the snapshot only, cascading node
// removals to their incident local relationships.
func (s *Syncer) LocalDelete(nodeIDs, relIDs []string) (int, int, error) {
	graph, err := s.File.Load()
	if err != nil {
		return 0, 0, err
	}
	nodesRemoved, relsRemoved := graph.Delete(nodeIDs, relIDs)
	if err := s.File.Save(graph); err != nil {
		return 0, 0, err
	}
	return nodesRemoved, relsRemoved, nil
}

func (s *Syncer) nodeExists(ctx context.Context, id string) (bool, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.NodeExistsQuery, map[string]interface{}{"id": id})
	if err != nil {
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return len(res.Records) > 0, nil
}
