package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/pkg/logger"
)

// MemoryGraph is the on-disk snapshot layout.
type MemoryGraph struct {
	Nodes         []model.NodeRecord     `json:"nodes"`
	Relationships []model.RelRecord      `json:"relationships"`
	Metadata      map[string]interface{} `json:"metadata"`
	UpdatedAt     string                 `json:"updated_at"`
}

func (g *MemoryGraph) nodeIndex() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		idx[n.ID] = i
	}
	return idx
}

func (g *MemoryGraph) relIndex() map[string]int {
	idx := make(map[string]int, len(g.Relationships))
	for i, r := range g.Relationships {
		idx[r.ID] = i
	}
	return idx
}

// remapID rewrites every reference to oldID, including endpoint references
// inside relationships that have not been imported yet.
func (g *MemoryGraph) remapID(oldID, newID string) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == oldID {
			g.Nodes[i].ID = newID
		}
	}
	for i := range g.Relationships {
		if g.Relationships[i].ID == oldID {
			g.Relationships[i].ID = newID
		}
		if g.Relationships[i].StartNode == oldID {
			g.Relationships[i].StartNode = newID
		}
		if g.Relationships[i].EndNode == oldID {
			g.Relationships[i].EndNode = newID
		}
	}
}

// File owns the local snapshot file.
type File struct {
	Path   string
	logger *zap.Logger
}

func NewFile(path string) *File {
	return &File{Path: path, logger: logger.Get()}
}

// Load reads the snapshot, returning an empty graph when the file does not
// exist yet.
func (f *File) Load() (*MemoryGraph, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &MemoryGraph{Metadata: map[string]interface{}{}}, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var graph MemoryGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if graph.Metadata == nil {
		graph.Metadata = map[string]interface{}{}
	}
	return &graph, nil
}

// Save rewrites the snapshot atomically via a sibling temp file. A snapshot
// id is minted on first save so distinct local files stay tellable apart
// after ids get remapped.
func (f *File) Save(graph *MemoryGraph) error {
	if graph.Metadata == nil {
		graph.Metadata = map[string]interface{}{}
	}
	if _, ok := graph.Metadata["snapshot_id"]; !ok {
		graph.Metadata["snapshot_id"] = uuid.NewString()
	}
	graph.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Merge folds fetched records into the snapshot by id: new entries are
// added, existing entries fully overwritten. Relationships missing either
// endpoint in the merged node set are dropped; the count is returned.
func (g *MemoryGraph) Merge(nodes []model.NodeRecord, rels []model.RelRecord) int {
	nodeIdx := g.nodeIndex()
	for _, n := range nodes {
		if i, ok := nodeIdx[n.ID]; ok {
			g.Nodes[i] = n
		} else {
			nodeIdx[n.ID] = len(g.Nodes)
			g.Nodes = append(g.Nodes, n)
		}
	}

	relIdx := g.relIndex()
	dropped := 0
	for _, r := range rels {
		if _, ok := nodeIdx[r.StartNode]; !ok {
			dropped++
			continue
		}
		if _, ok := nodeIdx[r.EndNode]; !ok {
			dropped++
			continue
		}
		if i, ok := relIdx[r.ID]; ok {
			g.Relationships[i] = r
		} else {
			relIdx[r.ID] = len(g.Relationships)
			g.Relationships = append(g.Relationships, r)
		}
	}
	return dropped
}

// Delete removes the requested nodes and relationships. Removing a node
// cascades to every local relationship referencing it, whether or not that
// relationship id was listed.
func (g *MemoryGraph) Delete(nodeIDs, relIDs []string) (nodesRemoved, relsRemoved int) {
	goneNodes := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		goneNodes[id] = true
	}
	goneRels := make(map[string]bool, len(relIDs))
	for _, id := range relIDs {
		goneRels[id] = true
	}

	var nodes []model.NodeRecord
	for _, n := range g.Nodes {
		if goneNodes[n.ID] {
			nodesRemoved++
			continue
		}
		nodes = append(nodes, n)
	}
	g.Nodes = nodes

	var rels []model.RelRecord
	for _, r := range g.Relationships {
		if goneRels[r.ID] || goneNodes[r.StartNode] || goneNodes[r.EndNode] {
			relsRemoved++
			continue
		}
		rels = append(rels, r)
	}
	g.Relationships = rels
	return nodesRemoved, relsRemoved
}
