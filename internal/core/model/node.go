package model

import (
	"regexp"
	"time"
)

type NodeKind string

const (
	KindEntity    NodeKind = "Entity"
	KindCharacter NodeKind = "Character"
	KindLocation  NodeKind = "Location"
	KindTime      NodeKind = "Time"
)

func ValidKind(k NodeKind) bool {
	switch k {
	case KindEntity, KindCharacter, KindLocation, KindTime:
		return true
	}
	return false
}

// Time node granularity labels used by the hierarchy builder.
const (
	TimeTypeStatic    = "static"
	TimeTypeRecurring = "recurring"
)

type EntityNode struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Context      string    `json:"context"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	Importance   float64   `json:"importance"`
	Significance float64   `json:"significance"`
	Note         string    `json:"note,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

type CharacterNode struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Context      string    `json:"context"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	Importance   float64   `json:"importance"`
	Significance float64   `json:"significance"`
	Trust        float64   `json:"trust"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

type LocationNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Context     string    `json:"context"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// TimeNode is immutable after creation except for embedding refresh.
type TimeNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Time        string    `json:"time"`
	TimeType    string    `json:"type"`
	Context     string    `json:"context"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// NodeRecord is the store-shaped view of any node, used by retrieval and the
// snapshot layer where kind is data rather than type.
type NodeRecord struct {
	ID         string                 `json:"id"`
	Labels     []string               `json:"labels"`
	Properties map[string]interface{} `json:"properties"`
}

// RelRecord is the store-shaped view of a relationship.
type RelRecord struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	StartNode  string                 `json:"start_node"`
	EndNode    string                 `json:"end_node"`
	Properties map[string]interface{} `json:"properties"`
}

// Kind extracts the node kind from the record's labels.
func (n NodeRecord) Kind() NodeKind {
	for _, l := range n.Labels {
		if ValidKind(NodeKind(l)) {
			return NodeKind(l)
		}
	}
	return ""
}

// protectedProps are never removed or overwritten by caller updates.
var protectedProps = map[string]bool{
	"id":           true,
	"name":         true,
	"node_type":    true,
	"context":      true,
	"created_at":   true,
	"last_updated": true,
	"significance": true,
}

func ProtectedProp(key string) bool {
	return protectedProps[key]
}

var propKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidPropKey reports whether key is storable; malformed keys are skipped by
// the writer rather than failing the whole update.
func ValidPropKey(key string) bool {
	return propKeyPattern.MatchString(key)
}

// Timestamp formats t the way node and relationship properties store times.
// Nanosecond precision keeps last_updated values unique in practice, which the
// resolver's recency tie-break relies on.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
