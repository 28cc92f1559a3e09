package model

import (
	"strings"
	"time"
)

// Reserved technical relationship types with special handling.
const (
	TypeBelongsTo  = "BELONGS_TO"
	TypeHappenedAt = "HAPPENED_AT"
	TypeHappenedIn = "HAPPENED_IN"
	TypeHasAction  = "HAS_ACTION"
	TypeRelatedTo  = "RELATED_TO"

	// Fallback technical names when a predicate cannot be normalized.
	FallbackTriple = "RELATED_TO"
	FallbackAction = "PERFORMED_ACTION"
)

const (
	DirectivityToEnd         = "to_endNode"
	DirectivityToStart       = "to_startNode"
	DirectivityBidirectional = "bidirectional"
)

const (
	ShapeTriple    = "triple"
	ShapeQuintuple = "quintuple"
)

type Relationship struct {
	ID          string    `json:"id"`
	TechType    string    `json:"tech_type"`
	Predicate   string    `json:"predicate"`
	Source      []string  `json:"source"`
	Confidence  float64   `json:"confidence"`
	Evidence    string    `json:"evidence,omitempty"`
	Shape       string    `json:"shape,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

func ReservedType(techType string) bool {
	switch techType {
	case TypeBelongsTo, TypeHappenedAt, TypeHappenedIn, TypeHasAction:
		return true
	}
	return false
}

// CypherType maps a technical type onto the allow-listed set of relationship
// types actually present in the store. Free predicates all live under
// RELATED_TO with their tech_type kept as a property; predicate text is never
// interpolated into a query.
func CypherType(techType string) string {
	if ReservedType(techType) {
		return techType
	}
	return TypeRelatedTo
}

// SafeRelType normalizes a free-text predicate into a technical type name:
// spaces and hyphens fold to underscores, everything upper-cased. A predicate
// that still contains non-alphanumeric runes falls back to the generic type.
func SafeRelType(predicate, fallback string) string {
	safe := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(predicate))
	stripped := strings.ReplaceAll(safe, "_", "")
	if stripped == "" || !isAlphanumeric(stripped) {
		return fallback
	}
	return safe
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// MergeConfidence combines an edge's confidence with a corroborating
// observation from a new source. Monotonically non-decreasing, saturating
// toward 1; a fresh source never pulls confidence down.
func MergeConfidence(old, incoming float64) float64 {
	merged := 1 - (1-old)*(1-incoming/2)
	if merged < 0 {
		return 0
	}
	if merged > 1 {
		return 1
	}
	return merged
}

// MergeSources appends source if absent, reporting whether it was new.
func MergeSources(existing []string, source string) ([]string, bool) {
	if source == "" {
		return existing, false
	}
	for _, s := range existing {
		if s == source {
			return existing, false
		}
	}
	return append(existing, source), true
}
