package driver

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Record access helpers. Values coming off the wire are interface{}; these
// coerce with safe defaults instead of panicking on shape drift.

func RecordString(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

func RecordFloat(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func RecordInt(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func RecordStringSlice(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok {
		return nil
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func RecordProps(record *neo4j.Record, key string) map[string]interface{} {
	val, ok := record.Get(key)
	if !ok {
		return map[string]interface{}{}
	}
	if m, ok := val.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func RecordFloatSlice(record *neo4j.Record, key string) []float32 {
	val, ok := record.Get(key)
	if !ok {
		return nil
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(slice))
	for _, v := range slice {
		switch f := v.(type) {
		case float64:
			out = append(out, float32(f))
		case float32:
			out = append(out, f)
		case int64:
			out = append(out, float32(f))
		}
	}
	return out
}
