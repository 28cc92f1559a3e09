package common

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON cleans and unmarshals model output into T, tolerating the usual
// quirks: markdown fences, prose before or after the payload. Works for both
// object and array payloads.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return zero, fmt.Errorf("no JSON payload found in response")
	}
	closer := "}"
	if response[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(response, closer)
	if end <= start {
		return zero, fmt.Errorf("unterminated JSON payload in response")
	}

	var result T
	if err := json.Unmarshal([]byte(response[start:end+1]), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, response[start:end+1])
	}
	return result, nil
}
