package search

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/internal/llm"
	"github.com/agenthands/mnemo/pkg/logger"
)

// RelevanceFilter decides which freshly discovered nodes stay in the result
// set, judged against the caller's topic summary. The expansion loop itself
// is pure traversal; this is the pluggable judgment step.
type RelevanceFilter interface {
	Filter(ctx context.Context, candidates []model.NodeRecord, summary string) ([]model.NodeRecord, error)
}

// LLMRelevanceFilter asks the model which candidates relate to the topic.
// Any failure keeps all candidates rather than silently dropping memories.
type LLMRelevanceFilter struct {
	LLM    llm.LLMClient
	logger *zap.Logger
}

func NewLLMRelevanceFilter(client llm.LLMClient) *LLMRelevanceFilter {
	return &LLMRelevanceFilter{LLM: client, logger: logger.Get()}
}

var indexPattern = regexp.MustCompile(`\d+`)

func (f *LLMRelevanceFilter) Filter(ctx context.Context, candidates []model.NodeRecord, summary string) ([]model.NodeRecord, error) {
	if len(candidates) <= 1 || summary == "" || f.LLM == nil {
		return candidates, nil
	}

	list := ""
	for i, c := range candidates {
		name, _ := c.Properties["name"].(string)
		list += fmt.Sprintf("[%d] %s (%s)\n", i, name, c.Kind())
	}

	prompt := fmt.Sprintf(`You are filtering retrieved memories for relevance.
Topic: %s

Candidates:
%s
Output ONLY the indices of candidates relevant to the topic, separated by
commas. Example: 0, 2, 5. Output nothing else.`, summary, list)

	response, err := f.LLM.Generate(ctx, prompt)
	if err != nil {
		f.logger.Warn("relevance filter failed, keeping all candidates", zap.Error(err))
		return candidates, nil
	}

	var kept []model.NodeRecord
	seen := map[int]bool{}
	for _, m := range indexPattern.FindAllString(response, -1) {
		i, err := strconv.Atoi(m)
		if err != nil || i < 0 || i >= len(candidates) || seen[i] {
			continue
		}
		seen[i] = true
		kept = append(kept, candidates[i])
	}
	if kept == nil {
		// A response naming nothing is indistinguishable from a parse
		// failure; keep everything.
		return candidates, nil
	}
	return kept, nil
}
