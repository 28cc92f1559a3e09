package search

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core/common"
	"github.com/agenthands/mnemo/internal/llm"
	"github.com/agenthands/mnemo/pkg/logger"
)

const keywordPrompt = `Extract the entity names, people, places and topics worth looking up
from the following text. Return ONLY a JSON object of the form
{"keywords": ["...", "..."]} with at most %d keywords.

Text:
%s`

const maxKeywords = 8

// KeywordExtractor pulls lookup terms out of free text with the model,
// degrading to naive tokenization when the model is unavailable or returns
// garbage.
type KeywordExtractor struct {
	LLM    llm.LLMClient
	logger *zap.Logger
}

func NewKeywordExtractor(client llm.LLMClient) *KeywordExtractor {
	return &KeywordExtractor{LLM: client, logger: logger.Get()}
}

type keywordResponse struct {
	Keywords []string `json:"keywords"`
}

func (e *KeywordExtractor) Extract(ctx context.Context, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if e.LLM != nil {
		response, err := e.LLM.Generate(ctx, fmt.Sprintf(keywordPrompt, maxKeywords, text))
		if err == nil {
			if result, perr := common.ParseJSON[keywordResponse](response); perr == nil && len(result.Keywords) > 0 {
				return dedupe(result.Keywords)
			} else if perr != nil {
				e.logger.Warn("keyword extraction parse failed", zap.Error(perr))
			}
		} else {
			e.logger.Warn("keyword extraction failed, falling back to tokens", zap.Error(err))
		}
	}
	return fallbackTokens(text)
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "is": true, "was": true,
	"it": true, "he": true, "she": true, "they": true, "i": true, "you": true,
	"我": true, "你": true, "他": true, "她": true, "的": true, "了": true,
	"是": true, "在": true, "和": true, "也": true, "都": true, "就": true,
}

// fallbackTokens splits on anything that is not a letter or digit and drops
// stopwords and single ASCII characters.
func fallbackTokens(text string) []string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, tok := range tokens {
		if stopwords[strings.ToLower(tok)] {
			continue
		}
		if len(tok) < 2 {
			continue
		}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return dedupe(out)
}

func dedupe(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	var out []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
