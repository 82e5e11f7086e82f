package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"ai-analysis-gateway/internal/domain/ports/adapter"
)

const fallbackEncoding = "cl100k_base"

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(model string) *tiktoken.Tiktoken {
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		// no BPE ranks available (offline); callers fall back to a char estimate
		enc = nil
	}
	encCache[model] = enc
	return enc
}

// EstimateTokens counts prompt tokens locally. Provider-reported usage is
// preferred whenever a response carries it.
func EstimateTokens(model string, messages []adapter.Message) int {
	enc := encodingFor(model)
	total := 0
	for _, m := range messages {
		// role and separators cost a few tokens per message
		total += 4
		if enc != nil {
			total += len(enc.Encode(m.Content, nil, nil))
		} else {
			total += charEstimate(m.Content)
		}
	}
	return total
}

// charEstimate is the rough four-characters-per-token rule.
func charEstimate(text string) int {
	return (len(text) + 3) / 4
}
