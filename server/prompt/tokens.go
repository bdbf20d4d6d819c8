package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// imageTokenEstimate approximates the token cost of one image part at
// high detail; the endpoint bills images by tile, not by text tokens,
// so this is only good enough for context-window warnings.
const imageTokenEstimate = 765

// TokenCounter estimates prompt sizes using tiktoken so callers can
// warn before sending a history that exceeds the model's context window.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter creates a token counter for the given model, falling
// back to the cl100k_base encoding for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("no encoding available for model %s: %w", model, err)
		}
	}
	return &TokenCounter{encoding: encoding}, nil
}

// CountMessage estimates the tokens of a single message.
func (tc *TokenCounter) CountMessage(m Message) int {
	if !m.IsMultimodal() {
		return len(tc.encoding.Encode(m.Content, nil, nil))
	}

	total := 0
	for _, p := range m.Parts {
		switch p.Type {
		case PartTypeText:
			total += len(tc.encoding.Encode(p.Text, nil, nil))
		case PartTypeImage:
			total += imageTokenEstimate
		}
	}
	return total
}

// CountHistory estimates the total tokens of a history.
func (tc *TokenCounter) CountHistory(history []Message) int {
	total := 0
	for _, m := range history {
		total += tc.CountMessage(m)
	}
	return total
}
