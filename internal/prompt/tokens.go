package prompt

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates four characters per token.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

type TiktokenCounter struct {
	tk *tiktoken.Tiktoken
}

// NewTiktokenCounter loads a BPE encoding. tiktoken-go fetches the ranks on
// first use unless they are cached locally, so this can fail offline.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	tk, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{tk: tk}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.tk.Encode(text, nil, nil))
}
