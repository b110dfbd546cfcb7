package markdown

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const exactTokenLimit = 500_000

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// CountTokens returns the token count of text. Exact BPE counting is
// used up to 500k characters; beyond that (or if the vocabulary is
// unavailable) it approximates one token per four characters.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if len(text) <= exactTokenLimit {
		if e := encoding(); e != nil {
			return len(e.Encode(text, nil, nil))
		}
	}
	return (len(text) + 3) / 4
}
