// Package tokenizer provides a lightweight token count estimator shared by
// the chunker and the conversation context manager.
//
// The estimate intentionally avoids any model-specific tokenizer: CJK text
// is roughly one token per character while Latin text averages four
// characters per token, which is close enough for budget decisions.
package tokenizer

const (
	cjkStart = 0x4E00
	cjkEnd   = 0x9FA5

	// latinCharsPerToken approximates how many non-CJK characters map to
	// one token in common BPE vocabularies.
	latinCharsPerToken = 4
)

// EstimateTokens returns an approximate token count for text.
// Each CJK unified ideograph counts as one token; all remaining runes are
// counted together and divided by latinCharsPerToken (integer division).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	tokens := 0
	other := 0
	for _, r := range text {
		if r >= cjkStart && r <= cjkEnd {
			tokens++
		} else {
			other++
		}
	}
	return tokens + other/latinCharsPerToken
}
