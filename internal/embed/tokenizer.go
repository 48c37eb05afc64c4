package embed

import (
	"strings"
	"unicode"

	"github.com/tabsense/tabsense/internal/cache"
)

// BERT special token IDs shared by MiniLM-family vocabularies.
const (
	clsTokenID = 101
	sepTokenID = 102

	// vocabBuckets is the hash range for word tokens. MiniLM vocabularies
	// hold ~30k entries; hashing into the same range keeps IDs in the
	// embedding table the model was exported with.
	vocabBuckets = 30000
)

// Tokenizer produces token IDs for BERT-style models
// (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// WordTokenizer splits text on whitespace and punctuation and hashes
// each word into a fixed vocabulary range, framing the sequence with
// [CLS] and [SEP]. It trades exact wordpiece fidelity for zero model
// assets, which is acceptable for similarity ranking over page text.
type WordTokenizer struct{}

// NewWordTokenizer creates a word-level hash tokenizer.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{}
}

// Tokenize produces padded token IDs up to maxTokens.
// Layout: [CLS] word... [SEP] padding. The attention mask marks the
// occupied slots; token type IDs are all zero (single segment).
func (t *WordTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, word := range splitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(hashToken(word) % vocabBuckets)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = sepTokenID
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// splitWords lowercases and splits text into word tokens, treating any
// run of non-letter/non-digit runes as a separator.
func splitWords(text string) []string {
	var words []string
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		words = append(words, b.String())
	}
	return words
}

// hashToken returns a deterministic non-negative hash for a word.
func hashToken(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

// tokenization is a memoized Tokenize result.
type tokenization struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
}

// MemoTokenizer wraps a Tokenizer with the tokenization memo. Repeated
// chunks (identical titles, boilerplate paragraphs) skip re-tokenizing.
type MemoTokenizer struct {
	inner Tokenizer
	memo  *cache.Cache[string, tokenization]
}

// NewMemoTokenizer wraps inner with a memo of the given capacity.
func NewMemoTokenizer(inner Tokenizer, capacity int) (*MemoTokenizer, error) {
	if capacity <= 0 {
		capacity = DefaultTokenCacheSize
	}
	memo, err := cache.New[string, tokenization](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoTokenizer{inner: inner, memo: memo}, nil
}

// Tokenize returns the memoized result when present. Callers must not
// mutate the returned slices.
func (t *MemoTokenizer) Tokenize(text string, maxTokens int) ([]int64, []int64, []int64) {
	if hit, ok := t.memo.Get(text); ok && len(hit.inputIDs) == maxTokens {
		return hit.inputIDs, hit.attentionMask, hit.tokenTypeIDs
	}

	ids, mask, types := t.inner.Tokenize(text, maxTokens)
	t.memo.Set(text, tokenization{inputIDs: ids, attentionMask: mask, tokenTypeIDs: types})
	return ids, mask, types
}

// MemoLen reports the number of memoized tokenizations.
func (t *MemoTokenizer) MemoLen() int {
	return t.memo.Len()
}
