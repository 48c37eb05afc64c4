package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Options configures the text chunker behavior.
type Options struct {
	MaxWordsPerChunk   int // maximum words per chunk (default: DefaultMaxWordsPerChunk)
	SentenceOverlap    int // sentences carried into the next chunk (default: DefaultSentenceOverlap)
	WindowOverlapWords int // word overlap between fixed windows (default: DefaultWindowOverlapWords)
	MinChunkChars      int // chunks shorter than this are dropped (default: DefaultMinChunkChars)
}

// TextChunker splits extracted document text into bounded, semantically
// coherent chunks. Chunking is a pure function of its input: the same
// text and title always produce the same chunk sequence.
//
// Strategy ladder, most to least structured:
//  1. sentence packing with overlap
//  2. aggressive boundary search when sentences run too long
//  3. mixed whole-sentence / word-window splitting
//  4. paragraph splitting when no sentence boundary exists
//  5. fixed word windows as the last resort
type TextChunker struct {
	options Options
}

// Boundary patterns. Terminators cover Latin, CJK, Arabic and Indic
// scripts; trailing closers keep quotes and brackets attached to the
// sentence they close. Latin terminators require following whitespace
// so decimals and abbreviations mostly survive; fullwidth terminators
// split unconditionally because CJK text carries no spaces.
var (
	sentenceBoundary = regexp.MustCompile(
		`[.!?…؟۔।]+[)\]}»"'”’]*(\s+|$)|[。．！？]+[」』）)\]}»"'”’]*`)

	// Adds clause separators, bracket boundaries, and line breaks for
	// text whose sentences run far past the chunk bound.
	aggressiveBoundary = regexp.MustCompile(
		`[.!?…؟۔।;:,]+[)\]}»"'”’]*(\s+|$)|[。．！？；：、，]+[」』）)\]}»"'”’]*|[)\]}]\s+|\n+`)

	// Paragraph separator: a blank line, possibly with stray spaces.
	paragraphBoundary = regexp.MustCompile(`\n[ \t]*\n+`)
)

// NewTextChunker creates a text chunker with default options.
func NewTextChunker() *TextChunker {
	return NewTextChunkerWithOptions(Options{})
}

// NewTextChunkerWithOptions creates a text chunker with custom options.
// Zero or negative fields fall back to the defaults; the window overlap
// is clamped below the chunk bound so window splitting always advances.
func NewTextChunkerWithOptions(opts Options) *TextChunker {
	if opts.MaxWordsPerChunk <= 0 {
		opts.MaxWordsPerChunk = DefaultMaxWordsPerChunk
	}
	if opts.SentenceOverlap <= 0 {
		opts.SentenceOverlap = DefaultSentenceOverlap
	}
	if opts.WindowOverlapWords <= 0 {
		opts.WindowOverlapWords = DefaultWindowOverlapWords
	}
	if opts.MinChunkChars <= 0 {
		opts.MinChunkChars = DefaultMinChunkChars
	}
	if opts.WindowOverlapWords >= opts.MaxWordsPerChunk {
		opts.WindowOverlapWords = opts.MaxWordsPerChunk / 2
	}
	return &TextChunker{options: opts}
}

// Chunk splits text into chunks, optionally preceded by a standalone
// title chunk. Empty or whitespace-only text yields no chunks besides
// the optional title chunk. Body chunks shorter than MinChunkChars are
// dropped; the title chunk is exempt from that filter.
func (c *TextChunker) Chunk(text, title string) []TextChunk {
	var chunks []TextChunk

	if t := strings.TrimSpace(title); utf8.RuneCountInString(t) >= 3 {
		chunks = append(chunks, TextChunk{
			Text:      t,
			Source:    SourceTitle,
			WordCount: countWords(t),
		})
	}

	body := strings.TrimSpace(text)
	if body != "" {
		chunks = append(chunks, c.bodyChunks(body)...)
	}
	return c.finalize(chunks)
}

// bodyChunks picks a strategy for the document body.
func (c *TextChunker) bodyChunks(body string) []TextChunk {
	if !sentenceBoundary.MatchString(body) {
		// No sentence boundaries at all. Prefer paragraphs, then raw
		// word windows.
		if paragraphs := splitParagraphs(body); len(paragraphs) > 1 {
			return c.paragraphChunks(paragraphs)
		}
		return c.windowChunks(strings.Fields(body), SourceWindow)
	}

	sentences := splitAt(body, sentenceBoundary)

	// Too few boundaries for the text length: the average sentence
	// would overflow a chunk, so retry with aggressive boundaries.
	if totalWords(sentences) > c.options.MaxWordsPerChunk*len(sentences) {
		if aggressive := splitAt(body, aggressiveBoundary); len(aggressive) > len(sentences) {
			sentences = aggressive
		}
	}

	for _, s := range sentences {
		if countWords(s) > c.options.MaxWordsPerChunk {
			return c.mixedChunks(sentences)
		}
	}
	return c.packSentences(sentences)
}

// packSentences greedily packs consecutive sentences up to the word
// bound, carrying SentenceOverlap trailing sentences into the next
// chunk. Callers guarantee no single sentence exceeds the bound.
func (c *TextChunker) packSentences(sentences []string) []TextChunk {
	var chunks []TextChunk
	i := 0
	for i < len(sentences) {
		words := 0
		j := i
		for j < len(sentences) {
			w := countWords(sentences[j])
			if j > i && words+w > c.options.MaxWordsPerChunk {
				break
			}
			words += w
			j++
		}
		chunks = append(chunks, TextChunk{
			Text:      strings.Join(sentences[i:j], " "),
			Source:    SourceSentence,
			WordCount: words,
		})
		if j >= len(sentences) {
			break
		}
		next := j - c.options.SentenceOverlap
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return chunks
}

// mixedChunks emits short sentences as whole chunks and window-splits
// any sentence that exceeds the word bound.
func (c *TextChunker) mixedChunks(sentences []string) []TextChunk {
	var chunks []TextChunk
	for _, s := range sentences {
		words := strings.Fields(s)
		if len(words) <= c.options.MaxWordsPerChunk {
			chunks = append(chunks, TextChunk{
				Text:      s,
				Source:    SourceMixed,
				WordCount: len(words),
			})
			continue
		}
		chunks = append(chunks, c.windowChunks(words, SourceMixed)...)
	}
	return chunks
}

// paragraphChunks emits each paragraph whole, window-splitting the ones
// that exceed the word bound.
func (c *TextChunker) paragraphChunks(paragraphs []string) []TextChunk {
	var chunks []TextChunk
	for _, p := range paragraphs {
		words := strings.Fields(p)
		if len(words) <= c.options.MaxWordsPerChunk {
			chunks = append(chunks, TextChunk{
				Text:      p,
				Source:    SourceParagraph,
				WordCount: len(words),
			})
			continue
		}
		chunks = append(chunks, c.windowChunks(words, SourceParagraph)...)
	}
	return chunks
}

// windowChunks splits words into fixed windows of MaxWordsPerChunk with
// WindowOverlapWords carried between consecutive windows.
func (c *TextChunker) windowChunks(words []string, tag Source) []TextChunk {
	var chunks []TextChunk
	for start := 0; start < len(words); {
		end := start + c.options.MaxWordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, TextChunk{
			Text:      strings.Join(words[start:end], " "),
			Source:    tag,
			WordCount: end - start,
		})
		if end >= len(words) {
			break
		}
		start = end - c.options.WindowOverlapWords
	}
	return chunks
}

// finalize drops body chunks below the minimum length and assigns final
// positions.
func (c *TextChunker) finalize(chunks []TextChunk) []TextChunk {
	kept := make([]TextChunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch.Source != SourceTitle && utf8.RuneCountInString(strings.TrimSpace(ch.Text)) < c.options.MinChunkChars {
			continue
		}
		ch.Index = len(kept)
		kept = append(kept, ch)
	}
	return kept
}

// splitAt slices text at every boundary match, trimming surrounding
// whitespace and skipping empty pieces. Text after the final boundary
// becomes the last piece.
func splitAt(text string, boundary *regexp.Regexp) []string {
	var pieces []string
	last := 0
	for _, loc := range boundary.FindAllStringIndex(text, -1) {
		if piece := strings.TrimSpace(text[last:loc[1]]); piece != "" {
			pieces = append(pieces, piece)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		pieces = append(pieces, rest)
	}
	return pieces
}

// splitParagraphs splits text on blank lines.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range paragraphBoundary.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

func totalWords(pieces []string) int {
	n := 0
	for _, p := range pieces {
		n += countWords(p)
	}
	return n
}
