package chunk

// Chunking defaults, tuned for short-form web page prose.
const (
	// DefaultMaxWordsPerChunk bounds chunk size so each chunk stays
	// within a small embedding context window.
	DefaultMaxWordsPerChunk = 120

	// DefaultSentenceOverlap is the number of trailing sentences
	// carried into the next chunk for context continuity.
	DefaultSentenceOverlap = 1

	// DefaultWindowOverlapWords is the word overlap between fixed
	// windows when a single sentence or paragraph must be split.
	DefaultWindowOverlapWords = 10

	// DefaultMinChunkChars drops fragments too short to embed usefully.
	DefaultMinChunkChars = 20
)

// Source identifies the strategy that produced a chunk.
type Source string

const (
	// SourceTitle marks the standalone document-title chunk.
	SourceTitle Source = "title"

	// SourceSentence marks chunks packed from whole sentences.
	SourceSentence Source = "sentence"

	// SourceMixed marks chunks from the mixed strategy, where short
	// sentences are kept whole and long ones are window-split.
	SourceMixed Source = "mixed"

	// SourceParagraph marks chunks split on blank lines when no
	// sentence boundaries were found.
	SourceParagraph Source = "paragraph"

	// SourceWindow marks fixed word-window chunks, the last-resort
	// strategy for unpunctuated single-block text.
	SourceWindow Source = "window"
)

// TextChunk is a retrievable unit of extracted document text. Chunks
// are immutable and ordered within a document by Index.
type TextChunk struct {
	Text      string
	Source    Source
	Index     int // position within the document's chunk sequence
	WordCount int
}
