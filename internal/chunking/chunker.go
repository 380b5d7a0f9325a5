// Package chunking splits parsed document text into retrieval-sized chunks
// while tracking the heading hierarchy each chunk belongs to.
//
// Chunking runs in two stages: a heading pass partitions the text into
// sections and maintains the ancestor-heading stack, then a recursive
// character pass splits each section's body along a separator ladder with
// overlap between neighbouring chunks.
package chunking

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/pkg/tokenizer"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid chunking configuration")
	ErrEmptyContent  = errors.New("empty content")
)

// headingPattern matches one heading line: markdown hashes, dotted section
// numbers, or Chinese chapter markers.
var headingPattern = regexp.MustCompile(`(?m)^(#{1,6}\s+.+|\d+\.\d*\s+.+|第[一二三四五六七八九十百]+[章节条款]\s*.*)$`)

// separators is the split ladder for the character stage, tried in order
// from the strongest boundary (blank line) down to a single space.
var separators = []string{
	"\n\n", "\n",
	"。", "！", "？",
	".", "!", "?",
	"；", ";",
	"，", ",",
	" ",
}

// hierarchySeparator joins ancestor headings into the hierarchy path.
const hierarchySeparator = " > "

// Config bounds chunk sizes. All sizes are in runes.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap must be in [0, chunk size)", ErrInvalidConfig)
	}
	if c.MinChunkSize < 0 || c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("%w: min chunk size must be in [0, chunk size]", ErrInvalidConfig)
	}
	return nil
}

// TextSection is one heading-delimited slice of the document.
type TextSection struct {
	Heading   string
	Hierarchy string
	Content   string
}

// Chunker performs the two-stage split.
type Chunker struct {
	cfg Config
}

func NewChunker(cfg Config) (*Chunker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// ChunkDocument splits text into ordered chunks owned by documentID.
// Chunk indexes are dense from zero; every chunk carries its section
// heading, the full hierarchy path, and an estimated token count.
func (c *Chunker) ChunkDocument(documentID, text string) ([]model.DocumentChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}

	var chunks []model.DocumentChunk
	for _, section := range SplitSections(text) {
		for _, piece := range c.splitContent(section.Content) {
			chunks = append(chunks, model.DocumentChunk{
				ID:         uuid.New().String(),
				DocumentID: documentID,
				ChunkIndex: len(chunks),
				Content:    piece,
				Heading:    section.Heading,
				Hierarchy:  section.Hierarchy,
				TokenCount: tokenizer.EstimateTokens(piece),
			})
		}
	}
	return chunks, nil
}

// SplitSections runs the heading stage: it partitions text at heading
// lines and tracks the ancestor stack. On a heading of level L every stack
// entry at depth >= L is popped before the new heading is pushed, so the
// hierarchy path of a section always ends with its own heading.
func SplitSections(text string) []TextSection {
	lines := strings.Split(text, "\n")

	var (
		sections []TextSection
		stack    []string
		body     strings.Builder
	)

	flush := func() {
		content := strings.TrimSpace(body.String())
		body.Reset()
		if content == "" {
			return
		}
		section := TextSection{Content: content, Hierarchy: strings.Join(stack, hierarchySeparator)}
		if len(stack) > 0 {
			section.Heading = stack[len(stack)-1]
		}
		sections = append(sections, section)
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && headingPattern.MatchString(trimmed) {
			flush()
			level := headingLevel(trimmed)
			for len(stack) >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingTitle(trimmed))
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

// headingLevel derives the nesting level of a heading line: the number of
// leading hashes for markdown headings, one plus the dot count of the
// numeric prefix for dotted numbers, and one for everything else.
func headingLevel(heading string) int {
	if strings.HasPrefix(heading, "#") {
		level := 0
		for _, r := range heading {
			if r != '#' {
				break
			}
			level++
		}
		return level
	}

	if heading[0] >= '0' && heading[0] <= '9' {
		dots := 0
		for _, r := range heading {
			switch {
			case r >= '0' && r <= '9':
			case r == '.':
				dots++
			default:
				return dots + 1
			}
		}
		return dots + 1
	}

	return 1
}

// headingTitle strips the markdown hash prefix; numeric and Chinese
// chapter headings keep their markers since those carry meaning.
func headingTitle(heading string) string {
	return strings.TrimSpace(strings.TrimLeft(heading, "#"))
}

// splitContent runs the character stage over one section body.
func (c *Chunker) splitContent(content string) []string {
	return c.split(content, 0)
}

// split packs content into chunks no longer than ChunkSize runes using the
// separator at sepIndex and beyond. A segment that alone exceeds the chunk
// size is split again with the next separator; when the ladder is
// exhausted the text is sliced at fixed width.
func (c *Chunker) split(content string, sepIndex int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if runeLen(content) <= c.cfg.ChunkSize {
		return []string{content}
	}

	for i := sepIndex; i < len(separators); i++ {
		sep := separators[i]
		if !strings.Contains(content, sep) {
			continue
		}
		segments := strings.Split(content, sep)
		// Sentence-ending punctuation stays attached to its segment.
		if sep != "\n\n" && sep != "\n" && sep != " " {
			for j := 0; j < len(segments)-1; j++ {
				segments[j] += sep
			}
		}
		return c.pack(segments, sep, i)
	}

	return c.sliceFixed(content)
}

// pack greedily accumulates segments until the next one would overflow the
// chunk size, then emits the accumulator and seeds the next chunk with the
// overlap tail of the emitted one.
func (c *Chunker) pack(segments []string, sep string, sepIndex int) []string {
	joiner := sep
	if sep != "\n\n" && sep != "\n" && sep != " " {
		// Punctuation separators were re-attached above.
		joiner = ""
	}

	var chunks []string
	var current string

	emit := func(chunk string) {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			continue
		}

		if runeLen(segment) > c.cfg.ChunkSize {
			// Indivisible at this level: flush what we have and recurse.
			// An accumulator below the minimum size folds into the
			// segment so its text keeps its place in the order.
			if runeLen(current) >= c.cfg.MinChunkSize {
				emit(current)
			} else if current != "" {
				segment = current + joiner + segment
			}
			current = ""
			if subs := c.split(segment, sepIndex+1); len(subs) > 0 {
				for _, sub := range subs[:len(subs)-1] {
					emit(sub)
				}
				current = subs[len(subs)-1]
			}
			continue
		}

		candidate := segment
		if current != "" {
			candidate = current + joiner + segment
		}
		if runeLen(candidate) <= c.cfg.ChunkSize {
			current = candidate
			continue
		}

		if runeLen(current) >= c.cfg.MinChunkSize {
			emit(current)
			seeded := c.overlapTail(current) + joiner + segment
			if runeLen(seeded) > c.cfg.ChunkSize {
				seeded = segment
			}
			current = seeded
			continue
		}

		// The accumulator is too small to stand alone but the candidate
		// overflows; split the candidate deeper so no chunk exceeds the
		// size bound and no text is dropped.
		subs := c.split(candidate, sepIndex+1)
		if len(subs) == 0 {
			current = ""
			continue
		}
		for _, sub := range subs[:len(subs)-1] {
			emit(sub)
		}
		current = subs[len(subs)-1]
	}

	if current != "" {
		merged := ""
		if len(chunks) > 0 {
			merged = chunks[len(chunks)-1] + joiner + current
		}
		switch {
		case runeLen(current) >= c.cfg.MinChunkSize || len(chunks) == 0:
			emit(current)
		case runeLen(merged) <= c.cfg.ChunkSize:
			// A tiny tail rides along with the previous chunk instead of
			// becoming a fragment below the minimum size.
			chunks[len(chunks)-1] = merged
		default:
			emit(current)
		}
	}

	return chunks
}

// overlapTail returns the last ChunkOverlap runes of chunk, used to seed
// the next chunk for continuity across the boundary.
func (c *Chunker) overlapTail(chunk string) string {
	if c.cfg.ChunkOverlap <= 0 {
		return ""
	}
	runes := []rune(chunk)
	if len(runes) <= c.cfg.ChunkOverlap {
		return chunk
	}
	return string(runes[len(runes)-c.cfg.ChunkOverlap:])
}

// sliceFixed cuts content into ChunkSize windows stepping by
// ChunkSize-ChunkOverlap, the last resort when no separator applies.
func (c *Chunker) sliceFixed(content string) []string {
	runes := []rune(content)
	stride := c.cfg.ChunkSize - c.cfg.ChunkOverlap
	if stride <= 0 {
		stride = c.cfg.ChunkSize
	}

	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + c.cfg.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}
