// Package chunk splits fetched or crawled content into bounded pieces for
// embedding, dispatching on a named strategy (sentence, token, semantic).
// Token counting is grounded on the teacher pack's tiktoken usage
// (Tangerg-lynx's tokenizer.Tiktoken / splitter.TokenSplitter).
package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
)

// Strategy names accepted by Split.
const (
	StrategySentence = "sentence"
	StrategyToken    = "token"
	StrategySemantic = "semantic"
)

// Chunk is a single piece produced by a split, with a fresh id and a
// token-count estimate. Whether its embedding has been stored is filled in
// by the caller (ChunkService), not by the chunker.
type Chunk struct {
	ID         string
	Content    string
	TokenCount int
	Index      int
}

// Options bounds a split.
type Options struct {
	Strategy     string
	MaxChunkSize int // characters for sentence/semantic, tokens for token
	Overlap      int // characters or tokens, matching MaxChunkSize's unit
}

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)
var paragraphBoundary = regexp.MustCompile(`\n\s*\n+`)

// Chunker splits text per a named strategy.
type Chunker struct {
	enc *tiktoken.Tiktoken
}

// NewChunker builds a Chunker. Token counting falls back to a whitespace
// estimate if the cl100k_base encoding cannot be loaded (e.g. offline with
// no cached ranks file), so Split never fails outright on that account.
func NewChunker() *Chunker {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Chunker{enc: enc}
}

// Split dispatches to the named strategy. Unknown strategies are an error.
func (c *Chunker) Split(text string, opts Options) ([]Chunk, error) {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = 800
	}
	switch opts.Strategy {
	case StrategySentence, "":
		return c.splitSentence(text, opts), nil
	case StrategyToken:
		return c.splitToken(text, opts), nil
	case StrategySemantic:
		return c.splitSemantic(text, opts), nil
	default:
		return nil, fmt.Errorf("chunk: unknown strategy %q", opts.Strategy)
	}
}

func (c *Chunker) countTokens(s string) int {
	if c.enc != nil {
		return len(c.enc.Encode(s, nil, nil))
	}
	return len(strings.Fields(s))
}

// splitSentence packs sentences into chunks up to MaxChunkSize characters,
// repeating Overlap trailing characters at the head of the next chunk.
func (c *Chunker) splitSentence(text string, opts Options) []Chunk {
	sentences := splitSentences(text)
	return c.packByChars(sentences, opts)
}

// splitSemantic splits at paragraph boundaries first, then packs each
// paragraph's sentences the same way splitSentence does.
func (c *Chunker) splitSemantic(text string, opts Options) []Chunk {
	paragraphs := paragraphBoundary.Split(strings.TrimSpace(text), -1)
	var units []string
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		units = append(units, splitSentences(p)...)
	}
	return c.packByChars(units, opts)
}

// splitToken packs whitespace-delimited tokens into chunks of at most
// MaxChunkSize tokens, sharing Overlap tokens between neighbours.
func (c *Chunker) splitToken(text string, opts Options) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []Chunk
	step := opts.MaxChunkSize - opts.Overlap
	if step <= 0 {
		step = opts.MaxChunkSize
	}
	for start := 0; start < len(words); start += step {
		end := start + opts.MaxChunkSize
		if end > len(words) {
			end = len(words)
		}
		content := strings.Join(words[start:end], " ")
		chunks = append(chunks, Chunk{
			ID:         uuid.NewString(),
			Content:    content,
			TokenCount: c.countTokens(content),
			Index:      len(chunks),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// packByChars packs units (sentences) into chunks up to MaxChunkSize
// characters, repeating the trailing Overlap characters of a chunk at the
// head of the next one.
func (c *Chunker) packByChars(units []string, opts Options) []Chunk {
	if len(units) == 0 {
		return nil
	}
	var chunks []Chunk
	var b strings.Builder
	carry := ""

	flush := func() {
		content := strings.TrimSpace(b.String())
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			ID:         uuid.NewString(),
			Content:    content,
			TokenCount: c.countTokens(content),
			Index:      len(chunks),
		})
		if opts.Overlap > 0 && len(content) > opts.Overlap {
			carry = content[len(content)-opts.Overlap:]
		} else {
			carry = content
		}
		b.Reset()
		if carry != "" {
			b.WriteString(carry)
			b.WriteString(" ")
		}
	}

	for _, u := range units {
		if b.Len()+len(u) > opts.MaxChunkSize && b.Len() > len(carry) {
			flush()
		}
		b.WriteString(u)
		b.WriteString(" ")
	}
	content := strings.TrimSpace(b.String())
	if content != "" && content != strings.TrimSpace(carry) {
		chunks = append(chunks, Chunk{
			ID:         uuid.NewString(),
			Content:    content,
			TokenCount: c.countTokens(content),
			Index:      len(chunks),
		})
	}
	return chunks
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	marked := sentenceBoundary.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
