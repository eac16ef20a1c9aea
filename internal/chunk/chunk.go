// Package chunk splits normalized document text into token-bounded,
// overlapping chunks using a byte-pair tokenizer.
package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is one emitted slice of source text in source order.
type Chunk struct {
	Idx  int
	Text string
}

// Splitter is a deterministic, token-bounded recursive text splitter.
type Splitter struct {
	enc          *tiktoken.Tiktoken
	chunkSize    int
	chunkOverlap int
}

// NewSplitter builds a Splitter for the given tokenizer encoding name
// (e.g. "cl100k_base"), chunk size and overlap in tokens.
func NewSplitter(encoding string, chunkSize, chunkOverlap int) (*Splitter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", encoding, err)
	}
	if chunkSize <= 0 {
		chunkSize = 200
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 25
	}
	return &Splitter{enc: enc, chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// separators are tried in order from coarsest to finest, mirroring a
// recursive-character splitter: prefer paragraph breaks, then lines, then
// sentences, then words, falling back to raw token slicing.
var separators = []string{"\n\n", "\n", ". ", " "}

// Split divides text into chunks of at most chunkSize tokens, with adjacent
// chunks overlapping by at most chunkOverlap tokens. Empty input yields no
// chunks. The i-th emitted chunk has Idx == i.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	segments := s.recursiveSplit(text, 0)

	// Pack within chunkSize minus the overlap budget, so that applyOverlap
	// prepending up to chunkOverlap tokens never pushes a chunk over
	// chunkSize.
	packBudget := s.chunkSize - s.chunkOverlap
	if packBudget <= 0 {
		packBudget = s.chunkSize
	}

	var packed []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			packed = append(packed, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, seg := range segments {
		segTokens := s.countTokens(seg)
		if segTokens > packBudget {
			flush()
			packed = append(packed, s.hardSplit(seg, packBudget)...)
			continue
		}
		if currentTokens+segTokens > packBudget && current.Len() > 0 {
			flush()
		}
		current.WriteString(seg)
		currentTokens += segTokens
	}
	flush()

	return s.applyOverlap(packed)
}

// recursiveSplit breaks text on the first separator that actually divides
// it, recursing into pieces still over chunkSize tokens.
func (s *Splitter) recursiveSplit(text string, sepIdx int) []string {
	if s.countTokens(text) <= s.chunkSize {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		return []string{text}
	}
	sep := separators[sepIdx]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return s.recursiveSplit(text, sepIdx+1)
	}
	var out []string
	for i, p := range parts {
		piece := p
		if i < len(parts)-1 {
			piece += sep
		}
		if piece == "" {
			continue
		}
		out = append(out, s.recursiveSplit(piece, sepIdx+1)...)
	}
	return out
}

// hardSplit slices a token-oversized segment (no separator could shrink it,
// e.g. one long unbroken token run) directly on token boundaries, at most
// budget tokens per slice.
func (s *Splitter) hardSplit(seg string, budget int) []string {
	toks := s.enc.Encode(seg, nil, nil)
	var out []string
	for i := 0; i < len(toks); i += budget {
		end := i + budget
		if end > len(toks) {
			end = len(toks)
		}
		out = append(out, s.enc.Decode(toks[i:end]))
	}
	return out
}

// applyOverlap re-indexes packed chunks and prepends up to chunkOverlap
// trailing tokens of the previous chunk to each chunk after the first.
func (s *Splitter) applyOverlap(packed []string) []Chunk {
	out := make([]Chunk, 0, len(packed))
	for i, p := range packed {
		text := strings.TrimSpace(p)
		if i > 0 && s.chunkOverlap > 0 {
			prevToks := s.enc.Encode(packed[i-1], nil, nil)
			n := s.chunkOverlap
			if n > len(prevToks) {
				n = len(prevToks)
			}
			overlap := strings.TrimSpace(s.enc.Decode(prevToks[len(prevToks)-n:]))
			if overlap != "" {
				text = overlap + " " + text
			}
		}
		if text == "" {
			continue
		}
		out = append(out, Chunk{Idx: len(out), Text: text})
	}
	return out
}

func (s *Splitter) countTokens(text string) int {
	return len(s.enc.Encode(text, nil, nil))
}
