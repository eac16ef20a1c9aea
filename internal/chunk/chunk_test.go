package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genWords(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("word")
	}
	return b.String()
}

func TestSplit_EmptyInput(t *testing.T) {
	t.Parallel()
	s, err := NewSplitter("cl100k_base", 200, 25)
	require.NoError(t, err)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n  "))
}

func TestSplit_RespectsChunkSize(t *testing.T) {
	t.Parallel()
	s, err := NewSplitter("cl100k_base", 50, 10)
	require.NoError(t, err)

	text := genWords(2000)
	chunks := s.Split(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, s.countTokens(c.Text), 50, "chunk %d exceeds chunk_size budget", c.Idx)
	}
}

func TestSplit_OrderPreservingIndices(t *testing.T) {
	t.Parallel()
	s, err := NewSplitter("cl100k_base", 50, 5)
	require.NoError(t, err)

	chunks := s.Split(genWords(500))
	for i, c := range chunks {
		assert.Equal(t, i, c.Idx)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()
	s, err := NewSplitter("cl100k_base", 50, 10)
	require.NoError(t, err)

	text := "Paragraph one is here.\n\nParagraph two follows. It has two sentences.\n\n" + genWords(300)
	a := s.Split(text)
	b := s.Split(text)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}
