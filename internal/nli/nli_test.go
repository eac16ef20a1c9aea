package nli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RejectsBadLabelOrder(t *testing.T) {
	t.Parallel()
	_, err := NewClient("http://nli", "model", []string{"contradiction", "entailment"}, 0)
	assert.Error(t, err)

	_, err = NewClient("http://nli", "model", []string{"contradiction", "entailment", "bogus"}, 0)
	assert.Error(t, err)

	_, err = NewClient("http://nli", "model", []string{"contradiction", "contradiction", "neutral"}, 0)
	assert.Error(t, err)
}

func TestArgmaxLabel_PicksHighestProbabilityInPinnedOrder(t *testing.T) {
	t.Parallel()
	order := []Label{Contradiction, Entailment, Neutral}

	pred := argmaxLabel(softmax([]float64{5, 1, 1}), order)
	assert.Equal(t, Contradiction, pred.Label)

	pred = argmaxLabel(softmax([]float64{1, 5, 1}), order)
	assert.Equal(t, Entailment, pred.Label)

	pred = argmaxLabel(softmax([]float64{1, 1, 5}), order)
	assert.Equal(t, Neutral, pred.Label)
}

func TestSoftmax_SumsToOne(t *testing.T) {
	t.Parallel()
	probs := softmax([]float64{2.0, -1.0, 0.5})
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}
