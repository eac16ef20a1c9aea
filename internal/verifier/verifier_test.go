package verifier

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/obs"
)

type fakeBackend struct {
	response string
	err      error
	calls    atomic.Int32
	hold     chan struct{}
}

func (f *fakeBackend) Generate(ctx context.Context, _, _ string) (string, error) {
	f.calls.Add(1)
	if f.hold != nil {
		<-f.hold
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestVerifyBatch_ParsesFencedJSON(t *testing.T) {
	t.Parallel()
	fb := &fakeBackend{response: "```json\n{\"reasoning\": {\"why\": \"same fact\"}, \"label\": \"ENTAILMENT\"}\n```"}
	v := New(fb, 5, obs.NoopLogger{}, nil)

	verdicts := v.VerifyBatch(context.Background(), []Pair{{Premise: "a", Hypothesis: "b"}})
	require.Len(t, verdicts, 1)
	require.NotNil(t, verdicts[0])
	assert.Equal(t, Entailment, verdicts[0].Label)
}

func TestVerifyBatch_DropsOnBackendError(t *testing.T) {
	t.Parallel()
	fb := &fakeBackend{err: fmt.Errorf("boom")}
	v := New(fb, 5, obs.NoopLogger{}, nil)

	verdicts := v.VerifyBatch(context.Background(), []Pair{{Premise: "a", Hypothesis: "b"}})
	require.Len(t, verdicts, 1)
	assert.Nil(t, verdicts[0])
}

func TestVerifyBatch_DropsOnUnparsableOutput(t *testing.T) {
	t.Parallel()
	fb := &fakeBackend{response: "not json at all"}
	v := New(fb, 5, obs.NoopLogger{}, nil)

	verdicts := v.VerifyBatch(context.Background(), []Pair{{Premise: "a", Hypothesis: "b"}})
	require.Len(t, verdicts, 1)
	assert.Nil(t, verdicts[0])
}

func TestVerifyBatch_BoundedConcurrency(t *testing.T) {
	t.Parallel()
	hold := make(chan struct{})
	fb := &fakeBackend{response: `{"reasoning":{},"label":"NEUTRAL"}`, hold: hold}
	v := New(fb, 2, obs.NoopLogger{}, nil)

	pairs := make([]Pair, 5)
	for i := range pairs {
		pairs[i] = Pair{Premise: "a", Hypothesis: "b"}
	}

	done := make(chan []*Verdict, 1)
	go func() {
		done <- v.VerifyBatch(context.Background(), pairs)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), fb.calls.Load(), "only 2 permits should be in flight")

	close(hold)
	verdicts := <-done
	assert.Len(t, verdicts, 5)
	assert.Equal(t, int32(5), fb.calls.Load())
}
