// Package verifier is the Generative Verifier Client: escalates ambiguous
// NLI pairs to a generative model, bounded by a fixed concurrency semaphore,
// with tolerant parsing of the model's structured output.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"ingestd/internal/kind"
	"ingestd/internal/obs"
)

// Label mirrors nli.Label's three classes as returned by the verifier.
type Label string

const (
	Contradiction Label = "CONTRADICTION"
	Entailment    Label = "ENTAILMENT"
	Neutral       Label = "NEUTRAL"
)

// Verdict is the verifier's judgment for one ambiguous pair.
type Verdict struct {
	Label     Label
	Reasoning map[string]any
}

// Backend calls a single generative model and returns its raw text response.
type Backend interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const systemPrompt = `You are adjudicating whether two knowledge-base passages duplicate or contradict each other.
Respond with a strict JSON object of the form:
{"reasoning": {"explanation": "..."}, "label": "CONTRADICTION"|"ENTAILMENT"|"NEUTRAL"}
ENTAILMENT means the two passages state the same fact (a duplicate). CONTRADICTION means they conflict.
NEUTRAL means they are unrelated or the relation is unclear. Output only the JSON object.`

// Verifier dispatches ambiguous (premise, hypothesis) pairs to a Backend.
// Concurrency is bounded per analyze invocation (see VerifyBatch), not
// globally across the process.
type Verifier struct {
	backend Backend
	permits int64
	log     obs.Logger
	metrics obs.Metrics
}

// New builds a Verifier with the given backend and permit count (spec: 5).
func New(backend Backend, permits int64, log obs.Logger, metrics obs.Metrics) *Verifier {
	if permits <= 0 {
		permits = 5
	}
	return &Verifier{backend: backend, permits: permits, log: log, metrics: metrics}
}

// Pair is one ambiguous (premise, hypothesis) candidate awaiting adjudication.
type Pair struct {
	Premise    string
	Hypothesis string
}

// VerifyBatch adjudicates all pairs concurrently, bounded by a semaphore of
// v.permits permits scoped to this single call — the cap applies per analyze
// invocation, not across invocations running at the same time. Results align
// with pairs by index; a dropped or failed pair yields a nil entry.
func (v *Verifier) VerifyBatch(ctx context.Context, pairs []Pair) []*Verdict {
	sem := semaphore.NewWeighted(v.permits)
	results := make([]*Verdict, len(pairs))

	var wg sync.WaitGroup
	for i, pair := range pairs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, pair Pair) {
			defer wg.Done()
			defer sem.Release(1)
			verd, err := v.verify(ctx, pair.Premise, pair.Hypothesis)
			if err != nil {
				v.log.Warn("verifier escalation failed", map[string]any{"error": err.Error()})
				return
			}
			results[i] = verd
		}(i, pair)
	}
	wg.Wait()
	return results
}

// verify adjudicates one pair. A Backend error or unparsable output is
// logged and reported to the caller as a dropped pair (nil, nil) rather
// than a hard error, per the "verifier failures are logged and skipped"
// failure model — only the outer dispatch's context cancellation surfaces.
func (v *Verifier) verify(ctx context.Context, premise, hypothesis string) (*Verdict, error) {
	userPrompt := fmt.Sprintf("Chunk 1: %q\n\nChunk 2: %q", premise, hypothesis)
	raw, err := v.backend.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		v.log.Warn("verifier call failed, dropping pair", map[string]any{"error": err.Error()})
		if v.metrics != nil {
			v.metrics.IncCounter("verifier_dropped_total", map[string]string{"reason": "backend_error"})
		}
		return nil, nil
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		v.log.Warn("verifier output unparsable, dropping pair", map[string]any{"error": err.Error(), "raw": raw})
		if v.metrics != nil {
			v.metrics.IncCounter("verifier_dropped_total", map[string]string{"reason": "parse_error"})
		}
		return nil, nil
	}
	return verdict, nil
}

type verdictJSON struct {
	Reasoning map[string]any `json:"reasoning"`
	Label     string         `json:"label"`
}

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// repairJSON strips markdown code fences and trailing commas that
// generative models commonly emit around otherwise-valid JSON.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = regexp.MustCompile(`,\s*([}\]])`).ReplaceAllString(s, "$1")
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndex(s, "}"); i >= 0 && i < len(s)-1 {
		s = s[:i+1]
	}
	return s
}

func parseVerdict(raw string) (*Verdict, error) {
	repaired := repairJSON(raw)
	var vj verdictJSON
	if err := json.Unmarshal([]byte(repaired), &vj); err != nil {
		return nil, kind.New(kind.ModelError, "verifier.parseVerdict", fmt.Errorf("unmarshal %q: %w", repaired, err))
	}
	label := Label(strings.ToUpper(strings.TrimSpace(vj.Label)))
	switch label {
	case Contradiction, Entailment, Neutral:
	default:
		return nil, kind.New(kind.ModelError, "verifier.parseVerdict", fmt.Errorf("unknown label %q", vj.Label))
	}
	return &Verdict{Label: label, Reasoning: vj.Reasoning}, nil
}
