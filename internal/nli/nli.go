// Package nli is the NLI Client: batches (premise, hypothesis) pairs to a
// cross-encoder inference endpoint and turns raw three-class logits into
// labeled, scored predictions.
package nli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"ingestd/internal/kind"
)

// Label is a predicted NLI class.
type Label string

const (
	Contradiction Label = "contradiction"
	Entailment    Label = "entailment"
	Neutral       Label = "neutral"
)

// Pair is one (premise, hypothesis) comparison to classify.
type Pair struct {
	Premise    string
	Hypothesis string
}

// Prediction is the softmax-adjudicated result for one Pair.
type Prediction struct {
	Label      Label
	Confidence float64
}

// Client calls a hosted NLI model and classifies batches of pairs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	// labelOrder is the order the model's logits come back in; this must be
	// pinned to the deployed checkpoint (see config.NLIConfig.LabelOrder).
	labelOrder []Label
	timeout    time.Duration
}

// NewClient builds an NLI Client. labelOrder must name exactly the three
// labels "contradiction", "entailment", "neutral" in the order the model's
// logits are emitted.
func NewClient(baseURL, model string, labelOrder []string, timeout time.Duration) (*Client, error) {
	order, err := parseLabelOrder(labelOrder)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
		labelOrder: order,
		timeout:    timeout,
	}, nil
}

func parseLabelOrder(order []string) ([]Label, error) {
	if len(order) != 3 {
		return nil, fmt.Errorf("nli label order must have exactly 3 entries, got %d", len(order))
	}
	seen := map[Label]bool{}
	out := make([]Label, 3)
	for i, s := range order {
		l := Label(s)
		if l != Contradiction && l != Entailment && l != Neutral {
			return nil, fmt.Errorf("unknown nli label %q", s)
		}
		if seen[l] {
			return nil, fmt.Errorf("duplicate nli label %q in label order", s)
		}
		seen[l] = true
		out[i] = l
	}
	return out, nil
}

type classifyRequest struct {
	Model string     `json:"model"`
	Pairs [][2]string `json:"pairs"`
}

type classifyResponse struct {
	Logits [][]float64 `json:"logits"`
}

// ClassifyBatch submits pairs for joint classification and returns one
// Prediction per pair, in the same order. A batch-level HTTP or logit-shape
// failure returns a kind.ModelError, which is fatal to the analyze stage.
func (c *Client) ClassifyBatch(ctx context.Context, pairs []Pair) ([]Prediction, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	req := classifyRequest{Model: c.model}
	for _, p := range pairs {
		req.Pairs = append(req.Pairs, [2]string{p.Premise, p.Hypothesis})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, kind.New(kind.ModelError, "nli.ClassifyBatch", err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, kind.New(kind.ModelError, "nli.ClassifyBatch", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, kind.New(kind.ModelError, "nli.ClassifyBatch", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, kind.New(kind.ModelError, "nli.ClassifyBatch", fmt.Errorf("nli endpoint %s: %s", resp.Status, string(b)))
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, kind.New(kind.ModelError, "nli.ClassifyBatch", fmt.Errorf("decode response: %w", err))
	}
	if len(cr.Logits) != len(pairs) {
		return nil, kind.New(kind.ModelError, "nli.ClassifyBatch",
			fmt.Errorf("expected %d logit rows, got %d", len(pairs), len(cr.Logits)))
	}

	out := make([]Prediction, len(pairs))
	for i, row := range cr.Logits {
		if len(row) != 3 {
			return nil, kind.New(kind.ModelError, "nli.ClassifyBatch",
				fmt.Errorf("row %d: expected 3 logits, got %d", i, len(row)))
		}
		probs := softmax(row)
		out[i] = argmaxLabel(probs, c.labelOrder)
	}
	return out, nil
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	exps := make([]float64, len(logits))
	for i, v := range logits {
		e := math.Exp(v - max)
		exps[i] = e
		sum += e
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

func argmaxLabel(probs []float64, order []Label) Prediction {
	bestIdx := 0
	for i, p := range probs {
		if p > probs[bestIdx] {
			bestIdx = i
		}
	}
	return Prediction{Label: order[bestIdx], Confidence: probs[bestIdx]}
}
