// Package sampling turns raw top-K log-probabilities into an annotated,
// user-facing next-token distribution and explores divergent continuations.
package sampling

import (
	"context"
	"math"
	"sort"
	"strings"
)

// GreedyThreshold is the temperature below which sampling is treated as argmax.
const GreedyThreshold = 1e-5

// Logprob is one raw (token, log-probability) pair reported by the backend
// for a single generation step.
type Logprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// Candidate is one processed next-token hypothesis.
// Prob and CumulativeProb are percentages (0-100); Logprob is the raw backend value.
type Candidate struct {
	Token          string  `json:"token"`
	Prob           float64 `json:"prob"`
	Logprob        float64 `json:"logprob"`
	CumulativeProb float64 `json:"cumulative_prob"`
	Excluded       bool    `json:"excluded"`
}

// Params are the user-facing sampling controls.
type Params struct {
	Temperature   float64 `json:"temperature"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

// Generator produces the raw top-K candidates for the next token of text.
// Implementations must return at least one candidate or an error.
type Generator interface {
	TopCandidates(ctx context.Context, text string, topK int, temperature float64) ([]Logprob, error)
}

// Next asks gen for the raw candidates following text and builds the annotated distribution.
// Backend errors are returned unchanged.
func Next(ctx context.Context, gen Generator, text string, p Params) ([]Candidate, error) {
	raw, err := gen.TopCandidates(ctx, text, p.TopK, p.Temperature)
	if err != nil {
		return nil, err
	}
	return Build(text, raw, p), nil
}

// Build applies, in order: the substring repetition penalty, temperature
// rescaling to percentages, a stable descending sort, and nucleus marking.
//
// The repetition penalty multiplies the log-probability of any candidate whose
// trimmed text occurs literally in context. It is a textual approximation and
// does not know about token ids.
//
// A degenerate distribution (all rescaled weights zero) is returned with every
// probability at 0 rather than as an error. Empty input yields an empty result.
func Build(context string, raw []Logprob, p Params) []Candidate {
	candidates := make([]Candidate, len(raw))
	if len(raw) == 0 {
		return candidates
	}

	weights := make([]float64, len(raw))
	for i, r := range raw {
		lp := r.Logprob
		if stripped := strings.TrimSpace(r.Token); stripped != "" && strings.Contains(context, stripped) {
			lp *= p.RepeatPenalty
		}
		weights[i] = math.Exp(lp)
		candidates[i] = Candidate{Token: r.Token, Logprob: r.Logprob}
	}

	rescale(weights, p.Temperature)
	for i := range candidates {
		candidates[i].Prob = weights[i]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Prob > candidates[j].Prob
	})

	markNucleus(candidates, p.TopP)
	return candidates
}

// rescale converts unnormalized probabilities to temperature-adjusted percentages in place.
func rescale(weights []float64, temperature float64) {
	if temperature < GreedyThreshold {
		best := 0
		for i, w := range weights {
			if w > weights[best] {
				best = i
			}
		}
		for i := range weights {
			weights[i] = 0
		}
		weights[best] = 100
		return
	}

	sum := 0.0
	for i, w := range weights {
		weights[i] = math.Pow(w, 1/temperature)
		sum += weights[i]
	}
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		for i := range weights {
			weights[i] = 0
		}
		return
	}
	for i := range weights {
		weights[i] = weights[i] / sum * 100
	}
}

// markNucleus records cumulative probabilities and excludes every candidate
// after the one whose addition first reaches topP*100. The first candidate is
// never excluded, and topP >= 1 disables the cutoff.
func markNucleus(candidates []Candidate, topP float64) {
	cutoff := topP * 100
	running := 0.0
	for i := range candidates {
		candidates[i].Excluded = i > 0 && topP < 1 && running >= cutoff
		running += candidates[i].Prob
		candidates[i].CumulativeProb = math.Min(running, 100)
	}
}

// Valid returns the candidates that survived the nucleus cutoff, preserving order.
func Valid(candidates []Candidate) []Candidate {
	valid := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Excluded {
			valid = append(valid, c)
		}
	}
	return valid
}
