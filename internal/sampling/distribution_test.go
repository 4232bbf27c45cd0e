package sampling

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultParams() Params {
	return Params{Temperature: 1.0, TopK: 40, TopP: 1.0, RepeatPenalty: 1.0}
}

func findToken(t *testing.T, cands []Candidate, token string) Candidate {
	t.Helper()
	for _, c := range cands {
		if c.Token == token {
			return c
		}
	}
	t.Fatalf("token %q not in %v", token, cands)
	return Candidate{}
}

func TestBuild_Empty(t *testing.T) {
	got := Build("anything", nil, defaultParams())
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestBuild_Greedy(t *testing.T) {
	raw := []Logprob{{Token: "A", Logprob: -0.1}, {Token: "B", Logprob: -2.0}}
	p := defaultParams()
	p.Temperature = 0

	got := Build("test", raw, p)
	require.Len(t, got, 2)
	require.Equal(t, "A", got[0].Token)
	require.Equal(t, 100.0, got[0].Prob)
	require.Equal(t, "B", got[1].Token)
	require.Equal(t, 0.0, got[1].Prob)
}

func TestBuild_GreedyTieKeepsBackendOrder(t *testing.T) {
	raw := []Logprob{{Token: "first", Logprob: -0.5}, {Token: "second", Logprob: -0.5}}
	p := defaultParams()
	p.Temperature = 1e-6

	got := Build("", raw, p)
	require.Equal(t, "first", got[0].Token)
	require.Equal(t, 100.0, got[0].Prob)
	require.Equal(t, 0.0, got[1].Prob)
}

func TestBuild_TemperatureScaling(t *testing.T) {
	raw := []Logprob{{Token: "A", Logprob: -0.22314}, {Token: "B", Logprob: -1.60944}}

	at := func(temp float64) float64 {
		p := defaultParams()
		p.Temperature = temp
		got := Build("test", raw, p)
		require.Equal(t, "A", got[0].Token)
		return got[0].Prob
	}

	base := at(1.0)
	require.InDelta(t, 80.0, base, 1.0)

	sharp := at(0.5)
	require.Greater(t, sharp, base)
	require.InDelta(t, 94.1, sharp, 0.1)

	flat := at(2.0)
	require.Less(t, flat, base)
	require.InDelta(t, 66.7, flat, 0.1)
}

func TestBuild_RepetitionPenalty(t *testing.T) {
	raw := []Logprob{{Token: "apple", Logprob: -0.1}, {Token: "banana", Logprob: -2.0}}
	ctx := "I like apple"

	p := defaultParams()
	noPenalty := findToken(t, Build(ctx, raw, p), "apple").Prob

	p.RepeatPenalty = 2.0
	penalized := findToken(t, Build(ctx, raw, p), "apple").Prob

	require.Less(t, penalized, noPenalty)
}

func TestBuild_RepetitionPenaltyMatching(t *testing.T) {
	p := defaultParams()
	p.RepeatPenalty = 3.0

	tests := []struct {
		name      string
		token     string
		penalized bool
	}{
		{"leading space stripped", " apple", true},
		{"substring of a word", "ppl", true},
		{"absent", " pear", false},
		{"whitespace only", "  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []Logprob{{Token: tt.token, Logprob: -1.0}, {Token: "zzz", Logprob: -1.0}}
			got := Build("I like apple", raw, p)
			cand := findToken(t, got, tt.token)
			if tt.penalized {
				require.Less(t, cand.Prob, 50.0)
			} else {
				require.InDelta(t, 50.0, cand.Prob, 1e-9)
			}
			// Raw logprob is reported unadjusted
			require.Equal(t, -1.0, cand.Logprob)
		})
	}
}

func TestBuild_RepetitionPenaltyBelowOneWeakens(t *testing.T) {
	raw := []Logprob{{Token: "apple", Logprob: -2.0}, {Token: "banana", Logprob: -2.0}}
	p := defaultParams()
	p.RepeatPenalty = 0.5

	got := Build("apple pie", raw, p)
	require.Equal(t, "apple", got[0].Token)
	require.Greater(t, got[0].Prob, 50.0)
}

func TestBuild_TopPBoundary(t *testing.T) {
	raw := []Logprob{{Token: "A", Logprob: -0.2}, {Token: "B", Logprob: -1.0}, {Token: "C", Logprob: -2.0}}
	p := defaultParams()
	p.TopP = 0.5

	got := Build("test", raw, p)
	require.Equal(t, "A", got[0].Token)
	require.False(t, got[0].Excluded)
	require.True(t, got[1].Excluded)
	require.True(t, got[2].Excluded)
	require.InDelta(t, 100.0, got[2].CumulativeProb, 1e-9)
}

func TestBuild_TopPZeroKeepsOnlyTop(t *testing.T) {
	raw := []Logprob{{Token: "A", Logprob: -1.0}, {Token: "B", Logprob: -1.1}, {Token: "C", Logprob: -1.2}}
	p := defaultParams()
	p.TopP = 0

	got := Build("", raw, p)
	require.False(t, got[0].Excluded)
	require.True(t, got[1].Excluded)
	require.True(t, got[2].Excluded)
}

func TestBuild_TopPOneExcludesNothing(t *testing.T) {
	raw := []Logprob{{Token: "A", Logprob: -0.1}, {Token: "B", Logprob: -2.0}, {Token: "C", Logprob: -3.0}}
	p := defaultParams()
	p.TopP = 1.0
	p.Temperature = 0 // 100/0/0: tail would otherwise sit exactly on the cutoff

	for _, c := range Build("", raw, p) {
		require.False(t, c.Excluded, "token %q excluded", c.Token)
	}
}

func TestBuild_CrossingCandidateIncluded(t *testing.T) {
	// 50/30/20 split: B carries the running total past 79 and stays included.
	raw := []Logprob{
		{Token: "A", Logprob: math.Log(0.5)},
		{Token: "B", Logprob: math.Log(0.3)},
		{Token: "C", Logprob: math.Log(0.2)},
	}
	p := defaultParams()
	p.TopP = 0.79

	got := Build("", raw, p)
	require.False(t, got[0].Excluded)
	require.False(t, got[1].Excluded)
	require.True(t, got[2].Excluded)
}

func TestBuild_DegenerateDistribution(t *testing.T) {
	raw := []Logprob{{Token: "A", Logprob: -800}, {Token: "B", Logprob: -900}}
	p := defaultParams()
	p.TopP = 0.5

	got := Build("", raw, p)
	require.Len(t, got, 2)
	for _, c := range got {
		require.Equal(t, 0.0, c.Prob)
		require.Equal(t, 0.0, c.CumulativeProb)
		require.False(t, c.Excluded)
	}
}

func TestBuild_Invariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.IntN(12)
		raw := make([]Logprob, n)
		for i := range raw {
			raw[i] = Logprob{Token: string(rune('a' + i)), Logprob: -rng.Float64() * 8}
		}
		p := Params{
			Temperature:   rng.Float64() * 3,
			TopP:          rng.Float64(),
			RepeatPenalty: 0.5 + rng.Float64()*2,
		}

		got := Build("abc", raw, p)
		require.Len(t, got, n)

		sum := 0.0
		firstExcluded := -1
		for i, c := range got {
			sum += c.Prob
			if i > 0 {
				require.LessOrEqual(t, c.Prob, got[i-1].Prob, "not sorted")
				require.GreaterOrEqual(t, c.CumulativeProb, got[i-1].CumulativeProb, "cumulative decreased")
			}
			if c.Excluded && firstExcluded < 0 {
				firstExcluded = i
			}
			if firstExcluded >= 0 {
				require.True(t, c.Excluded, "excluded candidates must form a suffix")
			}
		}
		require.LessOrEqual(t, sum, 100.0+1e-9)

		// The excluded suffix starts at the first index whose pre-addition total reaches the cutoff.
		want := -1
		pre := 0.0
		for i, c := range got {
			if i > 0 && pre >= p.TopP*100 {
				want = i
				break
			}
			pre += c.Prob
		}
		require.Equal(t, want, firstExcluded)
	}
}

type fakeGenerator struct {
	calls int
	fn    func(text string) ([]Logprob, error)
}

func (f *fakeGenerator) TopCandidates(_ context.Context, text string, _ int, _ float64) ([]Logprob, error) {
	f.calls++
	return f.fn(text)
}

func TestNext_PropagatesBackendError(t *testing.T) {
	boom := errors.New("backend down")
	gen := &fakeGenerator{fn: func(string) ([]Logprob, error) { return nil, boom }}

	_, err := Next(context.Background(), gen, "hello", defaultParams())
	require.ErrorIs(t, err, boom)
}

func TestValid(t *testing.T) {
	cands := []Candidate{{Token: "a"}, {Token: "b"}, {Token: "c", Excluded: true}}
	valid := Valid(cands)
	require.Len(t, valid, 2)
	require.Equal(t, "b", valid[1].Token)
}
