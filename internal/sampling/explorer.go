package sampling

import (
	"context"
	crand "crypto/rand"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Step is one sampled token in a path. Prob is the percentage (0-100) the
// token had in the distribution it was drawn from.
type Step struct {
	Token string  `json:"token"`
	Prob  float64 `json:"prob"`
}

// Path is one explored continuation. CumulativeProb is the product of the
// step probabilities on a 0-1 scale.
type Path struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	Steps          []Step  `json:"tokens"`
	CumulativeProb float64 `json:"cumulative_prob"`
}

// Explorer grows several continuations from a shared context. The first path
// always starts from the top candidate; the others start from candidates drawn
// with weight 1/(rank+1), after which every path continues greedily.
//
// Start draws are independent, so the same start can be drawn more than once
// and the result then holds duplicate paths.
type Explorer struct {
	gen Generator

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewExplorer creates an Explorer. A zero seed seeds from the clock.
func NewExplorer(gen Generator, seed int64) *Explorer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Explorer{
		gen: gen,
		rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)),
	}
}

// Explore returns up to numPaths continuations of text, each at most depth
// tokens long, sorted by cumulative probability (ties keep generation order).
// Every step is one call into the Generator; errors are returned unchanged.
func (e *Explorer) Explore(ctx context.Context, text string, numPaths, depth int, p Params) ([]Path, error) {
	first, err := Next(ctx, e.gen, text, p)
	if err != nil {
		return nil, err
	}
	pool := Valid(first)
	if len(pool) == 0 {
		return []Path{}, nil
	}

	starts := e.pickStarts(len(pool), numPaths)
	paths := make([]Path, 0, len(starts))
	for _, idx := range starts {
		path, err := e.grow(ctx, text, pool[idx], depth, p)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].CumulativeProb > paths[j].CumulativeProb
	})
	return paths, nil
}

// pickStarts chooses numPaths indices into a pool of size n. Index 0 is always
// first; each remaining slot is an independent draw over indices 1..n-1 where
// index k has weight 1/k.
func (e *Explorer) pickStarts(n, numPaths int) []int {
	starts := []int{0}
	if n == 1 || numPaths <= 1 {
		return starts
	}

	weights := make([]float64, n-1)
	total := 0.0
	for i := range weights {
		weights[i] = 1 / float64(i+1)
		total += weights[i]
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for len(starts) < numPaths {
		u := e.rng.Float64() * total
		pick := len(weights) - 1
		for i, w := range weights {
			if u < w {
				pick = i
				break
			}
			u -= w
		}
		starts = append(starts, pick+1)
	}
	return starts
}

// grow extends a path from its starting candidate with greedy steps.
func (e *Explorer) grow(ctx context.Context, text string, start Candidate, depth int, p Params) (Path, error) {
	path := Path{
		ID:             newPathID(),
		Text:           text + start.Token,
		Steps:          []Step{{Token: start.Token, Prob: start.Prob}},
		CumulativeProb: start.Prob / 100,
	}

	for i := 1; i < depth; i++ {
		if err := ctx.Err(); err != nil {
			return Path{}, err
		}
		dist, err := Next(ctx, e.gen, path.Text, p)
		if err != nil {
			return Path{}, err
		}
		valid := Valid(dist)
		if len(valid) == 0 {
			break
		}
		top := valid[0]
		path.Text += top.Token
		path.Steps = append(path.Steps, Step{Token: top.Token, Prob: top.Prob})
		path.CumulativeProb *= top.Prob / 100
	}
	return path, nil
}

// newPathID generates a new ULID for a path.
func newPathID() string {
	entropy := ulid.Monotonic(crand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
