package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/sampling"
)

// NextTokensInput contains parameters for the NextTokens operation.
type NextTokensInput struct {
	Text string `json:"text"`
	SamplingInput
}

// NextTokensOutput contains the annotated next-token distribution.
type NextTokensOutput struct {
	Candidates []sampling.Candidate `json:"candidates"`
	Params     sampling.Params      `json:"params"`
}

// NextTokens returns the processed distribution for the token following text.
func NextTokens(ctx context.Context, gen sampling.Generator, cfg *config.Config, input NextTokensInput) (*NextTokensOutput, error) {
	if err := requireText(input.Text); err != nil {
		return nil, err
	}
	params, err := ResolveParams(cfg, input.SamplingInput)
	if err != nil {
		return nil, err
	}

	candidates, err := sampling.Next(ctx, gen, input.Text, params)
	if err != nil {
		return nil, backendError(err)
	}

	return &NextTokensOutput{
		Candidates: candidates,
		Params:     params,
	}, nil
}

// ExploreInput contains parameters for the Explore operation.
type ExploreInput struct {
	Text     string `json:"text"`
	NumPaths int    `json:"num_paths,omitempty"` // default: DefaultNumPaths
	Depth    int    `json:"depth,omitempty"`     // default: DefaultDepth
	Seed     *int64 `json:"seed,omitempty"`      // fixes start draws for this request
	SamplingInput
}

// ExploreOutput contains the explored paths, best first.
type ExploreOutput struct {
	Paths    []sampling.Path `json:"paths"`
	NumPaths int             `json:"num_paths"`
	Depth    int             `json:"depth"`
	Params   sampling.Params `json:"params"`
}

// Explore grows divergent continuations of text. A request seed builds a
// one-off explorer over gen; otherwise the shared explorer is used.
func Explore(ctx context.Context, gen sampling.Generator, explorer *sampling.Explorer, cfg *config.Config, input ExploreInput) (*ExploreOutput, error) {
	if err := requireText(input.Text); err != nil {
		return nil, err
	}

	numPaths := input.NumPaths
	if numPaths == 0 {
		numPaths = DefaultNumPaths
	}
	depth := input.Depth
	if depth == 0 {
		depth = DefaultDepth
	}
	if numPaths < 1 || numPaths > cfg.Explore.MaxPaths {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("num_paths must be between 1 and %d", cfg.Explore.MaxPaths))
	}
	if depth < 1 || depth > cfg.Explore.MaxDepth {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("depth must be between 1 and %d", cfg.Explore.MaxDepth))
	}

	params, err := ResolveParams(cfg, input.SamplingInput)
	if err != nil {
		return nil, err
	}

	if input.Seed != nil || explorer == nil {
		seed := cfg.Explore.Seed
		if input.Seed != nil {
			seed = *input.Seed
		}
		explorer = sampling.NewExplorer(gen, seed)
	}

	paths, err := explorer.Explore(ctx, input.Text, numPaths, depth, params)
	if err != nil {
		return nil, backendError(err)
	}

	return &ExploreOutput{
		Paths:    paths,
		NumPaths: numPaths,
		Depth:    depth,
		Params:   params,
	}, nil
}
