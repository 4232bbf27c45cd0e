package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"strings"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/download"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/hub"
	"github.com/hpungsan/sift/internal/inference"
	"github.com/hpungsan/sift/internal/sampling"
)

// Explore defaults when a request omits them.
const (
	DefaultNumPaths = 3
	DefaultDepth    = 5
)

// Engine is the inference surface the operations need.
type Engine interface {
	sampling.Generator
	Model() string
	CanSwap() bool
	LoadModel(ctx context.Context, path string) error
}

// Hub is the remote repository surface the operations need.
type Hub interface {
	ListGGUFFiles(ctx context.Context, repo string) ([]hub.RemoteFile, error)
	FetchReadme(ctx context.Context, repo string) (string, error)
}

// Deps bundles the long-lived collaborators the transports call operations with.
type Deps struct {
	DB        *sql.DB
	Config    *config.Config
	Engine    Engine
	Explorer  *sampling.Explorer // shared; nil builds one per request
	Hub       Hub
	Downloads *download.Manager
}

// SamplingInput holds the optional sampling controls shared by NextTokens and
// Explore. Omitted fields take the configured defaults.
type SamplingInput struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	Temp          *float64 `json:"temp,omitempty"` // older clients
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

// ResolveParams fills omitted fields from cfg and validates the result:
// temperature >= 0, top_k >= 1, top_p in [0,1], repeat_penalty > 0.
func ResolveParams(cfg *config.Config, in SamplingInput) (sampling.Params, error) {
	p := sampling.Params{
		Temperature:   cfg.Sampling.Temperature,
		TopK:          cfg.Sampling.TopK,
		TopP:          cfg.Sampling.TopP,
		RepeatPenalty: cfg.Sampling.RepeatPenalty,
	}
	switch {
	case in.Temperature != nil:
		p.Temperature = *in.Temperature
	case in.Temp != nil:
		p.Temperature = *in.Temp
	}
	if in.TopK != nil {
		p.TopK = *in.TopK
	}
	if in.TopP != nil {
		p.TopP = *in.TopP
	}
	if in.RepeatPenalty != nil {
		p.RepeatPenalty = *in.RepeatPenalty
	}

	if p.Temperature < 0 || math.IsNaN(p.Temperature) {
		return p, errors.NewInvalidRequest("temperature must be >= 0")
	}
	if p.TopK < 1 {
		return p, errors.NewInvalidRequest("top_k must be >= 1")
	}
	if p.TopP < 0 || p.TopP > 1 || math.IsNaN(p.TopP) {
		return p, errors.NewInvalidRequest("top_p must be between 0 and 1")
	}
	if p.RepeatPenalty <= 0 || math.IsNaN(p.RepeatPenalty) {
		return p, errors.NewInvalidRequest("repeat_penalty must be > 0")
	}
	return p, nil
}

// requireText rejects empty or whitespace-only context text.
func requireText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.NewInvalidRequest("text is required")
	}
	return nil
}

// backendError converts an inference failure into a SiftError. Errors that
// already carry a code are passed through.
func backendError(err error) error {
	var sErr *errors.SiftError
	if stderrors.As(err, &sErr) {
		return err
	}
	if stderrors.Is(err, inference.ErrNoModel) {
		return errors.NewBackendUnavailable(fmt.Errorf("no model loaded; switch to a model first"))
	}
	return errors.NewBackendUnavailable(err)
}
