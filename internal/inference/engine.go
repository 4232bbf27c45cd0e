// Package inference owns the loaded language model and answers single-step
// top-K log-probability queries for the sampling package.
package inference

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/hpungsan/sift/internal/sampling"
)

var (
	// ErrNoModel is returned while no model is loaded, including after a failed load.
	ErrNoModel = errors.New("inference: no model loaded")

	// ErrSwapUnsupported is returned by LoadModel when no Loader is configured.
	ErrSwapUnsupported = errors.New("inference: model switching requires backend.command")
)

// Completion is the outcome of one single-token completion request.
type Completion struct {
	// Text is the token the backend actually generated, if any.
	Text string
	// Candidates are the top alternatives for that position in backend order.
	Candidates []sampling.Logprob
}

// Backend runs a one-token completion and reports up to n alternatives.
// Transport failures are errors; an empty or unreadable payload is not.
type Backend interface {
	Complete(ctx context.Context, prompt string, n int, temperature float64) (Completion, error)
}

// Loader replaces the model served by a Backend.
type Loader interface {
	Load(ctx context.Context, path string) error
	Close() error
}

// Engine serializes every backend call and model swap under one mutex.
// It implements sampling.Generator.
type Engine struct {
	backend Backend
	loader  Loader

	mu    sync.Mutex
	model string
	ready bool
}

var _ sampling.Generator = (*Engine)(nil)

// NewEngine creates an Engine. Without a Loader the backend is assumed to be
// serving model already and the engine starts ready.
func NewEngine(backend Backend, loader Loader, model string) *Engine {
	return &Engine{
		backend: backend,
		loader:  loader,
		model:   model,
		ready:   loader == nil,
	}
}

// Model returns the path of the loaded model, or "" when none is loaded.
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return ""
	}
	return e.model
}

// CanSwap reports whether LoadModel is supported.
func (e *Engine) CanSwap() bool {
	return e.loader != nil
}

// LoadModel swaps the served model. In-flight queries finish first. On
// failure the engine stays unusable until the next successful load.
func (e *Engine) LoadModel(ctx context.Context, path string) error {
	if e.loader == nil {
		return ErrSwapUnsupported
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ready = false
	e.model = ""
	if err := e.loader.Load(ctx, path); err != nil {
		log.Printf("inference: load %s failed: %v", path, err)
		return err
	}
	e.model = path
	e.ready = true
	log.Printf("inference: loaded %s", path)
	return nil
}

// TopCandidates returns at least one candidate for the token after text.
// An empty answer is retried with half the K until K reaches 1; if the
// backend still offers nothing, the generated text (possibly empty) is
// returned as a single candidate with logprob 0. Backend errors are
// returned unchanged.
func (e *Engine) TopCandidates(ctx context.Context, text string, topK int, temperature float64) ([]sampling.Logprob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return nil, ErrNoModel
	}
	if topK < 1 {
		topK = 1
	}

	var generated string
	for k := topK; k >= 1; k /= 2 {
		comp, err := e.backend.Complete(ctx, text, k, temperature)
		if err != nil {
			return nil, err
		}
		if len(comp.Candidates) > 0 {
			return comp.Candidates, nil
		}
		if comp.Text != "" {
			generated = comp.Text
		}
	}
	return []sampling.Logprob{{Token: generated, Logprob: 0}}, nil
}

// Close releases the loader, stopping any backend process it started.
func (e *Engine) Close() error {
	if e.loader == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	return e.loader.Close()
}
