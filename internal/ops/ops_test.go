package ops

import (
	"context"
	stderrors "errors"
	"math"
	"testing"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/inference"
	"github.com/hpungsan/sift/internal/sampling"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

// fakeEngine serves a fixed candidate table for every step.
type fakeEngine struct {
	table   []sampling.Logprob
	err     error
	calls   int
	model   string
	canSwap bool
	loadErr error
	loaded  []string
}

func (f *fakeEngine) TopCandidates(_ context.Context, _ string, topK int, _ float64) ([]sampling.Logprob, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.table) {
		return f.table[:topK], nil
	}
	return f.table, nil
}

func (f *fakeEngine) Model() string { return f.model }
func (f *fakeEngine) CanSwap() bool { return f.canSwap }

func (f *fakeEngine) LoadModel(_ context.Context, path string) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = append(f.loaded, path)
	f.model = path
	return nil
}

func threeWay() []sampling.Logprob {
	return []sampling.Logprob{
		{Token: " cat", Logprob: math.Log(0.5)},
		{Token: " dog", Logprob: math.Log(0.3)},
		{Token: " fish", Logprob: math.Log(0.2)},
	}
}

func TestResolveParams_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()

	p, err := ResolveParams(cfg, SamplingInput{})
	if err != nil {
		t.Fatalf("ResolveParams failed: %v", err)
	}
	if p.Temperature != 0.8 || p.TopK != 40 || p.TopP != 0.95 || p.RepeatPenalty != 1.0 {
		t.Errorf("params = %+v, want config defaults", p)
	}
}

func TestResolveParams_Overrides(t *testing.T) {
	cfg := config.DefaultConfig()

	p, err := ResolveParams(cfg, SamplingInput{
		Temperature:   floatPtr(0),
		TopK:          intPtr(5),
		TopP:          floatPtr(1),
		RepeatPenalty: floatPtr(1.3),
	})
	if err != nil {
		t.Fatalf("ResolveParams failed: %v", err)
	}
	if p.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0 (explicit zero must not fall back)", p.Temperature)
	}
	if p.TopK != 5 || p.TopP != 1 || p.RepeatPenalty != 1.3 {
		t.Errorf("params = %+v", p)
	}
}

func TestResolveParams_TempAlias(t *testing.T) {
	cfg := config.DefaultConfig()

	p, err := ResolveParams(cfg, SamplingInput{Temp: floatPtr(0.4)})
	if err != nil {
		t.Fatalf("ResolveParams failed: %v", err)
	}
	if p.Temperature != 0.4 {
		t.Errorf("Temperature = %v, want 0.4", p.Temperature)
	}

	// temperature wins when both are sent
	p, _ = ResolveParams(cfg, SamplingInput{Temperature: floatPtr(1.5), Temp: floatPtr(0.4)})
	if p.Temperature != 1.5 {
		t.Errorf("Temperature = %v, want 1.5", p.Temperature)
	}
}

func TestResolveParams_Invalid(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		name  string
		input SamplingInput
	}{
		{"negative temperature", SamplingInput{Temperature: floatPtr(-0.1)}},
		{"nan temperature", SamplingInput{Temperature: floatPtr(math.NaN())}},
		{"zero top_k", SamplingInput{TopK: intPtr(0)}},
		{"top_p above one", SamplingInput{TopP: floatPtr(1.01)}},
		{"negative top_p", SamplingInput{TopP: floatPtr(-0.5)}},
		{"zero penalty", SamplingInput{RepeatPenalty: floatPtr(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveParams(cfg, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("err = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestBackendError(t *testing.T) {
	if err := backendError(inference.ErrNoModel); !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Errorf("ErrNoModel -> %v, want BACKEND_UNAVAILABLE", err)
	}

	wrapped := backendError(stderrors.New("connection refused"))
	if !errors.Is(wrapped, errors.ErrBackendUnavailable) {
		t.Errorf("plain error -> %v, want BACKEND_UNAVAILABLE", wrapped)
	}

	coded := errors.NewInvalidRequest("bad")
	if got := backendError(coded); got != error(coded) {
		t.Errorf("coded error was rewrapped: %v", got)
	}
}
