package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/sift/internal/sampling"
)

// completionRequest is the body sent to the llama.cpp server's
// OpenAI-compatible /v1/completions endpoint.
type completionRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	Logprobs    int     `json:"logprobs"`
	NProbs      int     `json:"n_probs"`
	Echo        bool    `json:"echo"`
	Stream      bool    `json:"stream"`
	CachePrompt bool    `json:"cache_prompt"`
}

type completionResponse struct {
	Choices []struct {
		Text     string          `json:"text"`
		Logprobs json.RawMessage `json:"logprobs"`
	} `json:"choices"`
}

// LlamaServer talks to a running llama.cpp server over HTTP.
type LlamaServer struct {
	BaseURL    string
	httpClient *http.Client
}

var _ Backend = (*LlamaServer)(nil)

// NewLlamaServer constructs a client with the given per-request timeout.
func NewLlamaServer(baseURL string, timeout time.Duration) *LlamaServer {
	return &LlamaServer{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete generates one token and asks for n alternatives at that position.
func (s *LlamaServer) Complete(ctx context.Context, prompt string, n int, temperature float64) (Completion, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		MaxTokens:   1,
		Temperature: temperature,
		TopK:        n,
		Logprobs:    n,
		NProbs:      n,
		CachePrompt: true,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("server returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		log.Printf("inference: unreadable completion payload: %v", err)
		return Completion{}, nil
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, nil
	}
	choice := parsed.Choices[0]
	return Completion{
		Text:       choice.Text,
		Candidates: parseLogprobs(choice.Logprobs),
	}, nil
}

// Health returns nil once the server answers /health with 200.
func (s *LlamaServer) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

// parseLogprobs reads the first position's alternatives. Two layouts are
// understood: the legacy completions form where top_logprobs[0] is a
// token->logprob object, and the chat-style content[0].top_logprobs array.
// Backend order is preserved in both.
func parseLogprobs(raw json.RawMessage) []sampling.Logprob {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var lp struct {
		TopLogprobs []json.RawMessage `json:"top_logprobs"`
		Content     []struct {
			TopLogprobs []sampling.Logprob `json:"top_logprobs"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &lp); err != nil {
		return nil
	}
	if len(lp.Content) > 0 && len(lp.Content[0].TopLogprobs) > 0 {
		return lp.Content[0].TopLogprobs
	}
	if len(lp.TopLogprobs) > 0 {
		return decodeOrdered(lp.TopLogprobs[0])
	}
	return nil
}

// decodeOrdered walks a JSON object of token -> logprob keeping key order.
func decodeOrdered(data json.RawMessage) []sampling.Logprob {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}

	var out []sampling.Logprob
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}
		var value float64
		if err := dec.Decode(&value); err != nil {
			return nil
		}
		out = append(out, sampling.Logprob{Token: key, Logprob: value})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
