package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/recallbox/recallbox/internal/store"
)

// DefaultCallTimeout bounds a single inference call.
const DefaultCallTimeout = 120 * time.Second

// Ollama calls a local Ollama-compatible endpoint to generate display
// metadata. A circuit breaker shields the store path from a flapping
// endpoint; while open, calls fail fast with ErrExternal.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewOllama creates the adapter. endpoint is the base URL (e.g.
// http://localhost:11434); model is the model identifier.
func NewOllama(endpoint, model string) *Ollama {
	return &Ollama{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: DefaultCallTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "enhancement-endpoint",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (o *Ollama) Name() string { return "ollama:" + o.model }

// Available probes the endpoint's tag listing. Used by check_ai_status and
// the HTTP status endpoint.
func (o *Ollama) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

const promptTemplate = `Produce a title (max 60 characters) and a summary (max 150 characters) for the note below.
Respond with exactly two lines:
Title: <title>
Summary: <summary>

Note:
%s`

// Enhance generates a title/summary pair via the inference endpoint. A
// timeout surfaces as a Timeout-kinded error; everything else endpoint-side
// is External.
func (o *Ollama) Enhance(ctx context.Context, m *store.Memory) (Enhancement, error) {
	callCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	content := m.Content
	// Inference input cap; the title/summary only need the head anyway.
	if len(content) > 4000 {
		content = content[:4000]
	}

	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: fmt.Sprintf(promptTemplate, content),
		Stream: false,
	})
	if err != nil {
		return Enhancement{}, fmt.Errorf("%w: %v", store.ErrInternal, err)
	}

	raw, err := o.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := o.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("endpoint returned %s", resp.Status)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	})
	if err != nil {
		if callCtx.Err() != nil {
			return Enhancement{}, fmt.Errorf("%w: enhancement call exceeded %s", store.ErrTimeout, DefaultCallTimeout)
		}
		return Enhancement{}, fmt.Errorf("%w: %v", store.ErrExternal, err)
	}

	var gen generateResponse
	if err := json.Unmarshal(raw.([]byte), &gen); err != nil {
		return Enhancement{}, fmt.Errorf("%w: malformed endpoint response: %v", store.ErrExternal, err)
	}
	return parseGenerated(gen.Response)
}

// parseGenerated reads the two expected lines, clamping to the limits.
func parseGenerated(text string) (Enhancement, error) {
	var e Enhancement
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Title:"); ok && e.Title == "" {
			e.Title = clampToWord(strings.TrimSpace(v), MaxTitleLen)
		}
		if v, ok := strings.CutPrefix(line, "Summary:"); ok && e.Summary == "" {
			e.Summary = clampToWord(strings.TrimSpace(v), MaxSummaryLen)
		}
	}
	if e.Title == "" || e.Summary == "" {
		return Enhancement{}, fmt.Errorf("%w: endpoint response missing Title/Summary lines", store.ErrExternal)
	}
	return e, nil
}
