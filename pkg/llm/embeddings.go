package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// EmbeddingClient turns texts into vectors, one per input, in input order.
type EmbeddingClient interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

const (
	defaultOpenAIEmbeddingURL = "https://api.openai.com/v1"
	defaultOllamaEmbeddingURL = "http://localhost:11434"
	maxEmbeddingResponseBytes = 32 << 20
)

type EmbeddingProvider struct {
	client   *http.Client
	apiKey   string
	endpoint string
	model    string
	ollama   bool
}

func NewEmbeddingClient(cfg Config) (EmbeddingClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	p := &EmbeddingProvider{
		client: &http.Client{Timeout: 60 * time.Second},
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
	base := strings.TrimRight(cfg.APIURL, "/")
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "ollama":
		if base == "" {
			base = defaultOllamaEmbeddingURL
		}
		// the native batch endpoint lives beside the OpenAI-compatible /v1 base
		p.endpoint = strings.TrimSuffix(base, "/v1") + "/api/embed"
		p.ollama = true
	case "openai", "openrouter", "":
		if base == "" {
			base = defaultOpenAIEmbeddingURL
		}
		p.endpoint = base + "/embeddings"
	default:
		return nil, fmt.Errorf("embedding provider %q is not supported", cfg.Provider)
	}
	return p, nil
}

// embedRequest is accepted by both the OpenAI /embeddings and the Ollama
// /api/embed endpoints.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type ollamaEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *EmbeddingProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, errors.New("inputs are required")
	}
	payload, err := json.Marshal(embedRequest{Model: p.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	body, err := p.post(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", p.model, err)
	}

	var vectors [][]float32
	if p.ollama {
		var resp ollamaEmbeddingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("embed %s: decode response: %w", p.model, err)
		}
		vectors = resp.Embeddings
	} else {
		var resp openAIEmbeddingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("embed %s: decode response: %w", p.model, err)
		}
		sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
		vectors = make([][]float32, 0, len(resp.Data))
		for _, entry := range resp.Data {
			vectors = append(vectors, entry.Embedding)
		}
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("embed %s: expected %d vectors, got %d", p.model, len(inputs), len(vectors))
	}
	return vectors, nil
}

// ProbeEmbeddingDimensions makes a single embedding call and returns the
// vector length.
func ProbeEmbeddingDimensions(ctx context.Context, client EmbeddingClient) (int, error) {
	vecs, err := client.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimensions: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, errors.New("probe returned empty embedding")
	}
	return len(vecs[0]), nil
}

func (p *EmbeddingProvider) post(ctx context.Context, payload []byte) ([]byte, error) {
	resp, err := doWithRetry(ctx, p.client, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" && !p.ollama {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbeddingResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
