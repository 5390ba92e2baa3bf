package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient calls a local Ollama server.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient constructs a client; an empty baseURL means localhost.
func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// OllamaChat completes through /api/chat.
type OllamaChat struct {
	client *OllamaClient
	model  string
}

// NewOllamaChat builds an Ollama chat provider.
func NewOllamaChat(client *OllamaClient, model string) *OllamaChat {
	return &OllamaChat{client: client, model: strings.TrimSpace(model)}
}

func (g *OllamaChat) Name() string { return "ollama:" + g.model }

// Complete implements ChatModel.
func (g *OllamaChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if g.model == "" {
		return "", errors.New("ollama chat model required")
	}
	messages := make([]ollamaChatMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ollamaChatMessage{Role: RoleUser, Content: req.Prompt})

	var resp ollamaChatResponse
	if _, err := g.client.doJSON(ctx, "/api/chat", ollamaChatRequest{Model: g.model, Messages: messages}, &resp); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// OllamaEmbedder embeds with a fixed Ollama model.
type OllamaEmbedder struct {
	client     *OllamaClient
	model      string
	dimensions int
}

// NewOllamaEmbedder builds an Ollama embedder.
func NewOllamaEmbedder(client *OllamaClient, model string, dimensions int) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: strings.TrimSpace(model), dimensions: dimensions}
}

// Embed implements Embedder. Servers without /api/embed fall back to the
// one-text-per-call /api/embeddings endpoint.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string, _ EmbedTask) ([][]float32, error) {
	if e.model == "" {
		return nil, errors.New("ollama embedding model required")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody := ollamaEmbedRequest{Model: e.model, Input: texts, Dimensions: e.dimensions}
	var resp ollamaEmbedResponse
	status, err := e.client.doJSON(ctx, "/api/embed", reqBody, &resp)
	if err != nil {
		if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
			return e.embedLegacy(ctx, texts)
		}
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (e *OllamaEmbedder) embedLegacy(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp ollamaLegacyEmbedResponse
		if _, err := e.client.doJSON(ctx, "/api/embeddings", ollamaLegacyEmbedRequest{Model: e.model, Prompt: text}, &resp); err != nil {
			return nil, fmt.Errorf("ollama embeddings: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, errors.New("ollama embeddings: response missing embedding")
		}
		out = append(out, resp.Embedding)
	}
	return out, nil
}

func (c *OllamaClient) doJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return resp.StatusCode, fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return resp.StatusCode, fmt.Errorf("ollama api error: %s", resp.Status)
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

type ollamaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaLegacyEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaLegacyEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
