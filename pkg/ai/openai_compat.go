package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultOpenRouterBaseURL is the OpenRouter OpenAI-compatible API root.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAICompatChat calls any OpenAI-compatible /chat/completions endpoint,
// such as OpenRouter, vLLM or LiteLLM.
type OpenAICompatChat struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatChat builds the provider. baseURL includes the version
// prefix, e.g. "https://openrouter.ai/api/v1".
func NewOpenAICompatChat(name, baseURL, apiKey, model string) *OpenAICompatChat {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "openai-compat"
	}
	return &OpenAICompatChat{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *OpenAICompatChat) Name() string { return g.name + ":" + g.model }

// Complete implements ChatModel.
func (g *OpenAICompatChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("%s model required", g.name)
	}
	messages := make([]oaiMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, oaiMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, oaiMessage{Role: RoleUser, Content: req.Prompt})

	body, err := json.Marshal(oaiChatRequest{Model: g.model, Messages: messages})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", g.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("%s api error: %s", g.name, errResp.Error.Message)
		}
		return "", fmt.Errorf("%s api error: %s", g.name, resp.Status)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%s decode: %w", g.name, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
