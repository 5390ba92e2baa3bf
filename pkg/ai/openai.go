package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIChatModel  = openai.GPT4oMini
	defaultOpenAIEmbedModel = "text-embedding-3-small"
)

// NewOpenAIClient builds a go-openai client. baseURL is optional.
func NewOpenAIClient(apiKey, baseURL string) (*openai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg), nil
}

// OpenAIChat completes with the OpenAI chat completions API.
type OpenAIChat struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIChat builds an OpenAI chat provider.
func NewOpenAIChat(client *openai.Client, model string) *OpenAIChat {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenAIChatModel
	}
	return &OpenAIChat{client: client, model: model, maxTokens: 500}
}

func (c *OpenAIChat) Name() string { return "openai:" + c.model }

// Complete implements ChatModel.
func (c *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// OpenAIEmbedder embeds with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder builds an embedder; dimensions 0 keeps the model default.
func NewOpenAIEmbedder(client *openai.Client, model string, dimensions int) *OpenAIEmbedder {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenAIEmbedModel
	}
	return &OpenAIEmbedder{client: client, model: model, dimensions: dimensions}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, _ EmbedTask) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// OpenAISpeaker synthesizes MP3 voice replies.
type OpenAISpeaker struct {
	client *openai.Client
	voice  openai.SpeechVoice
}

// NewOpenAISpeaker builds a TTS speaker.
func NewOpenAISpeaker(client *openai.Client) *OpenAISpeaker {
	return &OpenAISpeaker{client: client, voice: openai.VoiceAlloy}
}

// Speak implements Speaker.
func (s *OpenAISpeaker) Speak(ctx context.Context, text string) ([]byte, string, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          1.0,
	})
	if err != nil {
		return nil, "", fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, "", fmt.Errorf("read speech: %w", err)
	}
	return audio, "audio/mpeg", nil
}
