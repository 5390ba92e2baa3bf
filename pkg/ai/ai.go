package ai

import (
	"context"
	"errors"
)

// Chat roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response from provider")

// Message is one prior turn of the conversation.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is one completion call.
type ChatRequest struct {
	// System carries the persona and reply-language instruction.
	System string
	// History holds prior turns, oldest first.
	History []Message
	// Prompt is the final user turn, with any retrieved context folded in.
	Prompt string
	// Query is the farmer's raw message and Language its target language
	// code; providers that do not reason over the prompt use them directly.
	Query    string
	Language string
}

// ChatModel is a language-model provider.
type ChatModel interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// EmbedTask tells providers that distinguish them whether texts are stored
// passages or search queries.
type EmbedTask string

const (
	TaskDocument EmbedTask = "RETRIEVAL_DOCUMENT"
	TaskQuery    EmbedTask = "RETRIEVAL_QUERY"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string, task EmbedTask) ([][]float32, error)
}

// Speaker synthesizes speech for voice replies.
type Speaker interface {
	Speak(ctx context.Context, text string) (audio []byte, contentType string, err error)
}
