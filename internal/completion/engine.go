// Package completion assembles prompts and calls the language-model
// providers with retry and fallback.
package completion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/ai"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

// ErrCompletionFailed is returned when every configured provider failed.
var ErrCompletionFailed = errors.New("completion failed")

type Config struct {
	// HistoryTurns is how many previous exchanges are replayed.
	HistoryTurns int
	// Timeout bounds each provider attempt.
	Timeout    time.Duration
	RetryDelay time.Duration
	// Providers are the models a user may select by ID.
	Providers map[string]ai.ChatModel
	// DefaultProvider is the ID under which primary is offered.
	DefaultProvider string
}

// Engine calls the primary provider, retries it once, then tries the
// secondary provider when one is configured.
type Engine struct {
	primary      ai.ChatModel
	secondary    ai.ChatModel
	historyTurns int
	timeout      time.Duration
	retryDelay   time.Duration
	providers    map[string]ai.ChatModel
	defaultID    string
}

func New(primary, secondary ai.ChatModel, cfg Config) (*Engine, error) {
	if primary == nil {
		return nil, errors.New("completion requires a primary provider")
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	providers := make(map[string]ai.ChatModel, len(cfg.Providers)+1)
	for id, m := range cfg.Providers {
		if id = normalizeProvider(id); id != "" && m != nil {
			providers[id] = m
		}
	}
	defaultID := normalizeProvider(cfg.DefaultProvider)
	if defaultID != "" {
		providers[defaultID] = primary
	}
	return &Engine{
		primary:      primary,
		secondary:    secondary,
		historyTurns: cfg.HistoryTurns,
		timeout:      cfg.Timeout,
		retryDelay:   cfg.RetryDelay,
		providers:    providers,
		defaultID:    defaultID,
	}, nil
}

// Providers lists the selectable provider IDs, the default first.
func (e *Engine) Providers() []string {
	ids := make([]string, 0, len(e.providers))
	for id := range e.providers {
		if id != e.defaultID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if e.defaultID != "" {
		ids = append([]string{e.defaultID}, ids...)
	}
	return ids
}

// DefaultProvider is the ID used when a request names none.
func (e *Engine) DefaultProvider() string { return e.defaultID }

// HasProvider reports whether id can be passed as Request.Provider.
func (e *Engine) HasProvider(id string) bool {
	_, ok := e.providers[normalizeProvider(id)]
	return ok
}

func normalizeProvider(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Request is one turn. Context may be empty; History may be in any order.
type Request struct {
	History  []domain.Conversation
	Language domain.Language
	Context  []string
	Message  string
	// Provider selects a model from Config.Providers; unknown IDs use
	// the primary.
	Provider string
}

// Result is a successful completion.
type Result struct {
	Reply    string
	Model    string
	Attempts int
}

// Complete returns ErrCompletionFailed wrapping the last provider error when
// nothing produced a reply.
func (e *Engine) Complete(ctx context.Context, req Request) (Result, error) {
	logger := util.LoggerFromContext(ctx)
	chatReq := e.BuildRequest(req)

	attempts := 0
	var lastErr error
	try := func(model ai.ChatModel) (string, bool) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		reply, err := model.Complete(callCtx, chatReq)
		if err == nil && strings.TrimSpace(reply) == "" {
			err = ai.ErrEmptyResponse
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", model.Name(), err)
			logger.Warn("completion provider failed", "provider", model.Name(), "attempt", attempts, "err", err)
			return "", false
		}
		return strings.TrimSpace(reply), true
	}

	first, rest := e.chain(req.Provider)
	if reply, ok := try(first); ok {
		return Result{Reply: reply, Model: first.Name(), Attempts: attempts}, nil
	}
	if ctx.Err() == nil && e.retryDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(e.retryDelay):
		}
	}
	if ctx.Err() == nil {
		if reply, ok := try(first); ok {
			return Result{Reply: reply, Model: first.Name(), Attempts: attempts}, nil
		}
	}
	for _, model := range rest {
		if ctx.Err() != nil {
			break
		}
		if reply, ok := try(model); ok {
			return Result{Reply: reply, Model: model.Name(), Attempts: attempts}, nil
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return Result{Attempts: attempts}, fmt.Errorf("%w: %v", ErrCompletionFailed, lastErr)
}

// chain orders the models for one request: the selected provider (retried
// once), then the primary and the secondary, each at most once.
func (e *Engine) chain(provider string) (ai.ChatModel, []ai.ChatModel) {
	first := e.primary
	if m, ok := e.providers[normalizeProvider(provider)]; ok {
		first = m
	}
	seen := map[string]bool{first.Name(): true}
	var rest []ai.ChatModel
	for _, m := range []ai.ChatModel{e.primary, e.secondary} {
		if m == nil || seen[m.Name()] {
			continue
		}
		seen[m.Name()] = true
		rest = append(rest, m)
	}
	return first, rest
}

// BuildRequest turns a Request into the provider-neutral chat request.
func (e *Engine) BuildRequest(req Request) ai.ChatRequest {
	lang := req.Language
	if _, ok := domain.ParseLanguage(string(lang)); !ok {
		lang = domain.DefaultLanguage
	}
	return ai.ChatRequest{
		System:   SystemPrompt(lang),
		History:  buildHistory(req.History, e.historyTurns),
		Prompt:   buildPrompt(req.Context, req.Message),
		Query:    req.Message,
		Language: string(lang),
	}
}

// SystemPrompt is the persona plus the reply-language instruction.
func SystemPrompt(lang domain.Language) string {
	var sb strings.Builder
	sb.WriteString("You are AgriSense, an agricultural assistant for smallholder farmers in Nigeria and West Africa. ")
	sb.WriteString("Give practical, specific advice on crops, soil, fertilizer, pests, weather and markets, using quantities and timings a farmer can act on. ")
	sb.WriteString("Keep answers short enough to read on a phone. If you are unsure, say so and suggest contacting a local extension officer. ")
	sb.WriteString("When reference material is provided, prefer it and cite it as [n].\n")
	fmt.Fprintf(&sb, "Always reply in %s.", lang.Name())
	if lang != domain.LangEnglish {
		sb.WriteString(" Keep crop, chemical and fertilizer product names as farmers know them.")
	}
	return sb.String()
}

func buildPrompt(snippets []string, message string) string {
	message = strings.TrimSpace(message)
	var sb strings.Builder
	n := 0
	for _, c := range snippets {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if n == 0 {
			sb.WriteString("Reference material:\n")
		}
		n++
		fmt.Fprintf(&sb, "[%d] %s\n\n", n, c)
	}
	if n == 0 {
		return message
	}
	sb.WriteString("Farmer's question: ")
	sb.WriteString(message)
	return sb.String()
}

// buildHistory keeps the newest turns, oldest first, skipping exchanges
// whose reply was an error placeholder.
func buildHistory(convs []domain.Conversation, turns int) []ai.Message {
	usable := make([]domain.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.Failed || strings.TrimSpace(c.Message) == "" || strings.TrimSpace(c.Reply) == "" {
			continue
		}
		usable = append(usable, c)
	}
	sort.SliceStable(usable, func(i, j int) bool { return usable[i].CreatedAt.Before(usable[j].CreatedAt) })
	if len(usable) > turns {
		usable = usable[len(usable)-turns:]
	}
	out := make([]ai.Message, 0, 2*len(usable))
	for _, c := range usable {
		out = append(out,
			ai.Message{Role: ai.RoleUser, Content: c.Message},
			ai.Message{Role: ai.RoleAssistant, Content: c.Reply},
		)
	}
	return out
}
