package completion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Darknivht/agrisense-ai/pkg/ai"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

type scriptedModel struct {
	name    string
	results []error
	reply   string
	calls   int
	last    ai.ChatRequest
}

func (m *scriptedModel) Name() string { return m.name }

func (m *scriptedModel) Complete(_ context.Context, req ai.ChatRequest) (string, error) {
	m.last = req
	i := m.calls
	m.calls++
	if i < len(m.results) && m.results[i] != nil {
		return "", m.results[i]
	}
	return m.reply, nil
}

var errProvider = errors.New("503 service unavailable")

func TestPrimarySucceeds(t *testing.T) {
	primary := &scriptedModel{name: "openai", reply: " Apply NPK. "}
	e, _ := New(primary, nil, Config{})
	res, err := e.Complete(context.Background(), Request{Language: domain.LangEnglish, Message: "fertilizer?"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Reply != "Apply NPK." || res.Model != "openai" || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPrimaryRetriedOnceThenSecondary(t *testing.T) {
	primary := &scriptedModel{name: "openai", results: []error{errProvider, errProvider}}
	secondary := &scriptedModel{name: "gemini", reply: "from gemini"}
	e, _ := New(primary, secondary, Config{})

	res, err := e.Complete(context.Background(), Request{Message: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if primary.calls != 2 || secondary.calls != 1 {
		t.Fatalf("expected 2 primary and 1 secondary calls, got %d and %d", primary.calls, secondary.calls)
	}
	if res.Model != "gemini" || res.Reply != "from gemini" || res.Attempts != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRetrySucceedsWithoutSecondary(t *testing.T) {
	primary := &scriptedModel{name: "openai", results: []error{errProvider}, reply: "second time lucky"}
	secondary := &scriptedModel{name: "gemini", reply: "unused"}
	e, _ := New(primary, secondary, Config{})

	res, err := e.Complete(context.Background(), Request{Message: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Reply != "second time lucky" || secondary.calls != 0 {
		t.Fatalf("secondary should not be called when the retry works: %+v", res)
	}
}

func TestNoSecondaryFailsAfterOneRetry(t *testing.T) {
	primary := &scriptedModel{name: "openai", results: []error{errProvider, errProvider, nil}, reply: "too late"}
	e, _ := New(primary, nil, Config{})

	_, err := e.Complete(context.Background(), Request{Message: "hello"})
	if !errors.Is(err, ErrCompletionFailed) {
		t.Fatalf("expected ErrCompletionFailed, got %v", err)
	}
	if primary.calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", primary.calls)
	}
}

func TestBothProvidersFail(t *testing.T) {
	primary := &scriptedModel{name: "openai", results: []error{errProvider, errProvider}}
	secondary := &scriptedModel{name: "ollama", results: []error{errors.New("connection refused")}}
	e, _ := New(primary, secondary, Config{})

	_, err := e.Complete(context.Background(), Request{Message: "hello"})
	if !errors.Is(err, ErrCompletionFailed) || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestEmptyReplyCountsAsFailure(t *testing.T) {
	primary := &scriptedModel{name: "openai", reply: "   "}
	secondary := &scriptedModel{name: "rules", reply: "fallback answer"}
	e, _ := New(primary, secondary, Config{})

	res, err := e.Complete(context.Background(), Request{Message: "hello"})
	if err != nil || res.Model != "rules" {
		t.Fatalf("empty replies must fall through, got %+v err=%v", res, err)
	}
}

func TestEmptyContextUsesMessageAndHistoryOnly(t *testing.T) {
	e, _ := New(&scriptedModel{name: "m", reply: "ok"}, nil, Config{HistoryTurns: 2})
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	history := []domain.Conversation{
		{Message: "third", Reply: "r3", CreatedAt: base.Add(3 * time.Minute)},
		{Message: "first", Reply: "r1", CreatedAt: base.Add(time.Minute)},
		{Message: "broken", Reply: "sorry", Failed: true, CreatedAt: base.Add(4 * time.Minute)},
		{Message: "second", Reply: "r2", CreatedAt: base.Add(2 * time.Minute)},
	}

	req := e.BuildRequest(Request{History: history, Language: domain.LangHausa, Message: "  yaya zan shuka masara?  "})
	if req.Prompt != "yaya zan shuka masara?" {
		t.Fatalf("prompt without context should be the bare message, got %q", req.Prompt)
	}
	if len(req.History) != 4 {
		t.Fatalf("expected 2 turns (4 messages), got %d", len(req.History))
	}
	if req.History[0].Content != "second" || req.History[2].Content != "third" || req.History[3].Role != ai.RoleAssistant {
		t.Fatalf("history not the newest turns oldest first: %+v", req.History)
	}
	if !strings.Contains(req.System, "Always reply in Hausa.") || req.Language != "ha" {
		t.Fatalf("system prompt missing language instruction: %q", req.System)
	}
}

func TestContextSnippetsAreNumbered(t *testing.T) {
	e, _ := New(&scriptedModel{name: "m", reply: "ok"}, nil, Config{})
	req := e.BuildRequest(Request{Language: "xx", Context: []string{"Maize likes nitrogen.", " ", "Urea is 46% N."}, Message: "what fertilizer?"})
	want := "Reference material:\n[1] Maize likes nitrogen.\n\n[2] Urea is 46% N.\n\nFarmer's question: what fertilizer?"
	if req.Prompt != want {
		t.Fatalf("unexpected prompt:\n%q\nwant\n%q", req.Prompt, want)
	}
	if req.Language != "en" {
		t.Fatalf("unknown language should fall back to English, got %q", req.Language)
	}
}

func TestSelectedProviderRunsFirstThenFallsBack(t *testing.T) {
	primary := &scriptedModel{name: "openai:gpt", reply: "from openai"}
	secondary := &scriptedModel{name: "rules", reply: "from rules"}
	gemini := &scriptedModel{name: "gemini:flash", results: []error{errProvider, errProvider}}
	e, _ := New(primary, secondary, Config{
		DefaultProvider: "openai",
		Providers:       map[string]ai.ChatModel{"gemini": gemini, "rules": secondary},
	})

	res, err := e.Complete(context.Background(), Request{Message: "hello", Provider: " Gemini "})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gemini.calls != 2 || primary.calls != 1 || secondary.calls != 0 {
		t.Fatalf("unexpected calls gemini=%d openai=%d rules=%d", gemini.calls, primary.calls, secondary.calls)
	}
	if res.Model != "openai:gpt" || res.Attempts != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = e.Complete(context.Background(), Request{Message: "hello", Provider: "rules"})
	if err != nil || res.Model != "rules" || secondary.calls != 1 {
		t.Fatalf("rules selection: res=%+v err=%v calls=%d", res, err, secondary.calls)
	}

	res, _ = e.Complete(context.Background(), Request{Message: "hello", Provider: "mistral"})
	if res.Model != "openai:gpt" {
		t.Fatalf("unknown provider should use the primary, got %q", res.Model)
	}
}

func TestProvidersListsDefaultFirst(t *testing.T) {
	primary := &scriptedModel{name: "openai:gpt"}
	e, _ := New(primary, nil, Config{
		DefaultProvider: "OpenAI",
		Providers: map[string]ai.ChatModel{
			"rules":  &scriptedModel{name: "rules"},
			"gemini": &scriptedModel{name: "gemini:flash"},
			"ollama": nil,
		},
	})
	got := strings.Join(e.Providers(), ",")
	if got != "openai,gemini,rules" {
		t.Fatalf("providers = %q", got)
	}
	if e.DefaultProvider() != "openai" || !e.HasProvider("GEMINI") || e.HasProvider("ollama") {
		t.Fatalf("unexpected provider lookups")
	}
}
