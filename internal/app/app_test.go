package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Darknivht/agrisense-ai/internal/config"
	"github.com/Darknivht/agrisense-ai/pkg/ai"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.JWTSecret = strings.Repeat("s", 32)
	cfg.DatabaseURL = "sqlite://" + filepath.Join(dir, "app.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	return cfg
}

func TestNewWiresDefaults(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if a.pipeline == nil || a.weather == nil || a.queue != nil {
		t.Fatalf("unexpected wiring: pipeline=%v weather=%v queue=%v", a.pipeline != nil, a.weather != nil, a.queue != nil)
	}
	if a.DiscordBot() != nil {
		t.Fatalf("discord bot without a token")
	}
	if err := a.RunIndexer(context.Background(), 1); err == nil {
		t.Fatalf("indexer must refuse to run without a queue backend")
	}

	srv, err := a.Server()
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	resp, err = http.Post(ts.URL+"/webhooks/sms", "application/x-www-form-urlencoded", strings.NewReader("from=%2B2348012345678&text=hi"))
	if err != nil {
		t.Fatalf("sms webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("disabled sms webhook answered %d", resp.StatusCode)
	}
}

func TestNewRejectsRateLimitWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableRateLimit = true
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected an error without redis")
	}
}

func TestProviderSelection(t *testing.T) {
	a := &App{cfg: testConfig(t)}
	if got := a.firstConfiguredProvider(); got != "rules" {
		t.Fatalf("no credentials: got %q", got)
	}
	a.cfg.OllamaHost = "http://localhost:11434"
	a.cfg.GeminiAPIKey = "g-key"
	if got := a.firstConfiguredProvider(); got != "gemini" {
		t.Fatalf("gemini and ollama: got %q", got)
	}

	engine, err := (&App{cfg: testConfig(t)}).newCompleter(context.Background(), nil)
	if err != nil || engine == nil {
		t.Fatalf("rules-only completer: %v", err)
	}
	if got := strings.Join(engine.Providers(), ","); got != "rules" {
		t.Fatalf("rules-only providers: %q", got)
	}
	local := &App{cfg: testConfig(t)}
	local.cfg.OllamaHost = "http://localhost:11434"
	engine, err = local.newCompleter(context.Background(), nil)
	if err != nil || engine.DefaultProvider() != "ollama" || !engine.HasProvider("rules") {
		t.Fatalf("ollama completer: %v", err)
	}
	if _, err := a.newChatModel(context.Background(), "openai", nil); err == nil {
		t.Fatalf("openai without a client must fail")
	}

	emb, err := (&App{cfg: testConfig(t)}).newEmbedder(nil)
	if err != nil {
		t.Fatalf("default embedder: %v", err)
	}
	if _, ok := emb.(*ai.HashingEmbedder); !ok {
		t.Fatalf("expected the hashing embedder without keys, got %T", emb)
	}
	a.cfg.EmbeddingProvider = "word2vec"
	if _, err := a.newEmbedder(nil); err == nil {
		t.Fatalf("unknown embedding provider accepted")
	}
}
