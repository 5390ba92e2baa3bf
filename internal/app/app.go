package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/account"
	"github.com/Darknivht/agrisense-ai/internal/channel"
	"github.com/Darknivht/agrisense-ai/internal/completion"
	"github.com/Darknivht/agrisense-ai/internal/config"
	"github.com/Darknivht/agrisense-ai/internal/ingest"
	"github.com/Darknivht/agrisense-ai/internal/langdetect"
	"github.com/Darknivht/agrisense-ai/internal/ratelimit"
	"github.com/Darknivht/agrisense-ai/internal/retrieval"
	"github.com/Darknivht/agrisense-ai/internal/router"
	"github.com/Darknivht/agrisense-ai/internal/server"
	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/internal/weather"
	"github.com/Darknivht/agrisense-ai/pkg/ai"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/queue"
	"github.com/Darknivht/agrisense-ai/pkg/storage"
	"github.com/Darknivht/agrisense-ai/pkg/store"
	"github.com/Darknivht/agrisense-ai/pkg/vector"
	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
)

const (
	ingestStream = "agrisense:ingest"
	ingestGroup  = "indexers"
	ingestQueue  = "agrisense.ingest"

	defaultOllamaEmbedModel = "nomic-embed-text"
)

// App holds every long-lived component, built once from the configuration.
type App struct {
	cfg      config.Config
	store    *store.GormStore
	redis    *redis.Client
	objects  storage.ObjectStore
	queue    queue.Queue
	pipeline *ingest.Pipeline
	weather  *weather.Client
	engine   *completion.Engine
	router   *router.Router
	accounts *account.Service
	webhooks []server.Webhook
	senders  map[domain.Channel]*channel.Sender
	discord  *discordgo.Session
	trusted  *util.TrustedProxies

	webhookLimiter ratelimit.Limiter
	chatLimiter    ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
}

// New connects to every configured backend. On error the partially built
// resources are released.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{cfg: cfg, senders: map[domain.Channel]*channel.Sender{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.store, err = store.NewGormStore(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if a.trusted, err = util.NewTrustedProxies(cfg.TrustedProxyCIDRs); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}
	if err = a.initLimiters(); err != nil {
		return nil, err
	}

	var oa *openai.Client
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		if oa, err = ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL); err != nil {
			return nil, err
		}
	}

	if err = a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err = a.initQueue(); err != nil {
		return nil, err
	}

	deps := router.Deps{
		Store:    a.store,
		Detector: langdetect.New(),
		Objects:  a.objects,
	}
	if a.engine, err = a.newCompleter(ctx, oa); err != nil {
		return nil, err
	}
	deps.Completer = a.engine
	if cfg.EnableRAG {
		svc, err := a.newRetrieval(oa)
		if err != nil {
			return nil, err
		}
		a.pipeline, err = ingest.New(ingest.Config{
			Ingester: svc,
			Docs:     a.store,
			Objects:  a.objects,
			Queue:    a.queue,
		})
		if err != nil {
			return nil, err
		}
		deps.Retriever = svc
		deps.Uploader = a.pipeline
	}
	if cfg.EnableWeather {
		a.weather = weather.NewClient(weather.Config{
			APIKey:   cfg.OpenWeatherAPIKey,
			Cache:    a.redisClient(),
			CacheTTL: cfg.WeatherCacheTTL(),
		})
		deps.Weather = a.weather
	}
	if cfg.EnableVoice && oa != nil {
		deps.Speaker = ai.NewOpenAISpeaker(oa)
	}
	if a.router, err = router.New(deps, router.Config{}); err != nil {
		return nil, err
	}

	if a.accounts, err = a.newAccounts(); err != nil {
		return nil, err
	}
	if err = a.initChannels(); err != nil {
		return nil, err
	}
	return a, nil
}

// redisClient returns the shared client as an interface value that is nil
// when Redis is not configured.
func (a *App) redisClient() redis.UniversalClient {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

func (a *App) initLimiters() error {
	if !a.cfg.EnableRateLimit {
		return nil
	}
	rdb := a.redisClient()
	if rdb == nil {
		return errors.New("rate limiting requires redis")
	}
	build := func(name string, perMinute int) (ratelimit.Limiter, error) {
		if perMinute <= 0 {
			return nil, nil
		}
		l, err := ratelimit.NewFixedWindow(rdb, "agrisense:ratelimit:"+name, perMinute, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("%s rate limiter: %w", name, err)
		}
		return l, nil
	}
	var err error
	if a.webhookLimiter, err = build("webhook", a.cfg.WebhookRateLimitPerMinute); err != nil {
		return err
	}
	if a.chatLimiter, err = build("chat", a.cfg.ChatRateLimitPerMinute); err != nil {
		return err
	}
	a.loginLimiter, err = build("login", a.cfg.LoginRateLimitPerMinute)
	return err
}

// initStorage picks MinIO when an endpoint is configured, else the local
// upload directory served under /media/.
func (a *App) initStorage(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.MinioEndpoint) != "" {
		s, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  a.cfg.MinioEndpoint,
			AccessKey: a.cfg.MinioAccessKey,
			SecretKey: a.cfg.MinioSecretKey,
			Bucket:    a.cfg.MinioBucket,
			UseSSL:    a.cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		a.objects = s
		return nil
	}
	s, err := storage.NewFileStore(a.cfg.UploadDir, "/media/")
	if err != nil {
		return fmt.Errorf("init upload dir: %w", err)
	}
	a.objects = s
	return nil
}

func (a *App) initQueue() error {
	switch a.cfg.QueueBackend {
	case config.QueueRedis:
		q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Client:   a.redis,
			Stream:   ingestStream,
			Group:    ingestGroup,
			Consumer: util.NewID(),
		})
		if err != nil {
			return fmt.Errorf("init redis queue: %w", err)
		}
		a.queue = q
	case config.QueueAMQP:
		q, err := queue.NewAMQPQueue(queue.AMQPQueueConfig{
			URL:    a.cfg.AMQPURL,
			Queue:  ingestQueue,
			Logger: slog.Default(),
		})
		if err != nil {
			return fmt.Errorf("init amqp queue: %w", err)
		}
		a.queue = q
	}
	return nil
}

func (a *App) newAccounts() (*account.Service, error) {
	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if rdb := a.redisClient(); rdb != nil {
		r, err := store.NewRedisTokenRevoker(rdb, "agrisense:revoked", a.cfg.SessionTTL())
		if err != nil {
			return nil, err
		}
		revoker = r
	}
	sessions, err := store.NewJWTSessionStore(a.cfg.JWTSecret, a.cfg.SessionTTL(), revoker, store.JWTOptions{})
	if err != nil {
		return nil, err
	}
	return account.New(a.store, sessions, account.WithProviders(a.engine))
}

// newCompleter resolves LLM_PRIMARY and LLM_SECONDARY. An unset primary
// picks the first provider with credentials; an unset secondary falls back
// to the rule-based provider.
func (a *App) newCompleter(ctx context.Context, oa *openai.Client) (*completion.Engine, error) {
	primaryName := strings.ToLower(strings.TrimSpace(a.cfg.LLMPrimary))
	if primaryName == "" {
		primaryName = a.firstConfiguredProvider()
	}
	primary, err := a.newChatModel(ctx, primaryName, oa)
	if err != nil {
		return nil, err
	}
	secondaryName := strings.ToLower(strings.TrimSpace(a.cfg.LLMSecondary))
	if secondaryName == "" && primaryName != "rules" {
		secondaryName = "rules"
	}
	var secondary ai.ChatModel
	if secondaryName != "" && secondaryName != primaryName {
		if secondary, err = a.newChatModel(ctx, secondaryName, oa); err != nil {
			return nil, err
		}
	}
	providers := map[string]ai.ChatModel{secondaryName: secondary}
	for _, name := range a.configuredProviders() {
		if name == primaryName || name == secondaryName {
			continue
		}
		m, err := a.newChatModel(ctx, name, oa)
		if err != nil {
			slog.Warn("language model provider skipped", "provider", name, "err", err)
			continue
		}
		providers[name] = m
	}
	slog.Info("language model providers", "primary", primary.Name(), "secondary", providerName(secondary))
	return completion.New(primary, secondary, completion.Config{
		Timeout:         a.cfg.LLMTimeout(),
		Providers:       providers,
		DefaultProvider: primaryName,
	})
}

// configuredProviders lists the providers with credentials in preference
// order. The rule-based provider is always last.
func (a *App) configuredProviders() []string {
	var names []string
	if a.cfg.OpenAIAPIKey != "" {
		names = append(names, "openai")
	}
	if a.cfg.GeminiAPIKey != "" {
		names = append(names, "gemini")
	}
	if a.cfg.OpenRouterAPIKey != "" {
		names = append(names, "openrouter")
	}
	if a.cfg.OllamaHost != "" {
		names = append(names, "ollama")
	}
	return append(names, "rules")
}

func (a *App) firstConfiguredProvider() string {
	return a.configuredProviders()[0]
}

func (a *App) newChatModel(ctx context.Context, name string, oa *openai.Client) (ai.ChatModel, error) {
	switch name {
	case "rules":
		return ai.NewRuleBased(), nil
	case "openai":
		if oa == nil {
			return nil, errors.New("openai provider requires OPENAI_API_KEY")
		}
		return ai.NewOpenAIChat(oa, a.cfg.OpenAIModel), nil
	case "gemini":
		return ai.NewGeminiChat(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel)
	case "openrouter":
		return ai.NewOpenAICompatChat("openrouter", a.cfg.OpenRouterBaseURL, a.cfg.OpenRouterAPIKey, a.cfg.OpenRouterModel), nil
	case "ollama":
		return ai.NewOllamaChat(ai.NewOllamaClient(a.cfg.OllamaHost), a.cfg.OllamaModel), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", name)
}

func providerName(m ai.ChatModel) string {
	if m == nil {
		return ""
	}
	return m.Name()
}

func (a *App) newRetrieval(oa *openai.Client) (*retrieval.Service, error) {
	embedder, err := a.newEmbedder(oa)
	if err != nil {
		return nil, err
	}
	var idx vector.Index
	switch a.cfg.VectorBackend {
	case config.VectorPgvector:
		pg, err := vector.NewPgVector(a.store.DB(), a.cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("init pgvector: %w", err)
		}
		idx = pg
	default:
		c, err := vector.NewChromem(a.cfg.ChromemPath)
		if err != nil {
			return nil, fmt.Errorf("init chromem: %w", err)
		}
		idx = c
	}
	return retrieval.New(a.store, idx, embedder, retrieval.Config{MaxFileBytes: a.cfg.MaxUploadBytes})
}

// newEmbedder resolves EMBEDDING_PROVIDER; unset picks OpenAI or Gemini when
// their keys exist and the local hashing embedder otherwise.
func (a *App) newEmbedder(oa *openai.Client) (ai.Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(a.cfg.EmbeddingProvider))
	if provider == "" {
		switch {
		case oa != nil:
			provider = "openai"
		case a.cfg.GeminiAPIKey != "":
			provider = "gemini"
		default:
			provider = "hashing"
		}
	}
	dim := a.cfg.EmbeddingDim
	switch provider {
	case "openai":
		if oa == nil {
			return nil, errors.New("openai embeddings require OPENAI_API_KEY")
		}
		return ai.NewOpenAIEmbedder(oa, a.cfg.EmbeddingModel, dim), nil
	case "gemini":
		return ai.NewGeminiEmbedder(a.cfg.GeminiAPIKey, a.cfg.EmbeddingModel, dim)
	case "ollama":
		if a.cfg.OllamaHost == "" {
			return nil, errors.New("ollama embeddings require OLLAMA_HOST")
		}
		model := a.cfg.EmbeddingModel
		if model == "" {
			model = defaultOllamaEmbedModel
		}
		return ai.NewOllamaEmbedder(ai.NewOllamaClient(a.cfg.OllamaHost), model, dim), nil
	case "hashing":
		return ai.NewHashingEmbedder(dim), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", provider)
}

// initChannels builds the adapter, outbound sender and attachment fetcher
// of every enabled channel.
func (a *App) initChannels() error {
	cfg := a.cfg
	client := &http.Client{Timeout: 30 * time.Second}
	add := func(adapter channel.Adapter, transport channel.Transport, fetcher channel.Fetcher) {
		hook := server.Webhook{Adapter: adapter, Fetcher: fetcher}
		if transport != nil {
			hook.Sender = channel.NewSender(adapter, transport)
			a.senders[adapter.Channel()] = hook.Sender
		}
		a.webhooks = append(a.webhooks, hook)
	}

	if cfg.EnableSMS {
		add(channel.NewSMS(cfg.ATUsername, cfg.ATShortcode),
			channel.NewAfricasTalkingTransport(cfg.ATAPIKey, cfg.ATUsername, "", client), nil)
	}
	if cfg.EnableWhatsApp {
		t := channel.NewWhatsAppTransport(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID, cfg.MetaGraphURL, cfg.MaxUploadBytes, client)
		add(channel.NewWhatsApp(cfg.WhatsAppWebhookVerifyToken, cfg.MetaAppSecret), t, t)
	}
	if cfg.EnableInstagram {
		add(channel.NewInstagram(cfg.WhatsAppWebhookVerifyToken, cfg.MetaAppSecret),
			channel.NewInstagramTransport(cfg.InstagramAccessToken, cfg.InstagramPageID, cfg.MetaGraphURL, client), nil)
	}
	if cfg.EnableTelegram {
		t := channel.NewTelegramTransport(cfg.TelegramBotToken, "", cfg.MaxUploadBytes, client)
		add(channel.NewTelegram(cfg.TelegramWebhookSecret), t, t)
	}
	if cfg.EnableDiscord {
		adapter, err := channel.NewDiscord(cfg.DiscordPublicKey)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		var transport channel.Transport
		if cfg.DiscordBotToken != "" {
			if a.discord, err = channel.NewDiscordSession(cfg.DiscordBotToken); err != nil {
				return fmt.Errorf("discord session: %w", err)
			}
			transport = channel.NewDiscordTransport(a.discord)
		}
		add(adapter, transport, nil)
	}
	if cfg.EnableEmail {
		t, err := channel.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		add(channel.NewEmail(cfg.EmailWebhookSecret, cfg.SMTPFrom), t, nil)
	}
	return nil
}

// Server builds the HTTP server over the wired components.
func (a *App) Server() (*server.Server, error) {
	cfg := server.Config{
		Router:         a.router,
		Accounts:       a.accounts,
		Store:          a.store,
		Media:          a.objects,
		Webhooks:       a.webhooks,
		WebhookLimiter: a.webhookLimiter,
		ChatLimiter:    a.chatLimiter,
		LoginLimiter:   a.loginLimiter,
		TrustedProxies: a.trusted,
		CORSOrigins:    a.cfg.CORSOrigins,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
	}
	if a.pipeline != nil {
		cfg.Documents = a.pipeline
	}
	if a.weather != nil {
		cfg.Weather = a.weather
	}
	return server.New(cfg)
}

// DiscordBot returns the gateway bot when a bot token is configured.
func (a *App) DiscordBot() *channel.DiscordBot {
	if a.discord == nil {
		return nil
	}
	return channel.NewDiscordBot(a.discord, a.router.HandleInbound, 2*a.cfg.LLMTimeout(), slog.Default())
}

// RunIndexer consumes deferred ingestion jobs until ctx is cancelled.
func (a *App) RunIndexer(ctx context.Context, concurrency int) error {
	if a.queue == nil {
		return errors.New("indexer requires QUEUE_BACKEND redis or amqp")
	}
	if a.pipeline == nil {
		return errors.New("indexer requires ENABLE_RAG")
	}
	return a.queue.Run(ctx, concurrency, a.pipeline.Handle)
}

// Alerts builds the weather alert dispatcher over the enabled senders.
func (a *App) Alerts() (*Dispatcher, error) {
	if a.weather == nil {
		return nil, errors.New("weather alerts require ENABLE_WEATHER")
	}
	notifiers := make(map[domain.Channel]Notifier, len(a.senders))
	for ch, s := range a.senders {
		notifiers[ch] = s
	}
	return NewDispatcher(a.store, a.weather, notifiers), nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
