package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is read when neither the caller nor CONFIG_FILE names a file.
const ConfigPath = "config.yaml"

const (
	QueueNone  = "none"
	QueueRedis = "redis"
	QueueAMQP  = "amqp"

	VectorChromem  = "chromem"
	VectorPgvector = "pgvector"
)

// Config is built once at startup and passed to every constructor.
type Config struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
	CORSOrigins       []string `yaml:"corsOrigins"`

	LLMPrimary        string `yaml:"llmPrimary"`
	LLMSecondary      string `yaml:"llmSecondary"`
	LLMTimeoutSeconds int    `yaml:"llmTimeoutSeconds"`
	OpenAIAPIKey      string `yaml:"openaiApiKey"`
	OpenAIModel       string `yaml:"openaiModel"`
	OpenAIBaseURL     string `yaml:"openaiBaseURL"`
	GeminiAPIKey      string `yaml:"geminiApiKey"`
	GeminiModel       string `yaml:"geminiModel"`
	OpenRouterAPIKey  string `yaml:"openrouterApiKey"`
	OpenRouterModel   string `yaml:"openrouterModel"`
	OpenRouterBaseURL string `yaml:"openrouterBaseURL"`
	OllamaHost        string `yaml:"ollamaHost"`
	OllamaModel       string `yaml:"ollamaModel"`
	EmbeddingProvider string `yaml:"embeddingProvider"`
	EmbeddingModel    string `yaml:"embeddingModel"`
	EmbeddingDim      int    `yaml:"embeddingDim"`

	OpenWeatherAPIKey   string `yaml:"openweatherApiKey"`
	WeatherCacheMinutes int    `yaml:"weatherCacheMinutes"`

	WhatsAppAccessToken        string `yaml:"whatsappAccessToken"`
	WhatsAppPhoneNumberID      string `yaml:"whatsappPhoneNumberId"`
	WhatsAppWebhookVerifyToken string `yaml:"whatsappWebhookVerifyToken"`
	MetaAppSecret              string `yaml:"metaAppSecret"`
	MetaGraphURL               string `yaml:"metaGraphURL"`
	InstagramAccessToken       string `yaml:"instagramAccessToken"`
	InstagramPageID            string `yaml:"instagramPageId"`
	ATAPIKey                   string `yaml:"atApiKey"`
	ATUsername                 string `yaml:"atUsername"`
	ATShortcode                string `yaml:"atShortcode"`
	TelegramBotToken           string `yaml:"telegramBotToken"`
	TelegramWebhookSecret      string `yaml:"telegramWebhookSecret"`
	DiscordBotToken            string `yaml:"discordBotToken"`
	DiscordPublicKey           string `yaml:"discordPublicKey"`
	SMTPHost                   string `yaml:"smtpHost"`
	SMTPPort                   int    `yaml:"smtpPort"`
	SMTPUsername               string `yaml:"smtpUsername"`
	SMTPPassword               string `yaml:"smtpPassword"`
	SMTPFrom                   string `yaml:"smtpFrom"`
	EmailWebhookSecret         string `yaml:"emailWebhookSecret"`

	JWTSecret       string `yaml:"jwtSecret"`
	SessionTTLHours int    `yaml:"sessionTtlHours"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	UploadDir      string `yaml:"uploadDir"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	QueueBackend  string `yaml:"queueBackend"`
	AMQPURL       string `yaml:"amqpURL"`
	VectorBackend string `yaml:"vectorBackend"`
	ChromemPath   string `yaml:"chromemPath"`

	EnableRAG       bool `yaml:"enableRag"`
	EnableVoice     bool `yaml:"enableVoice"`
	EnableWeather   bool `yaml:"enableWeather"`
	EnableSMS       bool `yaml:"enableSms"`
	EnableWhatsApp  bool `yaml:"enableWhatsapp"`
	EnableInstagram bool `yaml:"enableInstagram"`
	EnableTelegram  bool `yaml:"enableTelegram"`
	EnableDiscord   bool `yaml:"enableDiscord"`
	EnableEmail     bool `yaml:"enableEmail"`

	EnableRateLimit           bool `yaml:"enableRateLimit"`
	WebhookRateLimitPerMinute int  `yaml:"webhookRateLimitPerMinute"`
	ChatRateLimitPerMinute    int  `yaml:"chatRateLimitPerMinute"`
	LoginRateLimitPerMinute   int  `yaml:"loginRateLimitPerMinute"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                      "8080",
		LogLevel:                  "info",
		DatabaseURL:               "sqlite://agrisense.db",
		LLMTimeoutSeconds:         30,
		OpenAIModel:               "gpt-4o-mini",
		GeminiModel:               "gemini-1.5-flash",
		OpenRouterModel:           "meta-llama/llama-3.1-8b-instruct",
		OpenRouterBaseURL:         "https://openrouter.ai/api/v1",
		OllamaModel:               "llama3.1",
		EmbeddingDim:              768,
		WeatherCacheMinutes:       30,
		SMTPPort:                  587,
		SessionTTLHours:           24,
		MinioBucket:               "agrisense",
		UploadDir:                 "uploads",
		MaxUploadBytes:            10 << 20,
		QueueBackend:              QueueNone,
		VectorBackend:             VectorChromem,
		EnableRAG:                 true,
		EnableWeather:             true,
		WebhookRateLimitPerMinute: 60,
		ChatRateLimitPerMinute:    30,
		LoginRateLimitPerMinute:   10,
	}
}

// Load reads path (or CONFIG_FILE, or config.yaml), then .env, then the
// process environment, and validates the result. A missing file is only an
// error when it was named explicitly.
func Load(path string) (Config, error) {
	return load(path, ".env")
}

func load(path, envFile string) (Config, error) {
	cfg := Defaults()
	explicit := path != ""
	if !explicit {
		if v := strings.TrimSpace(os.Getenv("CONFIG_FILE")); v != "" {
			path, explicit = v, true
		} else {
			path = ConfigPath
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", envFile, err)
	}
	env := environment{dotenv: dotenv}
	env.apply(&cfg)

	cfg.QueueBackend = strings.ToLower(strings.TrimSpace(cfg.QueueBackend))
	cfg.VectorBackend = strings.ToLower(strings.TrimSpace(cfg.VectorBackend))
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// environment reads the process environment first and the .env values
// second, so a real variable always wins.
type environment struct {
	dotenv map[string]string
}

func (e environment) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := e.dotenv[key]
	return v, ok
}

func (e environment) str(dst *string, key string) {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (e environment) integer(dst *int, key string) {
	if v, ok := e.lookup(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func (e environment) boolean(dst *bool, key string) {
	if v, ok := e.lookup(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func (e environment) list(dst *[]string, key string) {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = splitCSV(v)
	}
}

func (e environment) apply(cfg *Config) {
	e.str(&cfg.Port, "PORT")
	e.str(&cfg.LogLevel, "LOG_LEVEL")
	e.str(&cfg.DatabaseURL, "DATABASE_URL")
	e.str(&cfg.RedisAddr, "REDIS_ADDR")
	e.str(&cfg.RedisPassword, "REDIS_PASSWORD")
	e.list(&cfg.TrustedProxyCIDRs, "TRUSTED_PROXY_CIDRS")
	e.list(&cfg.CORSOrigins, "CORS_ORIGINS")

	e.str(&cfg.LLMPrimary, "LLM_PRIMARY")
	e.str(&cfg.LLMSecondary, "LLM_SECONDARY")
	e.integer(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	e.str(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	e.str(&cfg.OpenAIModel, "OPENAI_MODEL")
	e.str(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	e.str(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	e.str(&cfg.GeminiModel, "GEMINI_MODEL")
	e.str(&cfg.OpenRouterAPIKey, "OPENROUTER_API_KEY")
	e.str(&cfg.OpenRouterModel, "OPENROUTER_MODEL")
	e.str(&cfg.OpenRouterBaseURL, "OPENROUTER_BASE_URL")
	e.str(&cfg.OllamaHost, "OLLAMA_HOST")
	e.str(&cfg.OllamaModel, "OLLAMA_MODEL")
	e.str(&cfg.EmbeddingProvider, "EMBEDDING_PROVIDER")
	e.str(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	e.integer(&cfg.EmbeddingDim, "EMBEDDING_DIM")

	e.str(&cfg.OpenWeatherAPIKey, "OPENWEATHER_API_KEY")
	e.integer(&cfg.WeatherCacheMinutes, "WEATHER_CACHE_MINUTES")

	e.str(&cfg.WhatsAppAccessToken, "WHATSAPP_ACCESS_TOKEN")
	e.str(&cfg.WhatsAppPhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	e.str(&cfg.WhatsAppWebhookVerifyToken, "WHATSAPP_WEBHOOK_VERIFY_TOKEN")
	e.str(&cfg.MetaAppSecret, "META_APP_SECRET")
	e.str(&cfg.MetaGraphURL, "META_GRAPH_URL")
	e.str(&cfg.InstagramAccessToken, "INSTAGRAM_ACCESS_TOKEN")
	e.str(&cfg.InstagramPageID, "INSTAGRAM_PAGE_ID")
	e.str(&cfg.ATAPIKey, "AT_API_KEY")
	e.str(&cfg.ATUsername, "AT_USERNAME")
	e.str(&cfg.ATShortcode, "AT_SHORTCODE")
	e.str(&cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	e.str(&cfg.TelegramWebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	e.str(&cfg.DiscordBotToken, "DISCORD_BOT_TOKEN")
	e.str(&cfg.DiscordPublicKey, "DISCORD_PUBLIC_KEY")
	e.str(&cfg.SMTPHost, "SMTP_HOST")
	e.integer(&cfg.SMTPPort, "SMTP_PORT")
	e.str(&cfg.SMTPUsername, "SMTP_USERNAME")
	e.str(&cfg.SMTPPassword, "SMTP_PASSWORD")
	e.str(&cfg.SMTPFrom, "SMTP_FROM")
	e.str(&cfg.EmailWebhookSecret, "EMAIL_WEBHOOK_SECRET")

	e.str(&cfg.JWTSecret, "JWT_SECRET")
	e.integer(&cfg.SessionTTLHours, "SESSION_TTL_HOURS")

	e.str(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	e.str(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	e.str(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	e.str(&cfg.MinioBucket, "MINIO_BUCKET")
	e.boolean(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	e.str(&cfg.UploadDir, "UPLOAD_DIR")
	if v, ok := e.lookup("MAX_UPLOAD_BYTES"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}

	e.str(&cfg.QueueBackend, "QUEUE_BACKEND")
	e.str(&cfg.AMQPURL, "AMQP_URL")
	e.str(&cfg.VectorBackend, "VECTOR_BACKEND")
	e.str(&cfg.ChromemPath, "CHROMEM_PATH")

	e.boolean(&cfg.EnableRAG, "ENABLE_RAG")
	e.boolean(&cfg.EnableVoice, "ENABLE_VOICE")
	e.boolean(&cfg.EnableWeather, "ENABLE_WEATHER")
	e.boolean(&cfg.EnableSMS, "ENABLE_SMS")
	e.boolean(&cfg.EnableWhatsApp, "ENABLE_WHATSAPP")
	e.boolean(&cfg.EnableInstagram, "ENABLE_INSTAGRAM")
	e.boolean(&cfg.EnableTelegram, "ENABLE_TELEGRAM")
	e.boolean(&cfg.EnableDiscord, "ENABLE_DISCORD")
	e.boolean(&cfg.EnableEmail, "ENABLE_EMAIL")

	e.boolean(&cfg.EnableRateLimit, "ENABLE_RATE_LIMIT")
	e.integer(&cfg.WebhookRateLimitPerMinute, "WEBHOOK_RATE_LIMIT_PER_MINUTE")
	e.integer(&cfg.ChatRateLimitPerMinute, "CHAT_RATE_LIMIT_PER_MINUTE")
	e.integer(&cfg.LoginRateLimitPerMinute, "LOGIN_RATE_LIMIT_PER_MINUTE")
}

// ChannelEnabled reports whether the webhook for ch is switched on. The web
// channel is always on.
func (c Config) ChannelEnabled(ch domain.Channel) bool {
	switch ch {
	case domain.ChannelWeb:
		return true
	case domain.ChannelSMS:
		return c.EnableSMS
	case domain.ChannelWhatsApp:
		return c.EnableWhatsApp
	case domain.ChannelInstagram:
		return c.EnableInstagram
	case domain.ChannelTelegram:
		return c.EnableTelegram
	case domain.ChannelDiscord:
		return c.EnableDiscord
	case domain.ChannelEmail:
		return c.EnableEmail
	}
	return false
}

// SessionTTL is the lifetime of a web session token.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// LLMTimeout bounds one provider call.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// WeatherCacheTTL is how long a forecast is reused per location.
func (c Config) WeatherCacheTTL() time.Duration {
	return time.Duration(c.WeatherCacheMinutes) * time.Minute
}

// Postgres reports whether DatabaseURL points at postgres rather than sqlite.
func (c Config) Postgres() bool {
	return !strings.HasPrefix(strings.TrimSpace(c.DatabaseURL), "sqlite://")
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set JWT_SECRET)")
	}
	if cfg.SessionTTLHours <= 0 {
		return errors.New("config: sessionTtlHours must be > 0")
	}
	if cfg.LLMTimeoutSeconds <= 0 {
		return errors.New("config: llmTimeoutSeconds must be > 0")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim must be > 0")
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("config: maxUploadBytes must be > 0")
	}
	for _, name := range []string{cfg.LLMPrimary, cfg.LLMSecondary} {
		if name == "" {
			continue
		}
		if err := cfg.checkProvider(name); err != nil {
			return err
		}
	}

	switch cfg.QueueBackend {
	case QueueNone:
	case QueueRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: queueBackend redis requires redisAddr")
		}
	case QueueAMQP:
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: queueBackend amqp requires AMQP_URL")
		}
	default:
		return fmt.Errorf("config: unknown queueBackend %q (none, redis or amqp)", cfg.QueueBackend)
	}
	switch cfg.VectorBackend {
	case VectorChromem:
	case VectorPgvector:
		if !cfg.Postgres() {
			return errors.New("config: vectorBackend pgvector requires a postgres databaseURL")
		}
	default:
		return fmt.Errorf("config: unknown vectorBackend %q (pgvector or chromem)", cfg.VectorBackend)
	}

	if cfg.EnableVoice && strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return errors.New("config: enableVoice requires OPENAI_API_KEY")
	}
	if cfg.EnableRateLimit {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for rate limiting")
		}
		if cfg.WebhookRateLimitPerMinute < 0 || cfg.ChatRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
			return errors.New("config: rate limits must be >= 0")
		}
	}

	required := []struct {
		enabled bool
		channel domain.Channel
		values  map[string]string
	}{
		{cfg.EnableSMS, domain.ChannelSMS, map[string]string{
			"AT_API_KEY": cfg.ATAPIKey, "AT_USERNAME": cfg.ATUsername,
		}},
		{cfg.EnableWhatsApp, domain.ChannelWhatsApp, map[string]string{
			"WHATSAPP_ACCESS_TOKEN": cfg.WhatsAppAccessToken, "WHATSAPP_PHONE_NUMBER_ID": cfg.WhatsAppPhoneNumberID,
			"WHATSAPP_WEBHOOK_VERIFY_TOKEN": cfg.WhatsAppWebhookVerifyToken, "META_APP_SECRET": cfg.MetaAppSecret,
		}},
		{cfg.EnableInstagram, domain.ChannelInstagram, map[string]string{
			"INSTAGRAM_ACCESS_TOKEN": cfg.InstagramAccessToken, "INSTAGRAM_PAGE_ID": cfg.InstagramPageID,
			"META_APP_SECRET": cfg.MetaAppSecret,
		}},
		{cfg.EnableTelegram, domain.ChannelTelegram, map[string]string{
			"TELEGRAM_BOT_TOKEN": cfg.TelegramBotToken, "TELEGRAM_WEBHOOK_SECRET": cfg.TelegramWebhookSecret,
		}},
		{cfg.EnableDiscord, domain.ChannelDiscord, map[string]string{
			"DISCORD_PUBLIC_KEY": cfg.DiscordPublicKey,
		}},
		{cfg.EnableEmail, domain.ChannelEmail, map[string]string{
			"SMTP_HOST": cfg.SMTPHost, "SMTP_FROM": cfg.SMTPFrom, "EMAIL_WEBHOOK_SECRET": cfg.EmailWebhookSecret,
		}},
	}
	for _, r := range required {
		if !r.enabled {
			continue
		}
		var missing []string
		for name, v := range r.values {
			if strings.TrimSpace(v) == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("config: %s channel enabled but %s not set", r.channel, strings.Join(missing, ", "))
		}
	}
	return nil
}

func (c Config) checkProvider(name string) error {
	switch strings.ToLower(name) {
	case "rules":
		return nil
	case "openai":
		if c.OpenAIAPIKey == "" {
			return errors.New("config: llm provider openai requires OPENAI_API_KEY")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("config: llm provider gemini requires GEMINI_API_KEY")
		}
	case "openrouter":
		if c.OpenRouterAPIKey == "" {
			return errors.New("config: llm provider openrouter requires OPENROUTER_API_KEY")
		}
	case "ollama":
		if c.OllamaHost == "" {
			return errors.New("config: llm provider ollama requires OLLAMA_HOST")
		}
	default:
		return fmt.Errorf("config: unknown llm provider %q", name)
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
