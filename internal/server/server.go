package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Darknivht/agrisense-ai/internal/account"
	"github.com/Darknivht/agrisense-ai/internal/channel"
	"github.com/Darknivht/agrisense-ai/internal/ingest"
	"github.com/Darknivht/agrisense-ai/internal/ratelimit"
	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/internal/weather"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/storage"
	"github.com/Darknivht/agrisense-ai/pkg/store"
)

// Inbound answers a canonical message; *router.Router implements it.
type Inbound interface {
	HandleInbound(ctx context.Context, msg domain.InboundMessage) (domain.OutboundReply, error)
}

// Documents accepts uploads and reports their state; *ingest.Pipeline
// implements it.
type Documents interface {
	Submit(ctx context.Context, userID, filename string, data []byte) (ingest.Submission, error)
	Status(ctx context.Context, userID, docID string) (ingest.State, bool, error)
}

// Forecaster looks up weather; *weather.Client implements it.
type Forecaster interface {
	Lookup(ctx context.Context, location string) weather.Forecast
}

// Webhook is one enabled messaging channel. Sender and Fetcher are optional:
// without a Sender replies go inline or nowhere, without a Fetcher file
// handles are dropped.
type Webhook struct {
	Adapter channel.Adapter
	Sender  *channel.Sender
	Fetcher channel.Fetcher
}

// Config wires required dependencies for the HTTP server. Documents,
// Weather and Media are optional and their endpoints answer 404 when unset.
type Config struct {
	Router         Inbound
	Accounts       *account.Service
	Store          store.Store
	Documents      Documents
	Weather        Forecaster
	Media          storage.ObjectStore
	Webhooks       []Webhook
	WebhookLimiter ratelimit.Limiter
	ChatLimiter    ratelimit.Limiter
	LoginLimiter   ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	MaxUploadBytes int64
}

// Server exposes the web API and the channel webhooks.
type Server struct {
	router         Inbound
	accounts       *account.Service
	store          store.Store
	documents      Documents
	weather        Forecaster
	media          storage.ObjectStore
	web            *channel.Web
	webhooks       map[domain.Channel]Webhook
	webhookLimiter ratelimit.Limiter
	chatLimiter    ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
	trusted        *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("router required")
	}
	if cfg.Accounts == nil {
		return nil, errors.New("account service required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	hooks := make(map[domain.Channel]Webhook, len(cfg.Webhooks))
	for _, h := range cfg.Webhooks {
		if h.Adapter == nil {
			return nil, errors.New("webhook adapter required")
		}
		ch := h.Adapter.Channel()
		if ch == domain.ChannelWeb {
			return nil, errors.New("the web channel is served by /api/chat")
		}
		hooks[ch] = h
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	s := &Server{
		router:         cfg.Router,
		accounts:       cfg.Accounts,
		store:          cfg.Store,
		documents:      cfg.Documents,
		weather:        cfg.Weather,
		media:          cfg.Media,
		web:            channel.NewWeb(),
		webhooks:       hooks,
		webhookLimiter: cfg.WebhookLimiter,
		chatLimiter:    cfg.ChatLimiter,
		loginLimiter:   cfg.LoginLimiter,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSOrigins,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.corsOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.Handle("POST /api/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("GET /api/profile", s.authenticated(s.handleGetProfile))
	s.mux.Handle("PUT /api/profile", s.authenticated(s.handleUpdateProfile))
	s.mux.Handle("DELETE /api/profile", s.authenticated(s.handleDeleteProfile))
	s.mux.Handle("GET /api/user/stats", s.authenticated(s.handleStats))
	s.mux.Handle("GET /api/ai/providers", s.authenticated(s.handleListProviders))
	s.mux.Handle("PUT /api/user/ai-provider", s.authenticated(s.handleSetProvider))

	s.mux.Handle("POST /api/chat", s.authenticated(s.handleChat))
	s.mux.Handle("GET /api/conversations", s.authenticated(s.handleConversations))
	s.mux.Handle("POST /api/documents", s.authenticated(s.handleUpload))
	s.mux.Handle("GET /api/documents", s.authenticated(s.handleListDocuments))
	s.mux.Handle("GET /api/documents/{id}", s.authenticated(s.handleDocumentStatus))

	s.mux.HandleFunc("POST /api/weather", s.handleWeather)
	s.mux.Handle("GET /api/subscriptions", s.authenticated(s.handleListSubscriptions))
	s.mux.Handle("POST /api/subscriptions", s.authenticated(s.handleCreateSubscription))
	s.mux.Handle("DELETE /api/subscriptions/{id}", s.authenticated(s.handleDeleteSubscription))

	s.mux.HandleFunc("GET /webhooks/{channel}", s.handleWebhook)
	s.mux.HandleFunc("POST /webhooks/{channel}", s.handleWebhook)

	s.mux.HandleFunc("GET /media/{key...}", s.handleMedia)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.accounts.Authenticate(r.Context(), token)
		if err != nil {
			s.security(r, "token_rejected", domain.ChannelWeb)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("user_id", user.ID)
		next(w, r.WithContext(util.ContextWithLogger(r.Context(), logger)), user)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

// security logs one security_event line.
func (s *Server) security(r *http.Request, event string, ch domain.Channel, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"ip", s.clientIP(r),
		"channel", ch,
		"path", r.URL.Path,
	}
	logAttrs = append(logAttrs, attrs...)
	util.LoggerFromContext(r.Context()).Warn("security_event", logAttrs...)
}

// allowRate applies limiter to key; a nil limiter allows everything.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, key string, ch domain.Channel) bool {
	if limiter == nil || limiter.Allow(r.Context(), key) {
		return true
	}
	s.security(r, "rate_limited", ch)
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
