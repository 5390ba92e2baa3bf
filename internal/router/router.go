// Package router turns a channel-independent inbound message into a reply:
// it resolves the farmer, picks the reply language, gathers context and
// records the exchange.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/completion"
	"github.com/Darknivht/agrisense-ai/internal/ingest"
	"github.com/Darknivht/agrisense-ai/internal/langdetect"
	"github.com/Darknivht/agrisense-ai/internal/retrieval"
	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/internal/weather"
	"github.com/Darknivht/agrisense-ai/pkg/ai"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/storage"
	"github.com/Darknivht/agrisense-ai/pkg/store"
)

var (
	// ErrValidation marks input rejected before any work is done.
	ErrValidation = errors.New("invalid message")
	// ErrPersistence marks a request that failed because the database did.
	ErrPersistence = errors.New("persistence failure")
	// ErrDeactivated marks a message from a user who closed their account.
	// It wraps ErrValidation so webhooks acknowledge it without replying.
	ErrDeactivated = fmt.Errorf("%w: account deactivated", ErrValidation)
)

// Completer produces replies; *completion.Engine implements it.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (completion.Result, error)
}

// Retriever supplies document context; *retrieval.Service implements it.
type Retriever interface {
	Query(ctx context.Context, userID, text string, k int) ([]retrieval.Snippet, error)
	HasDocuments(ctx context.Context, userID string) (bool, error)
}

// Uploader accepts attachments; *ingest.Pipeline implements it.
type Uploader interface {
	Submit(ctx context.Context, userID, filename string, data []byte) (ingest.Submission, error)
}

// Forecaster supplies weather context; *weather.Client implements it.
type Forecaster interface {
	Lookup(ctx context.Context, location string) weather.Forecast
}

// Deps are the collaborators of a Router. Store, Detector and Completer
// are required; a nil optional collaborator switches its feature off.
type Deps struct {
	Store     store.Store
	Detector  *langdetect.Detector
	Completer Completer
	Retriever Retriever
	Uploader  Uploader
	Weather   Forecaster
	Speaker   ai.Speaker
	Objects   storage.ObjectStore
}

// Config tunes the router.
type Config struct {
	TopK            int
	HistoryTurns    int
	MaxMessageRunes int
	VoiceURLExpiry  time.Duration
}

// Router coordinates one inbound message at a time; it is safe for
// concurrent use.
type Router struct {
	store     store.Store
	detector  *langdetect.Detector
	completer Completer
	retriever Retriever
	uploader  Uploader
	weather   Forecaster
	speaker   ai.Speaker
	objects   storage.ObjectStore
	cfg       Config
	now       func() time.Time
}

func New(deps Deps, cfg Config) (*Router, error) {
	if deps.Store == nil {
		return nil, errors.New("store required")
	}
	if deps.Detector == nil {
		return nil, errors.New("language detector required")
	}
	if deps.Completer == nil {
		return nil, errors.New("completer required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 5
	}
	if cfg.MaxMessageRunes <= 0 {
		cfg.MaxMessageRunes = 2000
	}
	if cfg.VoiceURLExpiry <= 0 {
		cfg.VoiceURLExpiry = 24 * time.Hour
	}
	r := &Router{
		store:     deps.Store,
		detector:  deps.Detector,
		completer: deps.Completer,
		retriever: deps.Retriever,
		uploader:  deps.Uploader,
		weather:   deps.Weather,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if deps.Speaker != nil && deps.Objects != nil {
		r.speaker = deps.Speaker
		r.objects = deps.Objects
	}
	return r, nil
}

// HandleInbound answers msg. Completion failures become a localized apology
// and are still recorded; only validation and persistence failures are
// returned as errors.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) (domain.OutboundReply, error) {
	start := r.now()
	logger := util.LoggerFromContext(ctx).With("channel", msg.Channel)
	ctx = util.ContextWithLogger(ctx, logger)

	if _, ok := domain.ParseChannel(string(msg.Channel)); !ok {
		return domain.OutboundReply{}, fmt.Errorf("%w: unknown channel %q", ErrValidation, msg.Channel)
	}
	text := Sanitize(msg.Text, r.cfg.MaxMessageRunes)
	var files []domain.Attachment
	for _, att := range msg.Attachments {
		if len(att.Data) > 0 {
			files = append(files, att)
		}
	}
	if text == "" && len(files) == 0 {
		return domain.OutboundReply{}, fmt.Errorf("%w: message is empty", ErrValidation)
	}

	detected := r.detector.Detect(text)
	user, created, err := r.resolveUser(ctx, msg, detected)
	if err != nil {
		return domain.OutboundReply{}, err
	}
	logger = logger.With("user_id", user.ID)
	ctx = util.ContextWithLogger(ctx, logger)
	if msg.Channel != domain.ChannelWeb && (user.LastChannel != msg.Channel || user.LastRecipient != msg.SenderID) {
		if err := r.store.TouchChannel(ctx, user.ID, msg.Channel, msg.SenderID); err != nil {
			logger.Error("record last channel failed", "err", err)
			return domain.OutboundReply{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	lang, confidence := chooseLanguage(msg, detected, user)
	recipient := msg.SenderID
	if msg.Channel == domain.ChannelWeb {
		recipient = user.ID
	}
	reply := domain.OutboundReply{
		Channel:   msg.Channel,
		Recipient: recipient,
		UserID:    user.ID,
		Language:  lang,
		WantVoice: msg.Channel == domain.ChannelWeb && r.speaker != nil,
	}
	conv := domain.Conversation{
		ID:         util.NewID(),
		UserID:     user.ID,
		SessionID:  msg.SessionID,
		Channel:    msg.Channel,
		Message:    text,
		Language:   lang,
		Confidence: confidence,
		CreatedAt:  start,
	}

	notes := r.ingestAttachments(ctx, user.ID, lang, files, &reply)
	var parts []string
	if created {
		parts = append(parts, Text(TextGreeting, lang))
	}
	parts = append(parts, notes...)

	switch {
	case text == "":
		conv.Message = "[document] " + attachmentNames(files)
		conv.Intent = IntentDocument
	case IsHelpRequest(text):
		conv.Intent = IntentHelp
		conv.ModelUsed = "help"
		parts = append(parts, Text(TextHelp, lang))
	default:
		conv.Intent = DetectIntent(text)
		history, err := r.store.ListConversations(ctx, user.ID, r.cfg.HistoryTurns)
		if err != nil {
			logger.Error("load history failed", "err", err)
			return domain.OutboundReply{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		snippets, sources := r.buildContext(ctx, user, conv.Intent, text)
		conv.RAGSources = sources
		res, err := r.completer.Complete(ctx, completion.Request{
			History:  history,
			Language: lang,
			Context:  snippets,
			Message:  text,
			Provider: user.PreferredProvider,
		})
		if err != nil {
			logger.Warn("answering with apology", "err", err)
			conv.Failed = true
			reply.Failed = true
			parts = append(parts, Text(TextApology, lang))
		} else {
			conv.ModelUsed = res.Model
			reply.Model = res.Model
			reply.Suggestions = Suggestions(conv.Intent, lang)
			parts = append(parts, res.Reply)
		}
	}
	reply.Text = strings.Join(parts, "\n\n")

	if reply.WantVoice && !reply.Failed {
		reply.VoiceURL = r.synthesize(ctx, conv.ID, reply.Text)
	}

	conv.Reply = reply.Text
	conv.ProcessingMs = r.now().Sub(start).Milliseconds()
	if err := r.store.AppendConversation(ctx, conv); err != nil {
		logger.Error("persist conversation failed", "err", err)
		return domain.OutboundReply{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	logger.Info("message answered",
		"intent", conv.Intent,
		"language", lang,
		"model", conv.ModelUsed,
		"failed", conv.Failed,
		"processing_ms", conv.ProcessingMs,
	)
	return reply, nil
}

// chooseLanguage applies the explicit override, then the detector, then the
// user's preferred language, then English.
func chooseLanguage(msg domain.InboundMessage, detected langdetect.Result, user domain.User) (domain.Language, float64) {
	if lang, ok := domain.ParseLanguage(string(msg.Language)); ok {
		return lang, 1
	}
	if !detected.Ambiguous {
		return detected.Language, detected.Confidence
	}
	if lang, ok := domain.ParseLanguage(string(user.PreferredLanguage)); ok {
		return lang, detected.Confidence
	}
	return domain.DefaultLanguage, detected.Confidence
}

func (r *Router) buildContext(ctx context.Context, user domain.User, intent, text string) ([]string, []string) {
	logger := util.LoggerFromContext(ctx)
	var snippets, sources []string
	if intent == IntentWeather && r.weather != nil && strings.TrimSpace(user.Location) != "" {
		snippets = append(snippets, weather.Summary(r.weather.Lookup(ctx, user.Location)))
	}
	if r.retriever == nil {
		return snippets, nil
	}
	has, err := r.retriever.HasDocuments(ctx, user.ID)
	if err != nil {
		logger.Warn("document count failed", "err", err)
		return snippets, nil
	}
	if !has {
		return snippets, nil
	}
	found, err := r.retriever.Query(ctx, user.ID, text, r.cfg.TopK)
	if err != nil {
		logger.Warn("retrieval failed, answering without documents", "err", err)
		return snippets, nil
	}
	seen := map[string]bool{}
	for _, s := range found {
		snippets = append(snippets, s.Content)
		if !seen[s.DocumentID] {
			seen[s.DocumentID] = true
			sources = append(sources, s.DocumentID)
		}
	}
	return snippets, sources
}

func (r *Router) ingestAttachments(ctx context.Context, userID string, lang domain.Language, files []domain.Attachment, reply *domain.OutboundReply) []string {
	if len(files) == 0 {
		return nil
	}
	logger := util.LoggerFromContext(ctx)
	var notes []string
	for _, f := range files {
		name := f.Filename
		if name == "" {
			name = "document"
		}
		if r.uploader == nil {
			logger.Info("attachment ignored, documents disabled", "filename", name)
			continue
		}
		sub, err := r.uploader.Submit(ctx, userID, name, f.Data)
		if err != nil {
			if retrieval.IngestionError(err) {
				logger.Warn("attachment rejected", "filename", name, "err", err)
			} else {
				logger.Error("attachment ingestion failed", "filename", name, "err", err)
			}
			notes = append(notes, Text(TextDocumentFailed, lang, name))
			continue
		}
		reply.DocumentID = sub.DocumentID
		if sub.Status == domain.DocumentQueued {
			notes = append(notes, Text(TextDocumentQueued, lang, name))
		} else {
			notes = append(notes, Text(TextDocumentReceived, lang, name))
		}
	}
	return notes
}

func (r *Router) synthesize(ctx context.Context, convID, text string) string {
	logger := util.LoggerFromContext(ctx)
	audio, contentType, err := r.speaker.Speak(ctx, text)
	if err != nil {
		logger.Warn("voice synthesis failed", "err", err)
		return ""
	}
	key := "voice/" + convID + voiceExt(contentType)
	if err := r.objects.Put(ctx, key, bytes.NewReader(audio), int64(len(audio)), contentType); err != nil {
		logger.Warn("store voice reply failed", "err", err)
		return ""
	}
	url, err := r.objects.URL(ctx, key, r.cfg.VoiceURLExpiry)
	if err != nil {
		logger.Warn("voice url failed", "err", err)
		return ""
	}
	return url
}

func voiceExt(contentType string) string {
	switch contentType {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".mp3"
	}
}

func attachmentNames(files []domain.Attachment) string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Filename)
	}
	return strings.Join(names, ", ")
}

