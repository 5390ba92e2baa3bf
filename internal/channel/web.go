package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

// ErrBadLanguage is returned for a web chat request naming an unknown language.
var ErrBadLanguage = errors.New("channel: unsupported language")

// Web decodes authenticated chat requests from the web client. The caller
// fills in SenderID from the session.
type Web struct{}

func NewWeb() *Web { return &Web{} }

func (a *Web) Channel() domain.Channel { return domain.ChannelWeb }

type webChatRequest struct {
	Message   string `json:"message"`
	Language  string `json:"language"`
	SessionID string `json:"session_id"`
}

// WebChatResponse is the JSON body returned by the chat endpoint.
type WebChatResponse struct {
	Reply       string          `json:"reply"`
	VoiceURL    string          `json:"voice_url,omitempty"`
	Language    domain.Language `json:"language"`
	DocumentID  string          `json:"document_id,omitempty"`
	AIProvider  string          `json:"ai_provider,omitempty"`
	Suggestions []string        `json:"suggestions"`
}

func (a *Web) ParseInbound(_ *http.Request, body []byte) ([]domain.InboundMessage, error) {
	var req webChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	msg := domain.InboundMessage{
		Channel:   domain.ChannelWeb,
		Text:      strings.TrimSpace(req.Message),
		SessionID: strings.TrimSpace(req.SessionID),
	}
	if strings.TrimSpace(req.Language) != "" {
		lang, ok := domain.ParseLanguage(req.Language)
		if !ok {
			return nil, ErrBadLanguage
		}
		msg.Language = lang
	}
	return []domain.InboundMessage{msg}, nil
}

func (a *Web) RenderOutbound(reply domain.OutboundReply) ([]Payload, error) {
	data, err := json.Marshal(webResponse(reply))
	if err != nil {
		return nil, err
	}
	return []Payload{{Recipient: reply.Recipient, ContentType: "application/json", Body: data}}, nil
}

func (a *Web) WriteInline(w http.ResponseWriter, reply domain.OutboundReply) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(webResponse(reply))
}

func (a *Web) Ack(w http.ResponseWriter) { writeJSONAck(w) }

func webResponse(reply domain.OutboundReply) WebChatResponse {
	suggestions := reply.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return WebChatResponse{
		Reply:       reply.Text,
		VoiceURL:    reply.VoiceURL,
		Language:    reply.Language,
		DocumentID:  reply.DocumentID,
		AIProvider:  reply.Model,
		Suggestions: suggestions,
	}
}
