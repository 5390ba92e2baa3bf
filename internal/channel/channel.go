// Package channel translates between messaging platforms and the
// channel-independent inbound/outbound message types.
package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

var (
	// ErrBadSignature means the webhook request could not be authenticated.
	ErrBadSignature = errors.New("channel: bad signature")
	// ErrIgnored means the payload carries nothing the bot should answer
	// (delivery receipts, echoes, edits).
	ErrIgnored = errors.New("channel: nothing to handle")
)

// Payload is one platform-native outbound message.
type Payload struct {
	Recipient   string
	ContentType string
	Body        []byte
}

// Adapter is the two-operation contract every platform implements.
type Adapter interface {
	Channel() domain.Channel
	// ParseInbound authenticates and decodes a webhook request whose body
	// has already been read into body.
	ParseInbound(r *http.Request, body []byte) ([]domain.InboundMessage, error)
	// RenderOutbound converts a reply into the platform's message format,
	// split to the platform's length limit.
	RenderOutbound(reply domain.OutboundReply) ([]Payload, error)
	// Ack writes the response the platform expects once a webhook has been handled.
	Ack(w http.ResponseWriter)
}

// Handshaker answers platform verification requests that carry no message.
// It reports whether the request was consumed.
type Handshaker interface {
	Handshake(w http.ResponseWriter, r *http.Request, body []byte) bool
}

// InlineReplier is implemented by platforms whose webhook response can
// carry the reply itself.
type InlineReplier interface {
	WriteInline(w http.ResponseWriter, reply domain.OutboundReply) error
}

// Transport pushes a rendered payload through the platform API.
type Transport interface {
	Deliver(ctx context.Context, p Payload) error
}

// Fetcher downloads attachments that arrive as platform file handles.
type Fetcher interface {
	Fetch(ctx context.Context, att domain.Attachment) ([]byte, error)
}

// Sender renders replies and delivers them. It is used for webhook replies
// on push-only platforms and for weather alerts.
type Sender struct {
	adapter   Adapter
	transport Transport
}

// NewSender pairs an adapter with its platform transport.
func NewSender(adapter Adapter, transport Transport) *Sender {
	return &Sender{adapter: adapter, transport: transport}
}

// Channel reports which platform the sender delivers to.
func (s *Sender) Channel() domain.Channel {
	return s.adapter.Channel()
}

// Send delivers every segment of reply; it stops at the first failure.
func (s *Sender) Send(ctx context.Context, reply domain.OutboundReply) error {
	if s == nil || s.transport == nil {
		return fmt.Errorf("channel: no transport configured")
	}
	payloads, err := s.adapter.RenderOutbound(reply)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		if err := s.transport.Deliver(ctx, p); err != nil {
			return fmt.Errorf("deliver %s message: %w", s.adapter.Channel(), err)
		}
	}
	return nil
}

// SplitText cuts text into segments of at most limit runes, preferring
// line and word boundaries.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, strings.TrimSpace(string(runes)))
			break
		}
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i
				break
			}
		}
		part := strings.TrimSpace(string(runes[:cut]))
		if part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == ' ' || runes[0] == '\n') {
			runes = runes[1:]
		}
	}
	return parts
}

// helpCommand maps bot-style commands onto the help keyword the router understands.
func helpCommand(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	if lower == "/start" || lower == "/help" {
		return "help"
	}
	return trimmed
}

// apiClient posts payloads to a platform HTTP API.
type apiClient struct {
	http *http.Client
}

func newAPIClient(client *http.Client) apiClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return apiClient{http: client}
}

func (c apiClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Host, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func (c apiClient) post(ctx context.Context, url string, p Payload, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(p.Body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", p.ContentType)
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(req)
}

func (c apiClient) get(ctx context.Context, url string, header http.Header, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: status %d", req.URL.Host, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("attachment exceeds %d bytes", limit)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func writeJSONAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
