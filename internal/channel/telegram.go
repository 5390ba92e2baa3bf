package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramTextLimit = 4096

	// DefaultTelegramURL is the Bot API host.
	DefaultTelegramURL = "https://api.telegram.org"
)

// Telegram handles Bot API webhook updates.
type Telegram struct {
	secret string
}

// NewTelegram builds the adapter; secret must match the
// X-Telegram-Bot-Api-Secret-Token header set with setWebhook.
func NewTelegram(secret string) *Telegram {
	return &Telegram{secret: secret}
}

func (a *Telegram) Channel() domain.Channel { return domain.ChannelTelegram }

func (a *Telegram) ParseInbound(r *http.Request, body []byte) ([]domain.InboundMessage, error) {
	got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	if a.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.secret)) != 1 {
		return nil, ErrBadSignature
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, ErrIgnored
	}
	m := update.Message
	if m == nil || m.Chat == nil || (m.From != nil && m.From.IsBot) {
		return nil, ErrIgnored
	}
	msg := domain.InboundMessage{
		Channel:  domain.ChannelTelegram,
		SenderID: strconv.FormatInt(m.Chat.ID, 10),
		Text:     helpCommand(m.Text),
	}
	if m.From != nil {
		msg.DisplayName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	if m.Document != nil {
		msg.Text = strings.TrimSpace(m.Caption)
		msg.Attachments = []domain.Attachment{{
			Filename:    m.Document.FileName,
			ContentType: m.Document.MimeType,
			Ref:         m.Document.FileID,
		}}
	}
	if msg.Text == "" && len(msg.Attachments) == 0 {
		return nil, ErrIgnored
	}
	return []domain.InboundMessage{msg}, nil
}

type telegramSend struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (m telegramSend) config() (tgbotapi.MessageConfig, error) {
	chatID, err := strconv.ParseInt(m.ChatID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("telegram chat id %q: %w", m.ChatID, err)
	}
	return tgbotapi.NewMessage(chatID, m.Text), nil
}

func (a *Telegram) RenderOutbound(reply domain.OutboundReply) ([]Payload, error) {
	var out []Payload
	for _, segment := range telegramSegments(reply) {
		data, err := json.Marshal(telegramSend{ChatID: reply.Recipient, Text: segment})
		if err != nil {
			return nil, err
		}
		out = append(out, Payload{Recipient: reply.Recipient, ContentType: "application/json", Body: data})
	}
	return out, nil
}

// WriteInline answers the webhook with a sendMessage call, which the Bot API
// executes on our behalf.
func (a *Telegram) WriteInline(w http.ResponseWriter, reply domain.OutboundReply) error {
	segments := telegramSegments(reply)
	if len(segments) != 1 {
		return fmt.Errorf("telegram inline reply needs exactly one segment, got %d", len(segments))
	}
	cfg, err := telegramSend{ChatID: reply.Recipient, Text: segments[0]}.config()
	if err != nil {
		return err
	}
	return tgbotapi.WriteToHTTPResponse(w, cfg)
}

func telegramSegments(reply domain.OutboundReply) []string {
	text := reply.Text
	if reply.VoiceURL != "" {
		text += "\n\n" + reply.VoiceURL
	}
	return SplitText(text, telegramTextLimit)
}

func (a *Telegram) Ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// TelegramTransport calls the Bot API through tgbotapi.
type TelegramTransport struct {
	bot      *tgbotapi.BotAPI
	http     *http.Client
	download apiClient
	fileURL  string
	maxMedia int64
}

// NewTelegramTransport skips the getMe round trip tgbotapi's constructors
// make, so building it never touches the network.
func NewTelegramTransport(token, baseURL string, maxMedia int64, client *http.Client) *TelegramTransport {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if maxMedia <= 0 {
		maxMedia = 16 << 20
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	bot := &tgbotapi.BotAPI{Token: token, Client: client, Buffer: 100}
	bot.SetAPIEndpoint(baseURL + "/bot%s/%s")
	return &TelegramTransport{
		bot:      bot,
		http:     client,
		download: newAPIClient(client),
		fileURL:  baseURL + "/file/bot" + token + "/",
		maxMedia: maxMedia,
	}
}

// withContext returns a copy of the bot whose requests carry ctx.
func (t *TelegramTransport) withContext(ctx context.Context) *tgbotapi.BotAPI {
	bot := *t.bot
	bot.Client = telegramDoer{ctx: ctx, client: t.http}
	return &bot
}

func (t *TelegramTransport) Deliver(ctx context.Context, p Payload) error {
	var m telegramSend
	if err := json.Unmarshal(p.Body, &m); err != nil {
		return fmt.Errorf("decode telegram payload: %w", err)
	}
	cfg, err := m.config()
	if err != nil {
		return err
	}
	_, err = t.withContext(ctx).Send(cfg)
	return err
}

// Fetch resolves a file_id with getFile and downloads the file.
func (t *TelegramTransport) Fetch(ctx context.Context, att domain.Attachment) ([]byte, error) {
	file, err := t.withContext(ctx).GetFile(tgbotapi.FileConfig{FileID: att.Ref})
	if err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile %s returned no path", att.Ref)
	}
	return t.download.get(ctx, t.fileURL+file.FilePath, nil, t.maxMedia)
}

// telegramDoer binds a context to tgbotapi's requests and reports failures
// by Bot API method so the token in the URL never reaches an error.
type telegramDoer struct {
	ctx    context.Context
	client *http.Client
}

func (d telegramDoer) Do(req *http.Request) (*http.Response, error) {
	method := path.Base(req.URL.Path)
	resp, err := d.client.Do(req.WithContext(d.ctx))
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200))
	}
	return resp, nil
}
