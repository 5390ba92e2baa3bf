package channel

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

const (
	discordTextLimit = 2000

	// DiscordCommand is the slash command farmers use to ask a question.
	DiscordCommand       = "ask"
	discordCommandOption = "message"
)

// Discord handles interactions posted to the interactions endpoint URL.
type Discord struct {
	publicKey ed25519.PublicKey
}

// NewDiscord parses the application's hex-encoded Ed25519 public key.
func NewDiscord(publicKeyHex string) (*Discord, error) {
	key, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("discord public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
	}
	return &Discord{publicKey: ed25519.PublicKey(key)}, nil
}

func (a *Discord) Channel() domain.Channel { return domain.ChannelDiscord }

func (a *Discord) verify(r *http.Request, body []byte) bool {
	r.Body = io.NopCloser(bytes.NewReader(body))
	return discordgo.VerifyInteraction(r, a.publicKey)
}

// Handshake answers PING interactions.
func (a *Discord) Handshake(w http.ResponseWriter, r *http.Request, body []byte) bool {
	var ping struct {
		Type discordgo.InteractionType `json:"type"`
	}
	if err := json.Unmarshal(body, &ping); err != nil || ping.Type != discordgo.InteractionPing {
		return false
	}
	if !a.verify(r, body) {
		http.Error(w, "invalid request signature", http.StatusUnauthorized)
		return true
	}
	writeDiscordResponse(w, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	return true
}

func (a *Discord) ParseInbound(r *http.Request, body []byte) ([]domain.InboundMessage, error) {
	if !a.verify(r, body) {
		return nil, ErrBadSignature
	}
	var interaction discordgo.Interaction
	if err := json.Unmarshal(body, &interaction); err != nil {
		return nil, ErrIgnored
	}
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return nil, ErrIgnored
	}
	data := interaction.ApplicationCommandData()
	if data.Name != DiscordCommand {
		return nil, ErrIgnored
	}
	var text string
	for _, opt := range data.Options {
		if opt.Name == discordCommandOption && opt.Type == discordgo.ApplicationCommandOptionString {
			text = opt.StringValue()
		}
	}
	user := interaction.User
	if interaction.Member != nil && interaction.Member.User != nil {
		user = interaction.Member.User
	}
	if user == nil {
		return nil, ErrIgnored
	}
	return []domain.InboundMessage{{
		Channel:     domain.ChannelDiscord,
		SenderID:    user.ID,
		DisplayName: discordName(user),
		Text:        strings.TrimSpace(text),
	}}, nil
}

type discordSend struct {
	Content string `json:"content"`
}

// RenderOutbound produces direct-message payloads addressed to a user id.
func (a *Discord) RenderOutbound(reply domain.OutboundReply) ([]Payload, error) {
	var out []Payload
	for _, segment := range SplitText(reply.Text, discordTextLimit) {
		data, err := json.Marshal(discordSend{Content: segment})
		if err != nil {
			return nil, err
		}
		out = append(out, Payload{Recipient: reply.Recipient, ContentType: "application/json", Body: data})
	}
	return out, nil
}

// WriteInline answers the interaction with a channel message.
func (a *Discord) WriteInline(w http.ResponseWriter, reply domain.OutboundReply) error {
	segments := SplitText(reply.Text, discordTextLimit)
	if len(segments) == 0 {
		return fmt.Errorf("discord inline reply is empty")
	}
	writeDiscordResponse(w, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: segments[0]},
	})
	return nil
}

func (a *Discord) Ack(w http.ResponseWriter) {
	writeDiscordResponse(w, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: "Received.", Flags: discordgo.MessageFlagsEphemeral},
	})
}

func writeDiscordResponse(w http.ResponseWriter, resp *discordgo.InteractionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func discordName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// DiscordTransport delivers direct messages through a bot session.
type DiscordTransport struct {
	session *discordgo.Session
}

func NewDiscordTransport(session *discordgo.Session) *DiscordTransport {
	return &DiscordTransport{session: session}
}

func (t *DiscordTransport) Deliver(ctx context.Context, p Payload) error {
	var msg discordSend
	if err := json.Unmarshal(p.Body, &msg); err != nil {
		return err
	}
	dm, err := t.session.UserChannelCreate(p.Recipient, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	_, err = t.session.ChannelMessageSend(dm.ID, msg.Content, discordgo.WithContext(ctx))
	return err
}

// InboundHandler answers one inbound message.
type InboundHandler func(ctx context.Context, msg domain.InboundMessage) (domain.OutboundReply, error)

// DiscordBot answers direct messages and mentions over the gateway.
type DiscordBot struct {
	session *discordgo.Session
	handle  InboundHandler
	timeout time.Duration
	logger  *slog.Logger
}

// NewDiscordSession opens an unconnected bot session with the intents the bot needs.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return session, nil
}

func NewDiscordBot(session *discordgo.Session, handle InboundHandler, timeout time.Duration, logger *slog.Logger) *DiscordBot {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordBot{session: session, handle: handle, timeout: timeout, logger: logger}
}

// Open connects to the gateway and registers the /ask command.
func (b *DiscordBot) Open() error {
	b.session.AddHandler(b.onMessageCreate)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	_, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", &discordgo.ApplicationCommand{
		Name:        DiscordCommand,
		Description: "Ask AgriSense a farming question",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        discordCommandOption,
			Description: "Your question",
			Required:    true,
		}},
	})
	if err != nil {
		b.logger.Warn("discord command registration failed", "error", err)
	}
	return nil
}

func (b *DiscordBot) Close() error {
	return b.session.Close()
}

func (b *DiscordBot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || s.State == nil || s.State.User == nil || m.Author.ID == s.State.User.ID {
		return
	}
	text, ok := botPrompt(m.Message, s.State.User.ID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	reply, err := b.handle(ctx, domain.InboundMessage{
		Channel:     domain.ChannelDiscord,
		SenderID:    m.Author.ID,
		DisplayName: discordName(m.Author),
		Text:        text,
	})
	if err != nil {
		b.logger.Warn("discord message not answered", "error", err, "channel", domain.ChannelDiscord)
		return
	}
	for _, segment := range SplitText(reply.Text, discordTextLimit) {
		if _, err := s.ChannelMessageSend(m.ChannelID, segment, discordgo.WithContext(ctx)); err != nil {
			b.logger.Warn("discord reply failed", "error", err)
			return
		}
	}
}

// botPrompt returns the question in a direct message or a message that
// mentions the bot, with the mention removed.
func botPrompt(m *discordgo.Message, botID string) (string, bool) {
	if m.GuildID == "" {
		text := strings.TrimSpace(m.Content)
		return text, text != ""
	}
	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return "", false
	}
	text := strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(m.Content)
	text = strings.TrimSpace(text)
	return text, text != ""
}
