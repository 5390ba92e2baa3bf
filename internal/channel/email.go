package channel

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	gomail "github.com/wneessen/go-mail"
)

// Email handles JSON posts from an inbound-mail relay.
type Email struct {
	secret string
	from   string
}

// NewEmail builds the adapter. secret must arrive in X-Webhook-Secret;
// from is the address replies are sent from.
func NewEmail(secret, from string) *Email {
	return &Email{secret: secret, from: from}
}

func (a *Email) Channel() domain.Channel { return domain.ChannelEmail }

type inboundEmail struct {
	From        string `json:"from"`
	Subject     string `json:"subject"`
	Text        string `json:"text"`
	HTML        string `json:"html"`
	Attachments []struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		Content     string `json:"content"`
	} `json:"attachments"`
}

func (a *Email) ParseInbound(r *http.Request, body []byte) ([]domain.InboundMessage, error) {
	got := r.Header.Get("X-Webhook-Secret")
	if a.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.secret)) != 1 {
		return nil, ErrBadSignature
	}
	var in inboundEmail
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, ErrIgnored
	}
	addr, err := mail.ParseAddress(in.From)
	if err != nil {
		return nil, ErrIgnored
	}
	text := in.Text
	if strings.TrimSpace(text) == "" {
		text = util.StripHTML(in.HTML)
	}
	text = stripQuotedReply(text)
	if text == "" {
		text = strings.TrimSpace(stripReplyPrefix(in.Subject))
	}
	msg := domain.InboundMessage{
		Channel:     domain.ChannelEmail,
		SenderID:    strings.ToLower(addr.Address),
		DisplayName: addr.Name,
		Text:        text,
	}
	for _, att := range in.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Data:        data,
		})
	}
	if msg.Text == "" && len(msg.Attachments) == 0 {
		return nil, ErrIgnored
	}
	return []domain.InboundMessage{msg}, nil
}

// stripQuotedReply drops the quoted history mail clients append to replies.
func stripQuotedReply(text string) string {
	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func stripReplyPrefix(subject string) string {
	for {
		s := strings.TrimSpace(subject)
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"), strings.HasPrefix(lower, "fw:"):
			subject = s[3:]
		case strings.HasPrefix(lower, "fwd:"):
			subject = s[4:]
		default:
			return s
		}
	}
}

const emailSubject = "AgriSense reply"

// RenderOutbound builds a plain-text RFC 5322 message.
func (a *Email) RenderOutbound(reply domain.OutboundReply) ([]Payload, error) {
	text := reply.Text
	if reply.VoiceURL != "" {
		text += "\n\nListen: " + reply.VoiceURL
	}
	m := gomail.NewMsg()
	if err := m.From(a.from); err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	if err := m.To(reply.Recipient); err != nil {
		return nil, fmt.Errorf("email recipient: %w", err)
	}
	m.Subject(emailSubject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, text)
	var b bytes.Buffer
	if _, err := m.WriteTo(&b); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}
	return []Payload{{Recipient: reply.Recipient, ContentType: "message/rfc822", Body: b.Bytes()}}, nil
}

func (a *Email) Ack(w http.ResponseWriter) { writeJSONAck(w) }

// SMTPTransport relays rendered mail through an SMTP server, upgrading to
// TLS when the server offers STARTTLS.
type SMTPTransport struct {
	client *gomail.Client
	send   func(ctx context.Context, m *gomail.Msg) error
}

func NewSMTPTransport(host string, port int, username, password string) (*SMTPTransport, error) {
	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(20 * time.Second),
	}
	if port == 465 {
		opts = append(opts, gomail.WithSSL())
	}
	if username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(username),
			gomail.WithPassword(password),
		)
	}
	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	t := &SMTPTransport{client: client}
	t.send = func(ctx context.Context, m *gomail.Msg) error {
		return t.client.DialAndSendWithContext(ctx, m)
	}
	return t, nil
}

// Deliver re-reads the rendered message and sends it in its own SMTP session.
func (t *SMTPTransport) Deliver(ctx context.Context, p Payload) error {
	m, err := gomail.EMLToMsgFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("read rendered email: %w", err)
	}
	return t.send(ctx, m)
}
