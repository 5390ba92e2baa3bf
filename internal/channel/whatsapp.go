package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

const whatsAppTextLimit = 4096

// WhatsApp handles WhatsApp Cloud API webhooks.
type WhatsApp struct {
	metaWebhook
}

// NewWhatsApp builds the adapter; appSecret signs POST bodies and
// verifyToken answers the subscription handshake.
func NewWhatsApp(verifyToken, appSecret string) *WhatsApp {
	return &WhatsApp{metaWebhook{verifyToken: verifyToken, appSecret: appSecret}}
}

func (a *WhatsApp) Channel() domain.Channel { return domain.ChannelWhatsApp }

type whatsAppPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []whatsAppMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

type whatsAppMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Document *whatsAppMedia `json:"document"`
}

// ParseInbound extracts text and document messages; status callbacks are ignored.
func (a *WhatsApp) ParseInbound(r *http.Request, body []byte) ([]domain.InboundMessage, error) {
	if err := a.verify(r, body); err != nil {
		return nil, err
	}
	var payload whatsAppPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrIgnored
	}
	var out []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				msg := domain.InboundMessage{
					Channel:     domain.ChannelWhatsApp,
					SenderID:    m.From,
					DisplayName: names[m.From],
				}
				switch m.Type {
				case "text":
					msg.Text = strings.TrimSpace(m.Text.Body)
				case "document":
					if m.Document == nil {
						continue
					}
					msg.Text = strings.TrimSpace(m.Document.Caption)
					msg.Attachments = []domain.Attachment{{
						Filename:    m.Document.Filename,
						ContentType: m.Document.MimeType,
						Ref:         m.Document.ID,
					}}
				default:
					continue
				}
				if msg.DisplayName == "" && len(change.Value.Contacts) == 1 {
					msg.DisplayName = change.Value.Contacts[0].Profile.Name
				}
				out = append(out, msg)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrIgnored
	}
	return out, nil
}

type whatsAppText struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

func (a *WhatsApp) RenderOutbound(reply domain.OutboundReply) ([]Payload, error) {
	var out []Payload
	segments := SplitText(reply.Text, whatsAppTextLimit)
	if reply.VoiceURL != "" && len(segments) > 0 {
		segments[len(segments)-1] += "\n\n" + reply.VoiceURL
	}
	for _, segment := range segments {
		msg := whatsAppText{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               strings.TrimPrefix(reply.Recipient, "+"),
			Type:             "text",
		}
		msg.Text.Body = segment
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, Payload{Recipient: reply.Recipient, ContentType: "application/json", Body: data})
	}
	return out, nil
}

func (a *WhatsApp) Ack(w http.ResponseWriter) { writeJSONAck(w) }

// WhatsAppTransport sends messages and downloads media through the Graph API.
type WhatsAppTransport struct {
	client        apiClient
	baseURL       string
	accessToken   string
	phoneNumberID string
	maxMedia      int64
}

// NewWhatsAppTransport returns a Graph API transport; an empty baseURL
// selects DefaultGraphURL.
func NewWhatsAppTransport(accessToken, phoneNumberID, baseURL string, maxMedia int64, client *http.Client) *WhatsAppTransport {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	if maxMedia <= 0 {
		maxMedia = 16 << 20
	}
	return &WhatsAppTransport{
		client:        newAPIClient(client),
		baseURL:       strings.TrimRight(baseURL, "/"),
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		maxMedia:      maxMedia,
	}
}

func (t *WhatsAppTransport) Deliver(ctx context.Context, p Payload) error {
	endpoint := fmt.Sprintf("%s/%s/messages", t.baseURL, url.PathEscape(t.phoneNumberID))
	_, err := t.client.post(ctx, endpoint, p, bearer(t.accessToken))
	return err
}

// Fetch resolves a media id to its download URL and downloads it.
func (t *WhatsAppTransport) Fetch(ctx context.Context, att domain.Attachment) ([]byte, error) {
	raw, err := t.client.get(ctx, t.baseURL+"/"+url.PathEscape(att.Ref), bearer(t.accessToken), 1<<20)
	if err != nil {
		return nil, err
	}
	var media struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &media); err != nil || media.URL == "" {
		return nil, fmt.Errorf("whatsapp media %s: no download url", att.Ref)
	}
	return t.client.get(ctx, media.URL, bearer(t.accessToken), t.maxMedia)
}
