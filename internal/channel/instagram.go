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

const instagramTextLimit = 1000

// Instagram handles Instagram Messaging webhooks.
type Instagram struct {
	metaWebhook
}

func NewInstagram(verifyToken, appSecret string) *Instagram {
	return &Instagram{metaWebhook{verifyToken: verifyToken, appSecret: appSecret}}
}

func (a *Instagram) Channel() domain.Channel { return domain.ChannelInstagram }

type instagramPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				Mid    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

func (a *Instagram) ParseInbound(r *http.Request, body []byte) ([]domain.InboundMessage, error) {
	if err := a.verify(r, body); err != nil {
		return nil, err
	}
	var payload instagramPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrIgnored
	}
	var out []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil || ev.Message.IsEcho || ev.Sender.ID == "" || ev.Sender.ID == entry.ID {
				continue
			}
			out = append(out, domain.InboundMessage{
				Channel:  domain.ChannelInstagram,
				SenderID: ev.Sender.ID,
				Text:     strings.TrimSpace(ev.Message.Text),
			})
		}
	}
	if len(out) == 0 {
		return nil, ErrIgnored
	}
	return out, nil
}

type instagramSend struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

func (a *Instagram) RenderOutbound(reply domain.OutboundReply) ([]Payload, error) {
	var out []Payload
	for _, segment := range SplitText(reply.Text, instagramTextLimit) {
		var msg instagramSend
		msg.Recipient.ID = reply.Recipient
		msg.Message.Text = segment
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, Payload{Recipient: reply.Recipient, ContentType: "application/json", Body: data})
	}
	return out, nil
}

func (a *Instagram) Ack(w http.ResponseWriter) { writeJSONAck(w) }

// InstagramTransport sends messages from the connected page.
type InstagramTransport struct {
	client      apiClient
	baseURL     string
	accessToken string
	pageID      string
}

func NewInstagramTransport(accessToken, pageID, baseURL string, client *http.Client) *InstagramTransport {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	return &InstagramTransport{
		client:      newAPIClient(client),
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		pageID:      pageID,
	}
}

func (t *InstagramTransport) Deliver(ctx context.Context, p Payload) error {
	endpoint := fmt.Sprintf("%s/%s/messages", t.baseURL, url.PathEscape(t.pageID))
	_, err := t.client.post(ctx, endpoint, p, bearer(t.accessToken))
	return err
}
