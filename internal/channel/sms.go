package channel

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

const (
	smsSegmentLimit = 160

	// AfricasTalkingURL is the production messaging endpoint.
	AfricasTalkingURL = "https://api.africastalking.com/version1/messaging"
	// AfricasTalkingSandboxURL is used when the account username is "sandbox".
	AfricasTalkingSandboxURL = "https://api.sandbox.africastalking.com/version1/messaging"
)

// SMS handles Africa's Talking incoming-message callbacks.
type SMS struct {
	username  string
	shortcode string
}

// NewSMS builds the SMS adapter for the given Africa's Talking account.
func NewSMS(username, shortcode string) *SMS {
	return &SMS{username: strings.TrimSpace(username), shortcode: strings.TrimSpace(shortcode)}
}

func (a *SMS) Channel() domain.Channel { return domain.ChannelSMS }

// ParseInbound reads the form-encoded callback (from, to, text, id, date).
func (a *SMS) ParseInbound(r *http.Request, body []byte) ([]domain.InboundMessage, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, ErrIgnored
	}
	from := strings.TrimSpace(form.Get("from"))
	if from == "" {
		return nil, ErrIgnored
	}
	return []domain.InboundMessage{{
		Channel:  domain.ChannelSMS,
		SenderID: from,
		Text:     strings.TrimSpace(form.Get("text")),
	}}, nil
}

// RenderOutbound splits the reply into 160 character messages.
func (a *SMS) RenderOutbound(reply domain.OutboundReply) ([]Payload, error) {
	var out []Payload
	for _, segment := range SplitText(reply.Text, smsSegmentLimit) {
		form := url.Values{}
		form.Set("username", a.username)
		form.Set("to", reply.Recipient)
		form.Set("message", segment)
		if a.shortcode != "" {
			form.Set("from", a.shortcode)
		}
		out = append(out, Payload{
			Recipient:   reply.Recipient,
			ContentType: "application/x-www-form-urlencoded",
			Body:        []byte(form.Encode()),
		})
	}
	return out, nil
}

// Ack answers the callback with a plain-text acknowledgement.
func (a *SMS) Ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// AfricasTalkingTransport sends SMS through the Africa's Talking REST API.
type AfricasTalkingTransport struct {
	client  apiClient
	apiKey  string
	baseURL string
}

// NewAfricasTalkingTransport returns a transport for the account; an empty
// baseURL selects the sandbox or production endpoint from the username.
func NewAfricasTalkingTransport(apiKey, username, baseURL string, client *http.Client) *AfricasTalkingTransport {
	if baseURL == "" {
		baseURL = AfricasTalkingURL
		if strings.EqualFold(strings.TrimSpace(username), "sandbox") {
			baseURL = AfricasTalkingSandboxURL
		}
	}
	return &AfricasTalkingTransport{client: newAPIClient(client), apiKey: apiKey, baseURL: baseURL}
}

func (t *AfricasTalkingTransport) Deliver(ctx context.Context, p Payload) error {
	header := http.Header{}
	header.Set("apiKey", t.apiKey)
	header.Set("Accept", "application/json")
	_, err := t.client.post(ctx, t.baseURL, p, header)
	return err
}
