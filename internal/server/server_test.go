package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/account"
	"github.com/Darknivht/agrisense-ai/internal/channel"
	"github.com/Darknivht/agrisense-ai/internal/completion"
	"github.com/Darknivht/agrisense-ai/internal/ingest"
	"github.com/Darknivht/agrisense-ai/internal/langdetect"
	"github.com/Darknivht/agrisense-ai/internal/ratelimit"
	"github.com/Darknivht/agrisense-ai/internal/retrieval"
	"github.com/Darknivht/agrisense-ai/internal/router"
	"github.com/Darknivht/agrisense-ai/internal/weather"
	"github.com/Darknivht/agrisense-ai/pkg/ai"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/storage"
	"github.com/Darknivht/agrisense-ai/pkg/store"
	"github.com/Darknivht/agrisense-ai/pkg/vector"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testPassword       = "Maize-Harvest-2024"
	testTelegramSecret = "tg-secret"
)

type recordingTransport struct {
	mu       sync.Mutex
	payloads []channel.Payload
}

func (t *recordingTransport) Deliver(_ context.Context, p channel.Payload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payloads = append(t.payloads, p)
	return nil
}

func (t *recordingTransport) messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, p := range t.payloads {
		form, _ := url.ParseQuery(string(p.Body))
		out = append(out, form.Get("message"))
	}
	return out
}

type fixedModel struct {
	name  string
	reply string
}

func (m fixedModel) Name() string { return m.name }

func (m fixedModel) Complete(context.Context, ai.ChatRequest) (string, error) { return m.reply, nil }

type stubForecaster struct{}

func (stubForecaster) Lookup(_ context.Context, location string) weather.Forecast {
	return weather.Forecast{Location: location, Temperature: 31, Description: "clear sky", Advice: "Irrigate early."}
}

type harness struct {
	srv   *httptest.Server
	store *store.GormStore
	sms   *recordingTransport
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	st, err := store.NewGormStore("sqlite://" + filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sessions, err := store.NewJWTSessionStore(strings.Repeat("k", 32), time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	engine, err := completion.New(ai.NewRuleBased(), nil, completion.Config{
		DefaultProvider: "rules",
		Providers:       map[string]ai.ChatModel{"echo": fixedModel{name: "echo:v1", reply: "Echo says plant after the first rains."}},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	accounts, err := account.New(st, sessions, account.WithProviders(engine))
	if err != nil {
		t.Fatalf("new accounts: %v", err)
	}
	idx, err := vector.NewChromem("")
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	svc, err := retrieval.New(st, idx, ai.NewHashingEmbedder(128), retrieval.Config{ChunkSize: 200, ChunkOverlap: 20})
	if err != nil {
		t.Fatalf("new retrieval: %v", err)
	}
	pipeline, err := ingest.New(ingest.Config{Ingester: svc, Docs: st})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	rt, err := router.New(router.Deps{
		Store:     st,
		Detector:  langdetect.New(),
		Completer: engine,
		Retriever: svc,
		Uploader:  pipeline,
		Weather:   stubForecaster{},
	}, router.Config{})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	smsTransport := &recordingTransport{}
	sms := channel.NewSMS("sandbox", "12345")
	cfg := Config{
		Router:    rt,
		Accounts:  accounts,
		Store:     st,
		Documents: pipeline,
		Weather:   stubForecaster{},
		Webhooks: []Webhook{
			{Adapter: sms, Sender: channel.NewSender(sms, smsTransport)},
			{Adapter: channel.NewTelegram(testTelegramSecret)},
		},
		MaxUploadBytes: 1 << 20,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, store: st, sms: smsTransport}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (h *harness) register(t *testing.T, phone string) string {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/api/register", "", map[string]any{
		"name":     "Ahmad Ibrahim",
		"phone":    phone,
		"password": testPassword,
		"location": "taruni",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Token == "" {
		t.Fatalf("register response: %s", body)
	}
	return out.Token
}

func TestSMSWebhookAnswersAndRecords(t *testing.T) {
	h := newHarness(t, nil)
	form := url.Values{"from": {"+2348012345678"}, "to": {"12345"}, "text": {"fertilizer advice needed"}}
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, body := send(t, req)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("unexpected ack: %d %q", resp.StatusCode, body)
	}

	msgs := h.sms.messages()
	if len(msgs) == 0 {
		t.Fatalf("no sms delivered")
	}
	for _, m := range msgs {
		if len([]rune(m)) > 160 {
			t.Fatalf("sms segment too long: %d", len([]rune(m)))
		}
	}
	if !strings.Contains(strings.Join(msgs, " "), "NPK 15-15-15") {
		t.Fatalf("expected fertilizer advice, got %q", msgs)
	}

	user, ok, err := h.store.GetUserByPhone(context.Background(), "+2348012345678")
	if err != nil || !ok {
		t.Fatalf("user not created: ok=%v err=%v", ok, err)
	}
	convs, err := h.store.ListConversations(context.Background(), user.ID, 0)
	if err != nil || len(convs) != 1 || convs[0].Channel != domain.ChannelSMS {
		t.Fatalf("expected one sms conversation, got %+v err=%v", convs, err)
	}
}

func TestDisabledChannelIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	for _, path := range []string{"/webhooks/whatsapp", "/webhooks/web", "/webhooks/fax"} {
		resp, _ := h.do(t, http.MethodPost, path, "", map[string]string{})
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestTelegramWebhookRepliesInline(t *testing.T) {
	h := newHarness(t, nil)
	update := `{"update_id":1,"message":{"message_id":5,"chat":{"id":777},"from":{"id":777,"first_name":"Musa"},"text":"/start"}}`

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/webhooks/telegram", strings.NewReader(update))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	if resp, _ := send(t, req); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad secret, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, h.srv.URL+"/webhooks/telegram", strings.NewReader(update))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", testTelegramSecret)
	resp, body := send(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	out, err := url.ParseQuery(string(body))
	if err != nil {
		t.Fatalf("decode inline reply: %v: %s", err, body)
	}
	if out.Get("method") != "sendMessage" || out.Get("chat_id") != "777" || !strings.Contains(out.Get("text"), router.Text(router.TextHelp, domain.LangEnglish)) {
		t.Fatalf("unexpected inline reply: %v", out)
	}
}

func TestRegisterLoginAndChat(t *testing.T) {
	h := newHarness(t, nil)
	token := h.register(t, "8012345678")

	resp, body := h.do(t, http.MethodPost, "/api/register", "", map[string]any{"name": "Someone Else", "phone": "08012345678"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate phone, got %d: %s", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/register", "", map[string]any{"name": "X", "phone": "08012345678"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad name, got %d", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodPost, "/api/login", "", map[string]string{"phone": "+234 801 234 5678", "password": testPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", resp.StatusCode, body)
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/chat", "", map[string]string{"message": "hi"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "fertilizer advice needed", "language": "ha"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: %d %s", resp.StatusCode, body)
	}
	var chat channel.WebChatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if chat.Language != domain.LangHausa || !strings.Contains(chat.Reply, "NPK 15-15-15") {
		t.Fatalf("unexpected chat reply: %+v", chat)
	}
	if chat.AIProvider != "rules" || len(chat.Suggestions) != 3 {
		t.Fatalf("expected provider and three suggestions: %+v", chat)
	}
	for _, s := range chat.Suggestions {
		if s == "Neman shawarar taki" {
			t.Fatalf("suggestions should skip the topic just asked about: %v", chat.Suggestions)
		}
	}
	resp, _ = h.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hi", "language": "fr"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown language, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodGet, "/api/conversations?limit=500", token, nil)
	var list struct {
		Count int                   `json:"count"`
		Items []domain.Conversation `json:"items"`
	}
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &list) != nil || list.Count != 1 {
		t.Fatalf("conversations: %d %s", resp.StatusCode, body)
	}
	if list.Items[0].Channel != domain.ChannelWeb || list.Items[0].SessionID == "" {
		t.Fatalf("unexpected conversation: %+v", list.Items[0])
	}

	resp, _ = h.do(t, http.MethodDelete, "/api/profile", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/profile", token, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after deactivation, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindow(client, "test:login", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	h := newHarness(t, func(c *Config) { c.LoginLimiter = limiter })

	creds := map[string]string{"phone": "8012345678", "password": "wrong-password"}
	resp, _ := h.do(t, http.MethodPost, "/api/login", "", creds)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first login expected 401, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/login", "", creds)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestDocumentUpload(t *testing.T) {
	h := newHarness(t, nil)
	token := h.register(t, "8030000001")

	upload := func(name, content string) (*http.Response, []byte) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
		_ = mw.Close()
		req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/documents", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		return send(t, req)
	}

	text := "Maize grows best in well drained soil. Apply fertilizer at planting and again six weeks later. Watch for armyworm after the first rains."
	resp, body := upload("maize-guide.txt", text)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", resp.StatusCode, body)
	}
	var sub ingest.Submission
	if err := json.Unmarshal(body, &sub); err != nil || sub.Status != domain.DocumentProcessed {
		t.Fatalf("unexpected submission: %s", body)
	}
	resp, _ = upload("maize-guide.txt", text)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate upload expected 200, got %d", resp.StatusCode)
	}
	resp, body = upload("virus.exe", "MZ")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unsupported type, got %d: %s", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/documents/"+sub.DocumentID, token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"processed"`) {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/documents/unknown", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown document, got %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodGet, "/api/documents", token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"count":1`) {
		t.Fatalf("list documents: %d %s", resp.StatusCode, body)
	}
}

func TestWeatherAndSubscriptions(t *testing.T) {
	h := newHarness(t, nil)
	token := h.register(t, "8030000002")

	resp, body := h.do(t, http.MethodPost, "/api/weather", "", map[string]string{"location": "Kano"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"location":"Kano"`) {
		t.Fatalf("weather: %d %s", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/weather", "", map[string]string{"location": " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty location, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/subscriptions", token, map[string]any{"location": "Kano", "alert_types": []string{"tornado"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown alert type, got %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodPost, "/api/subscriptions", token, map[string]any{"location": "Kano", "alert_types": []string{"heat", "HEAVY_RAIN", "heat"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: %d %s", resp.StatusCode, body)
	}
	var sub domain.WeatherSubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatalf("decode subscription: %v", err)
	}
	if len(sub.AlertTypes) != 2 || sub.Frequency != "daily" || !sub.Active {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	resp, _ = h.do(t, http.MethodDelete, "/api/subscriptions/"+sub.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete subscription: %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodDelete, "/api/subscriptions/missing", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown subscription, got %d", resp.StatusCode)
	}
	active, err := h.store.ListActiveSubscriptions(context.Background())
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active subscriptions, got %+v err=%v", active, err)
	}
}

func TestProviderPreferenceAndStats(t *testing.T) {
	h := newHarness(t, nil)
	token := h.register(t, "8030000003")

	var providers account.Providers
	resp, body := h.do(t, http.MethodGet, "/api/ai/providers", token, nil)
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &providers) != nil {
		t.Fatalf("providers: %d %s", resp.StatusCode, body)
	}
	if strings.Join(providers.Providers, ",") != "rules,echo" || providers.Current != "rules" {
		t.Fatalf("unexpected providers %+v", providers)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/ai/providers", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPut, "/api/user/ai-provider", token, map[string]string{"provider": "mistral"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown provider, got %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodPut, "/api/user/ai-provider", token, map[string]string{"provider": "echo"})
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &providers) != nil || providers.Current != "echo" {
		t.Fatalf("set provider: %d %s", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "when should I plant maize", "language": "en"})
	var chat channel.WebChatResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &chat) != nil {
		t.Fatalf("chat: %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(chat.Reply, "Echo says") || chat.AIProvider != "echo:v1" {
		t.Fatalf("preferred provider not used: %+v", chat)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/subscriptions", token, map[string]any{"location": "Kano", "alert_types": []string{"heat"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: %d", resp.StatusCode)
	}
	var stats account.Stats
	resp, body = h.do(t, http.MethodGet, "/api/user/stats", token, nil)
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &stats) != nil {
		t.Fatalf("stats: %d %s", resp.StatusCode, body)
	}
	if stats != (account.Stats{Conversations: 1, ActiveAlerts: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestMediaOnlyServesVoice(t *testing.T) {
	media, err := storage.NewFileStore(t.TempDir(), "/media/")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	for key, body := range map[string]string{"voice/reply.mp3": "ID3", "documents/u1/doc.txt": "private"} {
		if err := media.Put(ctx, key, strings.NewReader(body), int64(len(body)), ""); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	h := newHarness(t, func(c *Config) { c.Media = media })

	resp, body := h.do(t, http.MethodGet, "/media/voice/reply.mp3", "", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "ID3" {
		t.Fatalf("voice: %d %q", resp.StatusCode, body)
	}
	for _, path := range []string{"/media/documents/u1/doc.txt", "/media/voice/missing.mp3"} {
		if resp, _ := h.do(t, http.MethodGet, path, "", nil); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
	if resp, _ := h.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}
