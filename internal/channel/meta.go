package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// DefaultGraphURL is the Meta Graph API base used by WhatsApp and Instagram.
const DefaultGraphURL = "https://graph.facebook.com/v18.0"

// metaWebhook implements the subscription handshake and payload signature
// shared by Meta platforms.
type metaWebhook struct {
	verifyToken string
	appSecret   string
}

// Handshake answers GET hub.challenge verification requests.
func (m metaWebhook) Handshake(w http.ResponseWriter, r *http.Request, _ []byte) bool {
	if r.Method != http.MethodGet {
		return false
	}
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" || m.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(m.verifyToken)) != 1 {
		http.Error(w, "verification failed", http.StatusForbidden)
		return true
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
	return true
}

// verify checks X-Hub-Signature-256 against the app secret.
func (m metaWebhook) verify(r *http.Request, body []byte) error {
	if m.appSecret == "" {
		return ErrBadSignature
	}
	header := r.Header.Get("X-Hub-Signature-256")
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(got, MetaSignature(m.appSecret, body)) {
		return ErrBadSignature
	}
	return nil
}

// MetaSignature computes the raw HMAC-SHA256 Meta attaches to webhook bodies.
func MetaSignature(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
