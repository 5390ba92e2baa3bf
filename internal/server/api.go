package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Darknivht/agrisense-ai/internal/account"
	"github.com/Darknivht/agrisense-ai/internal/channel"
	"github.com/Darknivht/agrisense-ai/internal/retrieval"
	"github.com/Darknivht/agrisense-ai/internal/router"
	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/storage"
)

const (
	maxJSONBytes        = 1 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxLocationRunes    = 100
)

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token,omitempty"`
	User  domain.User `json:"user"`
}

type weatherRequest struct {
	Location string `json:"location"`
}

type subscriptionRequest struct {
	Location   string   `json:"location"`
	AlertTypes []string `json:"alert_types"`
	Frequency  string   `json:"frequency"`
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "register|"+s.clientIP(r), domain.ChannelWeb) {
		return
	}
	var req account.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "login|"+s.clientIP(r), domain.ChannelWeb) {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.accounts.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			s.security(r, "login_failed", domain.ChannelWeb)
		}
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.User) {
	token, _ := bearerToken(r)
	if err := s.accounts.Logout(r.Context(), token); err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	var upd account.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.accounts.UpdateProfile(r.Context(), user.ID, upd)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.accounts.Deactivate(r.Context(), user.ID); err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, user domain.User) {
	stats, err := s.accounts.Stats(r.Context(), user.ID)
	if err != nil {
		writeInternal(w, r, "user stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, s.accounts.AvailableProviders(user))
}

type providerRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req providerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.accounts.SetPreferredProvider(r.Context(), user.ID, req.Provider)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.accounts.AvailableProviders(updated))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.chatLimiter, "chat|"+user.ID, domain.ChannelWeb) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msgs, err := s.web.ParseInbound(r, body)
	if errors.Is(err, channel.ErrBadLanguage) {
		writeError(w, http.StatusBadRequest, "language must be one of en, ha, yo, ig, ff")
		return
	}
	if err != nil || len(msgs) != 1 {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg := msgs[0]
	msg.SenderID = user.ID
	if msg.SessionID == "" {
		msg.SessionID = util.NewSessionID()
	}
	reply, err := s.router.HandleInbound(r.Context(), msg)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	if err := s.web.WriteInline(w, reply); err != nil {
		util.LoggerFromContext(r.Context()).Warn("write chat reply failed", "err", err)
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit := defaultHistoryLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	convs, err := s.store.ListConversations(r.Context(), user.ID, limit)
	if err != nil {
		writeInternal(w, r, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": convs, "count": len(convs)})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.documents == nil {
		writeError(w, http.StatusNotFound, "document upload is disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	sub, err := s.documents.Submit(r.Context(), user.ID, header.Filename, data)
	if err != nil {
		if retrieval.IngestionError(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeInternal(w, r, "submit document", err)
		return
	}
	status := http.StatusCreated
	switch {
	case sub.Duplicate:
		status = http.StatusOK
	case sub.Status == domain.DocumentQueued:
		status = http.StatusAccepted
	}
	writeJSON(w, status, sub)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	docs, err := s.store.ListDocuments(r.Context(), user.ID)
	if err != nil {
		writeInternal(w, r, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.documents == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	state, ok, err := s.documents.Status(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeInternal(w, r, "document status", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if s.weather == nil {
		writeError(w, http.StatusNotFound, "weather is disabled")
		return
	}
	var req weatherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	location, msg := validLocation(req.Location)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	writeJSON(w, http.StatusOK, s.weather.Lookup(r.Context(), location))
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request, user domain.User) {
	subs, err := s.store.ListSubscriptions(r.Context(), user.ID)
	if err != nil {
		writeInternal(w, r, "list subscriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs, "count": len(subs)})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	location, msg := validLocation(req.Location)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	alerts := domain.AlertTypes
	if len(req.AlertTypes) > 0 {
		alerts = nil
		seen := map[domain.AlertType]bool{}
		for _, name := range req.AlertTypes {
			a, ok := domain.ParseAlertType(name)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown alert type: "+name)
				return
			}
			if !seen[a] {
				seen[a] = true
				alerts = append(alerts, a)
			}
		}
	}
	freq := strings.ToLower(strings.TrimSpace(req.Frequency))
	switch freq {
	case "":
		freq = domain.FrequencyDaily
	case domain.FrequencyDaily, domain.FrequencyTwiceDaily:
	default:
		writeError(w, http.StatusBadRequest, "frequency must be daily or twice_daily")
		return
	}
	now := time.Now().UTC()
	sub := domain.WeatherSubscription{
		ID:         util.NewID(),
		UserID:     user.ID,
		Location:   location,
		AlertTypes: alerts,
		Frequency:  freq,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveSubscription(r.Context(), sub); err != nil {
		writeInternal(w, r, "save subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request, user domain.User) {
	ok, err := s.store.SetSubscriptionActive(r.Context(), user.ID, r.PathValue("id"), false)
	if err != nil {
		writeInternal(w, r, "deactivate subscription", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

// handleMedia serves synthesized voice replies from local storage. Uploaded
// documents are never served.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if s.media == nil || !strings.HasPrefix(key, "voice/") {
		http.NotFound(w, r)
		return
	}
	rc, err := s.media.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeInternal(w, r, "read media", err)
		return
	}
	defer rc.Close()
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("stream media failed", "key", key, "err", err)
	}
}

func validLocation(raw string) (string, string) {
	location := strings.TrimSpace(raw)
	if location == "" {
		return "", "location is required"
	}
	if utf8.RuneCountInString(location) > maxLocationRunes {
		return "", "location is too long"
	}
	return location, ""
}

func (s *Server) writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *account.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, account.ErrPhoneTaken), errors.Is(err, account.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, account.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, account.ErrUserDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, account.ErrNoSessions):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeInternal(w, r, "account", err)
	}
}

func writeRouterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrPersistence):
		writeError(w, http.StatusInternalServerError, "could not save the conversation")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeInternal(w http.ResponseWriter, r *http.Request, op string, err error) {
	util.LoggerFromContext(r.Context()).Error(op+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
