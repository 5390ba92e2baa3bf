package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Darknivht/agrisense-ai/internal/channel"
	"github.com/Darknivht/agrisense-ai/internal/router"
	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

const maxWebhookBytes = 1 << 20

// handleWebhook runs one platform callback: verify, parse, answer each
// message through the router, then reply inline or push via the sender.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ch, ok := domain.ParseChannel(r.PathValue("channel"))
	hook, enabled := s.webhooks[ch]
	if !ok || !enabled {
		http.NotFound(w, r)
		return
	}
	logger := util.LoggerFromContext(r.Context()).With("channel", ch)
	ctx := util.ContextWithLogger(r.Context(), logger)
	r = r.WithContext(ctx)

	if !s.allowRate(w, r, s.webhookLimiter, string(ch)+"|"+s.clientIP(r), ch) {
		return
	}
	limit := int64(maxWebhookBytes)
	if ch == domain.ChannelEmail {
		// Email attachments arrive base64 encoded in the body.
		limit += 2 * s.maxUploadBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if hs, ok := hook.Adapter.(channel.Handshaker); ok && hs.Handshake(w, r, body) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	msgs, err := hook.Adapter.ParseInbound(r, body)
	switch {
	case errors.Is(err, channel.ErrIgnored):
		hook.Adapter.Ack(w)
		return
	case errors.Is(err, channel.ErrBadSignature):
		s.security(r, "bad_signature", ch)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case err != nil:
		logger.Info("webhook payload rejected", "err", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	inline, canInline := hook.Adapter.(channel.InlineReplier)
	canInline = canInline && len(msgs) == 1
	for _, msg := range msgs {
		msg.Attachments = s.fetchAttachments(ctx, hook, msg.Attachments)
		reply, err := s.router.HandleInbound(ctx, msg)
		if errors.Is(err, router.ErrValidation) {
			logger.Info("inbound message rejected", "err", err)
			continue
		}
		if err != nil {
			writeRouterError(w, err)
			return
		}
		if canInline {
			if err := inline.WriteInline(w, reply); err == nil {
				return
			}
		}
		if hook.Sender == nil {
			logger.Warn("no transport for reply", "provider", ch)
			continue
		}
		if err := hook.Sender.Send(ctx, reply); err != nil {
			logger.Warn("reply delivery failed", "provider", ch, "err", err)
		}
	}
	hook.Adapter.Ack(w)
}

// fetchAttachments downloads attachments that arrived as file handles.
// Failed downloads are dropped so the text still gets an answer.
func (s *Server) fetchAttachments(ctx context.Context, hook Webhook, atts []domain.Attachment) []domain.Attachment {
	if len(atts) == 0 {
		return atts
	}
	logger := util.LoggerFromContext(ctx)
	out := make([]domain.Attachment, 0, len(atts))
	for _, att := range atts {
		if len(att.Data) == 0 && att.Ref != "" {
			if hook.Fetcher == nil {
				continue
			}
			data, err := hook.Fetcher.Fetch(ctx, att)
			if err != nil {
				logger.Warn("attachment download failed", "filename", att.Filename, "err", err)
				continue
			}
			att.Data = data
		}
		out = append(out, att)
	}
	return out
}
