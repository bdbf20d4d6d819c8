// Package handlers contains the HTTP endpoints for the chart bot.
package handlers

import (
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"go.uber.org/zap"

	"github.com/linwei/chartline/config"
	"github.com/linwei/chartline/errors"
	"github.com/linwei/chartline/server/batch"
	"github.com/linwei/chartline/server/metrics"
	"github.com/linwei/chartline/server/middleware"
)

// WebhookHandler receives platform callback events, verifies the
// request signature, and dispatches each event to the coordinator.
type WebhookHandler struct {
	coordinator *batch.Coordinator
	watcher     config.Watcher
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewWebhookHandler creates the webhook endpoint handler.
func NewWebhookHandler(coordinator *batch.Coordinator, watcher config.Watcher, logger *zap.Logger, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{
		coordinator: coordinator,
		watcher:     watcher,
		logger:      logger,
		metrics:     m,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.watcher.GetCurrentConfig()
	requestID := middleware.RequestIDFromContext(r.Context())

	cb, err := webhook.ParseRequest(cfg.Line.ChannelSecret, r)
	if err != nil {
		// Covers both malformed bodies and signature mismatches.
		// Rejecting with 400 keeps the platform from retrying forged
		// requests.
		errors.LogError(h.logger, errors.NewValidationError(requestID, "webhook verification failed", nil), requestID)
		errors.ErrorWithType(w, "invalid webhook request", errors.ValidationError, http.StatusBadRequest)
		return
	}

	for _, event := range cb.Events {
		h.dispatch(r, event)
	}

	// The platform only needs an acknowledgement; event handling that
	// outlives the request (the debounce flush) runs on its own.
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) dispatch(r *http.Request, event webhook.EventInterface) {
	switch e := event.(type) {
	case webhook.MessageEvent:
		userID := sourceUserID(e.Source)
		if userID == "" {
			h.metrics.WebhookEventsTotal.WithLabelValues("unsupported").Inc()
			return
		}
		switch msg := e.Message.(type) {
		case webhook.TextMessageContent:
			h.metrics.WebhookEventsTotal.WithLabelValues("text").Inc()
			h.coordinator.HandleText(r.Context(), userID, e.ReplyToken, msg.Text)
		case webhook.ImageMessageContent:
			h.metrics.WebhookEventsTotal.WithLabelValues("image").Inc()
			h.coordinator.HandleImage(r.Context(), userID, e.ReplyToken, msg.Id)
		default:
			h.metrics.WebhookEventsTotal.WithLabelValues("unsupported").Inc()
		}

	case webhook.FollowEvent:
		userID := sourceUserID(e.Source)
		h.metrics.WebhookEventsTotal.WithLabelValues("follow").Inc()
		h.coordinator.HandleFollow(userID, e.ReplyToken)

	default:
		h.metrics.WebhookEventsTotal.WithLabelValues("unsupported").Inc()
	}
}

// sourceUserID extracts the user ID from an event source. Group and
// room sources are ignored: the bot keeps per-user state and only
// supports one-on-one chats.
func sourceUserID(source webhook.SourceInterface) string {
	if u, ok := source.(webhook.UserSource); ok {
		return u.UserId
	}
	return ""
}
