// Package handlers contains the echo HTTP handlers.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ospreybot/osprey/internal/channel"
)

const maxWebhookBody = 1 << 20

// MessageProcessor runs the engine pipeline for one inbound message and
// returns the reply text; an empty reply means no response is sent.
type MessageProcessor interface {
	HandleMessage(ctx context.Context, msg channel.InboundMessage) (string, error)
}

// WebhookHandler receives transport webhook callbacks on
// POST /webhook/:channel, normalizes them through the channel registry and
// hands them to the engine. Replies are delivered asynchronously through the
// channel's sender when it has one.
type WebhookHandler struct {
	logger    *slog.Logger
	registry  *channel.Registry
	processor MessageProcessor
	// token, when set, must be presented as a bearer token.
	token string
}

func NewWebhookHandler(log *slog.Logger, registry *channel.Registry, processor MessageProcessor, token string) *WebhookHandler {
	return &WebhookHandler{
		logger:    log.With(slog.String("handler", "webhook")),
		registry:  registry,
		processor: processor,
		token:     token,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/:channel", h.Receive)
}

func (h *WebhookHandler) Receive(c echo.Context) error {
	if h.token != "" && bearerToken(c.Request()) != h.token {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	channelType := channel.ChannelType(strings.ToLower(c.Param("channel")))
	adapter, ok := h.registry.Get(channelType)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown channel"})
	}
	parser, ok := adapter.(channel.WebhookParser)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "channel does not accept webhooks"})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "read body"})
	}

	requestID := uuid.NewString()
	log := h.logger.With(
		slog.String("request_id", requestID),
		slog.String("channel", channelType.String()))

	msg, ok, err := parser.ParseWebhook(body)
	if err != nil {
		log.Warn("webhook decode failed", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad payload"})
	}
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}

	reply, err := h.processor.HandleMessage(c.Request().Context(), msg)
	if err != nil {
		log.Error("message handling failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
	if reply == "" {
		return c.NoContent(http.StatusNoContent)
	}

	if sender, ok := h.registry.Sender(channelType); ok {
		// The webhook caller gets an immediate ack; delivery happens out of
		// band so slow transports cannot stall retries on the caller side.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sender.Send(ctx, channel.OutboundMessage{ChatID: msg.ChatID, Text: reply}); err != nil {
				log.Error("reply delivery failed", slog.Any("error", err))
			}
		}()
		return c.NoContent(http.StatusAccepted)
	}

	// Channels without a sender (tests, synchronous integrations) get the
	// reply in the webhook response body.
	return c.JSON(http.StatusOK, map[string]string{"reply": reply})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
