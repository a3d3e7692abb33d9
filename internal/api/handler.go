// Package api is the HTTP front-end of the assistant.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tanpawarit/chative-router/internal/agent/graph/conversations"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const defaultMaxMessageRunes = 10000

// TurnRunner runs one turn; emit receives answer fragments and returns false to abort.
type TurnRunner interface {
	Run(ctx context.Context, in model.QueryInput, emit func(chunk string) bool) (model.TurnResult, error)
}

type SessionResetter interface {
	Reset(ctx context.Context, sessionID string) error
}

type ChatHandler struct {
	Runner   TurnRunner
	Sessions SessionResetter
	// Health reports whether dependencies are reachable; nil means always healthy.
	Health          func(ctx context.Context) error
	MaxMessageRunes int
}

type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Stream         bool   `json:"stream,omitempty"`
}

func RegisterRoutes(router gin.IRoutes, h *ChatHandler) {
	router.POST("/v1/chat", h.HandleChat)
	router.DELETE("/v1/sessions/:id", h.HandleDeleteSession)
	router.GET("/healthz", h.HandleHealth)
}

func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	limit := h.MaxMessageRunes
	if limit <= 0 {
		limit = defaultMaxMessageRunes
	}
	if len([]rune(req.Message)) > limit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}

	in := model.QueryInput{
		ConversationID: strings.TrimSpace(req.ConversationID),
		Query:          req.Message,
		ClientAddr:     c.ClientIP(),
	}
	if in.ConversationID == "" {
		in.ConversationID = conversations.NewSessionID()
	}
	c.Header("X-Conversation-ID", in.ConversationID)

	if req.Stream {
		h.streamChat(c, in)
		return
	}

	res, err := h.Runner.Run(c.Request.Context(), in, nil)
	if err != nil {
		status, body := errorResponse(err)
		logx.Warn().Err(err).Str("conversation_id", in.ConversationID).Int("status", status).Msg("chat turn failed")
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ChatHandler) streamChat(c *gin.Context, in model.QueryInput) {
	streamer, err := newSSEStreamer(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unavailable"})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	res, err := h.Runner.Run(c.Request.Context(), in, func(chunk string) bool {
		return streamer.SendToken(chunk) == nil
	})
	if err != nil {
		if c.Request.Context().Err() != nil {
			logx.Debug().Str("conversation_id", in.ConversationID).Msg("client went away mid-stream")
			return
		}
		logx.Warn().Err(err).Str("conversation_id", in.ConversationID).Msg("streamed chat turn failed")
		_, body := errorResponse(err)
		_ = streamer.SendError(body["error"].(string))
		return
	}
	_ = streamer.SendDone(res)
}

func (h *ChatHandler) HandleDeleteSession(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}
	if err := h.Sessions.Reset(c.Request.Context(), id); err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) HandleHealth(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			logx.Warn().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorResponse maps an error onto a status and a message safe for end users.
func errorResponse(err error) (int, gin.H) {
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Status == http.StatusBadRequest {
		return http.StatusBadRequest, gin.H{"error": appErr.Message}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{"error": errx.UserMessage(err)}
	case errx.IsKind(err, errx.KindExternalService):
		return http.StatusBadGateway, gin.H{"error": errx.UserMessage(err)}
	default:
		return http.StatusInternalServerError, gin.H{"error": errx.UserMessage(err)}
	}
}
