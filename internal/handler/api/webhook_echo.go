package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"SignalGate/internal/usecase"
	xlogger "SignalGate/pkg/logger"
)

const (
	HeaderWebhookSecret = "X-Webhook-Secret"
	HeaderTraceID       = "X-Trace-Id"
	HeaderStrategyID    = "X-Strategy-Id"
)

// WebhookEchoHandler receives alert deliveries. Every delivery gets a 200
// with the admission result; rejections are data, not transport errors.
type WebhookEchoHandler struct {
	logger   *xlogger.Logger
	ingestor *usecase.Ingestor
	maxBody  int64
}

func NewWebhookEchoHandler(logger *xlogger.Logger, ingestor *usecase.Ingestor, maxBody int64) *WebhookEchoHandler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &WebhookEchoHandler{logger: logger, ingestor: ingestor, maxBody: maxBody}
}

func (h *WebhookEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
	e.POST("/webhook/:strategy", h.Receive)
}

func (h *WebhookEchoHandler) Receive(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, h.maxBody))
	if err != nil {
		// an unreadable body is admitted as-is and persisted as INVALID_JSON
		h.logger.Warn("webhook body read failed", xlogger.Error(err))
	}

	hint := c.Param("strategy")
	if hint == "" {
		hint = req.Header.Get(HeaderStrategyID)
	}
	if hint == "" {
		hint = c.QueryParam("strategy")
	}

	resp := h.ingestor.Ingest(req.Context(), usecase.IngestRequest{
		StrategyHint: hint,
		Secret:       req.Header.Get(HeaderWebhookSecret),
		TraceID:      req.Header.Get(HeaderTraceID),
		Body:         body,
	})
	c.Response().Header().Set(HeaderTraceID, resp.TraceID)
	return c.JSON(http.StatusOK, resp)
}
