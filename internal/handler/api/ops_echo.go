package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/service/strategy"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"
)

// OpsDeps are the read models and queue the operator endpoints expose.
type OpsDeps struct {
	Audit    domrepo.AuditLog
	Setups   domrepo.SetupStore
	States   domrepo.StateStore
	Index    domrepo.StateIndex
	Jobs     domrepo.JobQueue
	Registry *strategy.Registry
	Limiter  *ratelimit.Limiter
}

// OpsEchoHandler serves read-only inspection plus the job operator actions.
type OpsEchoHandler struct {
	OpsDeps
	logger *xlogger.Logger
}

func NewOpsEchoHandler(logger *xlogger.Logger, deps OpsDeps) *OpsEchoHandler {
	return &OpsEchoHandler{OpsDeps: deps, logger: logger}
}

func (h *OpsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/ops")
	if h.Limiter != nil {
		g.Use(h.rateLimit)
	}
	g.GET("/audit/events", h.AuditEvents)
	g.GET("/audit/decisions", h.AuditDecisions)
	g.GET("/setups", h.ListSetups)
	g.GET("/setups/:id", h.GetSetup)
	g.GET("/state", h.ListState)
	g.GET("/state/:key", h.GetState)
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob)
	g.POST("/jobs/:id/retry", h.jobAction("retry", h.Jobs.Retry))
	g.POST("/jobs/:id/cancel", h.jobAction("cancel", h.Jobs.Cancel))
	g.POST("/jobs/:id/approve", h.jobAction("approve", h.Jobs.Approve))
}

func (h *OpsEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.Limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c,
				xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many requests", http.StatusTooManyRequests))
		}
		return next(c)
	}
}

type strategyInfo struct {
	Engine     strategy.Engine      `json:"engine"`
	Mode       models.ExecutionMode `json:"mode"`
	Async      bool                 `json:"async"`
	Actionable []string             `json:"actionable"`
	Info       []string             `json:"info"`
}

// Health lists the loaded strategies with the event names each one accepts.
func (h *OpsEchoHandler) Health(c echo.Context) error {
	ids := []string{}
	catalogs := map[string]strategyInfo{}
	if h.Registry != nil {
		ids = h.Registry.IDs()
		for _, id := range ids {
			p, _ := h.Registry.Get(id)
			catalogs[id] = strategyInfo{
				Engine:     p.Engine,
				Mode:       p.Mode,
				Async:      p.Async(),
				Actionable: p.Catalog.Actionable(),
				Info:       p.Catalog.Info(),
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"strategies": ids,
		"catalogs":   catalogs,
	})
}

func (h *OpsEchoHandler) AuditEvents(c echo.Context) error {
	req := &models.AuditQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.Audit.ListEvents(c.Request().Context(), req.Strategy, req.Limit)
	if err != nil {
		return h.fail(c, "audit events", err)
	}
	for n := range rows {
		rows[n].Payload = redactPayload(rows[n].Payload)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

const redacted = "[REDACTED]"

var redactedJSON = json.RawMessage(`"` + redacted + `"`)

// redactPayload masks the body passphrase in the operator view. The stored
// forensic payload keeps it. A non-object body that mentions it is masked whole.
func redactPayload(raw json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		if strings.Contains(strings.ToLower(string(raw)), "passphrase") {
			return redactedJSON
		}
		return raw
	}
	hit := false
	for k := range obj {
		if strings.EqualFold(k, "passphrase") {
			obj[k] = redactedJSON
			hit = true
		}
	}
	if !hit {
		return raw
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return redactedJSON
	}
	return out
}

func (h *OpsEchoHandler) AuditDecisions(c echo.Context) error {
	req := &models.AuditQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.Audit.ListDecisions(c.Request().Context(), req.Strategy, req.Limit)
	if err != nil {
		return h.fail(c, "audit decisions", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsEchoHandler) ListSetups(c echo.Context) error {
	req := &models.SetupQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.Setups.List(c.Request().Context(), req.Strategy, strings.ToUpper(req.Symbol), req.Limit)
	if err != nil {
		return h.fail(c, "list setups", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsEchoHandler) GetSetup(c echo.Context) error {
	id := c.Param("id")
	s, err := h.Setups.Get(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "get setup", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *OpsEchoHandler) ListState(c echo.Context) error {
	req := &models.StateQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.Index.ListRecent(c.Request().Context(), req.Prefix, req.Limit)
	if err != nil {
		return h.fail(c, "list state", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsEchoHandler) GetState(c echo.Context) error {
	key := c.Param("key")
	st, err := h.States.Get(c.Request().Context(), key)
	if err != nil {
		return h.fail(c, "get state", err)
	}
	if st == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("state %q not found", key))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *OpsEchoHandler) ListJobs(c echo.Context) error {
	req := &models.JobQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.Jobs.List(c.Request().Context(), models.JobFilter{
		Status: models.JobStatus(req.Status),
		Type:   req.Type,
		Limit:  req.Limit,
	})
	if err != nil {
		return h.fail(c, "list jobs", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsEchoHandler) GetJob(c echo.Context) error {
	job, err := h.Jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "get job", err)
	}
	return xhttp.SuccessResponse(c, job)
}

type jobTransition func(ctx context.Context, jobID string) (*models.Job, error)

func (h *OpsEchoHandler) jobAction(name string, fn jobTransition) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		job, err := fn(c.Request().Context(), id)
		if err != nil {
			return h.fail(c, name+" job", err)
		}
		h.logger.Info("job "+name,
			xlogger.String("job_id", id),
			xlogger.String("status", string(job.Status)),
			xlogger.Int("approvals", job.Approvals))
		return xhttp.SuccessResponse(c, job)
	}
}

// fail maps store errors onto operator responses.
func (h *OpsEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%s: not found", op))
	case errors.Is(err, domrepo.ErrConflict):
		return xhttp.AppErrorResponse(c, xhttp.ConflictErrorf("%s", err.Error()))
	}
	h.logger.Error("ops "+op+" failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}
