package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/middleware"
	"SignalGate/internal/repository"
	"SignalGate/internal/service/execution"
	"SignalGate/internal/service/normalize"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/service/strategy"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/cache"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

const testStrategies = `
strategies:
  - id: trend
    engine: trend
  - id: gated
    engine: trend
    required_approvals: 1
`

type fixture struct {
	e    *echo.Echo
	jobs *repository.MemoryJobQueue
}

func newFixture(t *testing.T, secret string, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(testStrategies))
	require.NoError(t, err)
	reg, err := strategy.NewRegistry(cfg.Strategies)
	require.NoError(t, err)

	kv := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Hour))
	t.Cleanup(func() { _ = kv.Close() })

	log := xlogger.Nop()
	m := metrics.Nop{}
	now := func() time.Time { return time.Date(2024, 3, 12, 14, 35, 0, 0, time.UTC) }

	jobs := repository.NewMemoryJobQueue(time.Minute).WithClock(now)
	events := repository.NewMemoryEventStore(100)
	audit := repository.NewCacheAuditLog(kv, 100, time.Hour)
	states := repository.NewCacheStateStore(kv)
	index := repository.NewCacheStateIndex(kv, time.Hour).WithClock(now)
	setups := repository.NewCacheSetupStore(kv, 50, time.Hour)

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Idempotency: repository.NewCacheIdempotencyStore(kv),
		States:      states,
		Index:       index,
		Audit:       audit,
		Setups:      setups,
		Publisher:   repository.NopDecisionPublisher{},
		Router:      execution.NewRouter(execution.Config{NotesCap: 5}),
		Locker:      middleware.NewKeyedLocker(m),
		Metrics:     m,
		Log:         log,
	}, usecase.OrchestratorConfig{IdempotencyTTL: time.Hour, StateTTL: time.Hour}).WithClock(now)
	ing := usecase.NewIngestor(reg, normalize.New(), events, audit, jobs, orch, m, log,
		usecase.IngestorConfig{Secret: secret, ApprovalWindow: time.Minute}).WithClock(now)

	srv := xhttp.NewServer(log, []xhttp.Handler{
		NewWebhookEchoHandler(log, ing, 1<<16),
		NewOpsEchoHandler(log, OpsDeps{
			Audit:    audit,
			Setups:   setups,
			States:   states,
			Index:    index,
			Jobs:     jobs,
			Registry: reg,
			Limiter:  limiter,
		}),
	}, xhttp.WithMetrics(false, ""))
	return &fixture{e: srv.Echo(), jobs: jobs}
}

func (f *fixture) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) usecase.IngestResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	var resp usecase.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	return resp
}

const signal = `{"event":"TRADE_SIGNAL","symbol":"ES","timeframe":"5","direction":"LONG","confidence":0.8,"confluence":0.75,"entry":100,"stop":95,"targets":[110,120],"session":"RTH","timestamp":1710254100}`

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	f := newFixture(t, "", nil)

	tests := []struct {
		name   string
		target string
		body   string
		status models.WebhookStatus
		code   string
	}{
		{"accepted via path", "/webhook/trend", `{"event":"BIAS_UPDATE","symbol":"ES","timeframe":"5","bias":"LONG"}`, models.StatusAccepted, ""},
		{"strategy in body", "/webhook", `{"strategyId":"trend","event":"HEARTBEAT","symbol":"ES","timeframe":"5"}`, models.StatusAccepted, ""},
		{"broken json", "/webhook/trend", `{"event":`, models.StatusError, normalize.CodeInvalidJSON},
		{"unknown strategy", "/webhook/nope", signal, models.StatusRejected, normalize.CodeUnknownStrategy},
		{"unknown event", "/webhook/trend", `{"event":"MOON","symbol":"ES","timeframe":"5","signalType":"ACTIONABLE"}`, models.StatusRejected, normalize.CodeUnknownEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeAck(t, f.do(t, http.MethodPost, tt.target, tt.body, nil))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.code, resp.ErrorCode)
			assert.NotEmpty(t, resp.EventID)
		})
	}
}

func TestWebhookSecretAndTraceHeaders(t *testing.T) {
	f := newFixture(t, "hunter2", nil)

	rec := f.do(t, http.MethodPost, "/webhook/trend", signal, map[string]string{HeaderTraceID: "trace-42"})
	resp := decodeAck(t, rec)
	assert.Equal(t, models.StatusRejected, resp.Status)
	assert.Equal(t, normalize.CodeUnauthorized, resp.ErrorCode)
	assert.Equal(t, "trace-42", resp.TraceID)
	assert.Equal(t, "trace-42", rec.Header().Get(HeaderTraceID))

	resp = decodeAck(t, f.do(t, http.MethodPost, "/webhook", signal, map[string]string{
		HeaderWebhookSecret: "hunter2",
		HeaderStrategyID:    "trend",
	}))
	assert.Equal(t, models.StatusAccepted, resp.Status)
}

type listEnvelope struct {
	Status int `json:"status"`
	Data   struct {
		Rows  []map[string]interface{} `json:"rows"`
		Total int                      `json:"total"`
	} `json:"data"`
}

func TestOpsReadEndpoints(t *testing.T) {
	f := newFixture(t, "", nil)
	decodeAck(t, f.do(t, http.MethodPost, "/webhook/trend", `{"event":"BIAS_UPDATE","symbol":"ES","timeframe":"5","bias":"LONG"}`, nil))
	decodeAck(t, f.do(t, http.MethodPost, "/webhook/trend", signal, nil))

	rec := f.do(t, http.MethodGet, "/ops/audit/decisions?strategy=trend&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var decisions listEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decisions))
	assert.Equal(t, 2, decisions.Data.Total)

	rec = f.do(t, http.MethodGet, "/ops/state?prefix=trend:", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states listEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states.Data.Rows, 1)
	assert.Equal(t, "trend:ES:5m", states.Data.Rows[0]["key"])

	rec = f.do(t, http.MethodGet, "/ops/state/trend:ES:5m", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"openPositions":[{`)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/ops/state/trend:NQ:5m", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/ops/setups/missing", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/ops/setups?strategy=swing", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/ops/audit/events?limit=100000", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/ops/jobs?status=DONE", "", nil).Code)

	rec = f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status     string                  `json:"status"`
		Strategies []string                `json:"strategies"`
		Catalogs   map[string]strategyInfo `json:"catalogs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"gated", "trend"}, health.Strategies)
	require.Contains(t, health.Catalogs, "trend")
	trend := health.Catalogs["trend"]
	assert.Equal(t, strategy.EngineTrend, trend.Engine)
	assert.Equal(t, models.ModePaper, trend.Mode)
	assert.False(t, trend.Async)
	assert.Equal(t, []string{"TRADE_SIGNAL"}, trend.Actionable)
	assert.Contains(t, trend.Info, "BIAS_UPDATE")
	assert.True(t, health.Catalogs["gated"].Async, "approval strategies are queued")
}

func TestOpsAuditEventsMaskPassphrase(t *testing.T) {
	f := newFixture(t, "hunter2", nil)
	body := `{"passphrase":"hunter2","event":"BIAS_UPDATE","symbol":"ES","timeframe":"5","bias":"LONG"}`
	resp := decodeAck(t, f.do(t, http.MethodPost, "/webhook/trend", body, nil))
	require.Equal(t, models.StatusAccepted, resp.Status)
	decodeAck(t, f.do(t, http.MethodPost, "/webhook/trend", `{"passphrase":"wrong-guess","event":"HEARTBEAT"}`, nil))

	rec := f.do(t, http.MethodGet, "/ops/audit/events?strategy=trend", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.NotContains(t, rec.Body.String(), "wrong-guess")
	var events listEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events.Data.Rows, 2)
	for _, row := range events.Data.Rows {
		payload, ok := row["payload"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "[REDACTED]", payload["passphrase"])
	}
	accepted := events.Data.Rows[1]["payload"].(map[string]interface{})
	assert.Equal(t, "BIAS_UPDATE", accepted["event"])
}

func TestRedactPayload(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"object", `{"Passphrase":"s3cret","symbol":"ES"}`, `{"Passphrase":"[REDACTED]","symbol":"ES"}`},
		{"no secret", `{"symbol":"ES"}`, `{"symbol":"ES"}`},
		{"raw string body", `"passphrase=s3cret&symbol=ES"`, `"[REDACTED]"`},
		{"plain string", `"hello"`, `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(redactPayload([]byte(tt.in))))
		})
	}
}

func TestOpsJobActions(t *testing.T) {
	f := newFixture(t, "", nil)
	resp := decodeAck(t, f.do(t, http.MethodPost, "/webhook/gated", signal, nil))
	require.True(t, resp.Queued)

	rec := f.do(t, http.MethodPost, "/ops/jobs/"+resp.JobID+"/approve", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job, err := f.jobs.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Approvals)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/ops/jobs/"+resp.JobID+"/retry", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/ops/jobs/"+resp.JobID+"/cancel", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/ops/jobs/"+resp.JobID+"/retry", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/ops/jobs/nope/cancel", "", nil).Code)

	rec = f.do(t, http.MethodGet, "/ops/jobs?status=PENDING", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs listEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs.Data.Rows, 1)
	assert.Equal(t, resp.JobID, jobs.Data.Rows[0]["id"])
}

func TestOpsRateLimited(t *testing.T) {
	f := newFixture(t, "", ratelimit.New(0.001, 2))
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ops/jobs", "", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/ops/jobs", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code, "health is not limited")
}
