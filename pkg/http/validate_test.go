package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pageQuery struct {
	Symbol string `query:"symbol" validate:"required"`
	Limit  int    `query:"limit" default:"20" validate:"min=1,max=100"`
}

func bindQuery(t *testing.T, rawQuery string) (pageQuery, []ValidationError) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	var q pageQuery
	return q, ReadAndValidateRequest(c, &q)
}

func TestReadAndValidateRequest(t *testing.T) {
	t.Run("defaults fill missing fields", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/?symbol=SPY", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		var q pageQuery
		require.Nil(t, ReadAndValidateRequest(c, &q))
		assert.Equal(t, "SPY", q.Symbol)
		assert.Equal(t, 20, q.Limit)
	})

	t.Run("field errors carry tag codes", func(t *testing.T) {
		_, errs := bindQuery(t, "limit=500")
		require.Len(t, errs, 2)
		byField := map[string]ValidationError{}
		for _, e := range errs {
			byField[e.Field] = e
		}
		assert.Equal(t, "ERR_REQUIRED", byField["symbol"].Code)
		assert.Equal(t, "ERR_MAX", byField["limit"].Code)
		assert.Equal(t, "limit must be at most 100", byField["limit"].Message)
		assert.Equal(t, "100", byField["limit"].Params["max"])
	})

	t.Run("bind failures", func(t *testing.T) {
		_, errs := bindQuery(t, "symbol=SPY&limit=ten")
		require.Len(t, errs, 1)
		assert.Equal(t, "ERR_BIND", errs[0].Code)
	})
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, NotFoundErrorf("job %s not found", "j1")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job j1 not found")
}
