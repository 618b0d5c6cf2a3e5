package httptransport_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httptransport "clinicsync/internal/transport/http"
	"clinicsync/pkg/testutil"
)

type pingRegistrar struct{}

func (pingRegistrar) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newRouter(checks map[string]httptransport.HealthCheck) http.Handler {
	return httptransport.NewRouter(
		slog.New(slog.DiscardHandler),
		httptransport.NewHealthHandler(checks),
		pingRegistrar{},
	)
}

func TestRouterAssignsRequestID(t *testing.T) {
	router := newRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/ping"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRouterServesMetrics(t *testing.T) {
	router := newRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthzReportsDependencies(t *testing.T) {
	t.Run("all checks passing", func(t *testing.T) {
		router := newRouter(map[string]httptransport.HealthCheck{
			"postgres": func(context.Context) error { return nil },
		})

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		require.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		testutil.DecodeJSON(t, rr, &body)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
	})

	t.Run("failing check degrades status", func(t *testing.T) {
		router := newRouter(map[string]httptransport.HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		testutil.DecodeJSON(t, rr, &body)
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Contains(t, body.Checks["redis"], "connection refused")
	})
}
