package apirouterv1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/metrico/chartql/reader/chart/mv_optimizer"
	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/service"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/metrico/chartql/reader/watchdog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Columns(ctx context.Context, tc model.TableConnection) ([]model.ColumnMeta, error) {
	return []model.ColumnMeta{
		{Name: "Timestamp", Type: "DateTime64(9)"},
		{Name: "ServiceName", Type: "String"},
		{Name: "Body", Type: "String"},
	}, nil
}

func (stubSource) SkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error) {
	return []model.SkipIndex{}, nil
}

func (stubSource) TableMetadata(ctx context.Context, tc model.TableConnection) (*model.TableMetadata, error) {
	return &model.TableMetadata{Database: tc.DatabaseName, Name: tc.TableName}, nil
}

func (stubSource) Setting(ctx context.Context, connection string, name string) (string, bool, error) {
	return "", false, nil
}

func (stubSource) Settings(ctx context.Context, connection string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (stubSource) MapKeys(ctx context.Context, tc model.TableConnection, column string,
	strategy metadata.MapKeysStrategy, maxKeys int32, maxRows int32) ([]string, error) {
	return nil, nil
}

func (stubSource) MaterializedViewsByTarget(ctx context.Context, tc model.TableConnection) ([]model.TableRef, error) {
	return nil, nil
}

type stubEstimator struct{}

func (stubEstimator) Estimate(ctx context.Context, connection string, query chsql.ChSql) mv_optimizer.Estimate {
	return mv_optimizer.Estimate{IsValid: true}
}

type stubPinger struct{}

func (stubPinger) Ping() error { return nil }

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	sources := []model.Source{{
		Name:                     "logs",
		From:                     model.TableRef{DatabaseName: "default", TableName: "logs"},
		TimestampValueExpression: "Timestamp",
		ImplicitColumnExpression: "Body",
	}}
	svc, err := service.NewChartService(metadata.New(stubSource{}, nil), stubEstimator{}, sources, "32MB")
	require.NoError(t, err)
	app := mux.NewRouter()
	RouteChartApis(app, svc)
	RouteSearchApis(app, svc)
	RouteMiscApis(app, watchdog.New(stubPinger{}, time.Minute, time.Minute), "test")
	return app
}

func do(app http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var res map[string]any
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestRenderRoute(t *testing.T) {
	app := newTestRouter(t)
	rec := do(app, "POST", "/api/v1/chart/render",
		`{"source":"logs","chartConfig":{"select":[{"aggFn":"count"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "SELECT count() FROM default.logs", decode(t, rec)["inlined"])
}

func TestRenderRouteErrors(t *testing.T) {
	app := newTestRouter(t)
	rec := do(app, "POST", "/api/v1/chart/render", `{"source":"nope","chartConfig":{"select":"1"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "unknown source")

	rec = do(app, "POST", "/api/v1/chart/render", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(app, "POST", "/api/v1/chart/render",
		`{"source":"logs","chartConfig":{"select":[{"aggFn":"nope","valueExpression":"x"}]}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(app, "GET", "/api/v1/chart/render", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSearchRoutes(t *testing.T) {
	app := newTestRouter(t)
	rec := do(app, "POST", "/api/v1/search/explain", `{"query":"ServiceName:api"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["explanation"])

	rec = do(app, "POST", "/api/v1/search/sql", `{"source":"logs","query":"ServiceName:api"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["sql"], "ServiceName")
}

func TestMiscRoutes(t *testing.T) {
	app := newTestRouter(t)
	rec := do(app, "GET", "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(app, "GET", "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sources := decode(t, rec)["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "logs", sources[0].(map[string]any)["name"])

	rec = do(app, "GET", "/api/v1/status/buildinfo", "")
	assert.Equal(t, "test", decode(t, rec)["data"].(map[string]any)["version"])

	rec = do(app, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chartql_")
}
