package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/metrico/chartql/reader/chart/mv_optimizer"
	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	columns map[string][]model.ColumnMeta
}

func (f *fakeSource) Columns(ctx context.Context, tc model.TableConnection) ([]model.ColumnMeta, error) {
	return f.columns[tc.TableName], nil
}

func (f *fakeSource) SkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error) {
	return []model.SkipIndex{}, nil
}

func (f *fakeSource) TableMetadata(ctx context.Context, tc model.TableConnection) (*model.TableMetadata, error) {
	return &model.TableMetadata{Database: tc.DatabaseName, Name: tc.TableName}, nil
}

func (f *fakeSource) Setting(ctx context.Context, connection string, name string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeSource) Settings(ctx context.Context, connection string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *fakeSource) MapKeys(ctx context.Context, tc model.TableConnection, column string,
	strategy metadata.MapKeysStrategy, maxKeys int32, maxRows int32) ([]string, error) {
	return nil, nil
}

func (f *fakeSource) MaterializedViewsByTarget(ctx context.Context,
	tc model.TableConnection) ([]model.TableRef, error) {
	return nil, nil
}

type countingEstimator struct {
	calls int32
}

func (c *countingEstimator) Estimate(ctx context.Context, connection string,
	query chsql.ChSql) mv_optimizer.Estimate {
	atomic.AddInt32(&c.calls, 1)
	rows := int64(10)
	return mv_optimizer.Estimate{IsValid: true, RowEstimate: &rows}
}

var testSources = []model.Source{{
	Name:                     "logs",
	Connection:               "conn",
	From:                     model.TableRef{DatabaseName: "default", TableName: "logs"},
	TimestampValueExpression: "Timestamp",
	ImplicitColumnExpression: "Body",
	MaterializedViews: []model.MaterializedViewConfiguration{{
		DatabaseName:      "default",
		TableName:         "logs_rollup_1m",
		DimensionColumns:  "ServiceName",
		MinGranularity:    "1 minute",
		TimestampColumn:   "Timestamp",
		AggregatedColumns: []model.AggregatedColumn{{AggFn: "count", MvColumn: "count"}},
	}},
}}

func newTestService(t *testing.T) (*ChartService, *countingEstimator) {
	t.Helper()
	src := &fakeSource{columns: map[string][]model.ColumnMeta{
		"logs": {
			{Name: "Timestamp", Type: "DateTime64(9)"},
			{Name: "ServiceName", Type: "String"},
			{Name: "Body", Type: "String"},
		},
		"logs_rollup_1m": {
			{Name: "Timestamp", Type: "DateTime"},
			{Name: "ServiceName", Type: "String"},
			{Name: "count", Type: "UInt64"},
		},
	}}
	estimator := &countingEstimator{}
	res, err := NewChartService(metadata.New(src, nil), estimator, testSources, "32MB")
	require.NoError(t, err)
	return res, estimator
}

type renderResponse struct {
	Sql          string                    `json:"sql"`
	Params       map[string]string         `json:"params"`
	Inlined      string                    `json:"inlined"`
	Explanations []mv_optimizer.Explanation `json:"explanations"`
}

func decodeRender(t *testing.T, b []byte) renderResponse {
	t.Helper()
	var res renderResponse
	require.NoError(t, json.Unmarshal(b, &res))
	return res
}

func countConfig() *model.ChartConfig {
	return &model.ChartConfig{Select: model.ItemSelect(model.SelectItem{AggFn: "count"})}
}

func TestRenderFillsFromSource(t *testing.T) {
	svc, _ := newTestService(t)
	b, err := svc.Render(context.Background(), &model.RenderRequest{Source: "logs", ChartConfig: countConfig()})
	require.NoError(t, err)
	res := decodeRender(t, b)
	assert.Equal(t, "SELECT count() FROM default.logs", res.Inlined)
	assert.Contains(t, res.Sql, ":Identifier}")
	assert.Contains(t, res.Params, chsql.ParamName("logs"))
	assert.Nil(t, res.Explanations)
}

func TestRenderErrors(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Render(context.Background(), &model.RenderRequest{Source: "nope", ChartConfig: countConfig()})
	assert.True(t, errors.Is(err, ErrUnknownSource))

	_, err = svc.Render(context.Background(), &model.RenderRequest{Source: "logs"})
	assert.True(t, errors.Is(err, ErrNoChartConfig))

	// no source and no table
	_, err = svc.Render(context.Background(), &model.RenderRequest{ChartConfig: countConfig()})
	assert.Error(t, err)
}

func TestRenderOptimizesAndCaches(t *testing.T) {
	svc, estimator := newTestService(t)
	cfg := countConfig()
	cfg.Granularity = "1 minute"
	req := &model.RenderRequest{Source: "logs", ChartConfig: cfg, Optimize: true}

	first, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	res := decodeRender(t, first)
	assert.Contains(t, res.Inlined, "FROM default.logs_rollup_1m")
	require.Len(t, res.Explanations, 1)
	assert.True(t, res.Explanations[0].Success)
	require.NotNil(t, res.Explanations[0].RowEstimate)
	assert.Equal(t, int64(10), *res.Explanations[0].RowEstimate)
	calls := atomic.LoadInt32(&estimator.calls)
	assert.Positive(t, calls)

	second, err := svc.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, atomic.LoadInt32(&estimator.calls))
}

func TestOptimize(t *testing.T) {
	svc, _ := newTestService(t)
	cfg := countConfig()
	cfg.Granularity = "30 second"
	b, err := svc.Optimize(context.Background(), &model.RenderRequest{Source: "logs", ChartConfig: cfg})
	require.NoError(t, err)
	var res struct {
		ChartConfig  *model.ChartConfig         `json:"chartConfig"`
		Explanations []mv_optimizer.Explanation `json:"explanations"`
	}
	require.NoError(t, json.Unmarshal(b, &res))
	// the view can't serve a finer granularity: the config comes back as is
	assert.Equal(t, "logs", res.ChartConfig.From.TableName)
	require.Len(t, res.Explanations, 1)
	assert.False(t, res.Explanations[0].Success)
	assert.Equal(t, []string{"Granularity must be a multiple of the view's granularity (1 minute)."}, res.Explanations[0].Errors)

	_, err = svc.Optimize(context.Background(), &model.RenderRequest{ChartConfig: cfg})
	assert.True(t, errors.Is(err, ErrNoViews))
}

func TestKeyValuesWithoutSource(t *testing.T) {
	svc, _ := newTestService(t)
	cfg := countConfig()
	cfg.From = model.TableRef{DatabaseName: "default", TableName: "logs"}
	calls, err := svc.KeyValues(context.Background(), &model.KeyValuesRequest{ChartConfig: cfg, Keys: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a"}, calls[0].Keys)
	assert.Equal(t, "logs", calls[0].Config.From.TableName)
}

func TestSearch(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NotEmpty(t, svc.ExplainSearch(context.Background(), "ServiceName:api"))

	sql, err := svc.SearchSql(context.Background(), &model.SearchSqlRequest{Source: "logs", Query: "ServiceName:api"})
	require.NoError(t, err)
	assert.Contains(t, sql, "ServiceName")

	_, err = svc.SearchSql(context.Background(), &model.SearchSqlRequest{Query: "ServiceName:api"})
	assert.True(t, errors.Is(err, ErrNoSearchTarget))
}

func TestInvalidCacheSize(t *testing.T) {
	_, err := NewChartService(metadata.New(&fakeSource{}, nil), &countingEstimator{}, nil, "lots")
	assert.Error(t, err)
}

func TestMapException(t *testing.T) {
	err := mapException(errors.Wrap(&clickhouse.Exception{Code: 497, Message: "no grants"}, "describe"))
	assert.True(t, errors.Is(err, metadata.ErrPermissionDenied))
	err = mapException(&clickhouse.Exception{Code: 60, Message: "no table"})
	assert.True(t, errors.Is(err, metadata.ErrNotFound))
	err = mapException(&clickhouse.Exception{Code: 81, Message: "no db"})
	assert.True(t, errors.Is(err, metadata.ErrNotFound))
	plain := errors.New("EOF")
	assert.Equal(t, plain, mapException(plain))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("broken pipe")))
	assert.False(t, retryable(&clickhouse.Exception{Code: 62}))
	assert.False(t, retryable(context.Canceled))
}

type deniedSource struct {
	fakeSource
}

func (d *deniedSource) denied() error {
	return mapException(errors.Wrap(&clickhouse.Exception{Code: 497, Message: "default: Not enough privileges"},
		"query"))
}

func (d *deniedSource) SkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error) {
	return nil, d.denied()
}

func (d *deniedSource) Settings(ctx context.Context, connection string) (map[string]string, error) {
	return nil, d.denied()
}

func (d *deniedSource) MaterializedViewsByTarget(ctx context.Context,
	tc model.TableConnection) ([]model.TableRef, error) {
	return nil, d.denied()
}

func TestAccessDeniedDegradesToEmpty(t *testing.T) {
	md := metadata.New(&deniedSource{}, nil)
	tc := model.TableConnection{Connection: "conn", DatabaseName: "default", TableName: "logs"}
	ctx := context.Background()

	settings, err := md.GetSettings(ctx, "conn")
	require.NoError(t, err)
	assert.Empty(t, settings)

	indices, err := md.GetSkipIndices(ctx, tc)
	require.NoError(t, err)
	assert.Empty(t, indices)

	views, err := md.QueryMaterializedViewsByTarget(ctx, tc)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestMetadataSourceSettings(t *testing.T) {
	src := NewMetadataSource(&model.ServiceData{})
	src.QuerySettings = map[string]any{"max_execution_time": 10, "readonly": 1}
	res := src.settings(map[string]any{"max_execution_time": 30})
	assert.Equal(t, map[string]any{"max_execution_time": 30, "readonly": 1}, res)
	assert.Equal(t, 10, src.QuerySettings["max_execution_time"])
}
