package chart_renderer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetadata struct {
	columns    []model.ColumnMeta
	primaryKey string
}

func (f *fakeMetadata) GetColumn(ctx context.Context, tc model.TableConnection, column string,
	matchLowercase bool) (*model.ColumnMeta, error) {
	for i, c := range f.columns {
		if c.Name == column {
			return &f.columns[i], nil
		}
	}
	return nil, nil
}

func (f *fakeMetadata) GetMaterializedColumnsLookupTable(ctx context.Context,
	tc model.TableConnection) (map[string]string, error) {
	res := map[string]string{}
	for _, c := range f.columns {
		if c.DefaultType == "MATERIALIZED" {
			res[c.DefaultExpression] = c.Name
		}
	}
	return res, nil
}

func (f *fakeMetadata) GetSkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error) {
	return nil, nil
}

func (f *fakeMetadata) GetTableMetadata(ctx context.Context, tc model.TableConnection) (*model.TableMetadata, error) {
	return &model.TableMetadata{Database: tc.DatabaseName, Name: tc.TableName, PrimaryKey: f.primaryKey}, nil
}

var testColumns = []model.ColumnMeta{
	{Name: "Timestamp", Type: "DateTime64(9)"},
	{Name: "EventDate", Type: "Date"},
	{Name: "ServiceName", Type: "String"},
	{Name: "Duration", Type: "Float64"},
	{Name: "Body", Type: "String"},
	{Name: "LogAttributes", Type: "Map(LowCardinality(String), String)"},
	{
		Name:              "MaterializedExample",
		Type:              "String",
		DefaultType:       "MATERIALIZED",
		DefaultExpression: "LogAttributes['materialized.example']",
	},
}

var testRange = [2]time.Time{
	time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
}

func newTestRenderer(primaryKey string) *Renderer {
	return NewRenderer(&fakeMetadata{columns: testColumns, primaryKey: primaryKey})
}

func baseConfig(items ...model.SelectItem) *model.ChartConfig {
	return &model.ChartConfig{
		Select:     model.ItemSelect(items...),
		From:       model.TableRef{DatabaseName: "default", TableName: "logs"},
		Connection: "conn",
	}
}

func render(t *testing.T, r *Renderer, cfg *model.ChartConfig, settings ...model.QuerySetting) string {
	t.Helper()
	res, err := r.Render(context.Background(), cfg, settings)
	require.NoError(t, err)
	return chsql.ParameterizedQueryToSql(res)
}

func ptr[T any](v T) *T {
	return &v
}

func TestRenderBasic(t *testing.T) {
	cfg := baseConfig(
		model.SelectItem{AggFn: "count"},
		model.SelectItem{AggFn: "avg", ValueExpression: "Duration", Alias: "avg"},
	)
	cfg.Where = "ServiceName = 'api'"
	cfg.WhereLanguage = model.LanguageSql
	assert.Equal(t,
		`SELECT count(),avg(toFloat64OrDefault(toString(Duration))) AS "avg" FROM default.logs WHERE (ServiceName = 'api')`,
		render(t, newTestRenderer(""), cfg))
}

func TestRenderUsesPlaceholders(t *testing.T) {
	res, err := newTestRenderer("").Render(context.Background(), baseConfig(model.SelectItem{AggFn: "count"}), nil)
	require.NoError(t, err)
	name := chsql.ParamName("logs")
	assert.Equal(t, "SELECT count() FROM {"+chsql.ParamName("default")+":Identifier}.{"+name+":Identifier}", res.Sql)
	assert.Equal(t, "logs", res.Params[name])
}

func TestRenderRawSelect(t *testing.T) {
	cfg := baseConfig()
	cfg.Select = model.RawSelect("Timestamp, Body")
	cfg.OrderBy = model.RawSort("Timestamp DESC")
	assert.Equal(t, "SELECT Timestamp, Body FROM default.logs ORDER BY Timestamp DESC", render(t, newTestRenderer(""), cfg))
}

func TestRenderRequiresTable(t *testing.T) {
	r := newTestRenderer("")
	_, err := r.Render(context.Background(), nil, nil)
	assert.Error(t, err)
	_, err = r.Render(context.Background(), &model.ChartConfig{Select: model.RawSelect("1")}, nil)
	assert.Error(t, err)
}

func TestRenderAggCondition(t *testing.T) {
	cfg := baseConfig(model.SelectItem{
		AggFn:                "count",
		AggCondition:         `ServiceName:"api"`,
		AggConditionLanguage: model.LanguageLucene,
	})
	assert.Equal(t,
		"SELECT countIf(((ServiceName = 'api'))) FROM default.logs WHERE (((ServiceName = 'api')))",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderAggConditionDefaultsToLucene(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count", AggCondition: `ServiceName:"api"`})
	assert.Equal(t,
		"SELECT countIf(((ServiceName = 'api'))) FROM default.logs WHERE (((ServiceName = 'api')))",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderAggConditionNotPushedDownUnlessAll(t *testing.T) {
	cfg := baseConfig(
		model.SelectItem{AggFn: "count", AggCondition: "Duration > 10", AggConditionLanguage: model.LanguageSql},
		model.SelectItem{AggFn: "count"},
	)
	assert.Equal(t,
		"SELECT countIf(Duration > 10),count() FROM default.logs",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderAggFunctions(t *testing.T) {
	for _, c := range []struct {
		item  model.SelectItem
		sql   string
		where string
	}{
		{
			item: model.SelectItem{AggFn: "quantile", ValueExpression: "Duration", Level: ptr(0.95)},
			sql:  "quantile(0.95)(toFloat64OrDefault(toString(Duration)))",
		},
		{
			item: model.SelectItem{AggFn: "count_distinct", ValueExpression: "ServiceName"},
			sql:  "count(DISTINCT ServiceName)",
		},
		{item: model.SelectItem{AggFn: "none", ValueExpression: "Duration"}, sql: "Duration"},
		{item: model.SelectItem{AggFn: "any", ValueExpression: "Body"}, sql: "any(Body)"},
		{item: model.SelectItem{AggFn: "avgMerge", ValueExpression: "avg_duration"}, sql: "avgMerge(avg_duration)"},
		{
			item: model.SelectItem{AggFn: "quantileMerge", ValueExpression: "q", Level: ptr(0.5)},
			sql:  "quantileMerge(0.5)(q)",
		},
		{item: model.SelectItem{AggFn: "countState"}, sql: "countState()"},
		{
			item: model.SelectItem{AggFn: "sumState", ValueExpression: "Duration"},
			sql:  "sumState(toFloat64OrDefault(toString(Duration)))",
		},
		{
			model.SelectItem{
				AggFn: "max", ValueExpression: "Duration",
				AggCondition: "ServiceName = 'api'", AggConditionLanguage: model.LanguageSql,
			},
			"maxIf(toFloat64OrDefault(toString(Duration)), ServiceName = 'api' AND " +
				"toFloat64OrDefault(toString(Duration)) IS NOT NULL)",
			" WHERE (ServiceName = 'api')",
		},
	} {
		cfg := baseConfig(c.item)
		cfg.From.DatabaseName = ""
		assert.Equal(t, "SELECT "+c.sql+" FROM logs"+c.where, render(t, newTestRenderer(""), cfg), c.item.AggFn)
	}
}

func TestRenderInvalidAggFn(t *testing.T) {
	_, err := newTestRenderer("").Render(context.Background(),
		baseConfig(model.SelectItem{AggFn: "drop table", ValueExpression: "x"}), nil)
	assert.EqualError(t, err, "Invalid aggregate function: drop table")

	_, err = newTestRenderer("").Render(context.Background(), baseConfig(model.SelectItem{AggFn: "avg"}), nil)
	assert.EqualError(t, err, "Column is required for all non-count aggregation functions")
}

func TestRenderRatio(t *testing.T) {
	cfg := baseConfig(
		model.SelectItem{AggFn: "count", AggCondition: "Duration > 10", AggConditionLanguage: model.LanguageSql},
		model.SelectItem{AggFn: "count"},
	)
	cfg.SeriesReturnType = model.SeriesReturnTypeRatio
	assert.Equal(t, "SELECT divide(countIf(Duration > 10), count()) FROM default.logs",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderFilters(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.Filters = []model.Filter{
		{Type: model.FilterTypeSqlAst, Operator: "=", Left: "ServiceName", Right: "'api'"},
		{Type: model.FilterTypeSql, Condition: "Duration > 10"},
	}
	cfg.FiltersLogicalOperator = "OR"
	assert.Equal(t, "SELECT count() FROM default.logs WHERE ((ServiceName = 'api') OR (Duration > 10))",
		render(t, newTestRenderer(""), cfg))

	cfg.FiltersLogicalOperator = ""
	assert.Equal(t, "SELECT count() FROM default.logs WHERE ((ServiceName = 'api') AND (Duration > 10))",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderFilterErrors(t *testing.T) {
	r := newTestRenderer("")
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.Filters = []model.Filter{{Type: model.FilterTypeSqlAst, Operator: "; DROP", Left: "a", Right: "b"}}
	_, err := r.Render(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg.Filters = []model.Filter{{Type: "regex", Condition: "a"}}
	_, err = r.Render(context.Background(), cfg, nil)
	assert.EqualError(t, err, "Unknown filter type: regex")
}

func TestRenderTimeFilter(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.DateRange = &testRange
	cfg.TimestampValueExpression = "Timestamp"
	assert.Equal(t,
		"SELECT count() FROM default.logs WHERE (Timestamp >= fromUnixTimestamp64Milli(1704067200000) AND "+
			"Timestamp <= fromUnixTimestamp64Milli(1704070800000))",
		render(t, newTestRenderer("ServiceName, Timestamp"), cfg))

	cfg.DateRangeStartInclusive = ptr(false)
	cfg.DateRangeEndInclusive = ptr(false)
	assert.Equal(t,
		"SELECT count() FROM default.logs WHERE (Timestamp > fromUnixTimestamp64Milli(1704067200000) AND "+
			"Timestamp < fromUnixTimestamp64Milli(1704070800000))",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderTimeFilterDateColumn(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.DateRange = &testRange
	cfg.TimestampValueExpression = "EventDate"
	assert.Equal(t,
		"SELECT count() FROM default.logs WHERE (EventDate >= toDate(fromUnixTimestamp64Milli(1704067200000)) AND "+
			"EventDate <= toDate(fromUnixTimestamp64Milli(1704070800000)))",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderTimeFilterUsesPrimaryKey(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.DateRange = &testRange
	cfg.TimestampValueExpression = "Timestamp"
	assert.Equal(t,
		"SELECT count() FROM default.logs WHERE "+
			"(toStartOfDay(Timestamp) >= toStartOfDay(fromUnixTimestamp64Milli(1704067200000)) AND "+
			"toStartOfDay(Timestamp) <= toStartOfDay(fromUnixTimestamp64Milli(1704070800000))) AND "+
			"(Timestamp >= fromUnixTimestamp64Milli(1704067200000) AND "+
			"Timestamp <= fromUnixTimestamp64Milli(1704070800000))",
		render(t, newTestRenderer("toStartOfDay(Timestamp), ServiceName"), cfg))
}

func TestRenderGranularity(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.TimestampValueExpression = "Timestamp"
	cfg.Granularity = "1 minute"
	bucket := "toStartOfInterval(toDateTime(Timestamp), INTERVAL 1 minute) AS `__hdx_time_bucket`"
	assert.Equal(t,
		"SELECT count(),"+bucket+" FROM default.logs GROUP BY "+bucket+" ORDER BY "+bucket,
		render(t, newTestRenderer(""), cfg))
}

func TestRenderAutoGranularity(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.TimestampValueExpression = "Timestamp"
	cfg.Granularity = "auto"
	cfg.GroupBy = model.RawSelect("ServiceName")
	cfg.DateRange = &testRange
	res := render(t, newTestRenderer(""), cfg)
	assert.Contains(t, res, "SELECT count(),ServiceName,toStartOfInterval(toDateTime(Timestamp), INTERVAL 1 minute)")
	assert.Contains(t, res, "GROUP BY ServiceName,toStartOfInterval(")

	cfg.DateRange = nil
	_, err := newTestRenderer("").Render(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRenderInvalidGranularity(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.TimestampValueExpression = "Timestamp"
	cfg.Granularity = "1 minute) ; DROP TABLE logs --"
	_, err := newTestRenderer("").Render(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRenderLimitAndSettings(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.GroupBy = model.RawSelect("ServiceName")
	cfg.SelectGroupBy = ptr(false)
	cfg.Having = "count() > 1"
	cfg.Limit = &model.Limit{Limit: ptr[int32](10), Offset: ptr[int32](5)}
	assert.Equal(t,
		"SELECT count() FROM default.logs GROUP BY ServiceName HAVING count() > 1 LIMIT 10 OFFSET 5 "+
			"SETTINGS max_threads = '4', optimize_read_in_order = '0'",
		render(t, newTestRenderer(""), cfg,
			model.QuerySetting{Setting: "max_threads", Value: "4"},
			model.QuerySetting{Setting: "optimize_read_in_order", Value: "0"}))
}

func TestRenderWith(t *testing.T) {
	inner := chsql.Sql("SELECT 1 AS x")
	cfg := &model.ChartConfig{
		Select: model.RawSelect("*"),
		From:   model.TableRef{TableName: "t"},
		With:   []model.CTE{{Name: "t", Sql: &inner}},
	}
	r := newTestRenderer("")
	assert.Equal(t, "WITH t AS (SELECT 1 AS x) SELECT * FROM t", render(t, r, cfg))

	cfg.With[0].IsSubquery = ptr(false)
	assert.Equal(t, "WITH (SELECT 1 AS x) AS t SELECT * FROM t", render(t, r, cfg))

	cfg.With = []model.CTE{{Name: "t", ChartConfig: baseConfig(model.SelectItem{AggFn: "count"})}}
	assert.Equal(t, "WITH t AS (SELECT count() FROM default.logs) SELECT * FROM t", render(t, r, cfg))
}

func TestRenderWithErrors(t *testing.T) {
	inner := chsql.Sql("SELECT 1")
	r := newTestRenderer("")
	for _, with := range [][]model.CTE{
		{{Name: "t", Sql: &inner, ChartConfig: baseConfig(model.SelectItem{AggFn: "count"})}},
		{{Name: "t"}},
		{{Sql: &inner}},
	} {
		_, err := r.Render(context.Background(), &model.ChartConfig{
			Select: model.RawSelect("*"),
			From:   model.TableRef{TableName: "t"},
			With:   with,
		}, nil)
		assert.Error(t, err)
	}
}

func TestRenderMaterializedColumns(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "max", ValueExpression: "LogAttributes['materialized.example']"})
	cfg.Where = "LogAttributes['materialized.example'] = 'x'"
	assert.Equal(t,
		"SELECT max(toFloat64OrDefault(toString(`MaterializedExample`))) FROM default.logs "+
			"WHERE (`MaterializedExample` = 'x')",
		render(t, newTestRenderer(""), cfg))
}

func TestRenderUnknownLanguage(t *testing.T) {
	cfg := baseConfig(model.SelectItem{AggFn: "count"})
	cfg.Where = "ServiceName:api"
	cfg.WhereLanguage = "kql"
	_, err := newTestRenderer("").Render(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func metricConfig(item model.SelectItem) *model.ChartConfig {
	cfg := baseConfig(item)
	cfg.From.TableName = "otel_metrics"
	cfg.TimestampValueExpression = "TimeUnix"
	cfg.Granularity = "1 minute"
	cfg.DateRange = &testRange
	cfg.MetricTables = map[string]string{
		model.MetricTypeGauge:     "otel_metrics_gauge",
		model.MetricTypeSum:       "otel_metrics_sum",
		model.MetricTypeHistogram: "otel_metrics_histogram",
	}
	return cfg
}

func TestRenderGauge(t *testing.T) {
	res := render(t, newTestRenderer(""), metricConfig(model.SelectItem{
		AggFn: "avg", ValueExpression: "Value", MetricType: model.MetricTypeGauge, MetricName: "cpu",
	}))
	assert.Contains(t, res, "FROM default.otel_metrics_gauge")
	assert.Contains(t, res, "MetricName = 'cpu'")
	assert.Contains(t, res, "SELECT avg(toFloat64OrDefault(toString(LastValue))),")
	assert.Contains(t, res, "FROM Bucketed")
	assert.True(t, strings.HasSuffix(res, "SETTINGS short_circuit_function_evaluation = 'force_enable'"))
	cupaloy.New(cupaloy.FailOnUpdate(false)).SnapshotT(t, res)
}

func TestRenderSum(t *testing.T) {
	res := render(t, newTestRenderer(""), metricConfig(model.SelectItem{
		AggFn: "sum", ValueExpression: "Value", MetricType: model.MetricTypeSum, MetricName: "requests",
	}))
	assert.Contains(t, res, "FROM default.otel_metrics_sum")
	assert.Contains(t, res, "deltaSum(Value)")
	assert.Contains(t, res, `SELECT sum(toFloat64OrDefault(toString(Rate))) AS "Value",`)
	// the scanned range is widened by one bucket on each side
	assert.Contains(t, res, "INTERVAL 1 minute) - INTERVAL 1 minute")
	cupaloy.New(cupaloy.FailOnUpdate(false)).SnapshotT(t, res)
}

func TestRenderHistogram(t *testing.T) {
	res, err := newTestRenderer("").Render(context.Background(), metricConfig(model.SelectItem{
		AggFn: "quantile", Level: ptr(0.5), MetricType: model.MetricTypeHistogram, MetricName: "latency",
	}), nil)
	require.NoError(t, err)
	assert.Contains(t, res.Params, chsql.ParamName(0.5))
	sql := chsql.ParameterizedQueryToSql(res)
	assert.Contains(t, sql, "FROM default.otel_metrics_histogram")
	assert.Contains(t, sql, "0.5 * total AS rank")
	assert.Contains(t, sql, "SELECT `__hdx_time_bucket`, \"Value\" FROM metrics")
	cupaloy.New(cupaloy.FailOnUpdate(false)).SnapshotT(t, sql)

	sql = render(t, newTestRenderer(""), metricConfig(model.SelectItem{
		AggFn: "apdex", Threshold: ptr(0.3), MetricType: model.MetricTypeHistogram, MetricName: "latency",
	}))
	assert.Contains(t, sql, "0.3 AS threshold")

	cfg := metricConfig(model.SelectItem{AggFn: "count", MetricType: model.MetricTypeHistogram, MetricName: "latency"})
	cfg.GroupBy = model.RawSelect("ServiceName")
	sql = render(t, newTestRenderer(""), cfg)
	assert.Contains(t, sql, "[ServiceName] AS group,")
	assert.Contains(t, sql, "SELECT `__hdx_time_bucket`, group, \"Value\" FROM metrics")
}

func TestRenderMetricErrors(t *testing.T) {
	r := newTestRenderer("")
	for _, c := range []struct {
		item model.SelectItem
		err  string
	}{
		{
			model.SelectItem{AggFn: "sum", MetricType: model.MetricTypeHistogram, MetricName: "latency"},
			"sum is not supported for histograms currently",
		},
		{
			model.SelectItem{AggFn: "quantile", MetricType: model.MetricTypeHistogram, MetricName: "latency"},
			"quantile must have a level",
		},
		{
			model.SelectItem{AggFn: "apdex", MetricType: model.MetricTypeHistogram, MetricName: "latency"},
			"apdex must have a threshold",
		},
		{
			model.SelectItem{AggFn: "avg", MetricType: "summary", MetricName: "latency"},
			"no query support for metric type=summary",
		},
	} {
		_, err := r.Render(context.Background(), metricConfig(c.item), nil)
		assert.EqualError(t, err, c.err)
	}

	cfg := metricConfig(model.SelectItem{})
	cfg.Select = model.RawSelect("Value")
	_, err := r.Render(context.Background(), cfg, nil)
	assert.EqualError(t, err, "multi select or string select on metrics not supported")
}
