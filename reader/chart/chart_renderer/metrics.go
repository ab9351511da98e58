package chart_renderer

import (
	"context"
	"strconv"

	"github.com/metrico/chartql/reader/chart/chart_utils"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/pkg/errors"
)

const metricTimeBucketCol = "__hdx_time_bucket2"

func shortCircuitSettings() *chsql.ChSql {
	res := chsql.Sql("short_circuit_function_evaluation = 'force_enable'")
	return &res
}

func createMetricNameFilter(metricName string, metricNameSql string) string {
	if metricNameSql != "" {
		return metricNameSql
	}
	return "MetricName = " + chsql.QuoteString(metricName)
}

// includedDataInterval is the bucket width used to widen the scanned range by one bucket on each side.
func includedDataInterval(cfg *model.ChartConfig) string {
	if cfg.Granularity == chart_utils.GranularityAuto && cfg.DateRange != nil {
		return chart_utils.ConvertDateRangeToGranularityString(*cfg.DateRange,
			chart_utils.DefaultAutoGranularityMaxBuckets)
	}
	return cfg.Granularity
}

// renderDeltaExpression extrapolates the value change inside a bucket to the whole bucket width.
func renderDeltaExpression(cfg *model.ChartConfig, valueExpression string, timestampExpression string) string {
	intervalSecs := chart_utils.ConvertGranularityToSeconds(includedDataInterval(cfg))
	valueDiff := "(argMax(" + valueExpression + ", " + timestampExpression + ") - argMin(" + valueExpression + ", " +
		timestampExpression + "))"
	timeDiff := "date_diff('second', min(toDateTime(" + timestampExpression + ")), max(toDateTime(" +
		timestampExpression + ")))"
	return "IF(" + timeDiff + " > 0, " + valueDiff + " * " + strconv.FormatInt(intervalSecs, 10) + " / " +
		timeDiff + ", 0)"
}

// metricSourceConfig is cfg narrowed to the metric table of the given type plus the metric name filter.
func metricSourceConfig(cfg *model.ChartConfig, metricType string, item model.SelectItem) *model.ChartConfig {
	res := cfg.Clone()
	res.From.TableName = cfg.MetricTables[metricType]
	res.Filters = append(res.Filters, model.Filter{
		Type:      model.FilterTypeSql,
		Condition: createMetricNameFilter(item.MetricName, item.MetricNameSql),
	})
	return res
}

// translateMetricChartConfig rewrites a metric chart config into a plain one reading from CTEs over
// the OpenTelemetry metric tables. Only the first select is translated.
func (r *Renderer) translateMetricChartConfig(ctx context.Context, cfg *model.ChartConfig) (*model.ChartConfig, error) {
	if cfg.Select.IsExpr || len(cfg.Select.Items) == 0 {
		return nil, errors.New("multi select or string select on metrics not supported")
	}
	item := cfg.Select.Items[0]
	if item.MetricName == "" {
		return nil, errors.Errorf("no query support for metric type=%s", item.MetricType)
	}
	switch item.MetricType {
	case model.MetricTypeGauge:
		return r.translateGauge(ctx, cfg, item)
	case model.MetricTypeSum:
		return r.translateSum(ctx, cfg, item)
	case model.MetricTypeHistogram:
		return r.translateHistogram(ctx, cfg, item)
	}
	return nil, errors.Errorf("no query support for metric type=%s", item.MetricType)
}

// metricResult is the outer config reading from the last CTE.
func metricResult(cfg *model.ChartConfig, with []model.CTE, table string) *model.ChartConfig {
	res := cfg.Clone()
	res.With = with
	res.From = model.TableRef{TableName: table}
	res.Where = ""
	res.Filters = nil
	res.MetricTables = nil
	return res
}

func plainSelect(item model.SelectItem) model.SelectItem {
	item.MetricType = ""
	item.MetricName = ""
	item.MetricNameSql = ""
	item.AggCondition = ""
	return item
}

func (r *Renderer) translateGauge(ctx context.Context, cfg *model.ChartConfig,
	item model.SelectItem) (*model.ChartConfig, error) {
	granularity := cfg.Granularity
	if granularity == "" {
		granularity = chart_utils.GranularityAuto
	}
	ts := cfg.TimestampValueExpression
	if ts == "" {
		ts = DefaultMetricTableTimeColumn
	}
	timeExpr, err := timeBucketExpr(granularity, ts, cfg.DateRange, metricTimeBucketCol)
	if err != nil {
		return nil, err
	}
	source := metricSourceConfig(cfg, model.MetricTypeGauge, item)
	where, err := r.renderWhere(ctx, source)
	if err != nil {
		return nil, err
	}
	bucketValueExpr := "last_value(Value)"
	if item.IsDelta {
		bucketValueExpr = renderDeltaExpression(cfg, "Value", ts)
	}

	sourceSql := chsql.Sql(`SELECT *, cityHash64(mapConcat(ScopeAttributes, ResourceAttributes, Attributes)) AS AttributesHash
FROM `, renderFrom(source.From), `
WHERE `, where)
	bucketedSql := chsql.Sql(`SELECT `, timeExpr, `,
  AttributesHash,
  `, chsql.Raw(bucketValueExpr), ` AS LastValue,
  any(ScopeAttributes) AS ScopeAttributes,
  any(ResourceAttributes) AS ResourceAttributes,
  any(Attributes) AS Attributes,
  any(ResourceSchemaUrl) AS ResourceSchemaUrl,
  any(ScopeName) AS ScopeName,
  any(ScopeVersion) AS ScopeVersion,
  any(ScopeDroppedAttrCount) AS ScopeDroppedAttrCount,
  any(ScopeSchemaUrl) AS ScopeSchemaUrl,
  any(ServiceName) AS ServiceName,
  any(MetricDescription) AS MetricDescription,
  any(MetricUnit) AS MetricUnit,
  any(StartTimeUnix) AS StartTimeUnix,
  any(Flags) AS Flags
FROM Source
GROUP BY AttributesHash, `+metricTimeBucketCol+`
ORDER BY AttributesHash, `+metricTimeBucketCol)

	res := metricResult(cfg, []model.CTE{
		{Name: "Source", Sql: &sourceSql},
		{Name: "Bucketed", Sql: &bucketedSql},
	}, "Bucketed")
	sel := plainSelect(item)
	sel.ValueExpression = "LastValue"
	res.Select = model.ItemSelect(sel)
	res.TimestampValueExpression = metricTimeBucketCol
	res.Settings = shortCircuitSettings()
	return res, nil
}

func (r *Renderer) translateSum(ctx context.Context, cfg *model.ChartConfig,
	item model.SelectItem) (*model.ChartConfig, error) {
	granularity := cfg.Granularity
	if granularity == "" {
		granularity = chart_utils.GranularityAuto
	}
	ts := cfg.TimestampValueExpression
	if ts == "" {
		ts = DefaultMetricTableTimeColumn
	}
	timeExpr, err := timeBucketExpr(granularity, ts, cfg.DateRange, metricTimeBucketCol)
	if err != nil {
		return nil, err
	}
	// scan one extra bucket on both ends so the edge buckets have a previous value
	source := metricSourceConfig(cfg, model.MetricTypeSum, item)
	source.IncludedDataInterval = includedDataInterval(cfg)
	where, err := r.renderWhere(ctx, source)
	if err != nil {
		return nil, err
	}

	// AggregationTemporality: 1 is delta, 2 is cumulative. Non monotonic sums are cumulative.
	sourceSql := chsql.Sql(`SELECT *,
  cityHash64(mapConcat(ScopeAttributes, ResourceAttributes, Attributes)) AS AttributesHash,
  IF(AggregationTemporality = 1,
    SUM(Value) OVER (PARTITION BY AttributesHash ORDER BY AttributesHash, TimeUnix ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW),
    IF(IsMonotonic = 0,
      Value,
      deltaSum(Value) OVER (PARTITION BY AttributesHash ORDER BY AttributesHash, TimeUnix ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW)
    )
  ) AS Rate,
  IF(AggregationTemporality = 1, Rate, Value) AS Sum
FROM `, renderFrom(source.From), `
WHERE `, where)
	bucketedSql := chsql.Sql(`SELECT `, timeExpr, `,
  AttributesHash,
  last_value(Source.Rate) AS `+"`__hdx_value_high`"+`,
  any(`+"`__hdx_value_high`"+`) OVER(PARTITION BY AttributesHash ORDER BY `+"`"+metricTimeBucketCol+"`"+` ROWS BETWEEN 1 PRECEDING AND 1 PRECEDING) AS `+"`__hdx_value_high_prev`"+`,
  IF(IsMonotonic = 1, `+"`__hdx_value_high` - `__hdx_value_high_prev`"+`, `+"`__hdx_value_high`"+`) AS Rate,
  last_value(Source.Sum) AS Sum,
  any(ResourceAttributes) AS ResourceAttributes,
  any(ResourceSchemaUrl) AS ResourceSchemaUrl,
  any(ScopeName) AS ScopeName,
  any(ScopeVersion) AS ScopeVersion,
  any(ScopeAttributes) AS ScopeAttributes,
  any(ScopeDroppedAttrCount) AS ScopeDroppedAttrCount,
  any(ScopeSchemaUrl) AS ScopeSchemaUrl,
  any(ServiceName) AS ServiceName,
  any(MetricName) AS MetricName,
  any(MetricDescription) AS MetricDescription,
  any(MetricUnit) AS MetricUnit,
  any(Attributes) AS Attributes,
  any(StartTimeUnix) AS StartTimeUnix,
  any(Flags) AS Flags,
  any(AggregationTemporality) AS AggregationTemporality,
  any(IsMonotonic) AS IsMonotonic
FROM Source
GROUP BY AttributesHash, `+"`"+metricTimeBucketCol+"`"+`
ORDER BY AttributesHash, `+"`"+metricTimeBucketCol+"`")

	res := metricResult(cfg, []model.CTE{
		{Name: "Source", Sql: &sourceSql},
		{Name: "Bucketed", Sql: &bucketedSql},
	}, "Bucketed")
	// aggregations read the rate, plain selects the running sum
	sel := plainSelect(item)
	if sel.Alias == "" {
		sel.Alias = "Value"
	}
	if sel.AggFn != "" {
		sel.ValueExpression = "Rate"
	} else {
		sel.ValueExpression = "last_value(Sum)"
	}
	res.Select = model.ItemSelect(sel)
	res.TimestampValueExpression = "`" + metricTimeBucketCol + "`"
	return res, nil
}

func (r *Renderer) translateHistogram(ctx context.Context, cfg *model.ChartConfig,
	item model.SelectItem) (*model.ChartConfig, error) {
	valueAlias := item.Alias
	if valueAlias == "" {
		valueAlias = "Value"
	}
	source := metricSourceConfig(cfg, model.MetricTypeHistogram, item)
	source.IncludedDataInterval = includedDataInterval(cfg)

	timeBucketSelect := chsql.Sql("TimeUnix AS `" + FixedTimeBucketExprAlias + "`")
	if source.IsUsingGranularity() {
		var err error
		timeBucketSelect, err = timeBucketExpr(source.Granularity, source.TimestampValueExpression, source.DateRange,
			FixedTimeBucketExprAlias)
		if err != nil {
			return nil, err
		}
	}
	where, err := r.renderWhere(ctx, source)
	if err != nil {
		return nil, err
	}
	groupBy := chsql.Empty()
	if cfg.IsUsingGroupBy() {
		list, err := r.renderSelectList(ctx, cfg.GroupBy, source)
		if err != nil {
			return nil, err
		}
		groupBy = chsql.Concat(",", list...)
	}

	with, err := histogramWith(item, histogramParts{
		timeBucketSelect: timeBucketSelect,
		groupBy:          groupBy,
		from:             renderFrom(source.From),
		where:            where,
		valueAlias:       quoteAlias(valueAlias),
	})
	if err != nil {
		return nil, err
	}

	res := metricResult(cfg, with, "metrics")
	selectExpr := "`" + FixedTimeBucketExprAlias + "`"
	if !groupBy.IsEmpty() {
		selectExpr += ", group"
	}
	res.Select = model.RawSelect(selectExpr + ", " + quoteAlias(valueAlias))
	// bucketing happens in the source CTE
	res.GroupBy = model.SelectList{}
	res.Granularity = ""
	res.TimestampValueExpression = "`" + FixedTimeBucketExprAlias + "`"
	res.Settings = shortCircuitSettings()
	return res, nil
}
