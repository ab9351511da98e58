package chart_renderer

import (
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/pkg/errors"
)

type histogramParts struct {
	timeBucketSelect chsql.ChSql
	groupBy          chsql.ChSql
	from             chsql.ChSql
	where            chsql.ChSql
	// valueAlias is already quoted
	valueAlias string
}

func (p histogramParts) groupSelect() chsql.ChSql {
	if p.groupBy.IsEmpty() {
		return chsql.Empty()
	}
	return chsql.Sql("[", p.groupBy, "] AS group,")
}

func (p histogramParts) groupCol(suffix string) string {
	if p.groupBy.IsEmpty() {
		return ""
	}
	return "group" + suffix
}

// histogramWith builds the CTE chain ending in a `metrics` table with one value per bucket.
func histogramWith(item model.SelectItem, p histogramParts) ([]model.CTE, error) {
	switch item.AggFn {
	case "quantile":
		if item.Level == nil {
			return nil, errors.New("quantile must have a level")
		}
		return histogramQuantile(p, *item.Level), nil
	case "count":
		return histogramCount(p), nil
	case "apdex":
		if item.Threshold == nil {
			return nil, errors.New("apdex must have a threshold")
		}
		return histogramApdex(p, *item.Threshold), nil
	}
	return nil, errors.Errorf("%s is not supported for histograms currently", item.AggFn)
}

func cte(name string, sql chsql.ChSql) model.CTE {
	return model.CTE{Name: name, Sql: &sql}
}

func histogramCount(p histogramParts) []model.CTE {
	partition := ""
	if !p.groupBy.IsEmpty() {
		partition = "group, "
	}
	source := chsql.Sql(`
SELECT
  TimeUnix,
  AggregationTemporality,
  `, p.timeBucketSelect, `,
  `, p.groupSelect(), `
  cityHash64(mapConcat(ScopeAttributes, ResourceAttributes, Attributes)) AS attr_hash,
  cityHash64(ExplicitBounds) AS bounds_hash,
  toInt64(Count) AS current_count,
  lagInFrame(toNullable(current_count), 1, NULL) OVER (
    PARTITION BY `+partition+`attr_hash, bounds_hash, AggregationTemporality
    ORDER BY TimeUnix
  ) AS prev_count,
  CASE
    WHEN AggregationTemporality = 1 THEN current_count
    WHEN AggregationTemporality = 2 THEN greatest(0, current_count - coalesce(prev_count, 0))
    ELSE 0
  END AS delta
FROM `, p.from, `
WHERE `, p.where)
	metrics := chsql.Sql(`
SELECT
  `+"`__hdx_time_bucket`"+`,
  `+p.groupCol(",")+`
  sum(delta) AS `, chsql.Raw(p.valueAlias), `
FROM source
GROUP BY `+partition+"`__hdx_time_bucket`")
	return []model.CTE{cte("source", source), cte("metrics", metrics)}
}

// histogramDeltas turns cumulative bucket counts into per point deltas. A point restarts the
// series when temporality is delta, the attributes or bounds change, or any count decreases.
func histogramDeltas(p histogramParts, extraCols string) chsql.ChSql {
	return chsql.Sql(`
  SELECT
    TimeUnix,
    `+extraCols+`ExplicitBounds,
    ResourceAttributes,
    Attributes,
    attr_hash,
    any(attr_hash) OVER (ROWS BETWEEN 1 PRECEDING AND 1 PRECEDING) AS prev_attr_hash,
    any(bounds_hash) OVER (ROWS BETWEEN 1 PRECEDING AND 1 PRECEDING) AS prev_bounds_hash,
    any(counts) OVER (ROWS BETWEEN 1 PRECEDING AND 1 PRECEDING) AS prev_counts,
    counts,
    IF(
      AggregationTemporality = 1
        OR prev_attr_hash != attr_hash
        OR bounds_hash != prev_bounds_hash
        OR arrayExists((x) -> x.2 < x.1, arrayZip(prev_counts, counts)),
      counts,
      counts - prev_counts
    ) AS deltas
  FROM (
    SELECT
      TimeUnix,
      `+extraCols+`AggregationTemporality,
      ExplicitBounds,
      ResourceAttributes,
      Attributes,
      cityHash64(mapConcat(ScopeAttributes, ResourceAttributes, Attributes)) AS attr_hash,
      cityHash64(ExplicitBounds) AS bounds_hash,
      CAST(BucketCounts AS Array(Int64)) AS counts
    FROM `, p.from, `
    WHERE `, p.where, `
    ORDER BY attr_hash, TimeUnix ASC
  )`)
}

func histogramQuantile(p histogramParts, level float64) []model.CTE {
	source := chsql.Sql(`
SELECT
  MetricName,
  ExplicitBounds,
  `, p.timeBucketSelect, `,
  `, p.groupSelect(), `
  sumForEach(deltas) AS rates
FROM (`, histogramDeltas(p, "MetricName, "), `
)
GROUP BY `+"`__hdx_time_bucket`"+`, MetricName, `+p.groupCol(", ")+`ExplicitBounds
ORDER BY `+"`__hdx_time_bucket`")
	points := chsql.Sql(`
SELECT
  ` + "`__hdx_time_bucket`" + `,
  MetricName,
  ` + p.groupCol(",") + `
  arrayZipUnaligned(arrayCumSum(rates), ExplicitBounds) AS point,
  length(point) AS n
FROM source`)
	// linear interpolation inside the bucket holding the requested rank
	metrics := chsql.Sql(`
SELECT
  `+"`__hdx_time_bucket`"+`,
  MetricName,
  `+p.groupCol(",")+`
  point[n].1 AS total,
  `, chsql.Float64(level), ` * total AS rank,
  arrayFirstIndex(x -> if(x.1 > rank, 1, 0), point) AS upper_idx,
  point[upper_idx].1 AS upper_count,
  ifNull(point[upper_idx].2, inf) AS upper_bound,
  CASE
    WHEN upper_idx > 1 THEN point[upper_idx - 1].2
    WHEN point[upper_idx].2 > 0 THEN 0
    ELSE inf
  END AS lower_bound,
  if(lower_bound = 0, 0, point[upper_idx - 1].1) AS lower_count,
  CASE
    WHEN upper_bound = inf THEN point[upper_idx - 1].2
    WHEN lower_bound = inf THEN point[1].2
    ELSE lower_bound + (upper_bound - lower_bound) * ((rank - lower_count) / (upper_count - lower_count))
  END AS `, chsql.Raw(p.valueAlias), `
FROM points
WHERE length(point) > 1 AND total > 0`)
	return []model.CTE{cte("source", source), cte("points", points), cte("metrics", metrics)}
}

func histogramApdex(p histogramParts, threshold float64) []model.CTE {
	source := chsql.Sql(`
SELECT
  ExplicitBounds,
  `, p.timeBucketSelect, `,
  `, p.groupSelect(), `
  sumForEach(deltas) AS bucket_counts,
  `, chsql.Float64(threshold), ` AS threshold
FROM (`, histogramDeltas(p, ""), `
)
GROUP BY `+"`__hdx_time_bucket`"+`, `+p.groupCol(", ")+`ExplicitBounds
ORDER BY `+"`__hdx_time_bucket`")
	// satisfied <= T < tolerating <= 4T < frustrated
	metrics := chsql.Sql(`
SELECT
  `+"`__hdx_time_bucket`"+`,
  `+p.groupCol(",")+`
  arrayResize(ExplicitBounds, length(bucket_counts), inf) AS safe_bounds,
  arraySum((delta, bound) -> if(bound <= threshold, delta, 0), bucket_counts, safe_bounds) AS satisfied,
  arraySum((delta, bound) -> if(bound > threshold AND bound <= (threshold * 4), delta, 0), bucket_counts, safe_bounds) AS tolerating,
  arraySum((delta, bound) -> if(bound > (threshold * 4), delta, 0), bucket_counts, safe_bounds) AS frustrated,
  if(
    satisfied + tolerating + frustrated > 0,
    (satisfied + tolerating * 0.5) / (satisfied + tolerating + frustrated),
    NULL
  ) AS `, chsql.Raw(p.valueAlias), `
FROM source`)
	return []model.CTE{cte("source", source), cte("metrics", metrics)}
}
