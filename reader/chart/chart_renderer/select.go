package chart_renderer

import (
	"context"
	"strings"
	"time"

	grafana_re "github.com/grafana/regexp"
	"github.com/metrico/chartql/reader/chart/chart_utils"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/ch_expr"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
)

var plainIdentifierRe = grafana_re.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (r *Renderer) renderSelectList(ctx context.Context, list model.SelectList,
	cfg *model.ChartConfig) ([]chsql.ChSql, error) {
	if list.IsExpr {
		return []chsql.ChSql{chsql.Sql(chsql.Raw(list.Expr))}, nil
	}
	materialized := r.materializedFields(ctx, cfg)
	res, err := parallel(ctx, len(list.Items), func(ctx context.Context, i int) (chsql.ChSql, error) {
		return r.renderSelectItem(ctx, list.Items[i], cfg, materialized)
	})
	if err != nil {
		return nil, err
	}
	if cfg.SeriesReturnType == model.SeriesReturnTypeRatio && len(res) == 2 {
		return []chsql.ChSql{chsql.Sql("divide(", res[0], ", ", res[1], ")")}, nil
	}
	return res, nil
}

func (r *Renderer) renderSelectItem(ctx context.Context, item model.SelectItem, cfg *model.ChartConfig,
	materialized map[string]string) (chsql.ChSql, error) {
	where, err := r.renderWhereExpression(ctx, item.AggCondition, aggConditionLanguage(item), cfg)
	if err != nil {
		return chsql.Empty(), err
	}
	var expr chsql.ChSql
	switch {
	case item.AggFn == "" && item.ValueExpressionLanguage == model.LanguageLucene:
		expr, err = r.renderWhereExpression(ctx, item.ValueExpression, model.LanguageLucene, cfg)
	case item.AggFn == "":
		expr = chsql.Sql(chsql.Raw(item.ValueExpression))
	case strings.HasPrefix(item.AggFn, "quantile") || strings.HasPrefix(item.AggFn, "histogram"):
		expr, err = aggFnExpr(item.AggFn, item.ValueExpression, item.Level, where.Sql)
	default:
		expr, err = aggFnExpr(item.AggFn, item.ValueExpression, nil, where.Sql)
	}
	if err != nil {
		return chsql.Empty(), err
	}
	expr = replaceMaterialized(expr, materialized)
	if strings.TrimSpace(item.Alias) != "" {
		expr = chsql.Sql(expr, " AS ", chsql.Raw(quoteAlias(item.Alias)))
	}
	return expr, nil
}

// replaceMaterialized swaps expressions backed by materialized columns. The fragment is kept as is
// when the rewrite fails.
func replaceMaterialized(expr chsql.ChSql, materialized map[string]string) chsql.ChSql {
	if len(materialized) == 0 {
		return expr
	}
	sql, err := ch_expr.ReplaceMaterializedColumns(expr.Sql, materialized)
	if err != nil {
		logger.Debug("materialized column rewrite skipped: ", err)
		return expr
	}
	return chsql.ChSql{Sql: sql, Params: expr.Params}
}

func timeBucketExpr(interval string, timestampValueExpression string, dateRange *[2]time.Time,
	alias string) (chsql.ChSql, error) {
	if interval == chart_utils.GranularityAuto && dateRange != nil {
		interval = chart_utils.ConvertDateRangeToGranularityString(*dateRange,
			chart_utils.DefaultAutoGranularityMaxBuckets)
	}
	if chart_utils.ConvertGranularityToSeconds(interval) <= 0 {
		return chsql.Empty(), errors.Errorf("invalid granularity %q", interval)
	}
	return chsql.Sql("toStartOfInterval(toDateTime(",
		chsql.Raw(chart_utils.GetFirstTimestampValueExpression(timestampValueExpression)),
		"), INTERVAL ", chsql.Raw(interval), ") AS `", chsql.Raw(alias), "`"), nil
}
