package chart_renderer

import (
	"context"

	"github.com/metrico/chartql/reader/chart/chart_utils"
	"github.com/metrico/chartql/reader/lucene/lucene_transpiler"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
)

var sqlAstOperators = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

// renderWhereExpression compiles a condition written in language against the table of cfg.
func (r *Renderer) renderWhereExpression(ctx context.Context, condition string, language string,
	cfg *model.ChartConfig) (chsql.ChSql, error) {
	switch language {
	case model.LanguageLucene:
		serializer := lucene_transpiler.NewSqlSerializer(r.metadata, lucene_transpiler.SqlSerializerConfig{
			TableConnection:          tableConnection(cfg),
			ImplicitColumnExpression: cfg.ImplicitColumnExpression,
		})
		var err error
		condition, err = lucene_transpiler.NewSearchQueryBuilder(condition, serializer).Build(ctx)
		if err != nil {
			return chsql.Empty(), errors.Wrapf(err, "invalid search query")
		}
	case model.LanguageSql:
	default:
		return chsql.Empty(), errors.Errorf("unknown condition language: %s", language)
	}
	if !IsNonEmptyWhereExpr(condition) {
		return chsql.Empty(), nil
	}
	return replaceMaterialized(chsql.Sql(chsql.Raw(condition)), r.materializedFields(ctx, cfg)), nil
}

func (r *Renderer) renderWhere(ctx context.Context, cfg *model.ChartConfig) (chsql.ChSql, error) {
	timeFilter := chsql.Empty()
	if cfg.DateRange != nil && cfg.TimestampValueExpression != "" {
		var err error
		if timeFilter, err = r.timeFilterExpr(ctx, cfg); err != nil {
			return chsql.Empty(), err
		}
	}

	where := chsql.Empty()
	if IsNonEmptyWhereExpr(cfg.Where) {
		cond, err := r.renderWhereExpression(ctx, cfg.Where, languageOrDefault(cfg.WhereLanguage, model.LanguageSql), cfg)
		if err != nil {
			return chsql.Empty(), err
		}
		where = chsql.WrapIfNotEmpty(cond, "(", ")")
	}

	// aggregate conditions narrow the scan only when every select has one
	var selectConds []chsql.ChSql
	if !cfg.Select.IsExpr && allHaveAggCondition(cfg.Select.Items) {
		var err error
		selectConds, err = parallel(ctx, len(cfg.Select.Items), func(ctx context.Context, i int) (chsql.ChSql, error) {
			item := cfg.Select.Items[i]
			return r.renderWhereExpression(ctx, item.AggCondition, aggConditionLanguage(item), cfg)
		})
		if err != nil {
			return chsql.Empty(), err
		}
	}

	filters, err := parallel(ctx, len(cfg.Filters), func(ctx context.Context, i int) (chsql.ChSql, error) {
		return r.renderFilter(ctx, cfg.Filters[i], cfg)
	})
	if err != nil {
		return chsql.Empty(), err
	}
	filtersSep := " AND "
	if cfg.FiltersLogicalOperator == "OR" {
		filtersSep = " OR "
	}

	return chsql.Concat(" AND ",
		timeFilter,
		where,
		chsql.WrapIfNotEmpty(chsql.Concat(" OR ", selectConds...), "(", ")"),
		chsql.WrapIfNotEmpty(chsql.Concat(filtersSep, filters...), "(", ")"),
	), nil
}

func allHaveAggCondition(items []model.SelectItem) bool {
	for _, item := range items {
		if !IsNonEmptyWhereExpr(item.AggCondition) {
			return false
		}
	}
	return true
}

func (r *Renderer) renderFilter(ctx context.Context, filter model.Filter, cfg *model.ChartConfig) (chsql.ChSql, error) {
	switch filter.Type {
	case model.FilterTypeSqlAst:
		if !sqlAstOperators[filter.Operator] {
			return chsql.Empty(), errors.Errorf("Unknown filter operator: %s", filter.Operator)
		}
		return chsql.WrapIfNotEmpty(chsql.Sql(chsql.Raw(filter.Left), " ", chsql.Raw(filter.Operator), " ",
			chsql.Raw(filter.Right)), "(", ")"), nil
	case model.FilterTypeLucene, model.FilterTypeSql:
		cond, err := r.renderWhereExpression(ctx, filter.Condition, filter.Type, cfg)
		if err != nil {
			return chsql.Empty(), err
		}
		return chsql.WrapIfNotEmpty(cond, "(", ")"), nil
	}
	return chsql.Empty(), errors.Errorf("Unknown filter type: %s", filter.Type)
}

// timeFilterExpr bounds every timestamp expression by the date range. toStartOf* expressions
// compare against bounds rounded by the same function.
func (r *Renderer) timeFilterExpr(ctx context.Context, cfg *model.ChartConfig) (chsql.ChSql, error) {
	start, end := cfg.DateRange[0].UnixMilli(), cfg.DateRange[1].UnixMilli()
	tc := tableConnection(cfg)
	startInclusive := cfg.DateRangeStartInclusive == nil || *cfg.DateRangeStartInclusive
	endInclusive := cfg.DateRangeEndInclusive == nil || *cfg.DateRangeEndInclusive
	interval := cfg.IncludedDataInterval
	if interval != "" && chart_utils.ConvertGranularityToSeconds(interval) <= 0 {
		return chsql.Empty(), errors.Errorf("invalid granularity %q", interval)
	}

	tsExpr := cfg.TimestampValueExpression
	if tc.DatabaseName != "" && tc.TableName != "" && tc.Connection != "" {
		md, err := r.metadata.GetTableMetadata(ctx, tc)
		if err != nil {
			logger.Warn("Failed to optimize timestampValueExpression: ", err)
		} else {
			tsExpr = chart_utils.OptimizeTimestampValueExpression(tsExpr, md.PrimaryKey)
		}
	}

	exprs := chart_utils.SplitAndTrimWithBracket(tsExpr)
	parts, err := parallel(ctx, len(exprs), func(ctx context.Context, i int) (chsql.ChSql, error) {
		col := exprs[i]
		toStartOf := chart_utils.ParseToStartOfFunction(col)
		var columnMeta *model.ColumnMeta
		if len(cfg.With) == 0 && toStartOf == nil {
			var err error
			columnMeta, err = r.metadata.GetColumn(ctx, tc, col, false)
			if err != nil {
				logger.Warn("Failed to fetch column ", col, " for time filter: ", err)
			} else if columnMeta == nil {
				logger.Warn("Column ", col, " not found in ", tc.DatabaseName, ".", tc.TableName,
					" while inferring type for time filter")
			}
		}
		bound := func(ms int64, op string) chsql.ChSql {
			switch {
			case interval != "":
				return chsql.Sql("toStartOfInterval(fromUnixTimestamp64Milli(", chsql.Int64(ms), "), INTERVAL ",
					chsql.Raw(interval), ") ", op, " INTERVAL ", chsql.Raw(interval))
			case toStartOf != nil:
				return chsql.Sql(chsql.Raw(toStartOf.Function), "(fromUnixTimestamp64Milli(", chsql.Int64(ms), ")",
					chsql.Raw(toStartOf.FormattedRemainingArgs), ")")
			}
			return chsql.Sql("fromUnixTimestamp64Milli(", chsql.Int64(ms), ")")
		}
		startCond, endCond := bound(start, "-"), bound(end, "+")
		if columnMeta != nil && columnMeta.Type == "Date" {
			startCond = chsql.Sql("toDate(", startCond, ")")
			endCond = chsql.Sql("toDate(", endCond, ")")
		}
		startOp, endOp := ">", "<"
		if startInclusive {
			startOp = ">="
		}
		if endInclusive {
			endOp = "<="
		}
		return chsql.Sql("(", chsql.Raw(col), " ", startOp, " ", startCond, " AND ",
			chsql.Raw(col), " ", endOp, " ", endCond, ")"), nil
	})
	if err != nil {
		return chsql.Empty(), err
	}
	return chsql.Concat(" AND ", parts...), nil
}
