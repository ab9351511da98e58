package chart_renderer

import (
	"context"
	"strings"

	"github.com/metrico/chartql/reader/chart/chart_utils"
	"github.com/metrico/chartql/reader/lucene/lucene_transpiler"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMetricTableTimeColumn = "TimeUnix"
	FixedTimeBucketExprAlias     = "__hdx_time_bucket"
)

// Metadata is the part of the metadata layer the renderer reads.
type Metadata interface {
	lucene_transpiler.MetadataProvider
	GetTableMetadata(ctx context.Context, tc model.TableConnection) (*model.TableMetadata, error)
}

// Renderer compiles chart configs into parameterized ClickHouse statements.
type Renderer struct {
	metadata Metadata
}

func NewRenderer(md Metadata) *Renderer {
	return &Renderer{metadata: md}
}

// Render compiles one chart config. Metric configs are first translated into plain configs over CTEs.
// querySettings are appended to the SETTINGS clause of every statement, CTEs included.
func (r *Renderer) Render(ctx context.Context, config *model.ChartConfig,
	querySettings []model.QuerySetting) (chsql.ChSql, error) {
	if config == nil {
		return chsql.Empty(), errors.New("chart config is required")
	}
	if config.From.TableName == "" {
		return chsql.Empty(), errors.New("from.tableName is required")
	}
	cfg := config
	if config.IsMetric() {
		var err error
		cfg, err = r.translateMetricChartConfig(ctx, config)
		if err != nil {
			return chsql.Empty(), err
		}
	}

	with, err := r.renderWith(ctx, cfg, querySettings)
	if err != nil {
		return chsql.Empty(), err
	}
	sel, err := r.renderSelect(ctx, cfg)
	if err != nil {
		return chsql.Empty(), err
	}
	where, err := r.renderWhere(ctx, cfg)
	if err != nil {
		return chsql.Empty(), err
	}
	groupBy, err := r.renderGroupBy(ctx, cfg)
	if err != nil {
		return chsql.Empty(), err
	}
	having, err := r.renderHaving(ctx, cfg)
	if err != nil {
		return chsql.Empty(), err
	}
	orderBy, err := renderOrderBy(cfg)
	if err != nil {
		return chsql.Empty(), err
	}

	return chsql.Concat(" ",
		chsql.WrapIfNotEmpty(with, "WITH ", ""),
		chsql.Sql("SELECT ", sel),
		chsql.Sql("FROM ", renderFrom(cfg.From)),
		chsql.WrapIfNotEmpty(where, "WHERE ", ""),
		chsql.WrapIfNotEmpty(groupBy, "GROUP BY ", ""),
		chsql.WrapIfNotEmpty(having, "HAVING ", ""),
		chsql.WrapIfNotEmpty(orderBy, "ORDER BY ", ""),
		chsql.WrapIfNotEmpty(renderLimit(cfg), "LIMIT ", ""),
		// SETTINGS must stay last
		chsql.WrapIfNotEmpty(renderSettings(cfg, querySettings), "SETTINGS ", ""),
	), nil
}

// parallel runs fn for every index concurrently and returns the results in input order.
func parallel[T any](ctx context.Context, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	res := make([]T, n)
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			v, err := fn(gCtx, i)
			res[i] = v
			return err
		})
	}
	return res, g.Wait()
}

func tableConnection(cfg *model.ChartConfig) model.TableConnection {
	return model.TableConnection{
		Connection:   cfg.Connection,
		DatabaseName: cfg.From.DatabaseName,
		TableName:    cfg.From.TableName,
	}
}

func renderFrom(from model.TableRef) chsql.ChSql {
	db := chsql.Empty()
	if from.DatabaseName != "" {
		db = chsql.Sql(chsql.Identifier(from.DatabaseName))
	}
	return chsql.Concat(".", db, chsql.Sql(chsql.Identifier(from.TableName)))
}

func (r *Renderer) renderSelect(ctx context.Context, cfg *model.ChartConfig) (chsql.ChSql, error) {
	parts, err := r.renderSelectList(ctx, cfg.Select, cfg)
	if err != nil {
		return chsql.Empty(), err
	}
	if cfg.IsUsingGroupBy() && (cfg.SelectGroupBy == nil || *cfg.SelectGroupBy) {
		groupBy, err := r.renderSelectList(ctx, cfg.GroupBy, cfg)
		if err != nil {
			return chsql.Empty(), err
		}
		parts = append(parts, groupBy...)
	}
	if cfg.IsUsingGranularity() {
		bucket, err := timeBucketExpr(cfg.Granularity, cfg.TimestampValueExpression, cfg.DateRange,
			FixedTimeBucketExprAlias)
		if err != nil {
			return chsql.Empty(), err
		}
		parts = append(parts, bucket)
	}
	return chsql.Concat(",", parts...), nil
}

func (r *Renderer) renderGroupBy(ctx context.Context, cfg *model.ChartConfig) (chsql.ChSql, error) {
	var parts []chsql.ChSql
	if cfg.IsUsingGroupBy() {
		groupBy, err := r.renderSelectList(ctx, cfg.GroupBy, cfg)
		if err != nil {
			return chsql.Empty(), err
		}
		parts = append(parts, groupBy...)
	}
	if cfg.IsUsingGranularity() {
		bucket, err := timeBucketExpr(cfg.Granularity, cfg.TimestampValueExpression, cfg.DateRange,
			FixedTimeBucketExprAlias)
		if err != nil {
			return chsql.Empty(), err
		}
		parts = append(parts, bucket)
	}
	return chsql.Concat(",", parts...), nil
}

func (r *Renderer) renderHaving(ctx context.Context, cfg *model.ChartConfig) (chsql.ChSql, error) {
	if !IsNonEmptyWhereExpr(cfg.Having) {
		return chsql.Empty(), nil
	}
	return r.renderWhereExpression(ctx, cfg.Having, languageOrDefault(cfg.HavingLanguage, model.LanguageSql), cfg)
}

func renderSortList(list model.SortList) []chsql.ChSql {
	if list.IsExpr {
		return []chsql.ChSql{chsql.Sql(chsql.Raw(list.Expr))}
	}
	res := make([]chsql.ChSql, 0, len(list.Items))
	for _, item := range list.Items {
		ordering := "ASC"
		if item.Ordering == "DESC" {
			ordering = "DESC"
		}
		res = append(res, chsql.Sql(chsql.Raw(item.ValueExpression), " ", ordering))
	}
	return res
}

func renderOrderBy(cfg *model.ChartConfig) (chsql.ChSql, error) {
	var parts []chsql.ChSql
	if cfg.IsUsingGranularity() {
		bucket, err := timeBucketExpr(cfg.Granularity, cfg.TimestampValueExpression, cfg.DateRange,
			FixedTimeBucketExprAlias)
		if err != nil {
			return chsql.Empty(), err
		}
		parts = append(parts, bucket)
	}
	parts = append(parts, renderSortList(cfg.OrderBy)...)
	return chsql.Concat(",", parts...), nil
}

func renderLimit(cfg *model.ChartConfig) chsql.ChSql {
	if cfg.Limit == nil || cfg.Limit.Limit == nil {
		return chsql.Empty()
	}
	if cfg.Limit.Offset != nil {
		return chsql.Sql(chsql.Int32(*cfg.Limit.Limit), " OFFSET ", chsql.Int32(*cfg.Limit.Offset))
	}
	return chsql.Sql(chsql.Int32(*cfg.Limit.Limit))
}

func renderSettings(cfg *model.ChartConfig, querySettings []model.QuerySetting) chsql.ChSql {
	settings := chsql.Empty()
	if cfg.Settings != nil {
		settings = *cfg.Settings
	}
	return chsql.Concat(", ", settings, chsql.Sql(chsql.Raw(chart_utils.JoinQuerySettings(querySettings))))
}

func (r *Renderer) renderWith(ctx context.Context, cfg *model.ChartConfig,
	querySettings []model.QuerySetting) (chsql.ChSql, error) {
	if len(cfg.With) == 0 {
		return chsql.Empty(), nil
	}
	clauses, err := parallel(ctx, len(cfg.With), func(ctx context.Context, i int) (chsql.ChSql, error) {
		clause := cfg.With[i]
		if clause.Sql != nil && clause.ChartConfig != nil {
			return chsql.Empty(), errors.New("cannot specify both 'sql' and 'chartConfig' in with clause")
		}
		if clause.Sql == nil && clause.ChartConfig == nil {
			return chsql.Empty(), errors.New("must specify either 'sql' or 'chartConfig' in with clause")
		}
		if clause.Name == "" {
			return chsql.Empty(), errors.New("with clause name is required")
		}
		var resolved chsql.ChSql
		if clause.Sql != nil {
			resolved = *clause.Sql
		} else {
			var err error
			if resolved, err = r.Render(ctx, clause.ChartConfig, querySettings); err != nil {
				return chsql.Empty(), errors.Wrapf(err, "with clause %s", clause.Name)
			}
		}
		if clause.IsSubquery != nil && !*clause.IsSubquery {
			return chsql.Sql("(", resolved, ") AS ", chsql.Identifier(clause.Name)), nil
		}
		return chsql.Sql(chsql.Raw(cteName(clause.Name)), " AS (", resolved, ")"), nil
	})
	if err != nil {
		return chsql.Empty(), err
	}
	return chsql.Concat(",", clauses...), nil
}

// cteName leaves plain names as they are so later clauses can reference them unquoted.
func cteName(name string) string {
	if plainIdentifierRe.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// aggConditionLanguage is the language of a select condition. The select list and the WHERE
// push-down must agree on it.
func aggConditionLanguage(item model.SelectItem) string {
	return languageOrDefault(item.AggConditionLanguage, model.LanguageLucene)
}

func languageOrDefault(language string, def string) string {
	if language == "" {
		return def
	}
	return language
}

func (r *Renderer) materializedFields(ctx context.Context, cfg *model.ChartConfig) map[string]string {
	// CTE tables have no column metadata
	if len(cfg.With) > 0 || cfg.From.DatabaseName == "" {
		return nil
	}
	res, err := r.metadata.GetMaterializedColumnsLookupTable(ctx, tableConnection(cfg))
	if err != nil {
		logger.Debug("materialized columns lookup failed: ", err)
		return nil
	}
	return res
}
