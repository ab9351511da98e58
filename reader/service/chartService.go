package service

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/c2h5oh/datasize"
	"github.com/go-faster/jx"
	jsoniter "github.com/json-iterator/go"
	"github.com/metrico/chartql/reader/chart/chart_renderer"
	"github.com/metrico/chartql/reader/chart/mv_optimizer"
	"github.com/metrico/chartql/reader/lucene/lucene_transpiler"
	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/metric"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrNoChartConfig  = errors.New("chartConfig is required")
	ErrNoViews        = errors.New("source has no materialized views")
	ErrNoSearchTarget = errors.New("either source or from.tableName is required")
)

// ChartService compiles chart configs and search queries for the configured sources.
type ChartService struct {
	metadata  *metadata.Metadata
	renderer  *chart_renderer.Renderer
	optimizer *mv_optimizer.Optimizer
	sources   []model.Source
	byName    map[string]*model.Source
	cache     *fastcache.Cache
}

// NewChartService builds the service. cacheSize is a human readable size such as 64MB.
func NewChartService(md *metadata.Metadata, estimator mv_optimizer.CostEstimator, sources []model.Source,
	cacheSize string) (*ChartService, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(cacheSize)); err != nil {
		return nil, errors.Wrapf(err, "invalid render cache size %q", cacheSize)
	}
	renderer := chart_renderer.NewRenderer(md)
	res := &ChartService{
		metadata:  md,
		renderer:  renderer,
		optimizer: mv_optimizer.New(md, renderer, estimator),
		sources:   sources,
		byName:    map[string]*model.Source{},
		cache:     fastcache.New(int(size.Bytes())),
	}
	for i := range sources {
		res.byName[sources[i].Name] = &sources[i]
	}
	return res, nil
}

func (c *ChartService) Sources() []model.Source {
	return c.sources
}

func (c *ChartService) source(name string) (*model.Source, error) {
	if name == "" {
		return nil, nil
	}
	src, ok := c.byName[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownSource, name)
	}
	return src, nil
}

// withSource fills what the config leaves empty from the source. cfg is never modified.
func withSource(src *model.Source, cfg *model.ChartConfig) *model.ChartConfig {
	res := cfg.Clone()
	if src == nil {
		return res
	}
	if res.From.TableName == "" {
		res.From = src.From
	}
	if res.Connection == "" {
		res.Connection = src.Connection
	}
	if res.TimestampValueExpression == "" {
		res.TimestampValueExpression = src.TimestampValueExpression
	}
	if res.ImplicitColumnExpression == "" {
		res.ImplicitColumnExpression = src.ImplicitColumnExpression
	}
	return res
}

func (c *ChartService) resolve(sourceName string, cfg *model.ChartConfig) (*model.Source, *model.ChartConfig, error) {
	if cfg == nil {
		return nil, nil, ErrNoChartConfig
	}
	src, err := c.source(sourceName)
	if err != nil {
		return nil, nil, err
	}
	return src, withSource(src, cfg), nil
}

// Render compiles the request and returns the encoded response. Responses are cached by request.
func (c *ChartService) Render(ctx context.Context, req *model.RenderRequest) ([]byte, error) {
	key, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if res, ok := c.cache.HasGet(nil, key); ok {
		metric.ResponseCache.WithLabelValues("hit").Inc()
		return res, nil
	}
	metric.ResponseCache.WithLabelValues("miss").Inc()

	src, cfg, err := c.resolve(req.Source, req.ChartConfig)
	if err != nil {
		return nil, err
	}
	var settings []model.QuerySetting
	if src != nil {
		settings = append(settings, src.QuerySettings...)
	}
	settings = append(settings, req.QuerySettings...)

	var explanations []mv_optimizer.Explanation
	if req.Optimize && src != nil && len(src.MaterializedViews) > 0 {
		var optimized *model.ChartConfig
		optimized, explanations = c.optimizer.TryOptimizeConfigWithExplanations(ctx, cfg, *src)
		if optimized != nil {
			cfg = optimized
		}
	}

	start := time.Now()
	query, err := c.renderer.Render(ctx, cfg, settings)
	metric.RenderTime.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metric.RenderedQueries.WithLabelValues("error").Inc()
		return nil, err
	}
	metric.RenderedQueries.WithLabelValues("ok").Inc()

	res, err := encodeRenderResponse(query, explanations, req.Optimize)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, res)
	return res, nil
}

// Optimize returns the best view rewrite of the config, or the config itself, with one explanation per view.
func (c *ChartService) Optimize(ctx context.Context, req *model.RenderRequest) ([]byte, error) {
	src, cfg, err := c.resolve(req.Source, req.ChartConfig)
	if err != nil {
		return nil, err
	}
	if src == nil || len(src.MaterializedViews) == 0 {
		return nil, errors.Wrap(ErrNoViews, req.Source)
	}
	optimized, explanations := c.optimizer.TryOptimizeConfigWithExplanations(ctx, cfg, *src)
	if optimized == nil {
		optimized = cfg
	}
	bCfg, err := json.Marshal(optimized)
	if err != nil {
		return nil, err
	}
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	var encErr error
	e.Obj(func(e *jx.Encoder) {
		e.Field("chartConfig", func(e *jx.Encoder) {
			e.Raw(bCfg)
		})
		e.Field("explanations", func(e *jx.Encoder) {
			encErr = encodeExplanations(e, explanations)
		})
	})
	if encErr != nil {
		return nil, encErr
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// KeyValues spreads a distinct values lookup of keys over the views of the source.
func (c *ChartService) KeyValues(ctx context.Context, req *model.KeyValuesRequest) ([]mv_optimizer.KeyValuesCall,
	error) {
	src, cfg, err := c.resolve(req.Source, req.ChartConfig)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return []mv_optimizer.KeyValuesCall{{Config: cfg, Keys: req.Keys}}, nil
	}
	return c.optimizer.OptimizeGetKeyValuesCalls(ctx, cfg, req.Keys, *src), nil
}

func (c *ChartService) ExplainSearch(ctx context.Context, query string) string {
	return lucene_transpiler.GenEnglishExplanation(ctx, query)
}

// SearchSql compiles a search query into a WHERE predicate over the source or the given table.
func (c *ChartService) SearchSql(ctx context.Context, req *model.SearchSqlRequest) (string, error) {
	src, err := c.source(req.Source)
	if err != nil {
		return "", err
	}
	conf := lucene_transpiler.SqlSerializerConfig{
		TableConnection: model.TableConnection{
			Connection:   req.Connection,
			DatabaseName: req.From.DatabaseName,
			TableName:    req.From.TableName,
		},
		ImplicitColumnExpression: req.ImplicitColumnExpression,
	}
	if src != nil {
		if conf.TableName == "" {
			conf.DatabaseName, conf.TableName = src.From.DatabaseName, src.From.TableName
		}
		if conf.Connection == "" {
			conf.Connection = src.Connection
		}
		if conf.ImplicitColumnExpression == "" {
			conf.ImplicitColumnExpression = src.ImplicitColumnExpression
		}
	}
	if conf.TableName == "" {
		return "", ErrNoSearchTarget
	}
	return lucene_transpiler.GenSQL(ctx, req.Query, lucene_transpiler.NewSqlSerializer(c.metadata, conf))
}

func encodeRenderResponse(query chsql.ChSql, explanations []mv_optimizer.Explanation,
	withExplanations bool) ([]byte, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	var encErr error
	e.Obj(func(e *jx.Encoder) {
		e.Field("sql", func(e *jx.Encoder) {
			e.Str(query.Sql)
		})
		e.Field("params", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for k, v := range query.StringParams() {
					e.Field(k, func(e *jx.Encoder) {
						e.Str(v)
					})
				}
			})
		})
		e.Field("inlined", func(e *jx.Encoder) {
			e.Str(chsql.ParameterizedQueryToSql(query))
		})
		if withExplanations {
			e.Field("explanations", func(e *jx.Encoder) {
				encErr = encodeExplanations(e, explanations)
			})
		}
	})
	if encErr != nil {
		return nil, encErr
	}
	return append([]byte(nil), e.Bytes()...), nil
}

func encodeExplanations(e *jx.Encoder, explanations []mv_optimizer.Explanation) error {
	var err error
	e.Arr(func(e *jx.Encoder) {
		for _, ex := range explanations {
			mv, mErr := json.Marshal(ex.MvConfig)
			if mErr != nil {
				logger.Error("[CQS001] unable to encode view config: ", mErr)
				err = mErr
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("success", func(e *jx.Encoder) {
					e.Bool(ex.Success)
				})
				e.Field("errors", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, s := range ex.Errors {
							e.Str(s)
						}
					})
				})
				if ex.RowEstimate != nil {
					e.Field("rowEstimate", func(e *jx.Encoder) {
						e.Int64(*ex.RowEstimate)
					})
				}
				e.Field("mvConfig", func(e *jx.Encoder) {
					e.Raw(mv)
				})
			})
		}
	})
	return err
}
