package mv_optimizer

import (
	"context"
	"math"

	"github.com/metrico/chartql/reader/metric"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"golang.org/x/sync/errgroup"
)

// Estimate is the outcome of an EXPLAIN ESTIMATE style check.
type Estimate struct {
	IsValid     bool
	RowEstimate *int64
	Error       string
}

// CostEstimator checks a compiled statement is executable and estimates the rows it reads.
type CostEstimator interface {
	Estimate(ctx context.Context, connection string, query chsql.ChSql) Estimate
}

// Renderer compiles a chart config.
type Renderer interface {
	Render(ctx context.Context, config *model.ChartConfig, querySettings []model.QuerySetting) (chsql.ChSql, error)
}

type Optimizer struct {
	metadata  ColumnMetadata
	renderer  Renderer
	estimator CostEstimator
}

func New(metadata ColumnMetadata, renderer Renderer, estimator CostEstimator) *Optimizer {
	return &Optimizer{metadata: metadata, renderer: renderer, estimator: estimator}
}

// Explanation reports how one view candidate fared.
type Explanation struct {
	Success     bool                                `json:"success"`
	Errors      []string                            `json:"errors"`
	RowEstimate *int64                              `json:"rowEstimate,omitempty"`
	MvConfig    model.MaterializedViewConfiguration `json:"mvConfig"`
}

type candidate struct {
	config      *model.ChartConfig
	rowEstimate *int64
	errors      []string
}

func sameTable(a model.TableRef, b model.TableRef) bool {
	return a.DatabaseName == b.DatabaseName && a.TableName == b.TableName
}

// validate renders cfg and asks the estimator whether it runs.
func (o *Optimizer) validate(ctx context.Context, cfg *model.ChartConfig) Estimate {
	query, err := o.renderer.Render(ctx, cfg, nil)
	if err != nil {
		return Estimate{Error: err.Error()}
	}
	return o.estimator.Estimate(ctx, cfg.Connection, query)
}

// tryOptimizeConfig rewrites every part of cfg reading the source table: the CTE configs and the outer select.
func (o *Optimizer) tryOptimizeConfig(ctx context.Context, cfg *model.ChartConfig,
	mv model.MaterializedViewConfiguration, sourceFrom model.TableRef) candidate {
	var (
		res       candidate
		optimized *model.ChartConfig
	)
	if len(cfg.With) > 0 {
		ctes := make([]ConvertResult, len(cfg.With))
		g, gCtx := errgroup.WithContext(ctx)
		for i, cte := range cfg.With {
			if cte.ChartConfig == nil || !sameTable(cte.ChartConfig.From, sourceFrom) {
				continue
			}
			g.Go(func() error {
				ctes[i] = o.TryConvertConfig(gCtx, cte.ChartConfig, mv)
				return nil
			})
		}
		_ = g.Wait()
		for i, r := range ctes {
			res.errors = append(res.errors, r.Errors...)
			if r.Config == nil {
				continue
			}
			if optimized == nil {
				optimized = cfg.Clone()
			}
			optimized.With[i].ChartConfig = r.Config
		}
	}

	if sameTable(cfg.From, sourceFrom) {
		base := cfg
		if optimized != nil {
			base = optimized
		}
		outer := o.TryConvertConfig(ctx, base, mv)
		if outer.Config != nil {
			optimized = outer.Config
		}
		res.errors = append(res.errors, outer.Errors...)
	}

	if optimized == nil {
		return res
	}
	estimate := o.validate(ctx, optimized)
	if estimate.Error != "" {
		res.errors = append(res.errors, estimate.Error)
	}
	if !estimate.IsValid {
		return res
	}
	return candidate{config: optimized, rowEstimate: estimate.RowEstimate, errors: []string{}}
}

func rowsOrInf(rows *int64) float64 {
	if rows == nil {
		return math.Inf(1)
	}
	return float64(*rows)
}

// TryOptimizeConfigWithExplanations tries every view of the source and returns the valid rewrite reading
// the fewest rows, or nil when no view can serve the config. Every candidate is explained.
func (o *Optimizer) TryOptimizeConfigWithExplanations(ctx context.Context, cfg *model.ChartConfig,
	source model.Source) (*model.ChartConfig, []Explanation) {
	views := source.MaterializedViews
	candidates := make([]candidate, len(views))
	g, gCtx := errgroup.WithContext(ctx)
	for i, mv := range views {
		g.Go(func() error {
			candidates[i] = o.tryOptimizeConfig(gCtx, cfg, mv, source.From)
			return nil
		})
	}
	_ = g.Wait()

	winner := -1
	for i, c := range candidates {
		if c.config == nil {
			continue
		}
		if winner < 0 || rowsOrInf(c.rowEstimate) < rowsOrInf(candidates[winner].rowEstimate) {
			winner = i
		}
	}

	explanations := make([]Explanation, len(views))
	for i, c := range candidates {
		explanations[i] = Explanation{
			Success:     i == winner,
			Errors:      c.errors,
			RowEstimate: c.rowEstimate,
			MvConfig:    views[i],
		}
		if explanations[i].Errors == nil {
			explanations[i].Errors = []string{}
		}
		switch {
		case i == winner:
			metric.OptimizerCandidates.WithLabelValues("selected").Inc()
		case c.config != nil:
			metric.OptimizerCandidates.WithLabelValues("outscored").Inc()
		default:
			metric.OptimizerCandidates.WithLabelValues("rejected").Inc()
		}
	}
	if winner < 0 {
		return nil, explanations
	}
	return candidates[winner].config, explanations
}

// TryOptimizeConfig returns the best view rewrite of cfg or cfg itself.
func (o *Optimizer) TryOptimizeConfig(ctx context.Context, cfg *model.ChartConfig,
	source model.Source) *model.ChartConfig {
	res, _ := o.TryOptimizeConfigWithExplanations(ctx, cfg, source)
	if res == nil {
		return cfg
	}
	return res
}
