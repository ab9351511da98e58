package mv_optimizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	grafana_re "github.com/grafana/regexp"
	"github.com/metrico/chartql/reader/chart/chart_utils"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ColumnMetadata resolves column types of the view tables.
type ColumnMetadata interface {
	GetColumn(ctx context.Context, tc model.TableConnection, column string, matchLowercase bool) (*model.ColumnMeta, error)
}

// ConvertResult holds either the rewritten config or the reasons the view can't serve it.
type ConvertResult struct {
	Config *model.ChartConfig
	Errors []string
}

var (
	countFunctionRe    = grafana_re.MustCompile(`(?i)\bcount(If)?\s*\(`)
	quantileFunctionRe = grafana_re.MustCompile(`^AggregateFunction\(\s*([^(, ]+)\s*\(`)
)

// IsUnsupportedCountFunction reports count()/countIf() calls inside a custom value expression.
// Substituting those with a view column gives wrong results without failing EXPLAIN.
func IsUnsupportedCountFunction(item model.SelectItem) bool {
	return countFunctionRe.MatchString(item.ValueExpression)
}

func findAggregatedColumn(mv model.MaterializedViewConfiguration, column string,
	aggFn string) *model.AggregatedColumn {
	for i, c := range mv.AggregatedColumns {
		if c.AggFn == aggFn && (c.AggFn == "count" || c.SourceColumn == column) {
			return &mv.AggregatedColumns[i]
		}
	}
	return nil
}

func (o *Optimizer) columnType(ctx context.Context, tc model.TableConnection, column string) string {
	meta, err := o.metadata.GetColumn(ctx, tc, column, false)
	if err != nil || meta == nil {
		return ""
	}
	return meta.Type
}

// quantileFunction returns the quantile variant a state column was built with,
// e.g. quantileTDigest for AggregateFunction(quantileTDigest(0.95), Float64).
func (o *Optimizer) quantileFunction(ctx context.Context, tc model.TableConnection, column string) string {
	colType := o.columnType(ctx, tc, column)
	match := quantileFunctionRe.FindStringSubmatch(colType)
	if match == nil {
		logger.Warn("Unable to detect the quantile function of column ", column, " (type ", colType,
			"), assuming quantile")
		return ""
	}
	return match[1]
}

func (o *Optimizer) mergeFunction(ctx context.Context, tc model.TableConnection, column string, aggFn string) string {
	// counts are stored as UInt64 or SimpleAggregateFunction(sum, UInt64) and must be summed
	if aggFn == "count" {
		return "sum"
	}
	if strings.HasPrefix(o.columnType(ctx, tc, column), "SimpleAggregateFunction(") {
		return aggFn
	}
	return aggFn + "Merge"
}

func formatAggregateFunction(aggFn string, level *float64) string {
	if aggFn != "quantile" {
		return aggFn
	}
	if level == nil {
		return "quantile"
	}
	switch *level {
	case 0.5:
		return "median"
	case 0.9:
		return "p90"
	case 0.95:
		return "p95"
	case 0.99:
		return "p99"
	}
	return "quantile"
}

func (o *Optimizer) convertSelectItem(ctx context.Context, mv model.MaterializedViewConfiguration,
	item model.SelectItem, tc model.TableConnection) (model.SelectItem, error) {
	if IsUnsupportedCountFunction(item) {
		return item, errors.New("Custom count() expressions are not supported with materialized views.")
	}
	if item.AggFn == "" {
		return item, nil
	}
	if !model.IsAggregateFunction(item.AggFn) {
		return item, errors.Errorf("Aggregate function %s is not valid.", item.AggFn)
	}

	// aggregations without a source column, e.g. count. valueExpression is ignored for those.
	if col := findAggregatedColumn(mv, "", item.AggFn); col != nil {
		item.AggFn = o.mergeFunction(ctx, tc, col.MvColumn, item.AggFn)
		item.ValueExpression = col.MvColumn
		return item, nil
	}

	col := findAggregatedColumn(mv, item.ValueExpression, item.AggFn)
	if col == nil {
		return item, errors.Errorf("The aggregate function %s is not available for column '%s'.",
			formatAggregateFunction(item.AggFn, item.Level), item.ValueExpression)
	}
	aggFn := item.AggFn
	if aggFn == "quantile" && item.Level != nil {
		if fn := o.quantileFunction(ctx, tc, col.MvColumn); fn != "" {
			aggFn = fn
		}
	}
	item.AggFn = o.mergeFunction(ctx, tc, col.MvColumn, aggFn)
	item.ValueExpression = col.MvColumn
	return item, nil
}

func checkGranularity(mv model.MaterializedViewConfiguration, cfg *model.ChartConfig) error {
	if cfg.Granularity == "" && cfg.DateRange == nil {
		return nil
	}
	if supportsGranularity(mv, cfg) {
		return nil
	}
	if cfg.Granularity == "" {
		return errors.New("The selected date range is too short for the granularity of this materialized view.")
	}
	return errors.Errorf("Granularity must be a multiple of the view's granularity (%s).", mv.MinGranularity)
}

func supportsGranularity(mv model.MaterializedViewConfiguration, cfg *model.ChartConfig) bool {
	mvSeconds := chart_utils.ConvertGranularityToSeconds(mv.MinGranularity)
	if mvSeconds <= 0 {
		return false
	}
	// without an explicit granularity the chart would bucket by the auto granularity of its range
	granularity := cfg.Granularity
	if granularity == "" {
		granularity = chart_utils.GranularityAuto
	}
	if granularity == chart_utils.GranularityAuto && cfg.DateRange == nil {
		return false
	}
	chartSeconds := chart_utils.ConvertGranularityToSeconds(chart_utils.ResolveGranularity(granularity, cfg.DateRange))
	return chartSeconds >= mvSeconds && chartSeconds%mvSeconds == 0
}

// ParseMinDate accepts RFC 3339 timestamps and plain dates.
func ParseMinDate(minDate string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, minDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("Invalid materialized view minDate %q.", minDate)
}

func supportsDateRange(mv model.MaterializedViewConfiguration, cfg *model.ChartConfig) (bool, error) {
	if mv.MinDate == "" {
		return true, nil
	}
	if cfg.DateRange == nil {
		return false, nil
	}
	minDate, err := ParseMinDate(mv.MinDate)
	if err != nil {
		return false, err
	}
	return !cfg.DateRange[0].Before(minDate), nil
}

func checkDateRange(mv model.MaterializedViewConfiguration, cfg *model.ChartConfig) error {
	ok, err := supportsDateRange(mv, cfg)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("The selected date range includes dates for which this view does not contain data.")
	}
	return nil
}

// TryConvertConfig rewrites cfg to read from the view. The input config is never modified.
func (o *Optimizer) TryConvertConfig(ctx context.Context, cfg *model.ChartConfig,
	mv model.MaterializedViewConfiguration) ConvertResult {
	if cfg.Select.IsExpr {
		return ConvertResult{Errors: []string{"Only array-based select statements are supported."}}
	}
	if err := checkGranularity(mv, cfg); err != nil {
		return ConvertResult{Errors: []string{err.Error()}}
	}
	if err := checkDateRange(mv, cfg); err != nil {
		return ConvertResult{Errors: []string{err.Error()}}
	}

	tc := model.TableConnection{
		Connection:   cfg.Connection,
		DatabaseName: mv.DatabaseName,
		TableName:    mv.TableName,
	}
	items := make([]model.SelectItem, len(cfg.Select.Items))
	errs := make([]error, len(cfg.Select.Items))
	g, gCtx := errgroup.WithContext(ctx)
	for i, item := range cfg.Select.Items {
		g.Go(func() error {
			// collected, not returned: every item reports its own reason
			items[i], errs[i] = o.convertSelectItem(gCtx, mv, item, tc)
			return nil
		})
	}
	_ = g.Wait()
	var res ConvertResult
	for _, err := range errs {
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	if len(res.Errors) > 0 {
		return res
	}

	res.Config = cfg.Clone()
	res.Config.Select = model.ItemSelect(items...)
	res.Config.TimestampValueExpression = mv.TimestampColumn
	res.Config.From = model.TableRef{DatabaseName: mv.DatabaseName, TableName: mv.TableName}
	if cfg.DateRange != nil {
		// the view stores whole buckets: align the start and exclude the bucket following the end
		aligned := chart_utils.GetAlignedDateRange(*cfg.DateRange, mv.MinGranularity)
		res.Config.DateRange = &aligned
		res.Config.DateRangeEndInclusive = new(bool)
	}
	return res
}

func mvID(mv model.MaterializedViewConfiguration) string {
	return fmt.Sprintf("%s.%s", mv.DatabaseName, mv.TableName)
}
