package model

import (
	"bytes"
	"fmt"
	"time"

	grafana_re "github.com/grafana/regexp"

	jsoniter "github.com/json-iterator/go"
	"github.com/metrico/chartql/reader/utils/chsql"
	"golang.org/x/exp/slices"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	LanguageSql    = "sql"
	LanguageLucene = "lucene"

	FilterTypeSql    = "sql"
	FilterTypeLucene = "lucene"
	FilterTypeSqlAst = "sql_ast"

	MetricTypeGauge     = "gauge"
	MetricTypeSum       = "sum"
	MetricTypeHistogram = "histogram"

	SeriesReturnTypeRatio  = "ratio"
	SeriesReturnTypeColumn = "column"
)

// AggregateFunctions are the logical aggregations a select item may request.
var AggregateFunctions = []string{
	"avg", "count", "count_distinct", "last_value", "max", "min", "quantile", "sum", "any", "none",
}

var aggFnCombinatorRe = grafana_re.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(State|Merge)$`)

func IsAggregateFunction(fn string) bool {
	return slices.Contains(AggregateFunctions, fn)
}

// IsValidAggFn accepts the logical aggregations and their State/Merge combinator forms.
func IsValidAggFn(fn string) bool {
	return IsAggregateFunction(fn) || aggFnCombinatorRe.MatchString(fn)
}

type TableRef struct {
	DatabaseName string `json:"databaseName" yaml:"databaseName"`
	TableName    string `json:"tableName" yaml:"tableName" validate:"required"`
}

type SelectItem struct {
	ValueExpression         string   `json:"valueExpression"`
	ValueExpressionLanguage string   `json:"valueExpressionLanguage,omitempty"`
	AggFn                   string   `json:"aggFn,omitempty"`
	AggCondition            string   `json:"aggCondition,omitempty"`
	AggConditionLanguage    string   `json:"aggConditionLanguage,omitempty"`
	Level                   *float64 `json:"level,omitempty"`
	Threshold               *float64 `json:"threshold,omitempty"`
	Alias                   string   `json:"alias,omitempty"`
	MetricType              string   `json:"metricType,omitempty"`
	MetricName              string   `json:"metricName,omitempty"`
	MetricNameSql           string   `json:"metricNameSql,omitempty"`
	IsDelta                 bool     `json:"isDelta,omitempty"`
}

// SelectList is either a raw expression string or a list of items.
type SelectList struct {
	Expr   string
	Items  []SelectItem
	IsExpr bool
}

func RawSelect(expr string) SelectList {
	return SelectList{Expr: expr, IsExpr: true}
}

func ItemSelect(items ...SelectItem) SelectList {
	return SelectList{Items: items}
}

func (s SelectList) IsEmpty() bool {
	if s.IsExpr {
		return s.Expr == ""
	}
	return len(s.Items) == 0
}

func (s SelectList) Clone() SelectList {
	res := s
	if s.Items != nil {
		res.Items = make([]SelectItem, len(s.Items))
		copy(res.Items, s.Items)
	}
	return res
}

func (s SelectList) MarshalJSON() ([]byte, error) {
	if s.IsExpr {
		return json.Marshal(s.Expr)
	}
	if s.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Items)
}

func (s *SelectList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = SelectList{}
		return nil
	}
	if b[0] == '"' {
		var expr string
		if err := json.Unmarshal(b, &expr); err != nil {
			return err
		}
		*s = RawSelect(expr)
		return nil
	}
	var items []SelectItem
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("select list must be a string or an array: %w", err)
	}
	*s = ItemSelect(items...)
	return nil
}

type SortItem struct {
	SelectItem
	Ordering string `json:"ordering"`
}

// SortList is either a raw ORDER BY expression or a list of sort items.
type SortList struct {
	Expr   string
	Items  []SortItem
	IsExpr bool
}

func RawSort(expr string) SortList {
	return SortList{Expr: expr, IsExpr: true}
}

func (s SortList) IsEmpty() bool {
	if s.IsExpr {
		return s.Expr == ""
	}
	return len(s.Items) == 0
}

func (s SortList) MarshalJSON() ([]byte, error) {
	if s.IsExpr {
		return json.Marshal(s.Expr)
	}
	if s.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Items)
}

func (s *SortList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = SortList{}
		return nil
	}
	if b[0] == '"' {
		var expr string
		if err := json.Unmarshal(b, &expr); err != nil {
			return err
		}
		*s = RawSort(expr)
		return nil
	}
	var items []SortItem
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("order by must be a string or an array: %w", err)
	}
	*s = SortList{Items: items}
	return nil
}

// Filter is a tagged union: sql/lucene filters carry Condition, sql_ast filters carry Operator, Left and Right.
type Filter struct {
	Type      string `json:"type"`
	Condition string `json:"condition,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Left      string `json:"left,omitempty"`
	Right     string `json:"right,omitempty"`
}

var inverseOperators = map[string]string{
	"=": "!=", ">": "<=", "<": ">=",
	"!=": "=", "<=": ">", ">=": "<",
}

// Inverse returns the sql_ast filter matching the complement of f.
func (f Filter) Inverse() Filter {
	res := f
	if op, ok := inverseOperators[f.Operator]; ok {
		res.Operator = op
	}
	return res
}

type Limit struct {
	Limit  *int32 `json:"limit,omitempty"`
	Offset *int32 `json:"offset,omitempty"`
}

type CTE struct {
	Name        string       `json:"name"`
	Sql         *chsql.ChSql `json:"sql,omitempty"`
	ChartConfig *ChartConfig `json:"chartConfig,omitempty"`
	IsSubquery  *bool        `json:"isSubquery,omitempty"`
}

type ChartConfig struct {
	Select                   SelectList        `json:"select"`
	From                     TableRef          `json:"from"`
	Where                    string            `json:"where"`
	WhereLanguage            string            `json:"whereLanguage,omitempty"`
	ImplicitColumnExpression string            `json:"implicitColumnExpression,omitempty"`
	GroupBy                  SelectList        `json:"groupBy"`
	SelectGroupBy            *bool             `json:"selectGroupBy,omitempty"`
	Having                   string            `json:"having,omitempty"`
	HavingLanguage           string            `json:"havingLanguage,omitempty"`
	OrderBy                  SortList          `json:"orderBy"`
	Limit                    *Limit            `json:"limit,omitempty"`
	Filters                  []Filter          `json:"filters,omitempty"`
	FiltersLogicalOperator   string            `json:"filtersLogicalOperator,omitempty"`
	DateRange                *[2]time.Time     `json:"dateRange,omitempty"`
	DateRangeStartInclusive  *bool             `json:"dateRangeStartInclusive,omitempty"`
	DateRangeEndInclusive    *bool             `json:"dateRangeEndInclusive,omitempty"`
	Granularity              string            `json:"granularity,omitempty"`
	TimestampValueExpression string            `json:"timestampValueExpression,omitempty"`
	With                     []CTE             `json:"with,omitempty"`
	Connection               string            `json:"connection"`
	SeriesReturnType         string            `json:"seriesReturnType,omitempty"`
	MetricTables             map[string]string `json:"metricTables,omitempty"`

	// Internal knobs set by the metric translation; never accepted from callers.
	Settings             *chsql.ChSql `json:"-"`
	IncludedDataInterval string       `json:"-"`
}

func (c *ChartConfig) IsUsingGroupBy() bool {
	return !c.GroupBy.IsEmpty()
}

func (c *ChartConfig) IsUsingGranularity() bool {
	return c.TimestampValueExpression != "" && c.Granularity != ""
}

func (c *ChartConfig) IsMetric() bool {
	return c.MetricTables != nil
}

// Clone returns a structural copy safe to modify without touching c.
func (c *ChartConfig) Clone() *ChartConfig {
	if c == nil {
		return nil
	}
	res := *c
	res.Select = c.Select.Clone()
	res.GroupBy = c.GroupBy.Clone()
	if c.OrderBy.Items != nil {
		res.OrderBy.Items = append([]SortItem(nil), c.OrderBy.Items...)
	}
	if c.Limit != nil {
		l := *c.Limit
		res.Limit = &l
	}
	if c.Filters != nil {
		res.Filters = append([]Filter(nil), c.Filters...)
	}
	if c.DateRange != nil {
		dr := *c.DateRange
		res.DateRange = &dr
	}
	if c.With != nil {
		res.With = make([]CTE, len(c.With))
		for i, w := range c.With {
			res.With[i] = w
			res.With[i].ChartConfig = w.ChartConfig.Clone()
		}
	}
	if c.MetricTables != nil {
		res.MetricTables = make(map[string]string, len(c.MetricTables))
		for k, v := range c.MetricTables {
			res.MetricTables[k] = v
		}
	}
	return &res
}

// SplitMetricSelects returns one config per select item for metric configs and the config itself otherwise.
func SplitMetricSelects(c *ChartConfig) []*ChartConfig {
	if !c.IsMetric() || c.Select.IsExpr {
		return []*ChartConfig{c}
	}
	res := make([]*ChartConfig, 0, len(c.Select.Items))
	for _, item := range c.Select.Items {
		cfg := c.Clone()
		cfg.Select = ItemSelect(item)
		res = append(res, cfg)
	}
	return res
}

// SetMetricSelectsAlias fills missing aliases of metric selects with `aggFn(metricName)`.
func SetMetricSelectsAlias(c *ChartConfig) *ChartConfig {
	if !c.IsMetric() || c.Select.IsExpr {
		return c
	}
	res := c.Clone()
	for i, s := range res.Select.Items {
		if s.Alias != "" {
			continue
		}
		if s.IsDelta {
			res.Select.Items[i].Alias = fmt.Sprintf("%s(delta(%s))", s.AggFn, s.MetricName)
		} else {
			res.Select.Items[i].Alias = fmt.Sprintf("%s(%s)", s.AggFn, s.MetricName)
		}
	}
	return res
}
