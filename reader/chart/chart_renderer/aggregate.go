package chart_renderer

import (
	"math"
	"strconv"
	"strings"

	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/pkg/errors"
)

func IsNonEmptyWhereExpr(where string) bool {
	return strings.TrimSpace(where) != ""
}

func formatLevel(level float64) string {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return "0"
	}
	return strconv.FormatFloat(level, 'f', -1, 64)
}

func raw(parts ...string) chsql.ChSql {
	return chsql.Sql(chsql.Raw(strings.Join(parts, "")))
}

// aggFnExpr renders one aggregate call. where is an already compiled SQL condition.
func aggFnExpr(fn string, expr string, level *float64, where string) (chsql.ChSql, error) {
	if !model.IsValidAggFn(fn) {
		return chsql.Empty(), errors.Errorf("Invalid aggregate function: %s", fn)
	}
	isCount := strings.HasPrefix(fn, "count")
	isWhereUsed := IsNonEmptyWhereExpr(where)
	unsafeExpr := expr
	if fn != "any" && fn != "none" {
		// the expression might not be numeric
		unsafeExpr = "toFloat64OrDefault(toString(" + expr + "))"
	}
	whereWithNullCheck := where + " AND " + unsafeExpr + " IS NOT NULL"

	switch {
	case strings.HasSuffix(fn, "Merge"):
		lvl := ""
		if level != nil && *level != 0 && (strings.HasPrefix(fn, "quantile") || strings.HasPrefix(fn, "histogram")) {
			lvl = "(" + formatLevel(*level) + ")"
		}
		if isWhereUsed {
			return raw(fn, "If", lvl, "(", expr, ", ", whereWithNullCheck, ")"), nil
		}
		return raw(fn, lvl, "(", expr, ")"), nil
	case strings.HasSuffix(fn, "State"):
		if expr == "" || isCount {
			if isWhereUsed {
				return raw(fn, "(", where, ")"), nil
			}
			return raw(fn, "()"), nil
		}
		if isWhereUsed {
			return raw(fn, "(", unsafeExpr, ", ", whereWithNullCheck, ")"), nil
		}
		return raw(fn, "(", unsafeExpr, ")"), nil
	case fn == "count":
		if isWhereUsed {
			return raw("countIf(", where, ")"), nil
		}
		return raw("count()"), nil
	case fn == "none":
		return raw(expr), nil
	case strings.TrimSpace(expr) == "":
		return chsql.Empty(), errors.New("Column is required for all non-count aggregation functions")
	case fn == "count_distinct":
		if isWhereUsed {
			return raw("countIf(DISTINCT ", expr, ", ", where, ")"), nil
		}
		return raw("count(DISTINCT ", expr, ")"), nil
	}

	if isWhereUsed {
		fn += "If"
	}
	if level != nil {
		fn += "(" + formatLevel(*level) + ")"
	}
	if isWhereUsed {
		return raw(fn, "(", unsafeExpr, ", ", whereWithNullCheck, ")"), nil
	}
	return raw(fn, "(", unsafeExpr, ")"), nil
}

// quoteAlias renders a double quoted alias.
func quoteAlias(alias string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(alias) + `"`
}
