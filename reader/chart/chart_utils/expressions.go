package chart_utils

import (
	"strings"

	grafana_re "github.com/grafana/regexp"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
)

// SplitAndTrimWithBracket splits a comma separated expression list. Commas inside quotes or brackets don't split.
func SplitAndTrimWithBracket(input string) []string {
	var (
		parens, squares    int
		inSingle, inDouble bool
		res                []string
		cur                strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			res = append(res, s)
		}
		cur.Reset()
	}
	for _, c := range input {
		switch {
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case inSingle || inDouble:
		case c == '(':
			parens++
		case c == ')':
			parens--
		case c == '[':
			squares++
		case c == ']':
			squares--
		case c == ',' && parens == 0 && squares == 0:
			flush()
			continue
		}
		cur.WriteRune(c)
	}
	flush()
	return res
}

// GetFirstTimestampValueExpression returns the leading expression of a multi-column timestamp expression.
func GetFirstTimestampValueExpression(expr string) string {
	parts := SplitAndTrimWithBracket(expr)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// ToStartOf is a parsed toStartOf*(column[, args]) call.
type ToStartOf struct {
	Function               string
	Column                 string
	FormattedRemainingArgs string
}

var toStartOfRe = grafana_re.MustCompile(`^(toStartOf\w+)\s*\((.*)\)$`)

// ParseToStartOfFunction recognizes toStartOf*(col[, args]) expressions.
func ParseToStartOfFunction(expr string) *ToStartOf {
	match := toStartOfRe.FindStringSubmatch(strings.TrimSpace(expr))
	if match == nil {
		return nil
	}
	args := SplitAndTrimWithBracket(match[2])
	if len(args) == 0 {
		return nil
	}
	res := &ToStartOf{Function: match[1], Column: args[0]}
	for _, a := range args[1:] {
		res.FormattedRemainingArgs += ", " + a
	}
	return res
}

// OptimizeTimestampValueExpression prepends the toStartOf* primary key expression built on the
// timestamp column so the time filter can use the primary index.
func OptimizeTimestampValueExpression(tsExpr string, primaryKey string) string {
	if strings.TrimSpace(primaryKey) == "" {
		return tsExpr
	}
	existing := SplitAndTrimWithBracket(tsExpr)
	first := GetFirstTimestampValueExpression(tsExpr)
	for _, key := range SplitAndTrimWithBracket(primaryKey) {
		toStartOf := ParseToStartOfFunction(key)
		if toStartOf == nil || toStartOf.Column != first {
			continue
		}
		for _, e := range existing {
			if e == key {
				return tsExpr
			}
		}
		return key + ", " + tsExpr
	}
	return tsExpr
}

// JoinQuerySettings renders settings as `name = 'value'` pairs.
func JoinQuerySettings(settings []model.QuerySetting) string {
	parts := make([]string, 0, len(settings))
	for _, s := range settings {
		if s.Setting == "" {
			continue
		}
		parts = append(parts, s.Setting+" = "+chsql.QuoteString(s.Value))
	}
	return strings.Join(parts, ", ")
}

var settingsClauseRe = grafana_re.MustCompile(`(?is)^(.*?)\s+SETTINGS\s+([^'"]*(?:'[^']*'[^'"]*)*)$`)

// ExtractSettingsClauseFromEnd splits a trailing SETTINGS clause from a raw SQL statement.
func ExtractSettingsClauseFromEnd(sql string) (string, string) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(sql), ";")
	match := settingsClauseRe.FindStringSubmatch(trimmed)
	if match == nil {
		return trimmed, ""
	}
	return strings.TrimSpace(match[1]), strings.TrimSpace(match[2])
}
