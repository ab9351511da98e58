package chsql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/city"
	grafana_re "github.com/grafana/regexp"
)

// ChSql is a parameterized SQL fragment. Sql never carries caller values inline:
// every value is referenced through a {name:Type} placeholder present in Params.
type ChSql struct {
	Sql    string         `json:"sql"`
	Params map[string]any `json:"params"`
}

type ParamType string

const (
	TypeString     ParamType = "String"
	TypeInt32      ParamType = "Int32"
	TypeInt64      ParamType = "Int64"
	TypeFloat32    ParamType = "Float32"
	TypeFloat64    ParamType = "Float64"
	TypeIdentifier ParamType = "Identifier"
)

// Param is a typed scalar interpolation.
type Param struct {
	Type  ParamType
	Value any
}

// Raw marks trusted SQL text built by the compiler itself. It is never used for user input.
type Raw string

func String(v string) Param { return Param{TypeString, v} }
func Int32(v int32) Param { return Param{TypeInt32, v} }
func Int64(v int64) Param { return Param{TypeInt64, v} }
func Float32(v float32) Param { return Param{TypeFloat32, v} }
func Float64(v float64) Param { return Param{TypeFloat64, v} }
func Identifier(v string) Param { return Param{TypeIdentifier, v} }
func Empty() ChSql { return ChSql{Params: map[string]any{}} }
func (c ChSql) IsEmpty() bool { return len(c.Sql) == 0 }
func (c ChSql) String() string { return c.Sql }

// ParamName returns the placeholder name for a value. Equal values always map to the same name.
func ParamName(v any) string {
	return "HYPERDX_PARAM_" + strconv.FormatUint(city.CH64([]byte(FormatValue(v))), 10)
}

// FormatValue is the canonical string form of a parameter value, used both for hashing
// and for server-side parameter passing.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// Sql builds a fragment from parts. Accepted parts:
//   - string: template text written by the compiler
//   - Raw: trusted SQL text
//   - Param: a typed scalar, rendered as a placeholder
//   - ChSql: a nested fragment
//   - []ChSql: fragments joined with no separator
//
// Any other part type is a programming error and panics.
func Sql(parts ...any) ChSql {
	sb := strings.Builder{}
	params := map[string]any{}
	for _, p := range parts {
		switch part := p.(type) {
		case nil:
		case string:
			sb.WriteString(part)
		case Raw:
			sb.WriteString(string(part))
		case Param:
			name := ParamName(part.Value)
			sb.WriteString("{")
			sb.WriteString(name)
			sb.WriteString(":")
			sb.WriteString(string(part.Type))
			sb.WriteString("}")
			params[name] = part.Value
		case ChSql:
			sb.WriteString(part.Sql)
			mergeParams(params, part.Params)
		case *ChSql:
			if part != nil {
				sb.WriteString(part.Sql)
				mergeParams(params, part.Params)
			}
		case []ChSql:
			for _, c := range part {
				sb.WriteString(c.Sql)
				mergeParams(params, c.Params)
			}
		default:
			panic(fmt.Sprintf("chsql: unsupported fragment part %T", p))
		}
	}
	return ChSql{Sql: sb.String(), Params: params}
}

// Concat joins the non-empty fragments with sep. Empty fragments contribute neither text nor separator.
func Concat(sep string, frags ...ChSql) ChSql {
	res := Empty()
	sb := strings.Builder{}
	for _, f := range frags {
		if f.IsEmpty() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(f.Sql)
		mergeParams(res.Params, f.Params)
	}
	res.Sql = sb.String()
	return res
}

// WrapIfNotEmpty surrounds a non-empty fragment with left and right and returns an empty
// fragment otherwise.
func WrapIfNotEmpty(f ChSql, left, right string) ChSql {
	if f.IsEmpty() {
		return Empty()
	}
	return Sql(left, f, right)
}

func TableExpr(database, table string) ChSql {
	return Sql(Identifier(database), ".", Identifier(table))
}

var placeholderRe = grafana_re.MustCompile(`\{([A-Za-z0-9_]+):\w+\}`)

// ParameterizedQueryToSql inlines parameter values. The result is for display only.
func ParameterizedQueryToSql(c ChSql) string {
	return placeholderRe.ReplaceAllStringFunc(c.Sql, func(s string) string {
		name := placeholderRe.FindStringSubmatch(s)[1]
		if v, ok := c.Params[name]; ok {
			return FormatValue(v)
		}
		return s
	})
}

// StringParams converts the parameter map to the form expected by server-side parameter binding.
func (c ChSql) StringParams() map[string]string {
	res := make(map[string]string, len(c.Params))
	for k, v := range c.Params {
		res[k] = FormatValue(v)
	}
	return res
}

func mergeParams(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
