package ch_expr

import (
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	grafana_re "github.com/grafana/regexp"
)

var parser = participle.MustBuild[SelectList](
	participle.Lexer(ClickhouseLexerDefinition),
	participle.Elide("whitespace", "Comment"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(64))

var (
	symbols      = ClickhouseLexerDefinition.Symbols()
	whitespaceTT = symbols["whitespace"]
	commentTT    = symbols["Comment"]
	qIdentTT     = symbols["QIdent"]
	dqIdentTT    = symbols["DQIdent"]

	plainIdentRe = grafana_re.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func Parse(sql string) (*SelectList, error) {
	return parser.ParseString("", sql)
}

// significant drops whitespace and comments.
func significant(tokens []lexer.Token) []lexer.Token {
	res := make([]lexer.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Type == whitespaceTT || t.Type == commentTT || t.EOF() {
			continue
		}
		res = append(res, t)
	}
	return res
}

// normalize renders tokens in a canonical form so equal expressions compare equal
// regardless of spacing and identifier quoting.
func normalize(tokens []lexer.Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Value
		if t.Type == qIdentTT || t.Type == dqIdentTT {
			if inner := t.Value[1 : len(t.Value)-1]; plainIdentRe.MatchString(inner) {
				parts[i] = inner
			}
		}
	}
	return strings.Join(parts, " ")
}

// NormalizeExpression returns the canonical form of a standalone expression.
func NormalizeExpression(expr string) (string, error) {
	lex, err := ClickhouseLexerDefinition.LexString("", expr)
	if err != nil {
		return "", err
	}
	tokens, err := lexer.ConsumeAll(lex)
	if err != nil {
		return "", err
	}
	return normalize(significant(tokens)), nil
}

type replacement struct {
	start int
	end   int
	text  string
}

// ReplaceMaterializedColumns substitutes every sub-expression found in lookup (expression -> column name)
// with the backticked column name. The input text is never modified in place: a new string is assembled
// from the untouched spans and the substitutions.
func ReplaceMaterializedColumns(sql string, lookup map[string]string) (string, error) {
	if len(lookup) == 0 || strings.TrimSpace(sql) == "" {
		return sql, nil
	}
	normalized := make(map[string]string, len(lookup))
	for expr, column := range lookup {
		n, err := NormalizeExpression(expr)
		if err != nil || n == "" {
			continue
		}
		normalized[n] = column
	}
	if len(normalized) == 0 {
		return sql, nil
	}
	ast, err := Parse(sql)
	if err != nil {
		return sql, err
	}
	var repls []replacement
	ast.walk(func(p *Postfix) bool {
		tokens := significant(p.Tokens)
		if len(tokens) == 0 {
			return true
		}
		column, ok := normalized[normalize(tokens)]
		if !ok {
			return true
		}
		last := tokens[len(tokens)-1]
		repls = append(repls, replacement{
			start: tokens[0].Pos.Offset,
			end:   last.Pos.Offset + len(last.Value),
			text:  "`" + strings.ReplaceAll(column, "`", "``") + "`",
		})
		return false
	})
	if len(repls) == 0 {
		return sql, nil
	}
	sort.Slice(repls, func(i, j int) bool { return repls[i].start < repls[j].start })
	sb := strings.Builder{}
	prev := 0
	for _, r := range repls {
		if r.start < prev || r.end > len(sql) {
			continue
		}
		sb.WriteString(sql[prev:r.start])
		sb.WriteString(r.text)
		prev = r.end
	}
	sb.WriteString(sql[prev:])
	return sb.String(), nil
}
