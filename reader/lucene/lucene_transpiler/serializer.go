package lucene_transpiler

import (
	"context"
	"strings"

	"github.com/metrico/chartql/reader/lucene/lucene_parser"
	"github.com/pkg/errors"
)

// Field is the resolved field of a search term.
type Field struct {
	Name string
	// Implicit is set for bare terms searched against the default columns.
	Implicit bool
	// Group is set when the field is inherited from an enclosing field:(...) group.
	Group bool
	// ParentNegated is set when an enclosing group is negated.
	ParentNegated bool
}

type SearchOpts struct {
	PrefixWildcard bool
	SuffixWildcard bool
	Quoted         bool
}

// Serializer renders the leaves and operators of a search query.
type Serializer interface {
	Operator(op string) (string, error)
	Eq(ctx context.Context, f Field, term string, negated bool) (string, error)
	IsNotNull(ctx context.Context, f Field, negated bool) (string, error)
	Gte(ctx context.Context, f Field, term string) (string, error)
	Lte(ctx context.Context, f Field, term string) (string, error)
	Gt(ctx context.Context, f Field, term string) (string, error)
	Lt(ctx context.Context, f Field, term string) (string, error)
	FieldSearch(ctx context.Context, f Field, term string, negated bool, opts SearchOpts) (string, error)
	Range(ctx context.Context, f Field, start string, end string, negated bool) (string, error)
}

func translateOperator(op string) (string, error) {
	switch op {
	case "NOT", "AND NOT":
		return "AND NOT", nil
	case "OR NOT":
		return "OR NOT", nil
	case "&&", lucene_parser.ImplicitOperator, "AND":
		return "AND", nil
	case "||", "OR":
		return "OR", nil
	}
	return "", errors.Errorf("Unexpected operator. %s", op)
}

type scope struct {
	field   string
	negated bool
}

// Serialize walks the query with the given serializer.
func Serialize(ctx context.Context, q *lucene_parser.Query, s Serializer) (string, error) {
	return serializeQuery(ctx, q, s, scope{})
}

func serializeQuery(ctx context.Context, q *lucene_parser.Query, s Serializer, sc scope) (string, error) {
	if q == nil || q.Left == nil {
		return "", nil
	}
	sb := strings.Builder{}
	if q.Start {
		sb.WriteString("NOT ")
	}
	left, err := serializeClause(ctx, q.Left, s, sc)
	if err != nil {
		return "", err
	}
	sb.WriteString(left)
	for _, r := range q.Rest {
		op, err := s.Operator(r.Operator())
		if err != nil {
			return "", err
		}
		right, err := serializeClause(ctx, r.Right, s, sc)
		if err != nil {
			return "", err
		}
		sb.WriteString(" ")
		sb.WriteString(op)
		sb.WriteString(" ")
		sb.WriteString(right)
	}
	return sb.String(), nil
}

func serializeClause(ctx context.Context, c *lucene_parser.Clause, s Serializer, sc scope) (string, error) {
	f := Field{ParentNegated: sc.negated}
	negatedField := false
	switch {
	case c.Field != "":
		f.Name = lucene_parser.DecodeSpecialTokens(c.FieldName())
		if strings.HasPrefix(f.Name, "-") {
			negatedField = true
			f.Name = f.Name[1:]
		}
	case sc.field != "":
		f.Name = sc.field
		f.Group = true
	default:
		f.Name = lucene_parser.ImplicitField
		f.Implicit = true
	}
	negated := negatedField || c.Prefix == "-"

	switch {
	case c.Group != nil:
		inner := sc
		if c.Field != "" {
			inner = scope{field: f.Name, negated: sc.negated || negated}
		}
		res, err := serializeQuery(ctx, c.Group, s, inner)
		if err != nil {
			return "", err
		}
		if negated {
			return "NOT (" + res + ")", nil
		}
		return "(" + res + ")", nil
	case c.Range != nil:
		return s.Range(ctx, f,
			lucene_parser.DecodeSpecialTokens(lucene_parser.Unquote(c.Range.Min)),
			lucene_parser.DecodeSpecialTokens(lucene_parser.Unquote(c.Range.Max)),
			negated)
	case c.Quoted != nil:
		return serializeTerm(ctx, s, f, lucene_parser.DecodeSpecialTokens(lucene_parser.Unquote(*c.Quoted)),
			true, negated)
	case c.Term != nil:
		return serializeTerm(ctx, s, f, lucene_parser.DecodeSpecialTokens(*c.Term), false, negated)
	}
	return "", errors.Errorf("Unexpected Node type. %s", c.String())
}

func serializeTerm(ctx context.Context, s Serializer, f Field, term string, quoted bool,
	negated bool) (string, error) {
	bare := f.Implicit || f.Group
	if !quoted && len(term) > 1 {
		switch term[0] {
		case '-':
			// a bare -term negates the search, field:-term searches for the literal "-term"
			if bare {
				negated = true
				term = term[1:]
			}
		case '+':
			term = term[1:]
		}
	}

	if quoted && !bare {
		return s.Eq(ctx, f, term, negated)
	}
	if !quoted {
		switch {
		case term == "*":
			return s.IsNotNull(ctx, f, negated)
		case strings.HasPrefix(term, ">="):
			if negated {
				return s.Lt(ctx, f, term[2:])
			}
			return s.Gte(ctx, f, term[2:])
		case strings.HasPrefix(term, "<="):
			if negated {
				return s.Gt(ctx, f, term[2:])
			}
			return s.Lte(ctx, f, term[2:])
		case strings.HasPrefix(term, ">"):
			if negated {
				return s.Lte(ctx, f, term[1:])
			}
			return s.Gt(ctx, f, term[1:])
		case strings.HasPrefix(term, "<"):
			if negated {
				return s.Gte(ctx, f, term[1:])
			}
			return s.Lt(ctx, f, term[1:])
		}
	}

	opts := SearchOpts{Quoted: quoted}
	if !quoted && strings.HasPrefix(term, "*") {
		opts.PrefixWildcard = true
		term = term[1:]
	}
	if !quoted && strings.HasSuffix(term, "*") {
		opts.SuffixWildcard = true
		term = term[:len(term)-1]
	}
	return s.FieldSearch(ctx, f, term, negated, opts)
}
