package lucene_parser

import "strings"

// Query is a flat boolean chain: Left (Op Right)*. Operators bind left to right with no precedence.
type Query struct {
	Start bool        `@"NOT"?`
	Left  *Clause     `@@`
	Rest  []*OpClause `@@*`
}

func (q *Query) String() string {
	if q == nil {
		return ""
	}
	sb := strings.Builder{}
	if q.Start {
		sb.WriteString("NOT ")
	}
	sb.WriteString(q.Left.String())
	for _, r := range q.Rest {
		sb.WriteString(" ")
		if r.Op != "" {
			sb.WriteString(r.Operator())
			sb.WriteString(" ")
		}
		sb.WriteString(r.Right.String())
	}
	return sb.String()
}

type OpClause struct {
	Op    string  `@( "AND" "NOT" | "OR" "NOT" | "AND" | "OR" | Op | "NOT" )?`
	Right *Clause `@@`
}

// Operator returns the normalized operator. An empty operator is the implicit one.
func (o *OpClause) Operator() string {
	switch o.Op {
	case "":
		return ImplicitOperator
	case "ANDNOT":
		return "AND NOT"
	case "ORNOT":
		return "OR NOT"
	}
	return o.Op
}

type Clause struct {
	Prefix string  `@("-" | "+")?`
	Field  string  `@Field?`
	Group  *Query  `( "(" @@ ")"`
	Range  *Range  `| @@`
	Quoted *string `| @Quoted`
	Term   *string `| @Term )`
}

func (c *Clause) String() string {
	if c == nil {
		return ""
	}
	sb := strings.Builder{}
	sb.WriteString(c.Prefix)
	sb.WriteString(c.Field)
	switch {
	case c.Group != nil:
		sb.WriteString("(")
		sb.WriteString(c.Group.String())
		sb.WriteString(")")
	case c.Range != nil:
		sb.WriteString(c.Range.String())
	case c.Quoted != nil:
		sb.WriteString(*c.Quoted)
	case c.Term != nil:
		sb.WriteString(*c.Term)
	}
	return sb.String()
}

// FieldName returns the field without the trailing colon.
func (c *Clause) FieldName() string {
	return strings.TrimSuffix(c.Field, ":")
}

type Range struct {
	Open  string `@("[" | "{")`
	Min   string `@(Term | Quoted) "TO"`
	Max   string `@(Term | Quoted)`
	Close string `@("]" | "}")`
}

func (r *Range) String() string {
	return r.Open + r.Min + " TO " + r.Max + r.Close
}

func (r *Range) Inclusive() bool {
	return r.Open == "[" && r.Close == "]"
}
