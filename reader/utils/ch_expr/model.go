package ch_expr

import "github.com/alecthomas/participle/v2/lexer"

// SelectList is a comma separated list of expressions with optional aliases.
// A WHERE condition parses as a single item list.
type SelectList struct {
	Items []*SelectItem `@@ ( "," @@ )*`
}

type SelectItem struct {
	Expr  *Expr   `@@`
	Alias *string `( "AS" @(Ident | QIdent | DQIdent | String) )?`
}

type Expr struct {
	Or []*AndExpr `@@ ( "OR" @@ )*`
}

type AndExpr struct {
	And []*NotExpr `@@ ( "AND" @@ )*`
}

type NotExpr struct {
	Not bool        `@"NOT"?`
	Cmp *Comparison `@@`
}

type Comparison struct {
	Left *Additive `@@`
	Tail *CmpTail  `@@?`
}

type CmpTail struct {
	IsNull  *IsNullTail  `  @@`
	Between *BetweenTail `| @@`
	In      *InTail      `| @@`
	Like    *LikeTail    `| @@`
	Binary  *BinaryTail  `| @@`
}

type IsNullTail struct {
	Not bool `"IS" @"NOT"? "NULL"`
}

type BetweenTail struct {
	Not  bool      `@"NOT"? "BETWEEN"`
	Low  *Additive `@@`
	High *Additive `"AND" @@`
}

type InTail struct {
	Not   bool      `@"NOT"? "GLOBAL"? "IN"`
	Right *Additive `@@`
}

type LikeTail struct {
	Not   bool      `@"NOT"?`
	Op    string    `@("LIKE" | "ILIKE")`
	Right *Additive `@@`
}

type BinaryTail struct {
	Op    string    `@("=" | "==" | "!=" | "<>" | "<=" | ">=" | "<" | ">")`
	Right *Additive `@@`
}

type Additive struct {
	Left *Mult    `@@`
	Rest []*AddOp `@@*`
}

type AddOp struct {
	Op    string `@("+" | "-" | "||")`
	Right *Mult  `@@`
}

type Mult struct {
	Left *Unary   `@@`
	Rest []*MulOp `@@*`
}

type MulOp struct {
	Op    string `@("*" | "/" | "%")`
	Right *Unary `@@`
}

type Unary struct {
	Neg   bool     `@"-"?`
	Value *Postfix `@@`
}

// Postfix is a primary expression followed by subscripts and casts. It is the unit the
// materialized column rewrite compares against column default expressions.
type Postfix struct {
	Tokens  []lexer.Token
	Primary *Primary `@@`
	Index   []*Expr  `( "[" @@ "]" )*`
	Cast    []string `( "::" @Ident )*`
}

type Primary struct {
	Param    *string   `  @Param`
	Interval *Interval `| @@`
	Case     *CaseExpr `| @@`
	Lambda   *Lambda   `| @@`
	Call     *Call     `| @@`
	Column   *Column   `| @@`
	Number   *string   `| @Number`
	String   *string   `| @String`
	Star     bool      `| @"*"`
	Array    *Array    `| @@`
	Paren    *Paren    `| @@`
}

type Interval struct {
	Value *Unary `"INTERVAL" @@`
	Unit  string `@("NANOSECOND" | "MICROSECOND" | "MILLISECOND" | "SECOND" | "MINUTE" | "HOUR" | "DAY" | "WEEK" | "MONTH" | "QUARTER" | "YEAR" | "NANOSECONDS" | "MICROSECONDS" | "MILLISECONDS" | "SECONDS" | "MINUTES" | "HOURS" | "DAYS" | "WEEKS" | "MONTHS" | "QUARTERS" | "YEARS")?`
}

type CaseExpr struct {
	Whens []*WhenClause `"CASE" @@+`
	Else  *Expr         `( "ELSE" @@ )? "END"`
}

type WhenClause struct {
	When *Expr `"WHEN" @@`
	Then *Expr `"THEN" @@`
}

type Lambda struct {
	Params []string `( @Ident | "(" @Ident ( "," @Ident )* ")" ) "->"`
	Body   *Expr    `@@`
}

// Call is a function call. Parametric aggregates like quantile(0.5)(x) carry two argument lists.
type Call struct {
	Name  string     `@Ident`
	Lists []*ArgList `@@ @@?`
}

type ArgList struct {
	Args []*Arg `"(" ( @@ ( "," @@ )* )? ")"`
}

type Arg struct {
	Distinct bool  `@"DISTINCT"?`
	Expr     *Expr `@@`
}

type Column struct {
	Parts []string `@(Ident | QIdent | DQIdent) ( "." @(Ident | QIdent | DQIdent) )*`
}

type Array struct {
	Items []*Expr `"[" ( @@ ( "," @@ )* )? "]"`
}

type Paren struct {
	Items []*Expr `"(" @@ ( "," @@ )* ")"`
}
