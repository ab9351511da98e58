package ch_expr

import (
	"github.com/alecthomas/participle/v2/lexer"
)

var ClickhouseLexerRules = []lexer.SimpleRule{
	{"Comment", `--[^\n]*`},
	{"Param", `\{[A-Za-z_][A-Za-z0-9_]*:[^{}]+\}`},
	{"String", `'(?:\\.|''|[^'\\])*'`},
	{"QIdent", "`(?:``|[^`])*`"},
	{"DQIdent", `"(?:\\.|""|[^"\\])*"`},
	{"Number", `0[xX][0-9a-fA-F]+|\d+(?:\.\d*)?(?:[eE][+-]?\d+)?|\.\d+(?:[eE][+-]?\d+)?`},
	{"Ident", `[A-Za-z_][A-Za-z0-9_$]*`},
	{"Op", `->|::|<=|>=|!=|<>|==|\|\||[-+*/%=<>?:.,()\[\]{}]`},

	{"whitespace", `\s+`},
}

var ClickhouseLexerDefinition = lexer.MustSimple(ClickhouseLexerRules)
