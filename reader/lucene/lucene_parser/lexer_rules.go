package lucene_parser

import (
	"github.com/alecthomas/participle/v2/lexer"
)

var LuceneLexerRules = []lexer.SimpleRule{
	{"Quoted", `"(?:\\.|[^"\\])*"`},
	{"Op", `&&|\|\|`},
	{"Field", `(?:\\.|[^\s():\[\]{}"\\])+:`},
	{"Punct", `[():\[\]{}]`},
	{"Term", `(?:\\.|[^\s():\[\]{}"\\])+`},

	{"whitespace", `\s+`},
}

var LuceneLexerDefinition = lexer.MustSimple(LuceneLexerRules)
