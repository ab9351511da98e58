package lucene_parser

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	grafana_re "github.com/grafana/regexp"
)

const (
	ImplicitOperator = "<implicit>"
	ImplicitField    = "<implicit>"
)

var parser = participle.MustBuild[Query](
	participle.Lexer(LuceneLexerDefinition),
	participle.Elide("whitespace"),
	participle.UseLookahead(4))

var (
	backslashRe       = grafana_re.MustCompile(`\\\\`)
	localhostRe       = grafana_re.MustCompile(`localhost:(\d{1,5})`)
	escapedColonRe    = grafana_re.MustCompile(`\\:`)
	escapedQuoteRe    = grafana_re.MustCompile(`\\"`)
	localhostBackRe   = grafana_re.MustCompile(`localhost_COLON_(\d{1,5})`)
	encodedBackslashR = grafana_re.MustCompile(`HDX_BACKSLASH_LITERAL`)
	encodedColonRe    = grafana_re.MustCompile(`HDX_COLON`)
)

// replaceFirstRe substitutes the first match of re only.
func replaceFirstRe(re *grafana_re.Regexp, s string, repl string) string {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	dst := re.ExpandString(nil, repl, s, loc)
	return s[:loc[0]] + string(dst) + s[loc[1]:]
}

// EncodeSpecialTokens hides the colons of URLs, localhost:port and escaped colons so they are not read as
// field delimiters.
func EncodeSpecialTokens(query string) string {
	query = backslashRe.ReplaceAllLiteralString(query, "HDX_BACKSLASH_LITERAL")
	query = strings.Replace(query, "http://", "http_COLON_//", 1)
	query = strings.Replace(query, "https://", "https_COLON_//", 1)
	query = replaceFirstRe(localhostRe, query, "localhost_COLON_$1")
	return escapedColonRe.ReplaceAllLiteralString(query, "HDX_COLON")
}

// DecodeSpecialTokens reverses EncodeSpecialTokens and unescapes quotes.
func DecodeSpecialTokens(query string) string {
	query = escapedQuoteRe.ReplaceAllLiteralString(query, `"`)
	query = encodedBackslashR.ReplaceAllLiteralString(query, `\`)
	query = strings.Replace(query, "http_COLON_//", "http://", 1)
	query = strings.Replace(query, "https_COLON_//", "https://", 1)
	query = replaceFirstRe(localhostBackRe, query, "localhost:$1")
	return encodedColonRe.ReplaceAllLiteralString(query, ":")
}

func Parse(str string) (*Query, error) {
	return parser.ParseString("", EncodeSpecialTokens(str))
}

// Unquote strips the surrounding double quotes of a quoted token.
func Unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
