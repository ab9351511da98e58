package chsql

import (
	"math"
	"strconv"
	"strings"
)

var literalReplacer = strings.NewReplacer(
	"\x00", `\0`,
	"\b", `\b`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
	"\x1a", `\Z`,
	`"`, `\"`,
	`'`, `\'`,
	`\`, `\\`,
)

// QuoteString renders a single quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + literalReplacer.Replace(s) + "'"
}

// QuoteIdentifier renders a backticked identifier. Dots split the identifier into path parts.
func QuoteIdentifier(s string) string {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

// QuoteNumberOrString renders numeric literals unquoted and everything else as a string literal.
func QuoteNumberOrString(s string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return QuoteString(s)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
