package lucene_transpiler

import "github.com/metrico/chartql/reader/utils/chsql"

var (
	quoteString         = chsql.QuoteString
	quoteIdentifier     = chsql.QuoteIdentifier
	quoteNumberOrString = chsql.QuoteNumberOrString
)
