package lucene_transpiler

import (
	"context"
	"strings"

	"github.com/metrico/chartql/reader/lucene/lucene_parser"
	"github.com/metrico/chartql/reader/utils/logger"
)

// SearchQueryBuilder ANDs a search query with extra SQL conditions.
type SearchQueryBuilder struct {
	searchQ    string
	conditions []string
	serializer Serializer
}

func NewSearchQueryBuilder(searchQ string, serializer Serializer) *SearchQueryBuilder {
	return &SearchQueryBuilder{searchQ: searchQ, serializer: serializer}
}

func (b *SearchQueryBuilder) SetSerializer(serializer Serializer) *SearchQueryBuilder {
	b.serializer = serializer
	return b
}

func (b *SearchQueryBuilder) Serializer() Serializer {
	return b.serializer
}

// And adds a condition. Blank conditions are skipped.
func (b *SearchQueryBuilder) And(condition string) *SearchQueryBuilder {
	if strings.TrimSpace(condition) != "" {
		b.conditions = append(b.conditions, "("+condition+")")
	}
	return b
}

func (b *SearchQueryBuilder) Build(ctx context.Context) (string, error) {
	if strings.TrimSpace(b.searchQ) != "" {
		q, err := lucene_parser.Parse(b.searchQ)
		if err != nil {
			return "", err
		}
		res, err := Serialize(ctx, q, b.serializer)
		if err != nil {
			return "", err
		}
		b.And(res)
	}
	return strings.Join(b.conditions, " AND "), nil
}

// GenSQL compiles a search query into a parenthesized WHERE predicate.
func GenSQL(ctx context.Context, searchQ string, serializer Serializer) (string, error) {
	return NewSearchQueryBuilder(searchQ, serializer).Build(ctx)
}

// GenEnglishExplanation describes the query in plain words. Unparsable queries fall back to a generic sentence.
func GenEnglishExplanation(ctx context.Context, query string) string {
	q, err := lucene_parser.Parse(query)
	var res string
	if err == nil {
		res, err = Serialize(ctx, q, EnglishSerializer{})
	}
	if err != nil {
		logger.Warn("Parse failure ", query, ": ", err)
		return "Message containing " + query
	}
	return res
}
