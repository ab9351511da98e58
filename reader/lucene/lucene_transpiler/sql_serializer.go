package lucene_transpiler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	grafana_re "github.com/grafana/regexp"
	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/model"
	"github.com/pkg/errors"
)

const notFoundQuery = "(1 = 0)"

var jsonNumberTypes = []string{
	"Int8", "Int16", "Int32", "Int64", "Int128", "Int256",
	"UInt8", "UInt16", "UInt32", "UInt64", "UInt128", "UInt256",
	"Float32", "Float64",
}

var (
	// ascii 0-127 that is neither a letter nor a digit, as hasToken splits
	tokenSeparatorsRe = grafana_re.MustCompile("[ -/:-@\\[-\x60{-~\t\n\r]+")
	mapValueTypeRe    = grafana_re.MustCompile(`,\s+(\w+)\)$`)
	mapAccessRe       = grafana_re.MustCompile("^`?([A-Za-z_][A-Za-z0-9_]*)`?\\['((?:[^'\\\\]|\\\\.)*)'\\]$")
	identifierRe      = grafana_re.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	stringLiteralRe   = grafana_re.MustCompile(`'(?:[^'\\]|\\.)*'`)
	whitespaceRe      = grafana_re.MustCompile(`\s+`)
)

// MetadataProvider is the part of the metadata layer the SQL serializer reads.
type MetadataProvider interface {
	GetColumn(ctx context.Context, tc model.TableConnection, column string, matchLowercase bool) (*model.ColumnMeta, error)
	GetMaterializedColumnsLookupTable(ctx context.Context, tc model.TableConnection) (map[string]string, error)
	GetSkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error)
}

type SqlSerializerConfig struct {
	model.TableConnection
	ImplicitColumnExpression string
}

type dataType int

const (
	typeUnknown dataType = iota
	typeString
	typeNumber
	typeDate
	typeBool
	typeJSON
	typeDynamic
	typeArray
	typeMap
	typeTuple
)

func chTypeToDataType(chType string) dataType {
	switch {
	case strings.HasPrefix(chType, "Date"):
		// compared as text, not cast
		return typeDate
	case strings.HasPrefix(chType, "Tuple"):
		return typeTuple
	case strings.HasPrefix(chType, "Map"):
		return typeMap
	case strings.HasPrefix(chType, "Array"):
		return typeArray
	case strings.HasPrefix(chType, "Int"), strings.HasPrefix(chType, "UInt"),
		strings.HasPrefix(chType, "Float"), strings.HasPrefix(chType, "Nullable(Int"),
		strings.HasPrefix(chType, "Nullable(UInt"), strings.HasPrefix(chType, "Nullable(Float"):
		return typeNumber
	case strings.HasPrefix(chType, "String"), strings.HasPrefix(chType, "FixedString"),
		strings.HasPrefix(chType, "Enum"), strings.HasPrefix(chType, "UUID"),
		strings.HasPrefix(chType, "IPv4"), strings.HasPrefix(chType, "IPv6"):
		return typeString
	case chType == "Bool":
		return typeBool
	case strings.HasPrefix(chType, "JSON"):
		return typeJSON
	case strings.HasPrefix(chType, "Dynamic"):
		return typeDynamic
	case strings.HasPrefix(chType, "LowCardinality(") && strings.HasSuffix(chType, ")"):
		return chTypeToDataType(chType[len("LowCardinality(") : len(chType)-1])
	}
	return typeUnknown
}

// columnRef is a field resolved to SQL expressions.
type columnRef struct {
	found      bool
	column     string
	jsonString string
	jsonNumber string
	dataType   dataType
	// mapKeyHint is the indexHint(mapContains(...)) of the map entry backing the column, if any
	mapKeyHint string
}

// SqlSerializer compiles search queries into ClickHouse predicates over a single table.
type SqlSerializer struct {
	metadata MetadataProvider
	conf     SqlSerializerConfig
}

func NewSqlSerializer(md MetadataProvider, conf SqlSerializerConfig) *SqlSerializer {
	return &SqlSerializer{metadata: md, conf: conf}
}

func (s *SqlSerializer) Operator(op string) (string, error) {
	return translateOperator(op)
}

// implicitColumn returns the expression searched by bare terms.
func (s *SqlSerializer) implicitColumn() (string, error) {
	expr := strings.TrimSpace(s.conf.ImplicitColumnExpression)
	if expr == "" {
		return "", errors.New("Can not search bare text without an implicit column set.")
	}
	parts := strings.Split(expr, ",")
	if len(parts) == 1 {
		return expr, nil
	}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return "concatWithSeparator(';'," + strings.Join(parts, ",") + ")", nil
}

// buildColumnExpression resolves column.path.to.key against the table columns: an exact column first, then a
// Map, JSON or JSON string column named by the first path segment.
func (s *SqlSerializer) buildColumnExpression(ctx context.Context, field string) (columnRef, error) {
	exact, err := s.metadata.GetColumn(ctx, s.conf.TableConnection, field, false)
	if err != nil {
		return columnRef{}, err
	}
	if exact != nil {
		res := columnRef{found: true, column: exact.Name, dataType: chTypeToDataType(exact.Type)}
		if res.dataType == typeMap || res.dataType == typeTuple {
			return columnRef{}, nil
		}
		res.mapKeyHint, err = s.materializedMapKeyHint(ctx, exact.Name)
		return res, err
	}

	path := strings.Split(field, ".")
	if len(path) < 2 {
		return columnRef{}, nil
	}
	prefix, err := s.metadata.GetColumn(ctx, s.conf.TableConnection, path[0], false)
	if err != nil || prefix == nil {
		return columnRef{}, err
	}
	key := strings.Join(path[1:], ".")
	switch {
	case strings.HasPrefix(prefix.Type, "Map"):
		valueType := "Unknown"
		if m := mapValueTypeRe.FindStringSubmatch(prefix.Type); m != nil {
			valueType = m[1]
		}
		return columnRef{
			found:      true,
			column:     quoteIdentifier(prefix.Name) + "[" + quoteString(key) + "]",
			dataType:   chTypeToDataType(valueType),
			mapKeyHint: mapContainsHint(prefix.Name, key),
		}, nil
	case strings.HasPrefix(prefix.Type, "JSON"):
		types := make([]string, len(jsonNumberTypes))
		for i, t := range jsonNumberTypes {
			types[i] = quoteString(t)
		}
		id := quoteIdentifier(field)
		return columnRef{
			found:      true,
			jsonString: "toString(" + id + ")",
			jsonNumber: "dynamicType(" + id + ") in (" + strings.Join(types, ", ") + ") and " + id,
			dataType:   typeJSON,
		}, nil
	case prefix.Type == "String":
		args := []string{quoteIdentifier(prefix.Name)}
		for _, p := range path[1:] {
			args = append(args, quoteString(p))
		}
		return columnRef{
			found:    true,
			column:   "JSONExtractString(" + strings.Join(args, ", ") + ")",
			dataType: typeString,
		}, nil
	}
	return columnRef{}, nil
}

// materializedMapKeyHint finds the map entry a materialized column is computed from.
func (s *SqlSerializer) materializedMapKeyHint(ctx context.Context, column string) (string, error) {
	lookup, err := s.metadata.GetMaterializedColumnsLookupTable(ctx, s.conf.TableConnection)
	if err != nil {
		return "", err
	}
	for expr, name := range lookup {
		if name != column {
			continue
		}
		if m := mapAccessRe.FindStringSubmatch(strings.TrimSpace(expr)); m != nil {
			return mapContainsHint(m[1], m[2]), nil
		}
	}
	return "", nil
}

func mapContainsHint(column string, key string) string {
	return fmt.Sprintf("indexHint(mapContains(%s, %s))", quoteIdentifier(column), quoteString(key))
}

func (s *SqlSerializer) getColumnForField(ctx context.Context, f Field) (columnRef, error) {
	if f.Implicit {
		col, err := s.implicitColumn()
		if err != nil {
			return columnRef{}, err
		}
		return columnRef{found: true, column: col, dataType: typeString}, nil
	}
	return s.buildColumnExpression(ctx, f.Name)
}

// hint returns the " AND indexHint(...)" suffix for non-negated predicates over map entries.
func hint(ref columnRef, f Field, negated bool) string {
	if ref.mapKeyHint == "" || negated || f.ParentNegated {
		return ""
	}
	return " AND " + ref.mapKeyHint
}

func neq(negated bool) string {
	if negated {
		return "!="
	}
	return "="
}

func not(negated bool) string {
	if negated {
		return "NOT "
	}
	return ""
}

func boolTerm(term string) string {
	switch strings.ToLower(strings.TrimSpace(term)) {
	case "true":
		return "1"
	case "false":
		return "0"
	}
	if n, err := strconv.Atoi(strings.TrimSpace(term)); err == nil {
		return strconv.Itoa(n)
	}
	return quoteString(term)
}

// exactMatch compares typed columns by value. Numbers and booleans never use substring matching.
func exactMatch(ref columnRef, term string, negated bool) (string, bool) {
	switch ref.dataType {
	case typeBool:
		return fmt.Sprintf("%s %s %s", ref.column, neq(negated), boolTerm(term)), true
	case typeNumber:
		return fmt.Sprintf("%s %s CAST(%s, 'Float64')", ref.column, neq(negated), quoteString(term)), true
	}
	return "", false
}

func (s *SqlSerializer) Eq(ctx context.Context, f Field, term string, negated bool) (string, error) {
	ref, err := s.getColumnForField(ctx, f)
	if err != nil || !ref.found {
		return notFoundQuery, err
	}
	if pred, ok := exactMatch(ref, term, negated); ok {
		return "(" + pred + hint(ref, f, negated) + ")", nil
	}
	switch ref.dataType {
	case typeJSON:
		return fmt.Sprintf("(%s %s %s)", ref.jsonString, neq(negated), quoteString(term)), nil
	case typeArray:
		return fmt.Sprintf("(%shas(%s, %s)%s)", not(negated), ref.column, quoteString(term), hint(ref, f, negated)), nil
	}
	return fmt.Sprintf("(%s %s %s%s)", ref.column, neq(negated), quoteString(term), hint(ref, f, negated)), nil
}

func (s *SqlSerializer) IsNotNull(ctx context.Context, f Field, negated bool) (string, error) {
	ref, err := s.getColumnForField(ctx, f)
	if err != nil || !ref.found {
		return notFoundQuery, err
	}
	col := ref.column
	if ref.dataType == typeJSON {
		col = ref.jsonString
	}
	return fmt.Sprintf("notEmpty(%s) %s 1%s", col, neq(negated), hint(ref, f, negated)), nil
}

func (s *SqlSerializer) compare(ctx context.Context, f Field, op string, term string) (string, error) {
	ref, err := s.getColumnForField(ctx, f)
	if err != nil || !ref.found {
		return notFoundQuery, err
	}
	col := ref.column
	if ref.dataType == typeJSON {
		col = ref.jsonNumber
	}
	return fmt.Sprintf("(%s %s %s%s)", col, op, quoteString(term), hint(ref, f, false)), nil
}

func (s *SqlSerializer) Gte(ctx context.Context, f Field, term string) (string, error) {
	return s.compare(ctx, f, ">=", term)
}

func (s *SqlSerializer) Lte(ctx context.Context, f Field, term string) (string, error) {
	return s.compare(ctx, f, "<=", term)
}

func (s *SqlSerializer) Gt(ctx context.Context, f Field, term string) (string, error) {
	return s.compare(ctx, f, ">", term)
}

func (s *SqlSerializer) Lt(ctx context.Context, f Field, term string) (string, error) {
	return s.compare(ctx, f, "<", term)
}

func (s *SqlSerializer) Range(ctx context.Context, f Field, start string, end string, negated bool) (string, error) {
	ref, err := s.getColumnForField(ctx, f)
	if err != nil || !ref.found {
		return notFoundQuery, err
	}
	col := ref.column
	if ref.dataType == typeJSON {
		col = ref.jsonNumber
	}
	return fmt.Sprintf("(%s %sBETWEEN %s AND %s%s)", col, not(negated),
		quoteNumberOrString(start), quoteNumberOrString(end), hint(ref, f, negated)), nil
}

func (s *SqlSerializer) FieldSearch(ctx context.Context, f Field, term string, negated bool,
	opts SearchOpts) (string, error) {
	ref, err := s.getColumnForField(ctx, f)
	if err != nil || !ref.found {
		return notFoundQuery, err
	}
	if pred, ok := exactMatch(ref, term, negated); ok {
		return "(" + pred + hint(ref, f, negated) + ")", nil
	}
	switch ref.dataType {
	case typeJSON:
		return fmt.Sprintf("(%s %sILIKE %s)", ref.jsonString, not(negated), quoteString("%"+term+"%")), nil
	case typeArray:
		return fmt.Sprintf("(%sarrayExists(el -> toString(el) ILIKE %s, %s)%s)", not(negated),
			quoteString("%"+term+"%"), ref.column, hint(ref, f, negated)), nil
	}

	if term == "" {
		return "(1=1)", nil
	}

	if (f.Implicit || f.Group) && (opts.PrefixWildcard || opts.SuffixWildcard) {
		pattern := term
		if opts.PrefixWildcard {
			pattern = "%" + pattern
		}
		if opts.SuffixWildcard {
			pattern += "%"
		}
		return fmt.Sprintf("(lower(%s) %sLIKE lower(%s)%s)", ref.column, not(negated), quoteString(pattern),
			hint(ref, f, negated)), nil
	}
	if f.Implicit {
		return s.implicitTokenSearch(ctx, ref.column, term, negated)
	}
	return fmt.Sprintf("(%s %sILIKE %s%s)", ref.column, not(negated), quoteString("%"+term+"%"),
		hint(ref, f, negated)), nil
}

// implicitTokenSearch picks the whole word predicate for the implicit column. A text index is preferred, then a
// bloom_filter over tokens(), then hasToken. Terms with separators additionally match the whole term as a
// substring.
func (s *SqlSerializer) implicitTokenSearch(ctx context.Context, column string, term string,
	negated bool) (string, error) {
	hasSeparators := tokenSeparatorsRe.MatchString(term)
	likeTerm := fmt.Sprintf("(lower(%s) LIKE lower(%s))", column, quoteString("%"+term+"%"))
	wrap := func(preds ...string) string {
		if hasSeparators {
			preds = append(preds, likeTerm)
		}
		if len(preds) == 1 {
			return "(" + not(negated) + preds[0] + ")"
		}
		if negated {
			return "(NOT (" + strings.Join(preds, " AND ") + "))"
		}
		return "(" + strings.Join(preds, " AND ") + ")"
	}

	indices, err := s.metadata.GetSkipIndices(ctx, s.conf.TableConnection)
	if err != nil {
		return "", err
	}
	if idx := findTextIndex(indices, s.conf.ImplicitColumnExpression); idx != nil {
		return wrap(fmt.Sprintf("hasAllTokens(%s, %s)", column, quoteString(term))), nil
	}
	if idx := findBloomFilterTokensIndex(indices, s.conf.ImplicitColumnExpression); idx != nil {
		needle := quoteString(term)
		if strings.Contains(whitespaceRe.ReplaceAllString(idx.Expression, ""), "lower(") {
			needle = "lower(" + needle + ")"
		}
		return wrap(fmt.Sprintf("hasAll(%s, tokens(%s))", idx.Expression, needle)), nil
	}

	tokens := tokenizeTerm(term)
	if len(tokens) == 0 {
		return fmt.Sprintf("(lower(%s) %sLIKE lower(%s))", column, not(negated), quoteString("%"+term+"%")), nil
	}
	if !hasSeparators {
		return wrap(hasToken(column, term)), nil
	}
	preds := make([]string, len(tokens))
	for i, t := range tokens {
		preds[i] = hasToken(column, t)
	}
	return wrap(preds...), nil
}

func hasToken(column string, token string) string {
	return fmt.Sprintf("hasToken(lower(%s), lower(%s))", column, quoteString(token))
}

func tokenizeTerm(term string) []string {
	var res []string
	for _, t := range tokenSeparatorsRe.Split(term, -1) {
		if t != "" {
			res = append(res, t)
		}
	}
	return res
}

func findTextIndex(indices []model.SkipIndex, column string) *model.SkipIndex {
	for i, idx := range indices {
		if idx.Type == "text" && IndexCoversColumn(idx.Expression, column) {
			return &indices[i]
		}
	}
	return nil
}

func findBloomFilterTokensIndex(indices []model.SkipIndex, column string) *model.SkipIndex {
	for i, idx := range indices {
		if idx.Type != "bloom_filter" {
			continue
		}
		if _, ok := metadata.ParseTokensExpression(idx.Expression); !ok {
			continue
		}
		if IndexCoversColumn(idx.Expression, column) {
			return &indices[i]
		}
	}
	return nil
}

func identifiers(expr string) map[string]bool {
	expr = stringLiteralRe.ReplaceAllString(expr, "")
	expr = strings.ReplaceAll(expr, "`", "")
	res := map[string]bool{}
	for _, id := range identifierRe.FindAllString(expr, -1) {
		res[id] = true
	}
	return res
}

// IndexCoversColumn reports whether every column referenced by the search expression is referenced by the index
// expression. Identifiers are compared case-sensitively with quoting and whitespace ignored.
func IndexCoversColumn(indexExpression string, searchExpression string) bool {
	indexed := identifiers(indexExpression)
	searched := identifiers(searchExpression)
	if len(searched) == 0 {
		return false
	}
	for id := range searched {
		if !indexed[id] {
			return false
		}
	}
	return true
}
