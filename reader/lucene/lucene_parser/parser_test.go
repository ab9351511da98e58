package lucene_parser

import (
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser(t *testing.T) {
	tests := []string{
		`foo`,
		`foo bar baz`,
		`"foo bar baz"`,
		`ServiceName:"foo bar baz"`,
		`foo:bar AND baz:qux`,
		`foo:bar OR NOT baz:qux`,
		`foo:bar && baz:qux || quux`,
		`NOT foo:(bar baz)`,
		`-foo:(-bar)`,
		`foo:(bar:(baz) qux)`,
		`foo:[1 TO 5]`,
		`foo:{a TO "z z"}`,
		`SeverityNumber:>10`,
		`-"exact phrase"`,
		`*bar*`,
		`url:http://example.com/a`,
		`host:localhost:8080`,
		`path:a\:b`,
	}
	asts := make([]*Query, len(tests))
	for i, str := range tests {
		ast, err := Parse(str)
		require.NoError(t, err, str)
		asts[i] = ast
	}
	cupaloy.New(cupaloy.FailOnUpdate(false)).SnapshotT(t, asts)
}

func TestParserStructure(t *testing.T) {
	q, err := Parse(`ServiceName:foo bar AND NOT -baz:[1 TO 5]`)
	require.NoError(t, err)
	assert.False(t, q.Start)
	assert.Equal(t, "ServiceName", q.Left.FieldName())
	require.NotNil(t, q.Left.Term)
	assert.Equal(t, "foo", *q.Left.Term)
	require.Len(t, q.Rest, 2)
	assert.Equal(t, ImplicitOperator, q.Rest[0].Operator())
	assert.Equal(t, "AND NOT", q.Rest[1].Operator())
	assert.Equal(t, "-baz", q.Rest[1].Right.FieldName())
	require.NotNil(t, q.Rest[1].Right.Range)
	assert.Equal(t, "1", q.Rest[1].Right.Range.Min)
	assert.Equal(t, "5", q.Rest[1].Right.Range.Max)
	assert.True(t, q.Rest[1].Right.Range.Inclusive())
}

func TestParserGroup(t *testing.T) {
	q, err := Parse(`NOT foo:(bar baz)`)
	require.NoError(t, err)
	assert.True(t, q.Start)
	assert.Equal(t, "foo", q.Left.FieldName())
	require.NotNil(t, q.Left.Group)
	assert.Len(t, q.Left.Group.Rest, 1)
	assert.Equal(t, "NOT foo:(bar baz)", q.String())
}

func TestParserPrefixes(t *testing.T) {
	q, err := Parse(`-"a b" - (c)`)
	require.NoError(t, err)
	assert.Equal(t, "-", q.Left.Prefix)
	require.NotNil(t, q.Left.Quoted)
	assert.Equal(t, `"a b"`, *q.Left.Quoted)
	require.Len(t, q.Rest, 1)
	assert.Equal(t, "-", q.Rest[0].Right.Prefix)
	assert.NotNil(t, q.Rest[0].Right.Group)
}

func TestParserErrors(t *testing.T) {
	for _, str := range []string{``, `foo:(bar`, `foo:[1 TO]`, `"unterminated`} {
		_, err := Parse(str)
		assert.Error(t, err, str)
	}
}

func TestSpecialTokens(t *testing.T) {
	q, err := Parse(`url:http://example.com`)
	require.NoError(t, err)
	assert.Equal(t, "url", q.Left.FieldName())
	assert.Equal(t, "http://example.com", DecodeSpecialTokens(*q.Left.Term))

	q, err = Parse(`localhost:8080`)
	require.NoError(t, err)
	assert.Equal(t, "", q.Left.FieldName())
	assert.Equal(t, "localhost:8080", DecodeSpecialTokens(*q.Left.Term))

	q, err = Parse(`a\:b:c`)
	require.NoError(t, err)
	assert.Equal(t, "a:b", DecodeSpecialTokens(q.Left.FieldName()))
	assert.Equal(t, "c", *q.Left.Term)

	assert.Equal(t, `a\b`, DecodeSpecialTokens(EncodeSpecialTokens(`a\\b`)))
	assert.Equal(t, `say "hi"`, DecodeSpecialTokens(`say \"hi\"`))
}
