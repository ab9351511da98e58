package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourcesYaml = `
sources:
  - name: logs
    connection: default
    from:
      databaseName: default
      tableName: otel_logs
    timestampValueExpression: TimestampTime
    implicitColumnExpression: Body
    querySettings:
      - setting: max_threads
        value: "4"
    materializedViews:
      - databaseName: default
        tableName: otel_logs_rollup_1m
        dimensionColumns: ServiceName, SeverityText
        minGranularity: 1 minute
        timestampColumn: Timestamp
        aggregatedColumns:
          - aggFn: count
            mvColumn: count
          - aggFn: avg
            sourceColumn: Duration
            mvColumn: avg__Duration
`

func TestParseSources(t *testing.T) {
	sources, err := ParseSources([]byte(sourcesYaml))
	require.NoError(t, err)
	require.Len(t, sources, 1)
	s := sources[0]
	assert.Equal(t, "logs", s.Name)
	assert.Equal(t, "otel_logs", s.From.TableName)
	assert.Equal(t, "Body", s.ImplicitColumnExpression)
	require.Len(t, s.MaterializedViews, 1)
	assert.Equal(t, "1 minute", s.MaterializedViews[0].MinGranularity)
	assert.Len(t, s.MaterializedViews[0].AggregatedColumns, 2)
	assert.Equal(t, "4", s.QuerySettings[0].Value)
}

func TestParseSourcesRejectsInvalid(t *testing.T) {
	_, err := ParseSources([]byte(`
sources:
  - name: logs
    from:
      tableName: otel_logs
`))
	assert.Error(t, err, "timestampValueExpression is required")

	_, err = ParseSources([]byte(`
sources:
  - name: logs
    from:
      tableName: otel_logs
    timestampValueExpression: Timestamp
    materializedViews:
      - tableName: rollup
        minGranularity: 1 fortnight
        timestampColumn: Timestamp
        aggregatedColumns:
          - aggFn: count
            mvColumn: count
`))
	assert.Error(t, err)

	_, err = ParseSources([]byte(`
sources:
  - name: logs
    from: {tableName: a}
    timestampValueExpression: Timestamp
  - name: logs
    from: {tableName: b}
    timestampValueExpression: Timestamp
`))
	assert.Error(t, err)
}

func TestLoadSourcesEmptyPath(t *testing.T) {
	sources, err := LoadSources("")
	require.NoError(t, err)
	assert.Nil(t, sources)
}
