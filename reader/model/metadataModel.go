package model

// TableConnection addresses a table on a named connection.
type TableConnection struct {
	Connection   string
	DatabaseName string
	TableName    string
}

func (t TableConnection) CacheKey(parts ...string) string {
	res := t.Connection + "." + t.DatabaseName + "." + t.TableName
	for _, p := range parts {
		res += "." + p
	}
	return res
}

// ColumnMeta is a row of DESCRIBE TABLE.
type ColumnMeta struct {
	Name              string `db:"name" json:"name"`
	Type              string `db:"type" json:"type"`
	DefaultType       string `db:"default_type" json:"default_type"`
	DefaultExpression string `db:"default_expression" json:"default_expression"`
	Comment           string `db:"comment" json:"comment"`
	CodecExpression   string `db:"codec_expression" json:"codec_expression"`
	TTLExpression     string `db:"ttl_expression" json:"ttl_expression"`
}

// SkipIndex is a row of system.data_skipping_indices.
type SkipIndex struct {
	Name        string `db:"name" json:"name"`
	Type        string `db:"type" json:"type"`
	TypeFull    string `db:"typeFull" json:"typeFull"`
	Expression  string `db:"expression" json:"expression"`
	Granularity uint64 `db:"granularity" json:"granularity"`
}

// TableMetadata is the subset of system.tables the compiler relies on.
type TableMetadata struct {
	Database     string `db:"database" json:"database"`
	Name         string `db:"name" json:"name"`
	Engine       string `db:"engine" json:"engine"`
	PartitionKey string `db:"partition_key" json:"partition_key"`
	SortingKey   string `db:"sorting_key" json:"sorting_key"`
	PrimaryKey   string `db:"primary_key" json:"primary_key"`
	SamplingKey  string `db:"sampling_key" json:"sampling_key"`
	TotalRows    uint64 `db:"total_rows" json:"total_rows"`
}

type AggregatedColumn struct {
	AggFn        string `json:"aggFn" yaml:"aggFn" validate:"required"`
	SourceColumn string `json:"sourceColumn,omitempty" yaml:"sourceColumn"`
	MvColumn     string `json:"mvColumn" yaml:"mvColumn" validate:"required"`
}

// MaterializedViewConfiguration describes a rollup table and how logical aggregations map onto its columns.
type MaterializedViewConfiguration struct {
	DatabaseName      string             `json:"databaseName" yaml:"databaseName"`
	TableName         string             `json:"tableName" yaml:"tableName" validate:"required"`
	DimensionColumns  string             `json:"dimensionColumns" yaml:"dimensionColumns"`
	MinGranularity    string             `json:"minGranularity" yaml:"minGranularity" validate:"required"`
	TimestampColumn   string             `json:"timestampColumn" yaml:"timestampColumn" validate:"required"`
	MinDate           string             `json:"minDate,omitempty" yaml:"minDate"`
	AggregatedColumns []AggregatedColumn `json:"aggregatedColumns" yaml:"aggregatedColumns" validate:"required,dive"`
}

// Source is a named log/trace table the service can build queries for.
type Source struct {
	Name                     string                          `json:"name" yaml:"name" validate:"required"`
	Connection               string                          `json:"connection" yaml:"connection"`
	From                     TableRef                        `json:"from" yaml:"from"`
	TimestampValueExpression string                          `json:"timestampValueExpression" yaml:"timestampValueExpression" validate:"required"`
	ImplicitColumnExpression string                          `json:"implicitColumnExpression,omitempty" yaml:"implicitColumnExpression"`
	QuerySettings            []QuerySetting                  `json:"querySettings,omitempty" yaml:"querySettings"`
	MaterializedViews        []MaterializedViewConfiguration `json:"materializedViews,omitempty" yaml:"materializedViews" validate:"dive"`
}

type QuerySetting struct {
	Setting string `json:"setting" yaml:"setting" validate:"required"`
	Value   string `json:"value" yaml:"value"`
}
