package model

// RenderRequest asks for the SQL of one chart config. Source, when set, fills the table, connection,
// timestamp and implicit column the config leaves empty.
type RenderRequest struct {
	Source        string         `json:"source,omitempty"`
	ChartConfig   *ChartConfig   `json:"chartConfig"`
	QuerySettings []QuerySetting `json:"querySettings,omitempty"`
	Optimize      bool           `json:"optimize,omitempty"`
}

type KeyValuesRequest struct {
	Source      string       `json:"source"`
	ChartConfig *ChartConfig `json:"chartConfig"`
	Keys        []string     `json:"keys"`
}

type SearchExplainRequest struct {
	Query string `json:"query"`
}

// SearchSqlRequest compiles a search query against a source or an explicit table.
type SearchSqlRequest struct {
	Source                   string   `json:"source,omitempty"`
	Connection               string   `json:"connection,omitempty"`
	From                     TableRef `json:"from"`
	ImplicitColumnExpression string   `json:"implicitColumnExpression,omitempty"`
	Query                    string   `json:"query"`
}
