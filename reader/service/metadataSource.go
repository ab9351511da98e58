package service

import (
	"context"
	"strconv"

	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
)

// MetadataSource reads schema facts from the ClickHouse system tables.
type MetadataSource struct {
	model.ServiceData
	// QuerySettings are sent with every metadata query.
	QuerySettings map[string]any
}

var _ metadata.Source = &MetadataSource{}

func NewMetadataSource(sd *model.ServiceData) *MetadataSource {
	return &MetadataSource{ServiceData: *sd}
}

func (m *MetadataSource) settings(extra map[string]any) map[string]any {
	res := map[string]any{}
	for k, v := range m.QuerySettings {
		res[k] = v
	}
	for k, v := range extra {
		res[k] = v
	}
	return res
}

func (m *MetadataSource) Columns(ctx context.Context, tc model.TableConnection) ([]model.ColumnMeta, error) {
	q := chsql.Sql("DESCRIBE ", chsql.TableExpr(tc.DatabaseName, tc.TableName))
	return queryRows[model.ColumnMeta](ctx, m.Session, tc.Connection, q, m.settings(nil))
}

func (m *MetadataSource) SkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error) {
	q := chsql.Sql(
		"SELECT name, type, type_full AS typeFull, expr AS expression, granularity ",
		"FROM system.data_skipping_indices WHERE database = ", chsql.String(tc.DatabaseName),
		" AND table = ", chsql.String(tc.TableName))
	res, err := queryRows[model.SkipIndex](ctx, m.Session, tc.Connection, q, m.settings(nil))
	if res == nil && err == nil {
		res = []model.SkipIndex{}
	}
	return res, err
}

func (m *MetadataSource) TableMetadata(ctx context.Context, tc model.TableConnection) (*model.TableMetadata, error) {
	q := chsql.Sql(
		"SELECT database, name, engine, partition_key, sorting_key, primary_key, sampling_key, ",
		"ifNull(total_rows, 0) AS total_rows FROM system.tables WHERE database = ", chsql.String(tc.DatabaseName),
		" AND name = ", chsql.String(tc.TableName))
	res, err := queryRows[model.TableMetadata](ctx, m.Session, tc.Connection, q, m.settings(nil))
	if err != nil || len(res) == 0 {
		return nil, err
	}
	return &res[0], nil
}

type settingRow struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

func (m *MetadataSource) Setting(ctx context.Context, connection string, name string) (string, bool, error) {
	q := chsql.Sql("SELECT name, value FROM system.settings WHERE name = ", chsql.String(name))
	res, err := queryRows[settingRow](ctx, m.Session, connection, q, m.settings(nil))
	if err != nil || len(res) == 0 {
		return "", false, err
	}
	return res[0].Value, true, nil
}

func (m *MetadataSource) Settings(ctx context.Context, connection string) (map[string]string, error) {
	q := chsql.Sql("SELECT name, value FROM system.settings")
	rows, err := queryRows[settingRow](ctx, m.Session, connection, q, m.settings(nil))
	if err != nil {
		return nil, err
	}
	res := make(map[string]string, len(rows))
	for _, r := range rows {
		res[r.Name] = r.Value
	}
	return res, nil
}

type mapKeysRow struct {
	Keys []string `db:"keysArr"`
}

type mapKeyRow struct {
	Key string `db:"key"`
}

// MapKeys samples keys from at most maxRows rows, the read stops at the limit instead of failing.
func (m *MetadataSource) MapKeys(ctx context.Context, tc model.TableConnection, column string,
	strategy metadata.MapKeysStrategy, maxKeys int32, maxRows int32) ([]string, error) {
	settings := m.settings(map[string]any{
		"max_rows_to_read":   maxRows,
		"read_overflow_mode": "break",
	})
	from := chsql.TableExpr(tc.DatabaseName, tc.TableName)
	if strategy == metadata.LowCardinalityKeys {
		q := chsql.Sql("SELECT DISTINCT lowCardinalityKeys(arrayJoin(mapKeys(", chsql.Identifier(column),
			"))) AS key FROM ", from, " LIMIT ", chsql.Raw(strconv.Itoa(int(maxKeys))))
		rows, err := queryRows[mapKeyRow](ctx, m.Session, tc.Connection, q, settings)
		if err != nil {
			return nil, err
		}
		res := make([]string, len(rows))
		for i, r := range rows {
			res[i] = r.Key
		}
		return res, nil
	}
	q := chsql.Sql("SELECT groupUniqArrayArray(", chsql.Raw(strconv.Itoa(int(maxKeys))), ")(mapKeys(", chsql.Identifier(column),
		")) AS keysArr FROM ", from)
	rows, err := queryRows[mapKeysRow](ctx, m.Session, tc.Connection, q, settings)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0].Keys, nil
}

type tableRefRow struct {
	Database string `db:"database"`
	Name     string `db:"name"`
}

func (m *MetadataSource) MaterializedViewsByTarget(ctx context.Context,
	tc model.TableConnection) ([]model.TableRef, error) {
	q := chsql.Sql(
		"SELECT database, name FROM system.tables WHERE engine = 'MaterializedView' ",
		"AND create_table_query LIKE ", chsql.String("%TO "+tc.DatabaseName+"."+tc.TableName+"%"))
	rows, err := queryRows[tableRefRow](ctx, m.Session, tc.Connection, q, m.settings(nil))
	if err != nil {
		return nil, err
	}
	res := make([]model.TableRef, len(rows))
	for i, r := range rows {
		res[i] = model.TableRef{DatabaseName: r.Database, TableName: r.Name}
	}
	return res, nil
}
