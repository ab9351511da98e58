package metadata

import (
	"context"
	"strconv"
	"strings"

	grafana_re "github.com/grafana/regexp"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
)

const (
	DefaultMaxRowsToRead = 3000000
	DefaultMaxKeys       = 1000

	clickhouseSettingsKey = "clickhouse-settings"
)

// Metadata answers schema questions for the compiler. Every lookup goes through the shared Cache.
type Metadata struct {
	source Source
	cache  *Cache
}

func New(source Source, cache *Cache) *Metadata {
	if cache == nil {
		cache = NewCache()
	}
	return &Metadata{source: source, cache: cache}
}

func (m *Metadata) Cache() *Cache {
	return m.cache
}

// ClickHouseSettings returns the settings applied to metadata queries.
func (m *Metadata) ClickHouseSettings() map[string]string {
	if v, ok := m.cache.Get(clickhouseSettingsKey); ok {
		return v.(map[string]string)
	}
	return map[string]string{}
}

func (m *Metadata) SetClickHouseSettings(settings map[string]string) {
	res := map[string]string{}
	for k, v := range m.ClickHouseSettings() {
		res[k] = v
	}
	for k, v := range settings {
		res[k] = v
	}
	m.cache.Set(clickhouseSettingsKey, res)
}

func (m *Metadata) maxRowsToRead() int32 {
	if v, ok := m.ClickHouseSettings()["max_rows_to_read"]; ok {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && n > 0 {
			return int32(n)
		}
	}
	return DefaultMaxRowsToRead
}

func (m *Metadata) GetColumns(ctx context.Context, tc model.TableConnection) ([]model.ColumnMeta, error) {
	return GetOrFetch(m.cache, tc.CacheKey("columns"), func() ([]model.ColumnMeta, error) {
		return m.source.Columns(ctx, tc)
	})
}

// GetColumn returns the column meta or nil when the table has no such column.
func (m *Metadata) GetColumn(ctx context.Context, tc model.TableConnection, column string,
	matchLowercase bool) (*model.ColumnMeta, error) {
	columns, err := m.GetColumns(ctx, tc)
	if err != nil {
		return nil, err
	}
	for i, c := range columns {
		if c.Name == column || (matchLowercase && strings.EqualFold(c.Name, column)) {
			return &columns[i], nil
		}
	}
	return nil, nil
}

// GetMaterializedColumnsLookupTable maps the default expression of every MATERIALIZED or DEFAULT column to the
// column name.
func (m *Metadata) GetMaterializedColumnsLookupTable(ctx context.Context,
	tc model.TableConnection) (map[string]string, error) {
	columns, err := m.GetColumns(ctx, tc)
	if err != nil {
		return nil, err
	}
	res := map[string]string{}
	for _, c := range columns {
		if c.DefaultType == "MATERIALIZED" || c.DefaultType == "DEFAULT" {
			res[c.DefaultExpression] = c.Name
		}
	}
	return res, nil
}

func (m *Metadata) GetTableMetadata(ctx context.Context, tc model.TableConnection) (*model.TableMetadata, error) {
	md, err := GetOrFetch(m.cache, tc.CacheKey("metadata"), func() (*model.TableMetadata, error) {
		return m.source.TableMetadata(ctx, tc)
	})
	if err != nil {
		return nil, err
	}
	if md == nil {
		return nil, errors.Wrapf(ErrNotFound, "table %s.%s", tc.DatabaseName, tc.TableName)
	}
	res := *md
	// partition_key keeps its parentheses, unlike the other keys
	if strings.HasPrefix(res.PartitionKey, "(") && strings.HasSuffix(res.PartitionKey, ")") {
		res.PartitionKey = res.PartitionKey[1 : len(res.PartitionKey)-1]
	}
	return &res, nil
}

type settingValue struct {
	value string
	ok    bool
}

// GetSetting reads one server setting. A permission error yields ok=false.
func (m *Metadata) GetSetting(ctx context.Context, connection string, name string) (string, bool, error) {
	res, err := GetOrFetch(m.cache, connection+"."+name, func() (settingValue, error) {
		v, ok, err := m.source.Setting(ctx, connection, name)
		if errors.Is(err, ErrPermissionDenied) {
			logger.Warn("Not enough privileges to fetch settings: ", err)
			return settingValue{}, nil
		}
		return settingValue{v, ok}, err
	})
	return res.value, res.ok, err
}

func (m *Metadata) GetSettings(ctx context.Context, connection string) (map[string]string, error) {
	return GetOrFetch(m.cache, connection+".availableSettings", func() (map[string]string, error) {
		res, err := m.source.Settings(ctx, connection)
		if errors.Is(err, ErrPermissionDenied) {
			logger.Warn("Not enough privileges to fetch settings, may result in unoptimized queries: ", err)
			return map[string]string{}, nil
		}
		return res, err
	})
}

func (m *Metadata) GetSkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error) {
	return GetOrFetch(m.cache, tc.CacheKey("skipIndices"), func() ([]model.SkipIndex, error) {
		res, err := m.source.SkipIndices(ctx, tc)
		if errors.Is(err, ErrPermissionDenied) {
			logger.Warn("Not enough privileges to fetch skip indices: ", err)
			return []model.SkipIndex{}, nil
		}
		return res, err
	})
}

// GetMapKeys samples the distinct keys of a Map column.
func (m *Metadata) GetMapKeys(ctx context.Context, tc model.TableConnection, column string,
	maxKeys int32) ([]string, error) {
	key := tc.CacheKey(column, "keys")
	if v, ok := m.cache.Get(key); ok {
		return v.([]string), nil
	}
	col, err := m.GetColumn(ctx, tc, column, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, errors.Wrapf(ErrNotFound, "Column %s not found in %s.%s", column, tc.DatabaseName, tc.TableName)
	}
	strategy := GroupUniqArrayArray
	if strings.HasPrefix(col.Type, "Map(LowCardinality(String)") {
		strategy = LowCardinalityKeys
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return GetOrFetch(m.cache, key, func() ([]string, error) {
		keys, err := m.source.MapKeys(ctx, tc, column, strategy, maxKeys, m.maxRowsToRead())
		if err != nil {
			return nil, err
		}
		res := make([]string, 0, len(keys))
		for _, k := range keys {
			if k != "" {
				res = append(res, k)
			}
		}
		return res, nil
	})
}

// QueryMaterializedViewsByTarget lists the materialized views that insert into the given table.
func (m *Metadata) QueryMaterializedViewsByTarget(ctx context.Context,
	tc model.TableConnection) ([]model.TableRef, error) {
	return GetOrFetch(m.cache, tc.CacheKey("sourceMaterializedViews"), func() ([]model.TableRef, error) {
		res, err := m.source.MaterializedViewsByTarget(ctx, tc)
		if errors.Is(err, ErrPermissionDenied) {
			logger.Warn("Not enough privileges to fetch tables: ", err)
			return []model.TableRef{}, nil
		}
		return res, err
	})
}

var tokensExprRe = grafana_re.MustCompile(`(?i)^tokens\s*\((.*)\)$`)

// ParseTokensExpression returns the argument of a tokens(...) index expression.
func ParseTokensExpression(expression string) (string, bool) {
	match := tokensExprRe.FindStringSubmatch(strings.TrimSpace(expression))
	if match == nil {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}
