package service

import (
	"context"
	"time"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/avast/retry-go"
	"github.com/jmoiron/sqlx"
	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/metrico/chartql/reader/utils/dsn"
	"github.com/pkg/errors"
)

const (
	retryAttempts = 3
	retryDelay    = 200 * time.Millisecond
)

// ACCESS_DENIED, missing from the ch-go code table.
const errAccessDenied proto.Error = 497

// mapException translates ClickHouse exceptions into the metadata sentinels.
func mapException(err error) error {
	var ex *clickhouse.Exception
	if !errors.As(err, &ex) {
		return err
	}
	switch proto.Error(ex.Code) {
	case errAccessDenied:
		return errors.Wrap(metadata.ErrPermissionDenied, ex.Message)
	case proto.ErrUnknownTable, proto.ErrUnknownDatabase:
		return errors.Wrap(metadata.ErrNotFound, ex.Message)
	}
	return err
}

func retryable(err error) bool {
	return !dsn.IsServerException(err) && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func queryContext(ctx context.Context, q chsql.ChSql, settings map[string]any) context.Context {
	opts := []clickhouse.QueryOption{clickhouse.WithParameters(q.StringParams())}
	if len(settings) > 0 {
		opts = append(opts, clickhouse.WithSettings(settings))
	}
	return clickhouse.Context(ctx, opts...)
}

// queryRows runs q on the named connection and scans every row into a T. Params travel server side.
// Transport failures are retried, ClickHouse exceptions are not.
func queryRows[T any](ctx context.Context, registry model.IDBRegistry, connection string, q chsql.ChSql,
	settings map[string]any) ([]T, error) {
	db, err := registry.GetDBByName(ctx, connection)
	if err != nil {
		return nil, err
	}
	var res []T
	err = retry.Do(
		func() error {
			res = res[:0]
			rows, err := db.Session.QueryCtx(queryContext(ctx, q, settings), q.Sql)
			if err != nil {
				return err
			}
			defer rows.Close()
			return sqlx.StructScan(rows, &res)
		},
		retry.Context(ctx),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return nil, mapException(err)
	}
	return res, nil
}
