package dsn

import (
	"context"
	"database/sql"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
)

// StableSqlxDBWrapper reopens the pool after a transport failure. Server side exceptions
// leave the pool untouched.
type StableSqlxDBWrapper struct {
	DB    *sqlx.DB
	mtx   sync.RWMutex
	GetDB func() *sqlx.DB
	Name  string
}

// IsServerException reports errors raised by ClickHouse itself rather than by the connection.
func IsServerException(err error) bool {
	var ex *clickhouse.Exception
	return errors.As(err, &ex)
}

func (s *StableSqlxDBWrapper) reconnectOn(err error) {
	if err == nil || IsServerException(err) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	logger.Error("[DSN001] ", s.Name, ": reconnecting after ", err)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.DB.Close()
	s.DB = s.GetDB()
}

func (s *StableSqlxDBWrapper) QueryCtx(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	res, err := func() (*sql.Rows, error) {
		s.mtx.RLock()
		defer s.mtx.RUnlock()
		return s.DB.QueryContext(ctx, query, args...)
	}()
	s.reconnectOn(err)
	return res, err
}

func (s *StableSqlxDBWrapper) Conn(ctx context.Context) (*sql.Conn, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.DB.Conn(ctx)
}

func (s *StableSqlxDBWrapper) Close() {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	s.DB.Close()
}
