package dsn

import (
	"context"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsServerException(t *testing.T) {
	assert.True(t, IsServerException(&clickhouse.Exception{Code: 60, Message: "Table default.nope does not exist"}))
	assert.True(t, IsServerException(errors.Wrap(&clickhouse.Exception{Code: 497}, "describe")))
	assert.False(t, IsServerException(errors.New("read: connection reset by peer")))
	assert.False(t, IsServerException(context.Canceled))
}
