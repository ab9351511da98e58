package service

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/metrico/chartql/reader/chart/mv_optimizer"
	"github.com/metrico/chartql/reader/metric"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/chsql"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
)

// EstimateService asks ClickHouse for EXPLAIN ESTIMATE of a compiled statement.
type EstimateService struct {
	model.ServiceData
}

var _ mv_optimizer.CostEstimator = &EstimateService{}

func NewEstimateService(sd *model.ServiceData) *EstimateService {
	return &EstimateService{ServiceData: *sd}
}

type estimateRow struct {
	Database string `db:"database"`
	Table    string `db:"table"`
	Parts    uint64 `db:"parts"`
	Rows     uint64 `db:"rows"`
	Marks    uint64 `db:"marks"`
}

// Estimate reports the statement as valid when EXPLAIN ESTIMATE succeeds. The estimate is the sum over
// every table the statement reads, and is missing when ClickHouse returns no row.
func (e *EstimateService) Estimate(ctx context.Context, connection string, query chsql.ChSql) mv_optimizer.Estimate {
	start := time.Now()
	defer func() {
		metric.EstimateTime.Observe(float64(time.Since(start).Milliseconds()))
	}()
	rows, err := queryRows[estimateRow](ctx, e.Session, connection, chsql.Sql("EXPLAIN ESTIMATE ", query), nil)
	if err != nil {
		logger.Debug("EXPLAIN ESTIMATE failed: ", err)
		return mv_optimizer.Estimate{Error: estimateError(err)}
	}
	if len(rows) == 0 {
		return mv_optimizer.Estimate{IsValid: true}
	}
	var total int64
	for _, r := range rows {
		total += int64(r.Rows)
	}
	return mv_optimizer.Estimate{IsValid: true, RowEstimate: &total}
}

func estimateError(err error) string {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return ex.Message
	}
	return err.Error()
}
