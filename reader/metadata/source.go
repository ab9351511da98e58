package metadata

import (
	"context"

	"github.com/metrico/chartql/reader/model"
	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("not enough privileges")
)

// Source reads schema facts from the database. Implementations wrap their failures so that
// errors.Is distinguishes ErrNotFound and ErrPermissionDenied.
type Source interface {
	Columns(ctx context.Context, tc model.TableConnection) ([]model.ColumnMeta, error)
	SkipIndices(ctx context.Context, tc model.TableConnection) ([]model.SkipIndex, error)
	TableMetadata(ctx context.Context, tc model.TableConnection) (*model.TableMetadata, error)
	Setting(ctx context.Context, connection string, name string) (string, bool, error)
	Settings(ctx context.Context, connection string) (map[string]string, error)
	MapKeys(ctx context.Context, tc model.TableConnection, column string, strategy MapKeysStrategy,
		maxKeys int32, maxRows int32) ([]string, error)
	MaterializedViewsByTarget(ctx context.Context, tc model.TableConnection) ([]model.TableRef, error)
}

type MapKeysStrategy int

const (
	GroupUniqArrayArray MapKeysStrategy = iota
	LowCardinalityKeys
)
