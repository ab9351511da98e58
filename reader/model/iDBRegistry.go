package model

import (
	"context"
)

type IDBRegistry interface {
	GetDB(ctx context.Context) (*DataDatabasesMap, error)
	// GetDBByName returns the node named after the connection, any node for an empty name.
	GetDBByName(ctx context.Context, connection string) (*DataDatabasesMap, error)
	Run()
	Stop()
	Ping() error
}
