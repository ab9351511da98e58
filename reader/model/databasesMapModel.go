package model

import "github.com/metrico/cloki-config/config"

type DataDatabasesMap struct {
	Config  *config.ClokiBaseDataBase
	DSN     string `json:"dsn"`
	Session ISqlxDB
}
