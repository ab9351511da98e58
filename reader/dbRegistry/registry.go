package dbRegistry

import (
	"crypto/tls"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	clconfig "github.com/metrico/cloki-config/config"
	"github.com/metrico/chartql/reader/config"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/dsn"
	"github.com/metrico/chartql/reader/utils/logger"
)

var Registry model.IDBRegistry

func Init() {
	Registry = InitStaticRegistry()
}

func InitStaticRegistry() model.IDBRegistry {
	nodes := initDataDBSessions()
	if len(nodes) == 0 {
		panic("We don't have any active DB session configured. Please check your config")
	}
	dbMap := map[string]*model.DataDatabasesMap{}
	for i := range nodes {
		dbMap[nodes[i].Config.Node] = &nodes[i]
	}
	return NewStaticDBRegistry(dbMap)
}

func connectionLogLine(dbObject *clconfig.ClokiBaseDataBase) string {
	stream := jsoniter.ConfigFastest.BorrowStream(nil)
	defer jsoniter.ConfigFastest.ReturnStream(stream)
	stream.WriteRaw("Connecting to [")
	stream.WriteRaw(dbObject.Host)
	stream.WriteRaw(", ")
	stream.WriteRaw(dbObject.User)
	stream.WriteRaw(", ")
	stream.WriteRaw(dbObject.Name)
	stream.WriteRaw(", ")
	stream.WriteRaw(dbObject.Node)
	stream.WriteRaw(", ")
	stream.WriteInt64(int64(dbObject.Port))
	stream.WriteRaw("]")
	return string(stream.Buffer())
}

func openDB(dbObject *clconfig.ClokiBaseDataBase) func() *sqlx.DB {
	addr := dbObject.Host + ":" + strconv.FormatUint(uint64(dbObject.Port), 10)
	return func() *sqlx.DB {
		opts := &clickhouse.Options{
			Addr: []string{addr},
			Auth: clickhouse.Auth{
				Database: dbObject.Name,
				Username: dbObject.User,
				Password: dbObject.Password,
			},
			Debug: dbObject.Debug,
		}
		if dbObject.Secure {
			opts.TLS = &tls.Config{
				InsecureSkipVerify: dbObject.InsecureSkipVerify,
			}
		}
		conn := clickhouse.OpenDB(opts)
		db := sqlx.NewDb(conn, "clickhouse")
		db.SetMaxOpenConns(dbObject.MaxOpenConn)
		db.SetMaxIdleConns(dbObject.MaxIdleConn)
		db.SetConnMaxLifetime(time.Minute * 10)
		return db
	}
}

// nodeDSN is the display form of the node address, the password is never included.
func nodeDSN(dbObject *clconfig.ClokiBaseDataBase) string {
	res := "clickhouse://" + dbObject.User + "@" + dbObject.Host + ":" +
		strconv.FormatUint(uint64(dbObject.Port), 10) + "/" + dbObject.Name
	if dbObject.Secure {
		res += "?secure=true"
	}
	return res
}

func initDataDBSessions() []model.DataDatabasesMap {
	var nodes []model.DataDatabasesMap
	for _, _dbObject := range config.Cloki.Setting.DATABASE_DATA {
		dbObject := _dbObject
		logger.Info(connectionLogLine(&dbObject))
		getDB := openDB(&dbObject)
		nodes = append(nodes, model.DataDatabasesMap{
			Config: &dbObject,
			DSN:    nodeDSN(&dbObject),
			Session: &dsn.StableSqlxDBWrapper{
				DB:    getDB(),
				GetDB: getDB,
				Name:  dbObject.Node,
			},
		})
		logger.Info("*** Database Config Session created: ", dbObject.Node, " ***")
	}
	return nodes
}
