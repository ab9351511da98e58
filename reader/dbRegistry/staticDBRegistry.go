package dbRegistry

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/metrico/chartql/reader/model"
	"github.com/pkg/errors"
)

// ErrUnknownConnection is returned for a connection name no configured node carries.
var ErrUnknownConnection = errors.New("unknown connection")

type staticDBRegistry struct {
	databases    []*model.DataDatabasesMap
	byName       map[string]*model.DataDatabasesMap
	rand         *rand.Rand
	mtx          sync.Mutex
	lastPingTime time.Time
}

var _ model.IDBRegistry = &staticDBRegistry{}

func NewStaticDBRegistry(databases map[string]*model.DataDatabasesMap) model.IDBRegistry {
	res := staticDBRegistry{
		byName: databases,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, d := range databases {
		res.databases = append(res.databases, d)
	}
	sort.Slice(res.databases, func(i, j int) bool {
		return res.databases[i].Config.Node < res.databases[j].Config.Node
	})
	return &res
}

func (s *staticDBRegistry) GetDB(ctx context.Context) (*model.DataDatabasesMap, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if len(s.databases) == 0 {
		return nil, errors.New("no database configured")
	}
	idx := s.rand.Intn(len(s.databases))
	return s.databases[idx], nil
}

func (s *staticDBRegistry) GetDBByName(ctx context.Context, connection string) (*model.DataDatabasesMap, error) {
	if connection == "" {
		return s.GetDB(ctx)
	}
	db, ok := s.byName[connection]
	if !ok {
		return nil, errors.Wrap(ErrUnknownConnection, connection)
	}
	return db, nil
}

func (s *staticDBRegistry) Run() {
}

func (s *staticDBRegistry) Stop() {
	for _, d := range s.databases {
		d.Session.Close()
	}
}

func (s *staticDBRegistry) Ping() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.lastPingTime.Add(time.Second * 30).After(time.Now()) {
		return nil
	}
	for _, v := range s.databases {
		err := func(db model.ISqlxDB) error {
			conn, err := db.Conn(context.Background())
			if err != nil {
				return err
			}
			defer conn.Close()
			to, cancel := context.WithTimeout(context.Background(), time.Second*30)
			defer cancel()
			return conn.PingContext(to)
		}(v.Session)
		if err != nil {
			return errors.Wrapf(err, "node %s", v.Config.Node)
		}
	}
	s.lastPingTime = time.Now()
	return nil
}
