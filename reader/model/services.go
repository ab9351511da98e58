package model

// ServiceData is embedded by every service talking to ClickHouse.
type ServiceData struct {
	Session IDBRegistry
}

func (s *ServiceData) Ping() error {
	return s.Session.Ping()
}
