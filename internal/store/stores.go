package store

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	PostgresDSN string // managed mode
	SQLitePath  string // standalone mode
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Events EventStore
}

// Close releases every backend held by the container.
func (s *Stores) Close() error {
	if s == nil || s.Events == nil {
		return nil
	}
	return s.Events.Close()
}
