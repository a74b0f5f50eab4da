// Package memorystorage provides a memory-only storage backend used in
// tests and when neither a data directory nor a database DSN is
// configured. It reuses the jsondb collection logic without the disk
// mirror.
package memorystorage

import (
	"time"

	"github.com/patric-chuzhbe/shoplite/internal/db/jsondb"
)

type MemoryStorage struct {
	*jsondb.JSONDB
}

func New(lockWait time.Duration) (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: jsondb.NewInMemory(lockWait),
	}, nil
}
