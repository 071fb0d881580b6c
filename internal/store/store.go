// Package store persists two things the in-memory model (spec §3) never
// needs to survive a restart for, but that a real long-running client
// benefits from keeping on disk: buffer scrollback (so a relay client
// reconnecting sees history older than what the server buffer still
// holds in memory) and the DCC transfer ledger (so "resume" after a
// restart has something to resume from). Built on GORM + SQLite, the
// teacher's own persistence stack.
//
// Connection caching is adapted from gormoize's fluent ConnectionBuilder:
// a process only ever wants one *gorm.DB per DSN, and repeatedly opening
// the same SQLite file would contend on its single-writer lock.
package store

import (
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	cacheOnce sync.Once
	cache     *connCache
)

type connCache struct {
	mu    sync.RWMutex
	byDSN map[string]*gorm.DB
}

func instance() *connCache {
	cacheOnce.Do(func() { cache = &connCache{byDSN: make(map[string]*gorm.DB)} })
	return cache
}

// HistoryRecord is a persisted buffer line, written behind the in-memory
// ring (spec §3 Buffer/History) so scrollback survives a restart.
type HistoryRecord struct {
	ID      uint `gorm:"primaryKey"`
	Plugin  string `gorm:"index:idx_buffer"`
	Buffer  string `gorm:"index:idx_buffer"`
	LineID  uint64
	Date    int64 // unix seconds
	Prefix  string
	Message string
	Tags    string // comma-joined
}

// TransferRecord is a persisted DCC transfer ledger entry (spec §4.8),
// letting a restarted process offer "resume" for a transfer that was
// in flight when it exited.
type TransferRecord struct {
	ID        uint `gorm:"primaryKey"`
	Nick      string
	Filename  string
	Size      int64
	Bytes     int64
	Direction string // "send" or "recv"
	Status    string // "active", "done", "failed", "resumable"
	LocalPath string
}

// Store wraps a *gorm.DB scoped to one SQLite file, auto-migrated for the
// two record types above.
type Store struct {
	db *gorm.DB
}

// Open returns the cached *Store for path, creating and migrating it on
// first use. Concurrent callers with the same path share one connection.
func Open(path string) (*Store, error) {
	c := instance()

	c.mu.RLock()
	db, ok := c.byDSN[path]
	c.mu.RUnlock()
	if ok {
		return &Store{db: db}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.byDSN[path]; ok {
		return &Store{db: db}, nil
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&HistoryRecord{}, &TransferRecord{}); err != nil {
		return nil, err
	}
	c.byDSN[path] = db
	return &Store{db: db}, nil
}

// AppendLine records one buffer line.
func (s *Store) AppendLine(r HistoryRecord) error {
	return s.db.Create(&r).Error
}

// RecentLines returns up to limit of the most recently stored lines for
// a buffer, oldest first.
func (s *Store) RecentLines(plugin, buffer string, limit int) ([]HistoryRecord, error) {
	var rows []HistoryRecord
	err := s.db.Where("plugin = ? AND buffer = ?", plugin, buffer).
		Order("id desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// UpsertTransfer records or updates a DCC ledger row. Records with ID==0
// are inserted; otherwise the existing row is updated.
func (s *Store) UpsertTransfer(r *TransferRecord) error {
	return s.db.Save(r).Error
}

// ResumableTransfers returns every ledger row left in "resumable" or
// "active" state (i.e. unfinished at the last clean or unclean exit).
func (s *Store) ResumableTransfers() ([]TransferRecord, error) {
	var rows []TransferRecord
	err := s.db.Where("status IN ?", []string{"resumable", "active"}).Find(&rows).Error
	return rows, err
}

// Close releases the underlying *sql.DB and evicts it from the cache so
// a later Open for the same path creates a fresh connection.
func (s *Store) Close(path string) error {
	c := instance()
	c.mu.Lock()
	delete(c.byDSN, path)
	c.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
