package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
)

const (
	entriesBucket   = "result_cache"
	statsBucket     = "result_cache_stats"
	defaultTTL      = 5 * time.Minute
	cleanupInterval = 10 * time.Minute
)

// Manager is the subprocess-path execution-result cache. It lives inside
// the same shared bbolt.DB the executor opens for the capability registry,
// one bucket per concern, following the teacher's storage layout.
type Manager struct {
	db         *bbolt.DB
	logger     *zap.Logger
	ttl        time.Duration
	maxEntries int
	stats      *Stats
	stopCh     chan struct{}
}

// NewManager opens (creating if necessary) the result-cache buckets and
// starts a background cleanup loop for expired entries.
func NewManager(db *bbolt.DB, cfg *config.CacheConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := defaultTTL
	maxEntries := 100
	if cfg != nil {
		if cfg.TTLSeconds > 0 {
			ttl = time.Duration(cfg.TTLSeconds) * time.Second
		}
		if cfg.MaxEntries > 0 {
			maxEntries = cfg.MaxEntries
		}
	}

	m := &Manager{db: db, logger: logger, ttl: ttl, maxEntries: maxEntries, stats: &Stats{}, stopCh: make(chan struct{})}

	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(entriesBucket)); err != nil {
			return fmt.Errorf("create result cache bucket: %w", err)
		}
		_, err := tx.CreateBucketIfNotExists([]byte(statsBucket))
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := m.loadStats(); err != nil {
		logger.Warn("failed to load result cache stats", zap.Error(err))
	}

	go m.startCleanup()
	return m, nil
}

// GenerateKey derives a cache key from code and its bound context: two
// executions with identical code and identical (order-independent) context
// values hash to the same key.
func GenerateKey(code string, context map[string]interface{}) string {
	ctxJSON, _ := json.Marshal(context)
	sum := sha256.Sum256([]byte(code + "\x00" + string(ctxJSON)))
	return hex.EncodeToString(sum[:])
}

// Get retrieves a non-expired cached entry, evicting it in place if its TTL
// has elapsed.
func (m *Manager) Get(key string) (*Entry, bool) {
	var entry *Entry

	_ = m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		data := bucket.Get([]byte(key))
		if data == nil {
			m.stats.MissCount++
			return m.saveStats(tx)
		}

		var e Entry
		if err := e.UnmarshalBinary(data); err != nil {
			return nil
		}

		if e.IsExpired() {
			_ = bucket.Delete([]byte(key))
			m.stats.EvictedCount--
			m.stats.TotalEntries--
			m.stats.MissCount++
			return m.saveStats(tx)
		}

		e.AccessCount++
		e.LastAccessed = time.Now()
		if data, err := e.MarshalBinary(); err == nil {
			_ = bucket.Put([]byte(key), data)
		}

		m.stats.HitCount++
		entry = &e
		return m.saveStats(tx)
	})

	return entry, entry != nil
}

// Store persists an execution outcome under key, evicting the single
// oldest entry first if the cache is at capacity.
func (m *Manager) Store(key string, success bool, value interface{}, errKind, errMessage string) error {
	now := time.Now()
	entry := &Entry{
		Key:          key,
		Success:      success,
		Value:        value,
		ErrorKind:    errKind,
		ErrorMessage: errMessage,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastAccessed: now,
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))

		if bucket.Stats().KeyN >= m.maxEntries {
			if oldestKey := findOldest(bucket); oldestKey != nil {
				_ = bucket.Delete(oldestKey)
				m.stats.TotalEntries--
				m.stats.EvictedCount++
			}
		}

		data, err := entry.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal result cache entry: %w", err)
		}
		if err := bucket.Put([]byte(key), data); err != nil {
			return err
		}

		m.stats.TotalEntries++
		return m.saveStats(tx)
	})
}

func findOldest(bucket *bbolt.Bucket) []byte {
	var oldestKey []byte
	var oldestTs time.Time
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var e Entry
		if err := e.UnmarshalBinary(v); err != nil {
			return append([]byte(nil), k...)
		}
		if oldestKey == nil || e.CreatedAt.Before(oldestTs) {
			oldestKey = append([]byte(nil), k...)
			oldestTs = e.CreatedAt
		}
	}
	return oldestKey
}

// GetStats returns a snapshot of cache counters.
func (m *Manager) GetStats() Stats { return *m.stats }

func (m *Manager) startCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.cleanup(); err != nil {
				m.logger.Error("result cache cleanup failed", zap.Error(err))
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) cleanup() error {
	now := time.Now()
	evicted := 0

	err := m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		cursor := bucket.Cursor()

		var toDelete [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var e Entry
			if err := e.UnmarshalBinary(v); err != nil {
				toDelete = append(toDelete, append([]byte(nil), k...))
				continue
			}
			if now.After(e.ExpiresAt) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			evicted++
		}

		m.stats.TotalEntries -= evicted
		m.stats.EvictedCount += evicted
		return m.saveStats(tx)
	})
	if err != nil {
		return err
	}
	if evicted > 0 {
		m.logger.Info("result cache cleanup completed", zap.Int("evicted", evicted))
	}
	return nil
}

func (m *Manager) loadStats() error {
	return m.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(statsBucket))
		data := bucket.Get([]byte("stats"))
		if data == nil {
			return nil
		}
		return m.stats.UnmarshalBinary(data)
	})
}

func (m *Manager) saveStats(tx *bbolt.Tx) error {
	bucket := tx.Bucket([]byte(statsBucket))
	data, err := m.stats.MarshalBinary()
	if err != nil {
		return err
	}
	return bucket.Put([]byte("stats"), data)
}

// Close stops the background cleanup loop.
func (m *Manager) Close() {
	close(m.stopCh)
}
