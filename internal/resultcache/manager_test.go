package resultcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
)

func setupTestManager(t *testing.T, cfg *config.CacheConfig) (*Manager, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "resultcache_test_*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	db, err := bbolt.Open(filepath.Join(tmpDir, "cache.db"), 0644, nil)
	if err != nil {
		t.Fatalf("open bbolt: %v", err)
	}
	manager, err := NewManager(db, cfg, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, func() {
		manager.Close()
		db.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestGenerateKeyStableAcrossEquivalentContext(t *testing.T) {
	k1 := GenerateKey("1+1", map[string]interface{}{"a": 1, "b": "x"})
	k2 := GenerateKey("1+1", map[string]interface{}{"a": 1, "b": "x"})
	if k1 != k2 {
		t.Errorf("expected identical code+context to hash equal, got %q vs %q", k1, k2)
	}

	k3 := GenerateKey("1+2", map[string]interface{}{"a": 1, "b": "x"})
	if k1 == k3 {
		t.Errorf("expected different code to hash differently")
	}
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	m, cleanup := setupTestManager(t, &config.CacheConfig{Enabled: true, MaxEntries: 10, TTLSeconds: 60})
	defer cleanup()

	key := GenerateKey("1+1", nil)
	if err := m.Store(key, true, float64(2), "", ""); err != nil {
		t.Fatalf("store: %v", err)
	}

	entry, ok := m.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !entry.Success || entry.Value != float64(2) {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestGetMissIncrementsStats(t *testing.T) {
	m, cleanup := setupTestManager(t, &config.CacheConfig{Enabled: true, MaxEntries: 10, TTLSeconds: 60})
	defer cleanup()

	if _, ok := m.Get("does-not-exist"); ok {
		t.Fatal("expected cache miss")
	}
	if m.GetStats().MissCount != 1 {
		t.Errorf("expected 1 recorded miss, got %+v", m.GetStats())
	}
}

func TestStoreEvictsOldestWhenAtCapacity(t *testing.T) {
	m, cleanup := setupTestManager(t, &config.CacheConfig{Enabled: true, MaxEntries: 2, TTLSeconds: 60})
	defer cleanup()

	if err := m.Store("k1", true, 1, "", ""); err != nil {
		t.Fatalf("store k1: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := m.Store("k2", true, 2, "", ""); err != nil {
		t.Fatalf("store k2: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := m.Store("k3", true, 3, "", ""); err != nil {
		t.Fatalf("store k3: %v", err)
	}

	if _, ok := m.Get("k1"); ok {
		t.Error("expected oldest entry k1 to have been evicted")
	}
	if _, ok := m.Get("k3"); !ok {
		t.Error("expected newest entry k3 to still be present")
	}
}

func TestGetEvictsExpiredEntry(t *testing.T) {
	m, cleanup := setupTestManager(t, &config.CacheConfig{Enabled: true, MaxEntries: 10, TTLSeconds: 60})
	defer cleanup()

	key := "expired-key"
	now := time.Now()
	entry := &Entry{Key: key, Success: true, Value: 1, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}
	_ = m.db.Update(func(tx *bbolt.Tx) error {
		data, _ := entry.MarshalBinary()
		return tx.Bucket([]byte(entriesBucket)).Put([]byte(key), data)
	})

	if _, ok := m.Get(key); ok {
		t.Error("expected expired entry to be treated as a miss")
	}
}
