package test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"stashbin/cfg"
	"stashbin/svc/cache"
	"stashbin/svc/store"
	"stashbin/svc/svc"
	"stashbin/svc/util"
)

var logOnce sync.Once

func createTestConfig() *cfg.Cfg {
	logOnce.Do(func() { util.InitLog("error", false) })
	return &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		LogLevel:       "error",
		BaseURL:        "http://localhost:8080",
		Backend:        cfg.BackendFile,
		MaxPasteSize:   1024 * 1024,
		DefaultTTL:     7 * 24 * time.Hour,
		SweepInterval:  time.Minute,
		LRUCacheSize:   1000,
		ContextTimeout: 10 * time.Second,
		RateLimit:      cfg.RateLimitCfg{RPM: 100000, Burst: 100000},
	}
}

func createTestMeta(t *testing.T) *store.SQLite {
	t.Helper()
	dsn := fmt.Sprintf("file:integ%d?mode=memory&cache=shared", time.Now().UnixNano())
	meta, err := store.NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open metadata store: %v", err)
	}
	t.Cleanup(func() { meta.Close() })
	return meta
}

func createTestContent(t *testing.T) *store.FileStore {
	t.Helper()
	content, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open content store: %v", err)
	}
	return content
}

func createTestLRU(t *testing.T, size int) *cache.LRU {
	t.Helper()
	lru, err := cache.NewLRU(size)
	if err != nil {
		t.Fatalf("create lru: %v", err)
	}
	return lru
}

func createTestPaste(t *testing.T, c *cfg.Cfg) (*svc.Paste, *store.SQLite, *store.FileStore) {
	t.Helper()
	meta := createTestMeta(t)
	content := createTestContent(t)
	return svc.NewPaste(meta, content, createTestLRU(t, c.LRUCacheSize), nil, c), meta, content
}
