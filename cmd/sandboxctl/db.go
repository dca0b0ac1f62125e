package main

import (
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/capability"
	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
)

// openRegistry opens the same sandboxrt.db the Executor Facade uses and
// wires a capability.Registry onto it, for CLI commands (like
// "capabilities list") that only need registry access and not a full
// Executor.
func openRegistry(cfg *config.Config, logger *zap.Logger) (*bbolt.DB, *capability.Registry, error) {
	dbPath := filepath.Join(cfg.DataDir, "sandboxrt.db")
	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("opening state database: %w", err)
	}
	registry, err := capability.Open(db, cfg.Capability.HashPrefixLen, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("opening capability registry: %w", err)
	}
	return db, registry, nil
}
