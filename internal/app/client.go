package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	intrnl "lanshare/internal"
	"lanshare/internal/storage"
)

// RunClient opens the received-file ledger and launches the Bubble Tea TUI
// with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = DefaultDownloadDir()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		// The ledger is a convenience index; the client still works
		// without it.
		log.Printf("ledger unavailable, continuing without it: %v", err)
		store = nil
	} else if err := store.Migrate(context.Background()); err != nil {
		log.Printf("ledger migration failed, continuing without it: %v", err)
		_ = store.Close()
		store = nil
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("ledger close error: %v", err)
			}
		}()
	}

	return intrnl.RunClient(intrnl.ClientOptions{
		ServerURL:    cfg.ServerURL,
		Username:     cfg.Username,
		DownloadDir:  cfg.DownloadDir,
		ClientIDPath: DefaultClientIDPath(),
		Store:        store,
	})
}
