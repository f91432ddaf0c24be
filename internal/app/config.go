package app

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ServerConfig defines how the relay backend should run.
type ServerConfig struct {
	Addr           string
	Path           string
	HistoryLimit   int
	BufferSize     int
	TransferExpiry time.Duration
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string
	Username    string
	DownloadDir string
	DBPath      string
}

// DefaultDBPath returns a per-user data path for the received-file ledger.
func DefaultDBPath() string {
	if env := os.Getenv("LANSHARE_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("LANSHARE_DATA_DIR"); env != "" {
		return filepath.Join(env, "lanshare.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "lanshare", "lanshare.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Lanshare", "lanshare.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Lanshare", "lanshare.db")
		}
		return filepath.Join(home, ".local", "share", "lanshare", "lanshare.db")
	}
	return filepath.Join(".", ".lanshare", "lanshare.db")
}

// DefaultDownloadDir returns where incoming files are saved.
func DefaultDownloadDir() string {
	if env := os.Getenv("LANSHARE_DOWNLOAD_DIR"); env != "" {
		return env
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Downloads", "lanshare")
	}
	return filepath.Join(".", "lanshare-downloads")
}

// DefaultClientIDPath returns where the persisted client id lives, next to
// the ledger database.
func DefaultClientIDPath() string {
	return filepath.Join(filepath.Dir(DefaultDBPath()), "client_id")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
