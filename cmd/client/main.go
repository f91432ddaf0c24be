package main

import (
	"flag"
	"fmt"
	"os"

	"lanshare/internal/app"
)

func main() {
	defaultServer := envOrDefault("LANSHARE_SERVER", "ws://localhost:8765/ws")
	defaultUser := envOrDefault("LANSHARE_USER", "")

	serverURL := flag.String("server", defaultServer, "WebSocket URL of the relay (e.g., ws://192.168.1.10:8765/ws)")
	username := flag.String("user", defaultUser, "display name shown to other clients")
	downloadDir := flag.String("downloads", envOrDefault("LANSHARE_DOWNLOAD_DIR", ""), "directory for received files")
	db := flag.String("db", envOrDefault("LANSHARE_DB_PATH", ""), "sqlite path for the received-file ledger")
	flag.Parse()

	cfg := app.ClientConfig{
		ServerURL:   *serverURL,
		Username:    *username,
		DownloadDir: *downloadDir,
		DBPath:      *db,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "lanshare-client: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
