package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	intrnl "lanshare/internal"
	"lanshare/internal/app"
)

func main() {
	addr := flag.String("addr", envOrDefault("LANSHARE_ADDR", ":8765"), "server listen address")
	path := flag.String("path", envOrDefault("LANSHARE_PATH", "/ws"), "websocket path")
	historyLimit := flag.Int("history", envIntOrDefault("LANSHARE_HISTORY", intrnl.DefaultHistoryLimit), "maximum messages replayed to new clients")
	bufferSize := flag.Int("buffer", envIntOrDefault("LANSHARE_BUFFER", 0), "websocket io buffer size in bytes (0 uses the built-in default)")
	flag.Parse()

	cfg := app.ServerConfig{
		Addr:         *addr,
		Path:         app.NormalizeWSPath(*path),
		HistoryLimit: *historyLimit,
		BufferSize:   *bufferSize,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanshare-server: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Lanshare relay listening on %s (ws path %s)", handle.Addr(), cfg.Path)

	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "lanshare-server: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
