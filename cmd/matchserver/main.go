package main

import (
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hersh/blockbattle/internal/config"
	"github.com/hersh/blockbattle/internal/match"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	room := flag.String("room", "", "room id (overrides config)")
	lobby := flag.String("lobby", "", "lobby server address (overrides config)")
	seed := flag.Int64("seed", 0, "piece sequence seed (random if unset)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *room != "" {
		cfg.Server.RoomID = *room
	}
	if cfg.Server.RoomID == "" {
		cfg.Server.RoomID = uuid.NewString()
	}
	if *lobby != "" {
		cfg.Lobby.Addr = *lobby
	}
	if *seed != 0 {
		cfg.Match.Seed = *seed
	}
	if cfg.Match.Seed == 0 {
		cfg.Match.Seed = time.Now().UnixNano()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error("listen", "addr", cfg.Server.Addr, "error", err)
		os.Exit(1)
	}
	logger.Info("match server listening",
		"addr", cfg.Server.Addr, "room", cfg.Server.RoomID,
		"lobby", cfg.Lobby.Addr, "seed", cfg.Match.Seed)

	coord := match.New(cfg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- coord.Serve(ln) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		logger.Info("shutting down")
		ln.Close()
	case err := <-errCh:
		if err != nil {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
		logger.Info("match complete, exiting")
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
