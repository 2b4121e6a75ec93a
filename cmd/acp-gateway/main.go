// Package main is the entry point for acp-gateway: a single process that
// spawns one ACP agent subprocess on demand and exposes it to any number of
// WebSocket clients over a literal JSON-RPC 2.0 wire.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acp-gateway/internal/common/config"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/gateway"
	"github.com/kandev/acp-gateway/internal/gateway/websocket"
	"github.com/kandev/acp-gateway/internal/tracing"
)

func main() {
	var (
		configPath = flag.String("config", "", "extra directory to search for config.yaml")
		port       = flag.Int("port", 0, "override server.port")
		wsPort     = flag.Int("ws-port", 0, "alias for --port (ws and health share one listener)")
		headless   = flag.Bool("headless", false, "log that the host has no attached TTY; terminal creation still fails per call, not at startup")
	)
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *wsPort != 0 {
		cfg.Server.Port = *wsPort
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	if *headless {
		// Headless hosts still accept create_terminal calls; the PTY
		// package fails those individually rather than refusing to start.
		log.Info("running in headless mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	gw := gateway.New(gateway.AgentCommand{
		Command: cfg.Agent.Command,
		Args:    cfg.Agent.Args,
		Env:     cfg.Agent.Env,
	}, cfg.History.ProjectsRoot, cfg.History.MaxItems, log)
	defer gw.Shutdown()

	hub := websocket.NewHub(gw, log)
	go hub.Run(ctx)

	handler := websocket.NewHandler(hub, log)
	ln, err := handler.Listen(cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		log.Fatal("failed to bind listener", zap.Error(err))
	}

	server := &http.Server{
		Handler:      handler.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("acp-gateway listening",
			zap.Int("port", handler.BoundPort()),
			zap.String("agent_command", cfg.Agent.Command))
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down acp-gateway")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
}
