// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/shelfcast/internal/api/connect"
	"github.com/osa030/shelfcast/internal/app/auth"
	"github.com/osa030/shelfcast/internal/app/notification"
	"github.com/osa030/shelfcast/internal/app/session"
	"github.com/osa030/shelfcast/internal/domain/playback"
	"github.com/osa030/shelfcast/internal/infra/config"
	"github.com/osa030/shelfcast/internal/infra/logger"
	"github.com/osa030/shelfcast/internal/infra/store"
)

var (
	app        = kingpin.New("shelfcast-server", "shelfcast real-time playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-verifiers command
	listVerifiersCmd = app.Command("list-verifiers", "List configured auth verifiers and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == listVerifiersCmd.FullCommand() {
		printVerifiers(cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			zlog.Error().Msgf("Failed to close database: %v", err)
		}
	}()

	chain, err := auth.NewChainFromConfig(cfg, auth.Stores{
		Users:       db,
		APIKeys:     db,
		Revocations: db,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create verifier chain")
	}

	hub := notification.NewHub(notification.Config{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingInterval:   cfg.WebSocket.PingInterval,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	}, chain)

	registry := session.NewRegistry(session.Config{
		StaleAfter:    cfg.Sessions.StaleAfter,
		SweepInterval: cfg.Sessions.SweepInterval,
		GracePeriod:   cfg.Sessions.GracePeriod,
	})
	registry.OnStop(func(s *playback.Session) {
		hub.BroadcastSessionUpdate(s, notification.EventSessionStop)
	})

	playbackService := apiconnect.NewPlaybackService(registry, hub, db)
	adminService := apiconnect.NewAdminService(registry, hub, db)

	mux := http.NewServeMux()

	playbackPath, playbackHandler := apiconnect.NewPlaybackServiceHandler(
		playbackService,
		connect.WithInterceptors(apiconnect.NewBearerAuthInterceptor(chain)),
	)
	adminPath, adminHandler := apiconnect.NewAdminServiceHandler(
		adminService,
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg)),
	)
	mux.Handle(playbackPath, playbackHandler)
	mux.Handle(adminPath, adminHandler)
	hub.RegisterRoutes(mux, cfg.Server.WSPath)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry.Start(ctx)

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s ws_path=%s", cfg.Server.Addr, cfg.Server.WSPath)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		registry.Close()
		hub.Close()
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the sweep first so no events are published to a closing hub,
	// then close WebSocket connections, which Shutdown does not track.
	registry.Close()
	hub.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printVerifiers prints the configured verifier chain in order.
func printVerifiers(cfg *config.Config) {
	fmt.Println("Auth Verifiers:")
	for i, v := range cfg.Auth.Verifiers {
		fmt.Printf("  %d. %s\n", i+1, v.Type)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
