package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdesk/agentdesk/internal/backend"
	"github.com/agentdesk/agentdesk/internal/cache"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/internal/gitstatus"
	"github.com/agentdesk/agentdesk/internal/logging"
	"github.com/agentdesk/agentdesk/internal/server"
	"github.com/agentdesk/agentdesk/internal/session"
	"github.com/agentdesk/agentdesk/internal/statedb"
	"github.com/agentdesk/agentdesk/internal/storage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session core and its local API",
	Long: `Start the session core: the backend event router, durable session state,
and the loopback HTTP/SSE relay that clients connect to.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Relay listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := resolveWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logging.Init(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Pretty: true})
	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("dir", dir).Msg("starting agentdesk")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	db, err := statedb.Open(paths.StateDBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	bus := event.NewBus()
	defer bus.Close()

	files := storage.New(paths.StoragePath())
	ch := cache.New(db.GetState)
	be := backend.NewCLI(bus, cfg.Backend.Command, cfg.Backend.Args)

	coord := session.NewCoordinator(session.Deps{
		Bus:     bus,
		Cache:   ch,
		Storage: files,
		States:  db,
		Backend: be,
		Config:  cfg,
	})
	router := session.NewRouter(bus, coord)

	watcher, err := gitstatus.NewWatcher(bus, dir, dir)
	if err != nil {
		log.Warn().Err(err).Msg("git watcher unavailable")
	}
	if watcher != nil {
		watcher.Start()
		defer watcher.Stop()
	}

	srv := server.New(cfg.Server, bus, ch, coord, db)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("relay failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay shutdown")
	}

	router.Close()
	coord.Close()
	return nil
}
