package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/api"
	"github.com/vdavid/mailingest/internal/config"
	"github.com/vdavid/mailingest/internal/db"
	"github.com/vdavid/mailingest/internal/imap"
	"github.com/vdavid/mailingest/internal/logging"
	ws "github.com/vdavid/mailingest/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.StoreEnabled {
		pool, err = db.NewConnection(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.CloseConnection(pool)
		log.Info().Str("host", cfg.DBHost).Str("database", cfg.DBName).Msg("Connected to database")
	}

	router := NewServer(cfg, pool)
	defer router.Close()

	if err := serve(ctx, ":"+cfg.Port, router); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// NewServer builds the HTTP surface. A nil pool leaves the record store off.
func NewServer(cfg *config.Config, pool *pgxpool.Pool) *api.Router {
	service := imap.NewService(cfg.IMAPConnection(), cfg.FetchDefaults())

	var store api.EmailStore
	if pool != nil {
		dbStore := db.NewStore(pool)
		service.WithSink(dbStore)
		store = dbStore
	}

	return api.NewRouter(service, store, ws.NewHub(10), api.RouterConfig{
		Folder: cfg.Folder,
		Limit:  cfg.FetchLimit,
	})
}

// serve runs the HTTP server until ctx is canceled, then shuts it down.
func serve(ctx context.Context, address string, handler http.Handler) error {
	server := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", address).Msg("mailingest server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
