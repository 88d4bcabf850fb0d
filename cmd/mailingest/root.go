package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vdavid/mailingest/internal/config"
	"github.com/vdavid/mailingest/internal/db"
	"github.com/vdavid/mailingest/internal/imap"
	"github.com/vdavid/mailingest/internal/logging"
)

// env is what the commands need from the outside world.
type env struct {
	loadConfig func() (*config.Config, error)
	now        func() time.Time
	// notifyContext returns a context canceled on SIGINT or SIGTERM.
	notifyContext func(context.Context) (context.Context, context.CancelFunc)
}

func defaultEnv() env {
	return env{
		loadConfig: config.NewConfig,
		now:        time.Now,
		notifyContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		},
	}
}

// session is a loaded config and the service built from it.
type session struct {
	cfg     *config.Config
	service *imap.Service
	close   func()
}

// openSession loads the config, sets up logging and builds the IMAP service.
// With the store enabled every fetch is also saved to Postgres.
func (e env) openSession(ctx context.Context, strict bool) (*session, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Environment, cfg.LogLevel)

	defaults := cfg.FetchDefaults()
	defaults.Strict = defaults.Strict || strict
	s := &session{
		cfg:     cfg,
		service: imap.NewService(cfg.IMAPConnection(), defaults),
		close:   func() {},
	}

	if cfg.StoreEnabled {
		pool, err := db.NewConnection(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.service.WithSink(db.NewStore(pool))
		s.close = func() { db.CloseConnection(pool) }
	}

	return s, nil
}

func newRootCmd(e env) *cobra.Command {
	root := &cobra.Command{
		Use:           "mailingest",
		Short:         "Fetch mail over IMAP and repair its text",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newFetchCmd(e),
		newFoldersCmd(e),
		newWatchCmd(e),
		newRepairCmd(),
		newParseCmd(e),
	)

	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
