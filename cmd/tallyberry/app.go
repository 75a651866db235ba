package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/tallyberry/config"
	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/store/memory"
	"github.com/blockberries/tallyberry/store/sqlstore"
	"github.com/blockberries/tallyberry/wal"
)

// app holds what every command needs.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	store store.Store
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if err := cfg.ConfigureLogger(log); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: st}, nil
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("using in-memory store: votes are lost on exit and every write copies the whole ledger")
		return memory.New(), nil
	}
	st, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	}, sqlstore.WithLogger(log.WithField("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// newEngine builds an engine over the app's store.
func (a *app) newEngine(opts ...engine.Option) (*engine.Engine, error) {
	opts = append([]engine.Option{engine.WithLogger(a.log.WithField("component", "engine"))}, opts...)
	return engine.New(a.store, a.cfg.EngineConfig(), opts...)
}

// openJournal starts a writable journal, or returns nil when none is
// configured.
func (a *app) openJournal() (*wal.FileWAL, error) {
	if a.cfg.Journal.Dir == "" {
		return nil, nil
	}
	var opts []wal.Option
	if a.cfg.Journal.MaxSegmentBytes > 0 {
		opts = append(opts, wal.WithMaxSegmentSize(a.cfg.Journal.MaxSegmentBytes))
	}
	opts = append(opts, wal.WithLogger(a.log.WithField("component", "journal")))

	w, err := wal.NewFileWAL(a.cfg.Journal.Dir, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("start journal: %w", err)
	}
	return w, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
		a.log.WithError(err).Warn("close store")
	}
}
