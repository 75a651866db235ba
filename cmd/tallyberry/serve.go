package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/tallyberry/api"
	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/natsink"
	"github.com/blockberries/tallyberry/wal"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []engine.Option{engine.WithMetrics(engine.NewMetrics(reg))}

	journal, err := a.openJournal()
	if err != nil {
		return err
	}
	if journal != nil {
		defer func() {
			if err := journal.Stop(); err != nil {
				a.log.WithError(err).Warn("stop journal")
			}
		}()
		opts = append(opts, engine.WithSinks(wal.NewJournal(journal, a.cfg.Journal.Sync)))
		a.log.WithFields(logrus.Fields{
			"dir":      a.cfg.Journal.Dir,
			"last_seq": journal.LastSeq(),
		}).Info("journal opened")
	}

	if a.cfg.NATS.URL != "" {
		conn, err := natsink.Connect(a.cfg.NATS.URL, a.log.WithField("component", "nats"))
		if err != nil {
			return err
		}
		defer conn.Drain()
		opts = append(opts, engine.WithSinks(natsink.New(conn,
			natsink.WithPrefix(a.cfg.NATS.SubjectPrefix),
			natsink.WithLogger(a.log.WithField("component", "nats")),
		)))
		a.log.WithField("url", a.cfg.NATS.URL).Info("publishing events to NATS")
	}

	eng, err := a.newEngine(opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: api.NewServer(eng,
			api.WithLogger(a.log.WithField("component", "api")),
			api.WithGatherer(reg),
		),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
