package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mutter0815/OABroadcast/internal/store"
	"github.com/Mutter0815/OABroadcast/pkg/config"
	"github.com/Mutter0815/OABroadcast/pkg/db"
	"github.com/Mutter0815/OABroadcast/pkg/logx"
	"github.com/Mutter0815/OABroadcast/pkg/rmq"
	"github.com/Mutter0815/OABroadcast/services/report-archiver/server"
	"github.com/Mutter0815/OABroadcast/services/report-archiver/worker"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadArchiver()
	cfg := config.Archiver

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		}
	}()

	st := store.New(sqlDB)
	migCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := st.Migrate(migCtx); err != nil {
		cancel()
		logx.L().Fatalw("db_migrate_error", "error", err)
	}
	cancel()

	cons, err := rmq.NewConsumer(cfg.RMQURL, cfg.ReportQueue, 1)
	if err != nil {
		logx.L().Fatalw("rmq_consumer_error", "error", err)
	}
	defer cons.Close()

	pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.ReportQueue)
	if err != nil {
		logx.L().Fatalw("rmq_publisher_error", "error", err)
	}
	defer pub.Close()

	msgs, err := cons.Consume()
	if err != nil {
		logx.L().Fatalw("rmq_consume_error", "error", err)
	}

	w := worker.New(st, pub, cfg.MaxRedeliveries)
	srv := server.NewHTTPServer(":"+cfg.Port, server.NewHandlers(st))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := w.Run(gctx, msgs)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil {
			// channel closed under us; take the HTTP side down too
			return errors.New("report consumer closed")
		}
		return err
	})
	g.Go(func() error {
		logx.L().Infow("archiver_listen_start", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		logx.L().Errorw("archiver_exit_error", "error", err)
	}
	logx.L().Infow("report-archiver stopped gracefully")
}
