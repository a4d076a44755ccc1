package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mutter0815/OABroadcast/internal/broadcast"
	"github.com/Mutter0815/OABroadcast/internal/cooldown"
	"github.com/Mutter0815/OABroadcast/internal/directory"
	"github.com/Mutter0815/OABroadcast/internal/gateway"
	"github.com/Mutter0815/OABroadcast/internal/history"
	"github.com/Mutter0815/OABroadcast/internal/kv"
	"github.com/Mutter0815/OABroadcast/internal/prefs"
	"github.com/Mutter0815/OABroadcast/internal/recipient"
	"github.com/Mutter0815/OABroadcast/pkg/config"
	"github.com/Mutter0815/OABroadcast/pkg/logx"
	"github.com/Mutter0815/OABroadcast/pkg/rmq"
	"github.com/Mutter0815/OABroadcast/services/console/server"
)

func openStore(cfg config.ConsoleConfig) (kv.Store, func()) {
	if cfg.RedisAddr == "" {
		logx.L().Warnw("kv_memory", "note", "REDIS_ADDR not set, settings and history are lost on exit")
		return kv.NewMemory(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	st := kv.NewRedis(rdb, cfg.KVPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		logx.L().Fatalw("redis_ping_error", "addr", cfg.RedisAddr, "error", err)
	}
	return st, func() {
		if err := rdb.Close(); err != nil {
			logx.L().Warnw("redis_close_error", "error", err)
		}
	}
}

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadConsole()
	cfg := config.Console

	store, closeStore := openStore(cfg)
	defer closeStore()

	ledger := cooldown.New(store)
	book := history.New(store, ledger)

	gw := gateway.NewClient(cfg.GatewayBaseURL, &http.Client{Timeout: cfg.GatewayTimeout})
	driver := broadcast.NewDriver(gw, ledger, book, cfg.BroadcastPace)

	var sink broadcast.ReportSink
	if cfg.RMQURL != "" {
		pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.ReportQueue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logx.L().Warnw("rmq_publisher_close_error", "error", err)
			}
		}()
		sink = pub
	}
	runner := broadcast.NewRunner(driver, sink)

	h := server.NewHandlers(server.Deps{
		Prefs:      prefs.New(store),
		Recipients: recipient.NewList(),
		Ledger:     ledger,
		History:    book,
		Uploader:   gw,
		Directory:  directory.NewFetcher(gw),
		Runner:     runner,
		SelfSender: driver,
	})
	srv := server.NewHTTPServer(cfg.Addr, h)

	go func() {
		logx.L().Infow("console_listen_start", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runner.Cancel() {
		logx.L().Infow("broadcast_cancel_on_shutdown")
	}
	if err := runner.Wait(ctx); err != nil {
		logx.L().Warnw("broadcast_wait_error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	logx.L().Infow("console stopped gracefully")
}
