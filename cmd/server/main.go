package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voltledger/internal/api"
	"voltledger/internal/config"
	"voltledger/internal/db"
	"voltledger/internal/logger"
	"voltledger/internal/mobilemoney"
	"voltledger/internal/realtime"
	"voltledger/internal/scheduler"
	"voltledger/internal/service"
	"voltledger/internal/store"
	"voltledger/internal/store/memory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	lg, err := logger.New(cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server stopped with error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, lg *zap.Logger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		lg.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	database, err := db.InitDB(ctx, cfg.DatabaseURL, lg)
	if err != nil {
		return nil, err
	}
	return database, nil
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer st.Close()
	lg.Info("store ready", zap.String("driver", cfg.StoreDriver))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	hub := realtime.NewHub(lg.Named("ws"), func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(cfg.AllowedOrigins, "*") || slices.Contains(cfg.AllowedOrigins, origin)
	})
	defer hub.Close()

	g, ctx := errgroup.WithContext(ctx)

	var notifier service.Notifier = hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		relay := realtime.NewRedisRelay(rdb, hub, lg.Named("relay"))
		notifier = relay
		g.Go(func() error { return relay.Run(ctx) })
	}

	deps := service.Deps{
		Store:    st,
		Notifier: notifier,
		Logger:   lg.Named("service"),
		Location: loc,
	}
	if cfg.EasyPayURL != "" {
		deps.Gateway = mobilemoney.NewClient(mobilemoney.Config{
			URL:           cfg.EasyPayURL,
			Username:      cfg.EasyPayUsername,
			Password:      cfg.EasyPayPassword,
			Timeout:       cfg.EasyPayTimeout,
			StatusRetries: cfg.EasyPayStatusRetries,
		}, lg.Named("mobilemoney"))
	} else {
		lg.Info("mobile money gateway disabled; deposits and withdrawals are settled by admins")
	}
	users := service.NewUserService(deps)
	tasks := service.NewTaskService(deps, cfg.RegenerateConcurrency)
	wallet := service.NewWalletService(deps)

	sched, err := scheduler.New(cfg.TaskCron, loc, tasks, lg.Named("scheduler"))
	if err != nil {
		return err
	}
	g.Go(func() error { return sched.Run(ctx) })

	server := api.NewServer(api.Options{
		Store:          st,
		Users:          users,
		Tasks:          tasks,
		Wallet:         wallet,
		Hub:            hub,
		Logger:         lg.Named("http"),
		JWTSecret:      cfg.JWTSecret,
		JWTTTL:         cfg.JWTTTL,
		AdminSecret:    cfg.AdminSecret,
		IPNSecret:      cfg.IPNSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		lg.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		lg.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
