package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-comment-store/internal/config"
	"github.com/pribylovaa/go-comment-store/internal/dispatch"
	"github.com/pribylovaa/go-comment-store/internal/service"
	"github.com/pribylovaa/go-comment-store/internal/storage"
	csmongo "github.com/pribylovaa/go-comment-store/internal/storage/mongo"
	cspostgres "github.com/pribylovaa/go-comment-store/internal/storage/postgres"
	cshttp "github.com/pribylovaa/go-comment-store/internal/transport/http"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// readyRetry — пауза между попытками достучаться до хранилища при старте.
const readyRetry = 2 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	flag.Parse()

	// .env необязателен: переменные окружения процесса имеют приоритет.
	_ = godotenv.Load()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting comment-store", "env", cfg.Env, "driver", cfg.Storage.Driver)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	driver, err := newDriver(*cfg)
	if err != nil {
		log.Error("driver_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := driver.Close(ctx); cerr != nil {
			log.Warn("driver_close_failed", slog.String("err", cerr.Error()))
		}
	}()

	svc := service.New(driver, *cfg)
	disp := dispatch.New(svc, dispatch.NewMetrics(prometheus.DefaultRegisterer))
	log.Info("service_initialized")

	// Probes и метрики — отдельный листенер.
	var ready int32 // 0 — not ready; 1 — ready

	probeMux := http.NewServeMux()
	probeMux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	probeMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	probeMux.Handle("/metrics", promhttp.Handler())

	probeSrv := &http.Server{
		Addr:              cfg.Probe.Addr(),
		Handler:           probeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("probe_listen_start", "addr", probeSrv.Addr)
		if err := probeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("probe_serve_failed", slog.String("err", err.Error()))
		}
	}()

	// Хранилище подключается лениво; /healthz ждёт первого успешного ping.
	go waitReady(rootCtx, log, svc, &ready)

	apiHandler := cshttp.NewRouter(disp, cshttp.Options{
		Logger:       log,
		Timeout:      cfg.Timeouts.Service,
		BasePath:     cfg.HTTP.BasePath,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		return
	}

	log.Info("http_listen_start", slog.String("addr", httpAddr), slog.String("base_path", cfg.HTTP.BasePath))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	_ = probeSrv.Shutdown(shutdownCtx)

	log.Info("service_stopped")
}

// newDriver выбирает драйвер хранилища по storage.driver.
func newDriver(cfg config.Config) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case config.DriverMongo:
		return csmongo.New(cfg.Storage.Mongo, cfg.Policy)
	case config.DriverPostgres:
		return cspostgres.New(cfg.Storage.Postgres, cfg.Policy)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// waitReady пингует хранилище до первого успеха и выставляет флаг готовности.
func waitReady(ctx context.Context, log *slog.Logger, svc *service.Service, ready *int32) {
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := svc.Ready(pingCtx)
		cancel()

		if err == nil {
			atomic.StoreInt32(ready, 1)
			log.Info("storage_ready")
			return
		}

		log.Warn("storage_not_ready", slog.String("err", err.Error()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(readyRetry):
		}
	}
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
