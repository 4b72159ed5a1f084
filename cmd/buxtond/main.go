// Command buxtond is the configuration-store daemon: it loads the
// configured layers, opens the storage façade, wires the authorization
// bridge, and runs the event loop until SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buxton-project/buxtond/internal/authz"
	"github.com/buxton-project/buxtond/internal/config"
	"github.com/buxton-project/buxtond/internal/handlers"
	"github.com/buxton-project/buxtond/internal/loop"
	"github.com/buxton-project/buxtond/internal/metrics"
	"github.com/buxton-project/buxtond/internal/notify"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/store"
	"github.com/buxton-project/buxtond/pkg/logger"
)

const metricsNamespace = "buxtond"

func main() {
	cfgPath := flag.String("config", "/etc/buxton/buxtond.yaml", "Path to configuration file")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Println("buxtond v0.1.0")
		os.Exit(0)
	}

	if err := run(*cfgPath); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	metrics.AttachPrometheus(metricsNamespace)

	facade := store.NewFacade(cfg.StoreLayers())
	if err := facade.Open(); err != nil {
		return fmt.Errorf("opening storage layers: %w", err)
	}
	defer facade.Close()

	l, err := loop.New(cfg.Socket, &cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("binding socket: %w", err)
	}
	defer l.Close()

	transport, err := authz.NewLocalTransport(authz.AllowAll, l.StatusChange)
	if err != nil {
		return fmt.Errorf("starting authorization transport: %w", err)
	}
	defer transport.Close()
	bridge := authz.NewBridge(transport)

	notifyRegistry := notify.New()
	requestQueue := queue.New()

	dispatcher := &handlers.Dispatcher{
		Facade:   facade,
		Resolver: store.NewResolver(facade),
		Bridge:   bridge,
		Notify:   notifyRegistry,
		Queue:    requestQueue,
		Writer:   l,
	}
	l.Dispatcher = dispatcher
	l.Bridge = bridge
	l.Queue = requestQueue
	l.Notify = notifyRegistry

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.HTTPListen != "" {
		go serveHTTP(ctx, cfg.HTTPListen)
	}

	logger.With("socket", cfg.Socket).Info("buxtond listening")
	return l.Run()
}

// serveHTTP exposes the daemon's health, status, and Prometheus
// endpoints until ctx is cancelled, then shuts the server down with a
// bounded grace period.
func serveHTTP(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics.Default.Snapshot())
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.With("addr", addr).Info("http: listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.With("addr", addr).Error("http server failed: %v", err)
	}
}
