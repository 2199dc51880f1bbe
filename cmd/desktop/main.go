// Package main provides the desktop server. Desktop clients communicate via
// REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/wishwell/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/wishwell/backend/internal/app"
	"github.com/kimhsiao/wishwell/backend/internal/config"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
)

func main() {
	addr := flag.String("addr", "localhost:8090", "listen address")
	configPath := flag.String("config", "", "config file")
	flag.Parse()

	if err := run(*addr, *configPath); err != nil {
		logging.Error("Desktop server failed", err)
		os.Exit(1)
	}
}

func run(addr, configPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level))
	hub := NewWSHub(logger)
	defer hub.Close()

	a, err := app.Open(cfg, app.WithTelemetrySink(hub))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx := a.Context(ctx)
	a.Scheduler.Start(runCtx)
	a.Scheduler.TriggerFlush(runCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.Logger.Info("WishWell desktop server started", map[string]interface{}{"addr": addr})

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter registers every route of the desktop API.
func newRouter(a *app.App, hub *WSHub) *mux.Router {
	queue := handlers.NewQueueHandler(a)
	engagement := handlers.NewEngagementHandler(a)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", health).Methods(http.MethodGet)
	api.HandleFunc("/wishes", queue.PostWish).Methods(http.MethodPost)
	api.HandleFunc("/queue/status", queue.Status).Methods(http.MethodGet)
	api.HandleFunc("/queue/flush", queue.Flush).Methods(http.MethodPost)
	api.HandleFunc("/queue", queue.Clear).Methods(http.MethodDelete)
	api.HandleFunc("/connectivity", queue.SetConnectivity).Methods(http.MethodPost)
	api.HandleFunc("/engagement/stats", engagement.Stats).Methods(http.MethodGet)
	api.HandleFunc("/engagement/{kind}", engagement.Record).Methods(http.MethodPost)
	api.HandleFunc("/engagement/{kind}/next", engagement.NextMilestone).Methods(http.MethodGet)
	api.HandleFunc("/preferences/post-types", engagement.PostTypes).Methods(http.MethodGet)

	if a.Metrics != nil {
		r.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
	}
	if hub != nil {
		r.HandleFunc("/ws", HandleWebSocket(hub))
	}
	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"wishwell-desktop"}`))
}
