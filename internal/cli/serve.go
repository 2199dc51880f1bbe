package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Flush the queue in the background until interrupted",
		Long: `Run the flush scheduler until SIGINT or SIGTERM.

When telemetry is enabled the Prometheus metrics are served on
telemetry.metrics_addr at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, rootOpts)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions) error {
	a, err := rootOpts.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var srv *http.Server
	if a.Metrics != nil {
		r := mux.NewRouter()
		r.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
		srv = &http.Server{Addr: a.Config.Telemetry.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("Metrics server failed", err)
			}
		}()
	}

	runCtx := a.Context(ctx)
	a.Scheduler.Start(runCtx)
	a.Scheduler.TriggerFlush(runCtx)

	<-ctx.Done()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}
