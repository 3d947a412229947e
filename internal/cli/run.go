package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mkock/asyncinit"
	"github.com/mkock/asyncinit/internal/manifest"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run a manifest's units tier by tier",
		Long: "Run starts every unit described by the manifest and reports each one as it finishes. " +
			"An interrupt stops the run; units still running get --stop-grace to unwind.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.run(ctx, cmd, m)
		},
	}

	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().Duration("stop-grace", 5*time.Second, "How long to wait for units to unwind after an interrupt")

	return cmd
}

// run starts the manifest's manager and waits for it, or for ctx to be cancelled.
func (a *app) run(ctx context.Context, cmd *cobra.Command, m *manifest.Manifest) error {
	registry := prometheus.NewRegistry()
	metrics := asyncinit.NewMetrics(registry)

	if a.cfg.Metrics.Addr != "" {
		shutdown, err := serveMetrics(a.cfg.Metrics.Addr, registry)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var mu sync.Mutex
	out := cmd.OutOrStdout()
	observer := func(p asyncinit.Progress) {
		mu.Lock()
		defer mu.Unlock()
		status := "ok"
		if p.Err != nil {
			status = p.Err.Error()
		}
		fmt.Fprintf(out, "%4d  %-20s %-10s %s\n", p.Priority, p.Type, p.Duration.Round(time.Millisecond), status)
	}

	mgr := m.Manager(
		asyncinit.WithLogger(a.logger),
		asyncinit.WithMetrics(metrics),
		asyncinit.WithObserver(observer),
	)
	if err := mgr.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	select {
	case <-mgr.Done():
	case <-ctx.Done():
		a.logger.Warn("interrupted, stopping")
		mgr.Stop()
		select {
		case <-mgr.Done():
		case <-time.After(a.cfg.Run.StopGrace):
		}
	}

	var err error
	select {
	case <-mgr.Done():
		err = mgr.Wait()
	default:
		err = fmt.Errorf("units did not unwind within %s", a.cfg.Run.StopGrace)
	}

	mu.Lock()
	fmt.Fprintf(out, "run %s %s\n", mgr.RunID(), mgr.Outcome())
	mu.Unlock()
	return err
}

// serveMetrics serves the registry on addr until the returned function is called.
func serveMetrics(addr string, registry *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "metrics server:", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
