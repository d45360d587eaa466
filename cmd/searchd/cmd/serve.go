package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/spf13/cobra"

	"searchd/internal/cache"
	"searchd/internal/config"
	"searchd/internal/logging"
	"searchd/internal/registry"
	"searchd/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logging.Setup(cfg.LogLevel, nil)

	c, err := cache.Open(cfg.ResolveCachePath())
	if err != nil {
		return fmt.Errorf("failed to open location cache: %w", err)
	}
	defer func() { _ = c.Close() }()

	reg := registry.New(c, log)
	defer func() { _ = reg.Close() }()

	// Replay blocks until complete; nothing is served before the
	// registry is rebuilt.
	if err := reg.Replay(); err != nil {
		return fmt.Errorf("startup replay failed: %w", err)
	}

	ln, err := acquireListener(cfg.Listen, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      server.New(reg, log).Router(),
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Info("serving", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// acquireListener prefers a socket handed over by systemd socket
// activation; without one it binds the configured address.
func acquireListener(addr string, log *slog.Logger) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	if len(listeners) > 0 {
		if len(listeners) > 1 {
			log.Warn("multiple activation sockets, using the first",
				slog.Int("count", len(listeners)))
		}
		log.Info("using systemd activation socket")
		return listeners[0], nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}
