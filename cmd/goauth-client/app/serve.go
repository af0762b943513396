package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/authserver"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference auth server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v.GetString("log.level"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, v, logger)
		},
	}

	f := cmd.Flags()
	f.String("server.addr", ":8080", "Listen address.")
	f.String("server.redis-addr", "", "Redis address; an embedded miniredis is used when empty.")
	f.Duration("server.access-ttl", 15*time.Minute, "Access token lifetime.")
	f.Duration("server.refresh-ttl", 7*24*time.Hour, "Refresh session lifetime.")
	f.String("server.signing-key", "", "HS256 signing key, at least 32 bytes; random when empty.")
	f.Bool("server.cookie-secure", false, "Mark the refresh cookie Secure.")
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper, logger *zap.Logger) error {
	rdb, closeRedis, err := openRedis(ctx, v.GetString("server.redis-addr"), logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	srv, err := authserver.New(authserver.Options{
		Redis:        rdb,
		AccessTTL:    v.GetDuration("server.access-ttl"),
		RefreshTTL:   v.GetDuration("server.refresh-ttl"),
		SigningKey:   []byte(v.GetString("server.signing-key")),
		CookieSecure: v.GetBool("server.cookie-secure"),
		Logger:       logger,
		OnChallenge: func(kind, email, token string) {
			// Stand-in for mail delivery.
			logger.Info("challenge issued", zap.String("kind", kind), zap.String("email", email), zap.String("token", token))
		},
	})
	if err != nil {
		return err
	}
	mountDemoRoutes(srv)

	httpServer := &http.Server{
		Addr:              v.GetString("server.addr"),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
