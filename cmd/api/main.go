package main

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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ParamigosApps/appbar-sub000/internal/config"
	"github.com/ParamigosApps/appbar-sub000/internal/logging"
	"github.com/ParamigosApps/appbar-sub000/internal/observability"
	"github.com/ParamigosApps/appbar-sub000/internal/token"
)

const shutdownTimeout = 10 * time.Second

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := serveCmd()
	root := &cobra.Command{
		Use:           "api",
		Short:         "Ticket and bar order allocation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve)
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(tokenCmd())
	return root
}

// bootstrap loads configuration and builds the process logger. Warnings
// collected while loading are logged once the logger exists.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.Env)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("create logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	if cfg.EnvFile != "" {
		logger.Info("loaded env file", zap.String("path", cfg.EnvFile))
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the hold expiry sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.Env, cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Warn("tracing shutdown", zap.Error(err))
				}
			}()

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			server := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           rt.handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("api listening", zap.String("port", cfg.Port), zap.String("storage", cfg.Storage))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				return rt.expiry.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutdown signal received, stopping server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server shutdown: %w", err)
				}
				return nil
			})

			err = g.Wait()
			logger.Info("server stopped")
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Storage != config.StoragePostgres {
				return fmt.Errorf("migrate needs STORAGE=%s, got %q", config.StoragePostgres, cfg.Storage)
			}
			pool, err := openPostgres(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			pool.Close()
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire one batch of overdue holds and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rt, err := buildRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.expiry.Sweep(cmd.Context())
			logger.Info("sweep finished", zap.Int("expired", n))
			return err
		},
	}
}

func tokenCmd() *cobra.Command {
	var scopeID string
	cmd := &cobra.Command{
		Use:   "token [code]",
		Short: "Check a scanned redemption code offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			signer, err := token.NewSigner(cfg.Engine.TokenSecret, cfg.Engine.TokenLength)
			if err != nil {
				return err
			}
			code, err := token.ParseCode(args[0])
			if err != nil {
				return err
			}
			valid := code.Token != "" && signer.Verify(code.UnitID, scopeID, code.Token)
			fmt.Fprintf(cmd.OutOrStdout(), "kind=%s unit=%s valid=%t\n", code.Kind, code.UnitID, valid)
			return nil
		},
	}
	cmd.Flags().StringVar(&scopeID, "scope", "", "event id the code is presented at")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}
