package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hrms/config"
	"hrms/database"
	"hrms/handlers"
	"hrms/logging"
	"hrms/middleware"
	"hrms/services"
	"hrms/storage"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "hrms",
	Short:         "HR management API server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = os.Getenv("HRMS_CONFIG")
		}
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		if logger, err = logging.New(cfg.LogLevel, verbose); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		middleware.SetJWTSecret(cfg.JWTSecret)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and the default DHR account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Init(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DefaultLeaveBalance, logger); err != nil {
			return errors.Wrap(err, "migrate database")
		}
		logger.Info("schema up to date", zap.String("driver", cfg.DatabaseDriver))
		return closeDB()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set HRMS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// openServices initializes the database and builds the service layer.
func openServices() (*handlers.Services, error) {
	if err := database.Init(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DefaultLeaveBalance, logger); err != nil {
		return nil, errors.Wrap(err, "initialize database")
	}
	store, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, errors.Wrap(err, "open upload directory")
	}
	mailer := services.NewMailer(cfg.SMTP, logger.Named("mail"))
	return handlers.NewServices(database.GetDB(), cfg, store, mailer, logger), nil
}

func closeDB() error {
	sqlDB, err := database.GetDB().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func serve(parent context.Context) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer closeDB()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handlers.NewRouter(cfg, database.GetDB(), svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
