package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/compozy/mcpgate/internal/gate"
	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/httpapi"
	"github.com/compozy/mcpgate/internal/reload"
	"github.com/compozy/mcpgate/internal/router"
	"github.com/compozy/mcpgate/internal/version"
	"github.com/compozy/mcpgate/pkg/logger"
)

type rootFlags struct {
	host string
	port int
	conf string
	sse  bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "mcpgate",
		Short:         "Multi-tenant gateway for the Model Context Protocol",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.host, "host", "H", "0.0.0.0", "address to bind")
	cmd.Flags().IntVarP(&flags.port, "port", "P", 8051, "port to listen on")
	cmd.Flags().StringVarP(&flags.conf, "conf", "C", "./config.json", "path to the server config file")
	cmd.Flags().BoolVar(&flags.sse, "sse", false, "enable the SSE transport alongside streamable-HTTP")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}

// logLevelFromEnv reads MCPGATE_LOG (a RUST_LOG-style verbosity
// filter, flattened to charmlog's plain level names), defaulting to
// debug when unset.
func logLevelFromEnv() logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("MCPGATE_LOG"))) {
	case "":
		return logger.DebugLevel
	case "debug", "trace":
		return logger.DebugLevel
	case "info":
		return logger.InfoLevel
	case "warn", "warning":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	case "off", "disabled", "none":
		return logger.DisabledLevel
	default:
		return logger.DebugLevel
	}
}

func run(ctx context.Context, flags *rootFlags) error {
	logCfg := logger.DefaultConfig()
	logCfg.Level = logLevelFromEnv()
	log := logger.NewLogger(logCfg)

	cfg, err := gateconfig.Load(flags.conf)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	newRouter := func(service string, entry *gateconfig.ServerEntry) *router.ServiceRouter {
		return router.NewServiceRouter(service, entry, flags.sse, func() *gate.Gate {
			return gate.New(entry, nil, log.With("service", service))
		}, log.With("service", service))
	}
	cache := router.NewCache(cfg, newRouter)

	supervisor, err := reload.New(flags.conf, cache, log)
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	supervisor.Start()
	defer func() {
		if err := supervisor.Stop(); err != nil {
			log.Warn("config watcher stop failed", "error", err)
		}
	}()

	engine := httpapi.NewEngine(cache, httpapi.Options{SSEEnabled: flags.sse}, log)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", flags.host, flags.port),
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "sse", flags.sse, "config", flags.conf)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}
