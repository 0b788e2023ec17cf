// Command jsonrpc-server serves the example methods over HTTP and raw
// sockets, and optionally over a hybrid port carrying both.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mini-jsonrpc/config"
	"mini-jsonrpc/logging"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

var configFile string

var rootCmd = &cobra.Command{
	Use:   "jsonrpc-server",
	Short: "JSON-RPC server over HTTP and raw TCP sockets",
	Long: `jsonrpc-server exposes add, multiply, math.power, math.sqrt,
delayed.echo and delayed.add.

HTTP clients POST one call per request. Socket clients keep a connection
open and may authenticate with {"method":"auth","params":[user,pass],"id":N}.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")
	f.String("host", "localhost", "interface to listen on")
	f.Int("http-port", 8088, "HTTP port (0 disables)")
	f.Int("raw-port", 8089, "raw socket port (0 disables)")
	f.Int("hybrid-port", 0, "port serving both carriers (0 disables)")
	f.StringP("username", "u", "", "require this username")
	f.StringP("password", "p", "", "require this password")
	f.String("log-level", "info", "debug, info, warn or error")
	f.Bool("log-development", false, "human-readable log output")
	f.Float64("rate-limit", 0, "calls per second across all connections (0 is unlimited)")
	f.Int("rate-burst", 1, "rate limiter burst")
	f.Duration("handler-timeout", 0, "fail calls not answered within this time (0 disables)")
}

func run(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	listen := func(port int, serve func(string) error) {
		if port == 0 {
			return
		}
		go func() { errCh <- serve(cfg.Addr(port)) }()
	}
	listen(cfg.HTTPPort, srv.ListenAndServe)
	listen(cfg.RawPort, srv.ListenAndServeRaw)
	listen(cfg.HybridPort, srv.ListenAndServeHybrid)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("listener failed", zap.Error(err))
	}
	if serr := srv.Shutdown(shutdownTimeout); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

// newServer builds the server with the middleware stack cfg asks for.
func newServer(cfg *config.Config, logger *zap.Logger) (*server.Server, error) {
	srv := server.New(server.Options{Logger: logger})

	srv.Use(middleware.Recover(logger), middleware.Logging(logger))
	if cfg.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.HandlerTimeout > 0 {
		srv.Use(middleware.Timeout(cfg.HandlerTimeout))
	}
	if cfg.HasAuth() {
		srv.EnableAuth(cfg.Username, cfg.Password)
	}
	if err := expose(srv.Endpoint); err != nil {
		return nil, err
	}
	return srv, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
