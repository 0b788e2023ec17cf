// Command jsonrpc-client calls the example methods of jsonrpc-server, first
// over HTTP and then over a raw socket.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"mini-jsonrpc/client"
	"mini-jsonrpc/config"
	"mini-jsonrpc/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "jsonrpc-client",
	Short:         "Call the jsonrpc-server example methods",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")
	f.DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	f.String("host", "localhost", "server host")
	f.Int("http-port", 8088, "server HTTP port")
	f.Int("raw-port", 8089, "server raw socket port")
	f.StringP("username", "u", "", "username")
	f.StringP("password", "p", "", "password")
	f.String("log-level", "warn", "debug, info, warn or error")
	f.Bool("log-development", true, "human-readable log output")
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

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return demo(ctx, cfg, logger, cmd.OutOrStdout())
}

// demo runs the example calls. Calls on each carrier are issued concurrently,
// so delayed results print last.
func demo(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	var mu sync.Mutex
	var firstErr error
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}
	fail := func(err error) {
		printf("RPC Error: %v\n", err)
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	goCall := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// HTTP
	httpClient := client.New(client.Options{
		Address:  cfg.Addr(cfg.HTTPPort),
		Username: cfg.Username,
		Password: cfg.Password,
		Logger:   logger,
	})
	goCall(func() {
		var sum float64
		if err := httpClient.Call(ctx, "add", []int{1, 2}, &sum); err != nil {
			fail(err)
			return
		}
		printf("  1 + 2 = %v\n", sum)
	})
	goCall(func() {
		var product float64
		if err := httpClient.Call(ctx, "multiply", []int{199, 2}, &product); err != nil {
			fail(err)
			return
		}
		printf("199 * 2 = %v\n", product)
	})
	goCall(func() {
		var echo string
		if err := httpClient.Call(ctx, "delayed.echo", []any{"Echo.", 1500}, &echo); err != nil {
			fail(err)
			return
		}
		printf("%s, delay 1500 ms\n", echo)
	})
	wg.Wait()

	// Raw socket
	socketClient := client.New(client.Options{
		Address:          cfg.Addr(cfg.RawPort),
		Username:         cfg.Username,
		Password:         cfg.Password,
		ReconnectDelay:   cfg.ReconnectDelay,
		DisableReconnect: !cfg.AutoReconnect,
		Logger:           logger,
	})
	conn, err := socketClient.ConnectSocket(ctx)
	if err != nil {
		fail(err)
		return firstErr
	}
	defer conn.Close()

	goCall(func() {
		var power float64
		if err := client.CallSocket(ctx, conn, "math.power", []int{3, 3}, &power); err != nil {
			fail(err)
			return
		}
		printf("  3 ^ 3 = %v\n", power)
	})
	goCall(func() {
		var sum float64
		if err := client.CallSocket(ctx, conn, "delayed.add", []int{1, 1, 1000}, &sum); err != nil {
			fail(err)
			return
		}
		printf("  1 + 1 = %v, delay 1000 ms\n", sum)
	})
	wg.Wait()
	return firstErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
