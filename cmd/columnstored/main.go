// Command columnstored hosts a ColumnStore registry: it loads
// configuration, opens the configured storage backend, and serves
// metrics and operator subcommands. It does not speak any query wire
// protocol; callers embed the columnstore package directly.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/btrdb-io/columnstore/columnstore"
	"github.com/btrdb-io/columnstore/internal/configprovider"
	"github.com/btrdb-io/columnstore/internal/metrics"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "columnstored",
		Short: "column store registry daemon",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (defaults to built-in defaults)")

	root.AddCommand(serveCmd(), statCmd(), flushCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (configprovider.Configuration, error) {
	if cfgPath == "" {
		return configprovider.Default(), nil
	}
	return configprovider.Load(cfgPath)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "open the configured backend and serve metrics until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			metrics.MustRegister(reg)

			store, bteErr := columnstore.NewColumnStore(cfg)
			if bteErr != nil {
				return bteErr
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.MetricsListenAddr(), Handler: mux}

			errCh := make(chan error, 1)
			if srv.Addr != "" {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						errCh <- err
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				store.Close()
				return err
			case <-sigCh:
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_ = srv.Shutdown(ctx)
			store.Close()
			return nil
		},
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "force every column's partial levels to seal and report the resulting rescue points",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, bteErr := columnstore.NewColumnStore(cfg)
			if bteErr != nil {
				return bteErr
			}
			roots := store.Close()
			if len(roots) == 0 {
				fmt.Println("no columns to flush")
				return nil
			}
			for id, addrs := range roots {
				fmt.Printf("column %d: %d rescue point(s): %v\n", id, len(addrs), addrs)
			}
			return nil
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "report uncommitted memory for the configured backend and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, bteErr := columnstore.NewColumnStore(cfg)
			if bteErr != nil {
				return bteErr
			}
			defer store.Close()
			fmt.Printf("uncommitted bytes: %d\n", store.UncommittedMemory())
			return nil
		},
	}
}
