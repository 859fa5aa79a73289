package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/illuc-dev/illuc/internal/api"
	"github.com/illuc-dev/illuc/internal/config"
	"github.com/illuc-dev/illuc/internal/diffwatch"
	"github.com/illuc-dev/illuc/internal/events"
	"github.com/illuc-dev/illuc/internal/logger"
	"github.com/illuc-dev/illuc/internal/registry"
)

func main() {
	root := &cobra.Command{
		Use:   "illucd",
		Short: "task runtime daemon: registers, drives, and streams agent CLI sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			level, _ := cmd.Flags().GetString("log-level")

			home := homeFlag
			if home == "" {
				var err error
				home, err = config.Dir()
				if err != nil {
					return fmt.Errorf("resolve home directory: %w", err)
				}
			}
			if err := config.EnsureDir(home); err != nil {
				return fmt.Errorf("create %s: %w", home, err)
			}

			cfg, err := config.Load(home)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := logger.New(level, cfg.LogPath())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			bus := events.NewBus(log)
			watcher := diffwatch.New(log)
			reg := registry.New(bus, watcher, log)
			srv := api.NewServer(reg, bus, cfg.SocketPath())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			log.Info("illucd starting", "socket", cfg.SocketPath())
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error("illucd exiting", "err", err)
				return err
			}
			log.Info("illucd stopped")
			return nil
		},
	}

	root.Flags().String("home", "", "daemon home directory (default ~/.illuc, or $ILLUC_HOME)")
	root.Flags().String("log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
