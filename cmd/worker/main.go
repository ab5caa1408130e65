package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	root := &cobra.Command{
		Use:          "worker",
		Short:        "Outbox dispatcher and pairing deadline sweeper",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "internal/config/config.yaml", "path to config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Tick every job until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := newWorker(configPath)
				if err != nil {
					return err
				}
				defer w.close()
				return w.sched.Start(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single tick of every job and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := newWorker(configPath)
				if err != nil {
					return err
				}
				defer w.close()
				return w.sched.RunAll(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(configPath)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
