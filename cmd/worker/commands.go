package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/casegate/internal/application/worker"
	"github.com/bryanwahyu/casegate/internal/infra/gatewayclient"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var lanes int
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the gateway until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("lanes") {
				cfg.Worker.Concurrency = lanes
			}
			if cmd.Flags().Changed("poll") {
				cfg.Worker.PollInterval = poll
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, closeDB, err := buildWorker(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			log.Printf("worker: starting gateway=%s lanes=%d poll=%s db=%s ai=%s",
				cfg.Worker.GatewayURL, cfg.Worker.Concurrency, cfg.Worker.PollInterval,
				cfg.Database.Driver, cfg.AI.Provider)
			return svc.Run(ctx, cfg.Worker.Concurrency, cfg.Worker.PollInterval)
		},
	}
	cmd.Flags().IntVar(&lanes, "lanes", 1, "concurrent claim loops (overrides worker.concurrency)")
	cmd.Flags().DurationVar(&poll, "poll", 5*time.Second, "sleep after an empty claim (overrides worker.pollInterval)")
	return cmd
}

func NewOnceCommand(rootOpts *RootOptions) *cobra.Command {
	var failEmpty bool

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Claim and process at most one case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, closeDB, err := buildWorker(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			out, err := svc.ProcessOne(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			if err != nil {
				return err
			}
			if failEmpty && out == worker.OutcomeEmpty {
				return errNothingToDo
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failEmpty, "fail-empty", false, "exit non-zero when the queue is empty")
	return cmd
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the archive schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			db, _, err := openArchive(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "archive schema ready (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Ask the gateway to release stale claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if olderThan < 0 {
				return errors.New("--older-than must be positive")
			}
			client := gatewayclient.New(cfg.Worker.GatewayURL, cfg.Auth.APIKey, cfg.Worker.Timeout)
			n, err := client.Sweep(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "lease age to release (0 uses the gateway default)")
	return cmd
}
