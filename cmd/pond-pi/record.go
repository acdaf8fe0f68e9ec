package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pond-pi/pond-pi/controller"
	"github.com/pond-pi/pond-pi/controller/modules/recorder"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record telemetry to CSV files and SQLite.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := controller.LoadConfig(configPath)
		if err != nil {
			return err
		}
		log := controller.NewLogger(cfg.Log, os.Stderr).With("module", "recorder")

		rec, err := recorder.Open(cfg.Recorder, log)
		if err != nil {
			return err
		}
		defer rec.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log.Info("recording", "listen", cfg.Recorder.Listen, "dir", cfg.Recorder.Dir, "db", cfg.Recorder.DB)
		if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
