package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pond-pi/pond-pi/controller"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := controller.LoadConfig(configPath)
		if err != nil {
			return err
		}
		log := controller.NewLogger(cfg.Log, os.Stderr)

		c, err := controller.New(cfg, log)
		if err != nil {
			return err
		}
		atexit.Register(c.Stop)
		if err := c.Setup(); err != nil {
			log.Error("setup", "error", err)
			atexit.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		c.Start(ctx)
		<-ctx.Done()
		log.Info("signal received, shutting down")
		atexit.Exit(0)
		return nil
	},
}
