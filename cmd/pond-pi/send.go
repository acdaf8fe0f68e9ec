package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pond-pi/pond-pi/controller"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/spf13/cobra"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <code> [arg]",
	Short: "Send a command to a running controller.",
	Long: `Send one command on the controller's TCP command channel, e.g.

  pond-pi send 3        resume both loops
  pond-pi send 7 30     run the aerator for 30 seconds
  pond-pi send 8 1      dose pH up with preset 1
  pond-pi send 6 2      emergency stop`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args, " ")
		if _, err := gateway.ParseCommand(line); err != nil {
			return err
		}
		cfg, err := controller.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := gateway.Send(cfg.Network.Command, line, sendTimeout); err != nil {
			return fmt.Errorf("send to %s: %w", cfg.Network.Command, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %q to %s\n", line, cfg.Network.Command)
		return nil
	},
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Second, "connect and write timeout")
}
