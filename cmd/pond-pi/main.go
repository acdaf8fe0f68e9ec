package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pond-pi",
	Short: "Closed-loop pH and dissolved oxygen controller for aquaculture ponds.",
	Long: `pond-pi reads the pond's pH, dissolved oxygen and temperature probes, ` +
		`drives the dosing pumps and aerators, and broadcasts telemetry to ` +
		`the dashboard and the recorder.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.AddCommand(runCmd, sendCmd, recordCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
