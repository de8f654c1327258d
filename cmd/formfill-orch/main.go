package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "formfill-orch",
		Short: "Formfill Orchestrator - batch contact-form run manager",
		Long: `Formfill Orchestrator manages batch runs of an external form-filling worker.
It merges uploaded target-URL datasets, supervises the worker process,
tracks per-URL progress and serves results over an HTTP API.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
