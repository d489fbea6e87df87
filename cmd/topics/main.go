// Command topics fits the per-window topic models over the chunk index and
// writes one slice artifact per window into the model directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clustertalk/cmd/internal/cli"
	"clustertalk/internal/artifact"
	"clustertalk/internal/store"
	"clustertalk/internal/topics"
)

var (
	cfgFile   string
	dateRange []string
)

var rootCmd = &cobra.Command{
	Use:           "topics",
	Short:         "Fit per-window topic models over the chunk index",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clustertalk.yaml)")
	rootCmd.Flags().StringSliceVarP(&dateRange, "clusterchatbackend", "c", nil,
		"start and end date of the range in yyyy-mm-dd")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := cli.Setup(cfgFile)
	if err != nil {
		return err
	}
	start, end, err := cli.ParseRange(dateRange, "2006-01-02")
	if err != nil {
		return fmt.Errorf("--clusterchatbackend expects two dates: %w", err)
	}

	db, err := store.NewClient(cfg.Store)
	if err != nil {
		return err
	}
	artifacts, err := artifact.NewStore(cfg.Model.Path)
	if err != nil {
		return err
	}

	modeler := &topics.Modeler{
		DB:         db,
		Artifacts:  artifacts,
		ChunkIndex: cfg.Indices.ChunkComplete,
	}
	return modeler.Run(cmd.Context(), start, end)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
