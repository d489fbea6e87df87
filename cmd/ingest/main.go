// Command ingest fetches PubMed article records for a date range and loads
// them into the source index, newest day first.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clustertalk/cmd/internal/cli"
	"clustertalk/internal/eutils"
	"clustertalk/internal/ingest"
	"clustertalk/internal/store"
)

var (
	cfgFile   string
	dateRange []string
)

var rootCmd = &cobra.Command{
	Use:           "ingest",
	Short:         "Fetch PubMed articles into the source index",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clustertalk.yaml)")
	rootCmd.Flags().StringSliceVar(&dateRange, "range", nil,
		"start and end date of the range in yyyy/mm/dd")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := cli.Setup(cfgFile)
	if err != nil {
		return err
	}

	var start, end time.Time
	switch len(dateRange) {
	case 0:
		if !cli.Confirm("Are you sure you want to insert the records starting from 1900 till date? This can take several days.") {
			return nil
		}
		start = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
		end = time.Now().UTC()
	case 2:
		start, end, err = cli.ParseRange(dateRange, "2006/01/02")
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("--range expects two arguments: <mindate, maxdate>")
	}

	db, err := store.NewClient(cfg.Store)
	if err != nil {
		return err
	}

	ingestor := &ingest.Ingestor{
		DB:     db,
		Source: eutils.NewClient("pubmed"),
		Index:  cfg.Indices.Source,
	}
	stuck, err := ingestor.Run(cmd.Context(), start, end)
	if err != nil {
		return err
	}
	if len(stuck) > 0 {
		return fmt.Errorf("%d days could not be ingested: %s", len(stuck), strings.Join(stuck, ", "))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
