// Command embed chunks stored article abstracts and writes their vector
// embeddings into the chunk index. The chunking strategy selects the target
// index: complete chunks and sentence chunks live apart.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"clustertalk/cmd/internal/cli"
	"clustertalk/internal/chunk"
	"clustertalk/internal/embed"
	"clustertalk/internal/store"
)

var (
	cfgFile        string
	vectorCreation []string
	chunking       string
	jsonFile       string
)

var rootCmd = &cobra.Command{
	Use:           "embed",
	Short:         "Chunk and embed stored article abstracts",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clustertalk.yaml)")
	rootCmd.Flags().StringSliceVarP(&vectorCreation, "vectorcreation", "v", nil,
		"start and end date of the range in yyyy-mm-dd")
	rootCmd.Flags().StringVarP(&chunking, "chunking", "c", "complete",
		"chunking strategy: complete or sentence")
	rootCmd.Flags().StringVar(&jsonFile, "json_file", "",
		"path to a JSON array of article ids to embed instead of a date range")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := cli.Setup(cfgFile)
	if err != nil {
		return err
	}

	var chunker chunk.Chunker
	var targetIndex string
	switch chunking {
	case "complete":
		chunker = chunk.NewTokenChunker()
		targetIndex = cfg.Indices.ChunkComplete
	case "sentence":
		chunker = chunk.NewSentenceChunker()
		targetIndex = cfg.Indices.ChunkSentence
	default:
		return fmt.Errorf("unknown chunking strategy %q, want complete or sentence", chunking)
	}

	db, err := store.NewClient(cfg.Store)
	if err != nil {
		return err
	}
	embedder, err := embed.NewHFClient(cfg.Embedding)
	if err != nil {
		return err
	}

	stage := &embed.Stage{
		DB:          db,
		Embedder:    embedder,
		Chunker:     chunker,
		SourceIndex: cfg.Indices.Source,
		TargetIndex: targetIndex,
	}

	if jsonFile != "" {
		ids, err := readIDList(jsonFile)
		if err != nil {
			return err
		}
		return stage.RunIDs(cmd.Context(), ids)
	}

	var start, end time.Time
	switch len(vectorCreation) {
	case 0:
		if !cli.Confirm("Are you sure you want to insert all records starting from start date till date? This can take several days.") {
			return nil
		}
		start = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
		end = time.Now().UTC()
	case 2:
		start, end, err = cli.ParseRange(vectorCreation, "2006-01-02")
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("--vectorcreation expects two arguments: <mindate, maxdate>")
	}
	return stage.Run(cmd.Context(), start, end)
}

// readIDList loads a JSON array of article ids; bare numbers are accepted.
func readIDList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading id list %s: %w", path, err)
	}
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		var strs []string
		if err := json.Unmarshal(data, &strs); err != nil {
			return nil, fmt.Errorf("decoding id list %s: %w", path, err)
		}
		return strs, nil
	}
	ids := make([]string, len(raw))
	for i, n := range raw {
		ids[i] = n.String()
	}
	return ids, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
