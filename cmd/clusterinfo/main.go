// Command clusterinfo runs the back half of the pipeline: consolidate the
// per-window topic slices, fit the 2D projector, build the labeled cluster
// hierarchy and index clusters and document projections into the store.
// Every step reuses its persisted artifact when one exists, so a failed run
// picks up where it stopped.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clustertalk/cmd/internal/cli"
	"clustertalk/internal/artifact"
	"clustertalk/internal/consolidate"
	"clustertalk/internal/core"
	"clustertalk/internal/hierarchy"
	"clustertalk/internal/indexer"
	"clustertalk/internal/llm"
	"clustertalk/internal/logger"
	"clustertalk/internal/projector"
	"clustertalk/internal/store"
)

// projectorFile persists the fitted 2D projector between runs.
const projectorFile = "projector_2d.json"

var (
	cfgFile   string
	dateRange []string
)

var rootCmd = &cobra.Command{
	Use:           "clusterinfo",
	Short:         "Consolidate topics, build the cluster hierarchy and index it",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clustertalk.yaml)")
	rootCmd.Flags().StringSliceVarP(&dateRange, "clusterinformation", "c", nil,
		"start and end date of the range in yyyy-mm-dd")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := cli.Setup(cfgFile)
	if err != nil {
		return err
	}
	start, end, err := cli.ParseRange(dateRange, "2006-01-02")
	if err != nil {
		return fmt.Errorf("--clusterinformation expects two dates: %w", err)
	}
	ctx := cmd.Context()

	db, err := store.NewClient(cfg.Store)
	if err != nil {
		return err
	}
	artifacts, err := artifact.NewStore(cfg.Model.Path)
	if err != nil {
		return err
	}
	generator, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	topics, err := loadOrConsolidate(ctx, artifacts, generator)
	if err != nil {
		return err
	}

	pca, err := loadOrFitProjector(artifacts, topics)
	if err != nil {
		return err
	}

	builder := &hierarchy.Builder{Artifacts: artifacts, Generator: generator, Projector: pca}
	result, err := builder.Build(ctx, topics)
	if err != nil {
		return err
	}

	x := &indexer.Indexer{
		DB:            db,
		ClusterIndex:  cfg.Indices.Cluster,
		ChunkIndex:    cfg.Indices.ChunkComplete,
		DocumentIndex: cfg.Indices.DocumentProjection,
	}
	if err := x.IndexClusters(ctx, result.Clusters, result.Embeddings); err != nil {
		return err
	}
	if err := x.RepairPaths(ctx); err != nil {
		return err
	}
	if err := x.AssignDocuments(ctx, topics, pca, start, end); err != nil {
		return err
	}

	logger.Info("clustering and indexing pipeline completed")
	return nil
}

// loadOrConsolidate reuses the persisted consolidated topic set when one
// exists, otherwise it merges the slice artifacts from scratch.
func loadOrConsolidate(ctx context.Context, artifacts *artifact.Store, generator llm.Generator) ([]core.Topic, error) {
	if artifacts.Exists(consolidate.ResultFile) {
		logger.Info("existing consolidated topics found, loading", "file", consolidate.ResultFile)
		var topics []core.Topic
		if err := artifacts.LoadJSON(consolidate.ResultFile, &topics); err != nil {
			return nil, err
		}
		return topics, nil
	}
	consolidator := &consolidate.Consolidator{Artifacts: artifacts, Generator: generator}
	return consolidator.Run(ctx)
}

// loadOrFitProjector reuses the persisted projector so coordinates stay
// stable across re-runs.
func loadOrFitProjector(artifacts *artifact.Store, topics []core.Topic) (*projector.PCA, error) {
	if artifacts.Exists(projectorFile) {
		logger.Info("existing projector found, loading", "file", projectorFile)
		return projector.Load(artifacts, projectorFile)
	}

	centroids := make([][]float64, len(topics))
	for i, topic := range topics {
		centroids[i] = topic.Centroid
	}
	pca, err := projector.Fit(centroids, 2)
	if err != nil {
		return nil, fmt.Errorf("fitting 2d projector: %w", err)
	}
	if err := pca.Save(artifacts, projectorFile); err != nil {
		return nil, err
	}
	return pca, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
