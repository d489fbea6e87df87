// Command ragserver runs the question answering HTTP service over the
// indexed corpus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clustertalk/cmd/internal/cli"
	"clustertalk/internal/embed"
	"clustertalk/internal/llm"
	"clustertalk/internal/logger"
	"clustertalk/internal/rag"
	"clustertalk/internal/server"
	"clustertalk/internal/store"
)

// modelProfile names the LLM profile the service answers with.
const modelProfile = "default"

const shutdownGrace = 10 * time.Second

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "ragserver",
	Short:         "Serve corpus and document question answering over HTTP",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clustertalk.yaml)")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := cli.Setup(cfgFile)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewClient(cfg.Store)
	if err != nil {
		return err
	}
	embedder, err := embed.NewHFClient(cfg.Embedding)
	if err != nil {
		return err
	}
	generator, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	profile, err := cfg.LLM.Profile(modelProfile)
	if err != nil {
		return err
	}

	processor := &rag.Processor{
		DB:           db,
		Generator:    generator,
		Embedder:     embedder,
		ChunkIndex:   cfg.Indices.ChunkSentence,
		ClusterIndex: cfg.Indices.Cluster,
		Profile:      profile,
	}
	srv := server.New(processor, cfg.Server)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
