package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
)

func newIngestCmd(c *cli) *cobra.Command {
	var (
		docsPath     string
		chunkSize    int
		chunkOverlap int
		reset        bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build or update the local vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := c.settings
			if docsPath == "" {
				docsPath = settings.DocsPath
			}
			if settings.VectorStore.Backend == "weaviate" {
				return fmt.Errorf("ingest writes the chromem index; vector_store.backend is weaviate")
			}

			ctx := cmd.Context()
			embedder, err := retrieval.NewEmbedder(ctx,
				settings.Embedding.Provider,
				settings.APIKey(settings.Embedding.Provider),
				settings.Embedding.Model,
				settings.Embedding.CacheSize,
			)
			if err != nil {
				return fmt.Errorf("build embedder: %w", err)
			}
			index, err := retrieval.NewChromemStore(settings.VectorStore.Path, settings.VectorStore.Collection, retrieval.EmbeddingFunc(embedder))
			if err != nil {
				return err
			}
			if reset {
				if err := index.Reset(ctx); err != nil {
					return fmt.Errorf("reset index: %w", err)
				}
				c.logger.Info("ingest_index_reset", "path", settings.VectorStore.Path)
			}

			start := time.Now()
			ingestor := retrieval.NewIngestor(index, retrieval.NewChunker(chunkSize, chunkOverlap), config.SupportedExtensions, "", c.logger)
			report, err := ingestor.Run(ctx, docsPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d documents, %d chunks in %s\n",
				okColor("indexed"), report.Documents, report.Chunks, time.Since(start).Round(time.Millisecond))
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "%s %s\n", warnColor("skipped"), s)
			}
			fmt.Fprintf(out, "collection %s now holds %d chunks\n", settings.VectorStore.Collection, index.Count())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&docsPath, "docs-path", "", "override docs_path")
	flags.IntVar(&chunkSize, "chunk-size", 1200, "chunk size in characters")
	flags.IntVar(&chunkOverlap, "chunk-overlap", 150, "chunk overlap in characters")
	flags.BoolVar(&reset, "reset", false, "drop the collection before indexing")
	return cmd
}
