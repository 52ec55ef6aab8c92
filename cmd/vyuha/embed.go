package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/storage"
)

func newEmbedCmd(a *app) *cobra.Command {
	var (
		force    bool
		entity   string
		dbPath   string
		provider string
	)
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate embeddings for stored entities",
		Long: "Embeds every entity (or one with --entity) with the configured provider.\n" +
			"Entities that already have a vector from the same model are skipped unless --force is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("db-path") {
				cfg.Storage.DBPath = dbPath
			}
			if cmd.Flags().Changed("ai-provider") {
				cfg.AI.Provider = provider
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cfg.AI.Enabled() {
				return errors.New("embed: no embedding provider configured (set ai.provider, VYUHA_AI_PROVIDER or --ai-provider)")
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := storage.New(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("embed: open storage: %w", err)
			}
			defer store.Close()

			embedder, err := ai.NewEmbedder(ctx, cfg.AI.ProviderConfig())
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			defer embedder.Close()

			svc, err := ai.NewEmbeddingService(ctx, embedder, store)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}

			fmt.Fprintf(out, "%s %s\n\n", brand.Sprint("vyuha embed"),
				subtle.Sprintf("%s · %s", embedder.Name(), embedder.Model()))

			if entity != "" {
				emb, err := svc.EmbedEntity(ctx, entity, force)
				if err != nil {
					return fmt.Errorf("embed %q: %w", entity, err)
				}
				fmt.Fprintf(out, "  %s %s  %d dims\n", good.Sprint("✓"), emb.EntityID, emb.Dimensions)
				return nil
			}

			prog, err := svc.EmbedAll(ctx, force, func(p ai.EmbedProgress) {
				fmt.Fprintf(out, "\r  %d/%d  %s  %s  %s",
					p.Completed+p.Skipped+p.Errors, p.Total,
					good.Sprintf("%d embedded", p.Completed),
					subtle.Sprintf("%d skipped", p.Skipped),
					bad.Sprintf("%d failed", p.Errors))
			})
			fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}

			status := good.Sprint("✓")
			if prog.Errors > 0 {
				status = warn.Sprint("⚠")
			}
			fmt.Fprintf(out, "\n  %s %d entities, %d embedded, %d skipped, %d failed\n",
				status, prog.Total, prog.Completed, prog.Skipped, prog.Errors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-embed entities that already have a vector")
	cmd.Flags().StringVar(&entity, "entity", "", "embed a single entity id")
	cmd.Flags().StringVar(&dbPath, "db-path", "./vyuha.db", "path to SQLite database file")
	cmd.Flags().StringVar(&provider, "ai-provider", "", "embedding provider: bedrock or ollama")
	return cmd
}
