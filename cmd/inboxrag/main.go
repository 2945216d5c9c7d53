package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"inboxrag/internal/ask"
	"inboxrag/internal/config"
	"inboxrag/internal/db"
	"inboxrag/internal/embed"
	"inboxrag/internal/gemini"
	"inboxrag/internal/gmail"
	"inboxrag/internal/ingest"
	"inboxrag/internal/planner"
	"inboxrag/internal/retrieve"
	"inboxrag/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
	verbose   bool
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	// .env is optional; real deployments set GEMINI_API_KEY directly.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "inboxrag",
		Short: "Ask questions over a locally mirrored Gmail inbox",
		Long: `Inboxrag incrementally mirrors your Gmail inbox into a local
SQLite store and answers natural-language questions over it using a
time/limit-constrained SQL filter with an optional embedding rerank.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd(), initCmd(), syncCmd(), askCmd(), resetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("inboxrag %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize inboxrag config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := config.GetConfigDir()
			if err != nil {
				return err
			}
			dataDir, err := config.GetDataDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(configDir, 0755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
			if err := db.Init(); err != nil {
				return err
			}
			dbPath, err := db.GetPath()
			if err != nil {
				return err
			}
			fmt.Printf("Initialized.\n  config: %s\n  data:   %s\n  db:     %s\n", configDir, dataDir, dbPath)
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror new mail into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			appended, err := runSync(ctx, cfg, st)
			if err != nil {
				return err
			}
			fmt.Printf("Sync complete: %d new emails.\n", appended)
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Sync, then answer questions interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			if !noSync {
				if _, err := runSync(ctx, cfg, st); err != nil {
					// A failed sync still leaves a queryable store.
					log.Warn().Err(err).Msg("sync failed, answering over existing data")
				}
			}

			client := gemini.NewClient(os.Getenv("GEMINI_API_KEY"))
			client.SetGenerateRPM(cfg.Models.GenerateRPM)
			client.SetEmbedRPM(cfg.Models.EmbedRPM)

			batcher := embed.NewBatcher(client, cfg.Models.Embed, cfg.Models.EmbedDim, 0)
			defer batcher.Close()

			engine := ask.NewEngine(
				planner.New(client, cfg.Models.Generate, cfg.Retrieval.DefaultLimit, cfg.Location()),
				retrieve.New(st, batcher, cfg.Retrieval.DefaultLimit, cfg.Retrieval.RerankTopK),
				retrieve.NewSynthesizer(client, cfg.Models.Generate),
				st,
			)

			if err := engine.Loop(ctx, os.Stdin, os.Stdout); err != nil {
				return err
			}

			stats := client.GetUsageStats()
			fmt.Printf("\nUsage: %d generate calls, %d embed calls, ~$%.4f\n",
				stats.GenerateCalls, stats.EmbedCalls, stats.EstimatedCostUSD)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Skip the ingestion pass before answering")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the email store",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: this will permanently delete all mirrored email data.")
			fmt.Print("Are you sure you want to drop the 'emails' table? (yes/no): ")

			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() || strings.ToLower(strings.TrimSpace(scanner.Text())) != "yes" {
				fmt.Println("Operation cancelled.")
				return nil
			}

			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := st.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("The 'emails' table has been dropped and recreated.")
			fmt.Println("Run 'inboxrag sync' to re-ingest your data.")
			return nil
		},
	}
}

func openStore() (*store.Store, func(), error) {
	if err := db.Init(); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open()
	if err != nil {
		return nil, nil, err
	}
	return store.New(conn, db.Schema()), func() { conn.Close() }, nil
}

func runSync(ctx context.Context, cfg *config.Config, st *store.Store) (int, error) {
	client, err := gmail.NewClientFromTokenFile(ctx, cfg.Ingest.TokenFile)
	if err != nil {
		return 0, err
	}
	fetcher := ingest.NewFetcher(client, cfg.Ingest.ChunkSize)
	runner := ingest.NewRunner(client, fetcher, st, cfg.Ingest.WindowDays)
	return runner.Run(ctx)
}
