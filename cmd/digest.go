package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/akarol/lore-digest/internal/checkpoint"
	"github.com/akarol/lore-digest/internal/config"
	"github.com/akarol/lore-digest/internal/engine"
	"github.com/akarol/lore-digest/internal/feed"
	"github.com/akarol/lore-digest/internal/pipeline"
	"github.com/spf13/cobra"
)

var digestFeed string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Run the full digest pipeline",
	Long: `Fetches every configured feed, clusters messages into threads, scores
them, analyzes the top threads with the inference engine, synthesizes a
bulletin, archives it, and delivers it over Signal.

Holds the shared advisory lock for the duration of the run: if another
heavy job already holds it, exits immediately without side effects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Verbose {
			log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		}
		if digestFeed != "" {
			f := cfg.FeedByID(digestFeed)
			if f == nil {
				fmt.Fprintf(os.Stderr, "Unknown feed %q.\n", digestFeed)
				os.Exit(2)
			}
			cfg.Feeds = []config.Feed{*f}
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(2)
		}

		store, err := checkpoint.New(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: opening checkpoint store: %v\n", err)
			os.Exit(2)
		}
		defer store.Close()

		completer, ollama, err := newCompleter()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(2)
		}

		var browser *feed.Browser
		for _, f := range cfg.Feeds {
			if f.Kind == "page" {
				browser = feed.NewBrowser()
				break
			}
		}

		p := pipeline.New(cfg, store,
			feed.NewFetcher(browser),
			engine.NewGateway(completer, cfg.Engine),
			newSignalClient(), ollama)

		if err := p.Run(cmd.Context()); err != nil {
			if errors.Is(err, engine.ErrAlreadyRunning) {
				fmt.Fprintf(os.Stderr, "Skipped: %v\n", err)
				os.Exit(0)
			}
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(1)
		}

		fmt.Fprintf(os.Stdout, "Digest completed. Bulletins archived in: %s\n", cfg.OutputDir)
		return nil
	},
}

func init() {
	digestCmd.Flags().StringVar(&digestFeed, "feed", "", "Digest only the named feed")
	rootCmd.AddCommand(digestCmd)
}
