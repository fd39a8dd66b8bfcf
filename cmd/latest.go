package cmd

import (
	"fmt"
	"os"

	"github.com/akarol/lore-digest/internal/checkpoint"
	"github.com/spf13/cobra"
)

var latestCmd = &cobra.Command{
	Use:   "latest [feed-id]",
	Short: "Print the most recent archived bulletin",
	Long: `Prints the most recent bulletin recorded for a feed (the first
configured feed when no ID is given), without fetching or inference.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedID := ""
		if len(args) == 1 {
			feedID = args[0]
		} else if len(cfg.Feeds) > 0 {
			feedID = cfg.Feeds[0].ID
		}
		if feedID == "" {
			fmt.Fprintf(os.Stderr, "No feed configured.\n")
			os.Exit(2)
		}

		store, err := checkpoint.New(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: opening checkpoint store: %v\n", err)
			os.Exit(2)
		}
		defer store.Close()

		rec, err := store.LatestBulletin(feedID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(1)
		}
		if rec == nil {
			fmt.Fprintf(os.Stdout, "No bulletins recorded for %s yet.\n", feedID)
			return nil
		}

		fmt.Fprint(os.Stdout, rec.Body)
		fmt.Fprintf(os.Stdout, "\n(archived at %s)\n", rec.FilePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(latestCmd)
}
