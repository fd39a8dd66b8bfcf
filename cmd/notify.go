package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var notifyTest bool

var notifyCmd = &cobra.Command{
	Use:   "notify [message]",
	Short: "Send a message over the configured Signal transport",
	Long: `Sends the given message (or a canned test message with --test) to the
configured Signal recipient. Useful for verifying the signal-cli daemon,
account and recipient settings before scheduling digest runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var message string
		switch {
		case notifyTest:
			message = fmt.Sprintf("lore-digest test message, %s", time.Now().Format(time.RFC1123))
		case len(args) == 1:
			message = args[0]
		default:
			fmt.Fprintf(os.Stderr, "Provide a message argument or --test.\n")
			os.Exit(2)
		}

		if err := newSignalClient().SendChunks(cmd.Context(), message); err != nil {
			fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stdout, "Message sent.")
		return nil
	},
}

func init() {
	notifyCmd.Flags().BoolVar(&notifyTest, "test", false, "Send a canned test message")
	rootCmd.AddCommand(notifyCmd)
}
