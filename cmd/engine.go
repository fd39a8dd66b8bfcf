package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/akarol/lore-digest/internal/engine"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Inspect and control the inference engine",
}

var engineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the engine and the Signal daemon",
	Long: `Probes the inference engine and the Signal daemon concurrently:
whether the engine answers, whether the configured model is advertised,
which models are currently resident, and whether signal-cli responds to
JSON-RPC. Exits non-zero if any probe fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		completer, ollama, err := newCompleter()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(2)
		}

		ctx := cmd.Context()
		var resident []engine.ResidentModel
		var healthErr, residentErr, signalErr error

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			healthErr = completer.CheckHealth(gctx, cfg.Engine.Model)
			return nil
		})
		if ollama != nil {
			g.Go(func() error {
				resident, residentErr = ollama.Resident(gctx)
				return nil
			})
		}
		g.Go(func() error {
			signalErr = newSignalClient().Ping(gctx)
			return nil
		})
		_ = g.Wait()

		failed := false
		fmt.Fprintf(os.Stdout, "Engine:  %s (%s)\n", cfg.Engine.BaseURL, cfg.Engine.Provider)
		if healthErr != nil {
			fmt.Fprintf(os.Stdout, "  Model %s: UNAVAILABLE (%v)\n", cfg.Engine.Model, healthErr)
			failed = true
		} else {
			fmt.Fprintf(os.Stdout, "  Model %s: available\n", cfg.Engine.Model)
		}

		if ollama != nil {
			switch {
			case residentErr != nil:
				fmt.Fprintf(os.Stdout, "  Resident models: unknown (%v)\n", residentErr)
				failed = true
			case len(resident) == 0:
				fmt.Fprintln(os.Stdout, "  Resident models: none")
			default:
				fmt.Fprintln(os.Stdout, "  Resident models:")
				for _, m := range resident {
					fmt.Fprintf(os.Stdout, "    %s (%.1f GB, expires %s)\n",
						m.Name, float64(m.SizeBytes)/(1<<30), m.ExpiresAt.Format(time.Kitchen))
				}
			}
		}

		fmt.Fprintf(os.Stdout, "Signal:  %s\n", cfg.Signal.RPCURL)
		if signalErr != nil {
			fmt.Fprintf(os.Stdout, "  UNAVAILABLE (%v)\n", signalErr)
			failed = true
		} else {
			fmt.Fprintln(os.Stdout, "  responding")
		}

		if failed {
			os.Exit(1)
		}
		return nil
	},
}

var engineEvictCmd = &cobra.Command{
	Use:   "evict [model]",
	Short: "Evict resident models from the engine",
	Long: `Evicts the named model from GPU memory, or every resident model when
no name is given. Only supported for the ollama provider.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ollama, err := newCompleter()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(2)
		}
		if ollama == nil {
			fmt.Fprintf(os.Stderr, "Eviction is only supported for the ollama provider.\n")
			os.Exit(2)
		}

		ctx := cmd.Context()
		targets := args
		if len(targets) == 0 {
			resident, err := ollama.Resident(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Fatal error: listing resident models: %v\n", err)
				os.Exit(1)
			}
			for _, m := range resident {
				targets = append(targets, m.Name)
			}
		}
		if len(targets) == 0 {
			fmt.Fprintln(os.Stdout, "No resident models to evict.")
			return nil
		}

		for _, name := range targets {
			if err := ollama.Evict(ctx, name); err != nil {
				fmt.Fprintf(os.Stderr, "Evicting %s failed: %v\n", name, err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Evicted %s\n", name)
		}
		return nil
	},
}

func init() {
	engineCmd.AddCommand(engineStatusCmd)
	engineCmd.AddCommand(engineEvictCmd)
	rootCmd.AddCommand(engineCmd)
}
