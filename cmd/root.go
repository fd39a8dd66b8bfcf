package cmd

import (
	"fmt"
	"os"

	"github.com/akarol/lore-digest/internal/config"
	"github.com/akarol/lore-digest/internal/deliver"
	"github.com/akarol/lore-digest/internal/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lore-digest",
	Short: "Checkpointed mailing-list digest pipeline",
	Long: `A CLI tool that ingests lore.kernel.org mailing-list feeds, clusters
messages into threads, analyzes the most relevant ones with a local LLM,
and delivers a synthesized daily bulletin over Signal.

Every expensive step is checkpointed in SQLite, so an interrupted run can
be resumed without re-paying inference cost.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("lookback", "24h", "How far back to look (e.g., 24h, 2d, 1w)")
	pf.String("output-dir", "", "Output directory for bulletin archives")
	pf.String("db-path", "", "SQLite database path")
	pf.String("lock-file", "", "Advisory lock file shared by heavy jobs")
	pf.String("retention", "14d", "Checkpoint retention window")
	pf.Float64("min-score", 3.0, "Minimum thread score to qualify for analysis")
	pf.Int("max-analyzed", 15, "Maximum threads analyzed per run")
	pf.String("engine.provider", "ollama", "Inference provider: ollama, openai")
	pf.String("engine.base-url", "", "Inference engine base URL")
	pf.String("engine.model", "", "Inference model")
	pf.String("signal.rpc-url", "", "signal-cli JSON-RPC endpoint")
	pf.String("signal.account", "", "Signal sender account")
	pf.String("signal.recipient", "", "Signal recipient")
	pf.Bool("verbose", false, "Verbose logging")
	pf.String("config", "", "Path to YAML config file")

	flags := []string{
		"lookback", "output-dir", "db-path", "lock-file", "retention",
		"min-score", "max-analyzed",
		"engine.provider", "engine.base-url", "engine.model",
		"signal.rpc-url", "signal.account", "signal.recipient",
		"verbose", "config",
	}
	for _, f := range flags {
		_ = viper.BindPFlag(f, pf.Lookup(f))
	}
}

func initConfig() {
	cfg = config.DefaultConfig()

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/lore-digest")
	}

	viper.SetEnvPrefix("")
	viper.AutomaticEnv()

	_ = viper.BindEnv("lookback", "LORE_LOOKBACK")
	_ = viper.BindEnv("output-dir", "LORE_OUTPUT_DIR")
	_ = viper.BindEnv("db-path", "LORE_DB_PATH")
	_ = viper.BindEnv("lock-file", "LORE_LOCK_FILE")
	_ = viper.BindEnv("engine.base-url", "LORE_ENGINE_URL")
	_ = viper.BindEnv("engine.model", "LORE_ENGINE_MODEL")
	_ = viper.BindEnv("engine.api-key", "OPENAI_API_KEY")
	_ = viper.BindEnv("signal.rpc-url", "LORE_SIGNAL_RPC_URL")
	_ = viper.BindEnv("signal.account", "LORE_SIGNAL_ACCOUNT")
	_ = viper.BindEnv("signal.recipient", "LORE_SIGNAL_RECIPIENT")
	_ = viper.BindEnv("verbose", "LORE_VERBOSE")

	_ = viper.ReadInConfig()

	if err := cfg.ApplyViper(viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}
}

// newCompleter builds the inference client for the configured provider. The
// ollama client is returned separately because only it supports residency
// control.
func newCompleter() (engine.Completer, *engine.OllamaClient, error) {
	switch cfg.Engine.Provider {
	case "ollama":
		c := engine.NewOllamaClient(cfg.Engine.BaseURL, cfg.Engine.Model, cfg.Engine.NumCtx)
		return c, c, nil
	case "openai":
		return engine.NewOpenAIClient(cfg.Engine.BaseURL, viper.GetString("engine.api-key"), cfg.Engine.Model), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine provider %q", cfg.Engine.Provider)
	}
}

func newSignalClient() *deliver.SignalClient {
	return deliver.NewSignalClient(
		cfg.Signal.RPCURL, cfg.Signal.Account, cfg.Signal.Recipient,
		cfg.Signal.ChunkLimit, cfg.Signal.ChunkDelay)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
