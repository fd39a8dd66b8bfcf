package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Feed describes one content source to digest.
type Feed struct {
	ID   string
	Name string
	URL  string
	Kind string // "atom" or "page"
}

// ScoringConfig holds the keyword weight table and triage thresholds.
// Keywords map a lower-case term to a signed weight; negative weights
// actively suppress known-irrelevant topics.
type ScoringConfig struct {
	Keywords        map[string]float64
	MinScore        float64
	MaxAnalyzed     int
	BodyPrefixBytes int
}

// EngineConfig holds local inference engine settings.
type EngineConfig struct {
	Provider         string // "ollama" or "openai"
	BaseURL          string
	Model            string
	NumCtx           int
	AnalyzeBudget    int
	SynthesizeBudget int
	CallTimeout      time.Duration
	Cooldown         time.Duration
	HealthRetryWait  time.Duration
}

// SignalConfig holds messaging transport settings.
type SignalConfig struct {
	RPCURL     string
	Account    string
	Recipient  string
	ChunkLimit int
	ChunkDelay time.Duration
}

// Config holds all application configuration.
type Config struct {
	Lookback   time.Duration
	Feeds      []Feed
	OutputDir  string
	DBPath     string
	LockFile   string
	Retention  time.Duration
	Verbose    bool
	ConfigFile string

	Scoring ScoringConfig
	Engine  EngineConfig
	Signal  SignalConfig
}

// defaultKeywords is the compiled-in scoring table, used when the config
// file does not provide one. Weights reflect kernel media/camera work;
// negative entries suppress janitorial noise.
func defaultKeywords() map[string]float64 {
	return map[string]float64{
		"v4l2":             3.0,
		"libcamera":        3.0,
		"mipi":             2.5,
		"csi-2":            2.5,
		"camera":           2.0,
		"isp":              2.0,
		"media controller": 2.0,
		"sensor driver":    2.0,
		"subdev":           1.5,
		"dma-buf":          1.5,
		"videobuf2":        1.5,
		"device tree":      1.0,
		"regression":       1.5,
		"bisect":           1.0,
		"fixes":            0.5,
		"typo":             -2.0,
		"spelling":         -2.0,
		"checkpatch":       -1.5,
		"whitespace":       -2.0,
		"coccinelle":       -1.0,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "lore-digest")

	return &Config{
		Lookback:  24 * time.Hour,
		OutputDir: filepath.Join(dataDir, "bulletins"),
		DBPath:    filepath.Join(dataDir, "lore-digest.db"),
		LockFile:  filepath.Join(os.TempDir(), "lore-digest.lock"),
		Retention: 14 * 24 * time.Hour,
		Feeds: []Feed{
			{
				ID:   "linux-media",
				Name: "linux-media",
				URL:  "https://lore.kernel.org/linux-media/new.atom",
				Kind: "atom",
			},
		},
		Scoring: ScoringConfig{
			Keywords:        defaultKeywords(),
			MinScore:        3.0,
			MaxAnalyzed:     15,
			BodyPrefixBytes: 2000,
		},
		Engine: EngineConfig{
			Provider:         "ollama",
			BaseURL:          "http://localhost:11434",
			Model:            "phi4:14b",
			NumCtx:           6144,
			AnalyzeBudget:    1500,
			SynthesizeBudget: 4000,
			CallTimeout:      10 * time.Minute,
			Cooldown:         5 * time.Second,
			HealthRetryWait:  30 * time.Second,
		},
		Signal: SignalConfig{
			RPCURL:     "http://127.0.0.1:8080/api/v1/rpc",
			ChunkLimit: 2000,
			ChunkDelay: 2 * time.Second,
		},
	}
}

// ParseLookback parses a lookback string like "7d", "2w", "1m" into a duration.
// Supports: Nd (days), Nw (weeks), Nm (months of 30 days), and standard Go durations like "1h".
func ParseLookback(s string) (time.Duration, error) {
	if s == "" {
		return 24 * time.Hour, nil
	}

	s = strings.TrimSpace(strings.ToLower(s))

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid lookback format: %q", s)
	}

	numStr := s[:len(s)-1]
	unit := s[len(s)-1]

	// Try our custom d/w/m suffixes first (these take priority over Go duration parsing)
	if unit == 'd' || unit == 'w' || unit == 'm' {
		var num int
		if _, err := fmt.Sscanf(numStr, "%d", &num); err == nil {
			switch unit {
			case 'd':
				return time.Duration(num) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(num) * 7 * 24 * time.Hour, nil
			case 'm':
				return time.Duration(num) * 30 * 24 * time.Hour, nil
			}
		}
	}

	// Fall back to standard Go duration (e.g., "1h", "30s", "2h30m")
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	return 0, fmt.Errorf("invalid lookback format: %q (use Nd, Nw, Nm, or Go duration like 1h)", s)
}

// ApplyViper overlays values read by viper onto the config. Flags and
// environment take precedence over the YAML file, which takes precedence
// over defaults.
func (c *Config) ApplyViper(v *viper.Viper) error {
	if s := v.GetString("lookback"); s != "" {
		d, err := ParseLookback(s)
		if err != nil {
			return err
		}
		c.Lookback = d
	}
	if s := v.GetString("output-dir"); s != "" {
		c.OutputDir = s
	}
	if s := v.GetString("db-path"); s != "" {
		c.DBPath = s
	}
	if s := v.GetString("lock-file"); s != "" {
		c.LockFile = s
	}
	if s := v.GetString("retention"); s != "" {
		d, err := ParseLookback(s)
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		c.Retention = d
	}
	c.Verbose = v.GetBool("verbose")

	if v.IsSet("feeds") {
		var feeds []Feed
		if err := v.UnmarshalKey("feeds", &feeds); err != nil {
			return fmt.Errorf("parsing feeds: %w", err)
		}
		if len(feeds) > 0 {
			c.Feeds = feeds
		}
	}

	if v.IsSet("scoring.keywords") {
		// Unmarshal the whole map in one step: per-term Get calls would
		// split terms containing dots into nested keys.
		raw := map[string]float64{}
		if err := v.UnmarshalKey("scoring.keywords", &raw); err != nil {
			return fmt.Errorf("parsing scoring keywords: %w", err)
		}
		table := make(map[string]float64, len(raw))
		for term, weight := range raw {
			table[strings.ToLower(term)] = weight
		}
		if len(table) > 0 {
			c.Scoring.Keywords = table
		}
	}
	if v.IsSet("min-score") {
		c.Scoring.MinScore = v.GetFloat64("min-score")
	}
	if n := v.GetInt("max-analyzed"); n > 0 {
		c.Scoring.MaxAnalyzed = n
	}
	if n := v.GetInt("scoring.body-prefix-bytes"); n > 0 {
		c.Scoring.BodyPrefixBytes = n
	}

	if s := v.GetString("engine.provider"); s != "" {
		c.Engine.Provider = s
	}
	if s := v.GetString("engine.base-url"); s != "" {
		c.Engine.BaseURL = s
	}
	if s := v.GetString("engine.model"); s != "" {
		c.Engine.Model = s
	}
	if n := v.GetInt("engine.num-ctx"); n > 0 {
		c.Engine.NumCtx = n
	}
	if n := v.GetInt("engine.analyze-budget"); n > 0 {
		c.Engine.AnalyzeBudget = n
	}
	if n := v.GetInt("engine.synthesize-budget"); n > 0 {
		c.Engine.SynthesizeBudget = n
	}
	if d := v.GetDuration("engine.call-timeout"); d > 0 {
		c.Engine.CallTimeout = d
	}
	if d := v.GetDuration("engine.cooldown"); d > 0 {
		c.Engine.Cooldown = d
	}

	if s := v.GetString("signal.rpc-url"); s != "" {
		c.Signal.RPCURL = s
	}
	if s := v.GetString("signal.account"); s != "" {
		c.Signal.Account = s
	}
	if s := v.GetString("signal.recipient"); s != "" {
		c.Signal.Recipient = s
	}
	if n := v.GetInt("signal.chunk-limit"); n > 0 {
		c.Signal.ChunkLimit = n
	}
	if d := v.GetDuration("signal.chunk-delay"); d > 0 {
		c.Signal.ChunkDelay = d
	}

	return nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	for _, f := range c.Feeds {
		if f.ID == "" || f.URL == "" {
			return fmt.Errorf("feed %q must have an id and url", f.Name)
		}
		if f.Kind != "atom" && f.Kind != "page" {
			return fmt.Errorf("feed %s: kind must be 'atom' or 'page', got %q", f.ID, f.Kind)
		}
	}
	if c.Engine.Provider != "ollama" && c.Engine.Provider != "openai" {
		return fmt.Errorf("engine provider must be 'ollama' or 'openai', got %q", c.Engine.Provider)
	}
	if c.Engine.Model == "" {
		return fmt.Errorf("engine model must be set")
	}
	if c.Scoring.MaxAnalyzed < 1 {
		return fmt.Errorf("max-analyzed must be >= 1, got %d", c.Scoring.MaxAnalyzed)
	}
	if c.Signal.ChunkLimit < 1 {
		return fmt.Errorf("signal chunk-limit must be >= 1, got %d", c.Signal.ChunkLimit)
	}
	return nil
}

// FeedByID returns the configured feed with the given ID, or nil.
func (c *Config) FeedByID(id string) *Feed {
	for i := range c.Feeds {
		if c.Feeds[i].ID == id {
			return &c.Feeds[i]
		}
	}
	return nil
}
