// Package config resolves runtime settings from a .env file, the environment
// and command-line flags. Flags win over the environment, which wins over
// the defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/pipeline"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// ErrInvalid is wrapped by every validation error
var ErrInvalid = errors.New("invalid configuration")

// Config holds all runtime settings
type Config struct {
	PollInterval     time.Duration
	WorkerCount      int
	QueueSize        int
	WriteRetries     int
	WriteRetryDelay  time.Duration
	ProcessTimeout   time.Duration
	DialogueTrailing int
	EnableMCP        bool
	DiscordToken     string
	DiscordChannelID string
	ExportDir        string
	LogLevel         string
	LogFile          string
}

// Default returns the built-in settings
func Default() Config {
	queue := pipeline.DefaultQueueConfig()
	return Config{
		PollInterval:     pipeline.DefaultWatcherConfig().PollInterval,
		WorkerCount:      queue.WorkerCount,
		QueueSize:        queue.QueueSize,
		WriteRetries:     queue.MaxRetries,
		WriteRetryDelay:  queue.RetryDelay,
		ProcessTimeout:   queue.ProcessTimeout,
		DialogueTrailing: textnorm.DefaultTrailing,
		EnableMCP:        true,
		ExportDir:        "exports",
		LogLevel:         "info",
	}
}

// Load reads .env, the environment and args (without the program name)
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("clipboard-dialogue-mcp", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Clipboard poll interval")
	fs.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "Number of normalizer workers")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Pending capture limit")
	fs.IntVar(&cfg.WriteRetries, "write-retries", cfg.WriteRetries, "Clipboard write attempts")
	fs.DurationVar(&cfg.WriteRetryDelay, "write-retry-delay", cfg.WriteRetryDelay, "Delay between clipboard write attempts")
	fs.DurationVar(&cfg.ProcessTimeout, "process-timeout", cfg.ProcessTimeout, "Time limit for writing one capture")
	fs.IntVar(&cfg.DialogueTrailing, "dialogue-trailing", cfg.DialogueTrailing, "Characters kept after the closing dialogue bracket")
	fs.BoolVar(&cfg.EnableMCP, "mcp", cfg.EnableMCP, "Serve MCP tools on stdio")
	fs.StringVar(&cfg.DiscordToken, "token", cfg.DiscordToken, "Discord Bot Token")
	fs.StringVar(&cfg.DiscordChannelID, "channel", cfg.DiscordChannelID, "Discord channel to relay lines to")
	fs.StringVar(&cfg.ExportDir, "export-dir", cfg.ExportDir, "Directory for session exports")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Optional rotating log file")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parsing flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	durations := map[string]*time.Duration{
		"POLL_INTERVAL":     &c.PollInterval,
		"WRITE_RETRY_DELAY": &c.WriteRetryDelay,
		"PROCESS_TIMEOUT":   &c.ProcessTimeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"WORKER_COUNT":      &c.WorkerCount,
		"QUEUE_SIZE":        &c.QueueSize,
		"WRITE_RETRIES":     &c.WriteRetries,
		"DIALOGUE_TRAILING": &c.DialogueTrailing,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("ENABLE_MCP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_MCP: %w", err)
		}
		c.EnableMCP = b
	}

	strs := map[string]*string{
		"DISCORD_TOKEN":      &c.DiscordToken,
		"DISCORD_CHANNEL_ID": &c.DiscordChannelID,
		"EXPORT_DIR":         &c.ExportDir,
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_FILE":           &c.LogFile,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate rejects non-positive durations and counts
func (c Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"poll interval", c.PollInterval},
		{"write retry delay", c.WriteRetryDelay},
		{"process timeout", c.ProcessTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, d.name, d.value)
		}
	}

	counts := []struct {
		name  string
		value int
	}{
		{"worker count", c.WorkerCount},
		{"queue size", c.QueueSize},
		{"write retries", c.WriteRetries},
		{"dialogue trailing", c.DialogueTrailing},
	}
	for _, n := range counts {
		if n.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, n.name, n.value)
		}
	}

	if c.DiscordToken != "" && c.DiscordChannelID == "" {
		return fmt.Errorf("%w: a Discord channel is required when a token is set", ErrInvalid)
	}
	return nil
}

// Queue returns the capture queue settings
func (c Config) Queue() pipeline.QueueConfig {
	return pipeline.QueueConfig{
		WorkerCount:    c.WorkerCount,
		QueueSize:      c.QueueSize,
		MaxRetries:     c.WriteRetries,
		RetryDelay:     c.WriteRetryDelay,
		ProcessTimeout: c.ProcessTimeout,
	}
}

// Extractor returns the dialogue extractor for the configured trailing offset
func (c Config) Extractor() textnorm.DialogueExtractor {
	e := textnorm.DefaultDialogueExtractor()
	e.Trailing = c.DialogueTrailing
	return e
}

// RelayEnabled reports whether a Discord relay is configured
func (c Config) RelayEnabled() bool {
	return c.DiscordToken != ""
}
