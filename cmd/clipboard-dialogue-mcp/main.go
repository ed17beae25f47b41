package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/config"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/mcp"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/pipeline"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/relay"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/session"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// configureLogging sets up logrus. Logs always go to stderr; stdout belongs
// to the MCP transport.
func configureLogging(cfg config.Config) io.Closer {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if cfg.LogFile == "" {
		logrus.SetOutput(os.Stderr)
		return nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, file))
	return file
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	if logFile := configureLogging(cfg); logFile != nil {
		defer func() {
			if err := logFile.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
			}
		}()
	}

	// Set up signal handling with context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	sessionManager := session.NewManagerWithExportDir(cfg.ExportDir)
	sessionID := sessionManager.CreateSession("clipboard")
	logrus.WithField("session_id", sessionID).Info("Started capture session")

	eventBus := feedback.NewEventBus(100)
	eventBus.SubscribeAll(func(e feedback.Event) {
		logrus.WithFields(logrus.Fields{
			"type":       e.Type,
			"session_id": e.SessionID,
		}).Debug("Event")
	})
	eventBus.Publish(feedback.Event{Type: feedback.EventSessionCreated, SessionID: sessionID})

	normalizer := textnorm.NewNormalizer(cfg.Extractor())
	logrus.WithField("dialogue_trailing", cfg.DialogueTrailing).Debug("Normalizer created")

	var discordRelay *relay.Relay
	if cfg.RelayEnabled() {
		discordRelay, err = relay.New(cfg.DiscordToken, cfg.DiscordChannelID, sessionManager)
		if err != nil {
			logrus.WithError(err).Fatal("Error creating relay")
		}
		discordRelay.SetSession(sessionID)
	}

	queue := pipeline.NewCaptureQueue(cfg.Queue(), eventBus)
	group, groupCtx := errgroup.WithContext(ctx)

	systemClipboard, err := clipboard.NewSystem()
	switch {
	case errors.Is(err, clipboard.ErrUnsupported) && cfg.EnableMCP:
		logrus.WithError(err).Warn("Clipboard watcher disabled, serving MCP tools only")
	case err != nil:
		logrus.WithError(err).Fatal("No clipboard available")
	default:
		watcher := pipeline.NewWatcher(systemClipboard, queue, eventBus, pipeline.WatcherConfig{
			PollInterval: cfg.PollInterval,
			SessionID:    sessionID,
			Source:       "clipboard",
		}, pipeline.Handlers{
			OnNormalized: func(c *pipeline.Capture, res textnorm.Result) {
				if err := sessionManager.AddLine(c.SessionID, c.ID, c.Text, res.Text); err != nil {
					logrus.WithError(err).Warn("Failed to record line")
				}
				if discordRelay != nil {
					if err := discordRelay.Send(res.Text); err != nil {
						logrus.WithError(err).Warn("Failed to relay line")
					}
				}
			},
			OnFailed: func(c *pipeline.Capture, err error) {
				if errors.Is(err, pipeline.ErrQueueFull) {
					logrus.WithField("capture_id", c.ID).Debug("Capture superseded by a newer one")
				}
			},
		})

		queue.Start(normalizer, watcher.Clipboard())
		group.Go(func() error {
			watcher.Run(groupCtx)
			return nil
		})
	}

	if discordRelay != nil {
		discordRelay.SetStatusFunc(func() string {
			m := queue.GetMetrics()
			return fmt.Sprintf("Status: normalized=%d skipped=%d failed=%d dropped=%d",
				m.CapturesNormalized, m.CapturesSkipped, m.CapturesFailed, m.CapturesDropped)
		})
		if err := discordRelay.Connect(); err != nil {
			logrus.WithError(err).Fatal("Error connecting to Discord")
		}
		logrus.WithField("channel_id", cfg.DiscordChannelID).Info("Connected to Discord")
	}

	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(normalizer, sessionManager, queue, eventBus, sessionID)
		group.Go(func() error {
			if err := mcpServer.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("MCP server error")
			}
			return nil
		})
	}

	logrus.Info("Watching clipboard. Press CTRL-C to exit.")
	<-ctx.Done()

	logrus.Info("Shutting down gracefully...")
	// The watcher must stop before the queue it submits to.
	if err := group.Wait(); err != nil {
		logrus.WithError(err).Warn("Background task failed")
	}
	queue.Stop()
	if err := sessionManager.EndSession(sessionID); err != nil {
		logrus.WithError(err).Warn("Failed to end session")
	}
	eventBus.Publish(feedback.Event{Type: feedback.EventSessionEnded, SessionID: sessionID})
	eventBus.Stop()
	if discordRelay != nil {
		if err := discordRelay.Disconnect(); err != nil {
			logrus.WithError(err).Warn("Failed to disconnect relay")
		}
	}
}
