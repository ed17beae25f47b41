package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/session"
	"github.com/sirupsen/logrus"
)

// maxMessageLength is Discord's limit for a message body, in characters
const maxMessageLength = 2000

// ErrNoChannel is returned by Send when no channel is configured
var ErrNoChannel = errors.New("no relay channel configured")

// messageSender is the part of discordgo.Session the relay sends through
type messageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Relay posts normalized lines to a Discord channel and answers chat commands
type Relay struct {
	discord   *discordgo.Session
	sender    messageSender
	sessions  *session.Manager
	channelID string

	mu        sync.Mutex
	sessionID string
	status    func() string
}

// New creates a new Relay instance
func New(token, channelID string, sessionManager *session.Manager) (*Relay, error) {
	discord, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	r := &Relay{
		discord:   discord,
		sender:    discord,
		sessions:  sessionManager,
		channelID: channelID,
	}

	// Register handlers
	discord.AddHandler(r.ready)
	discord.AddHandler(r.messageCreate)

	// Set intents
	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return r, nil
}

// Connect establishes connection to Discord
func (r *Relay) Connect() error {
	if err := r.discord.Open(); err != nil {
		return fmt.Errorf("error opening Discord connection: %w", err)
	}
	return nil
}

// Disconnect closes Discord connection
func (r *Relay) Disconnect() error {
	return r.discord.Close()
}

// SetSession selects the session answered by !last
func (r *Relay) SetSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
}

// SetStatusFunc sets the source of the !status reply
func (r *Relay) SetStatusFunc(fn func() string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = fn
}

// Send posts text to the relay channel
func (r *Relay) Send(text string) error {
	if r.channelID == "" {
		return ErrNoChannel
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if _, err := r.sender.ChannelMessageSend(r.channelID, truncate(text)); err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	return nil
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return text
	}
	return string(runes[:maxMessageLength-1]) + "…"
}

// Event handlers

func (r *Relay) ready(s *discordgo.Session, event *discordgo.Ready) {
	logrus.WithFields(logrus.Fields{
		"username":   s.State.User.Username,
		"channel_id": r.channelID,
	}).Info("Relay is ready")
}

func (r *Relay) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore own messages
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	r.handleCommand(m.ChannelID, m.Content)
}

func (r *Relay) handleCommand(channelID, content string) {
	var reply string

	switch strings.TrimSpace(content) {
	case "!last":
		reply = r.lastLine()
	case "!status":
		reply = r.statusLine()
	default:
		return
	}

	if _, err := r.sender.ChannelMessageSend(channelID, truncate(reply)); err != nil {
		logrus.WithError(err).WithField("command", content).Debug("Failed to send command reply")
	}
}

func (r *Relay) lastLine() string {
	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()

	if sessionID == "" {
		return "No active session."
	}
	line, ok := r.sessions.LastLine(sessionID)
	if !ok {
		return "No lines captured yet."
	}
	return line.Text
}

func (r *Relay) statusLine() string {
	r.mu.Lock()
	status := r.status
	sessionID := r.sessionID
	r.mu.Unlock()

	if status != nil {
		return status()
	}
	if sessionID == "" {
		return "Status: no active session"
	}
	sess, err := r.sessions.GetSession(sessionID)
	if err != nil {
		return "Status: " + err.Error()
	}
	return fmt.Sprintf("Status: session %s, %d lines", sess.ID, len(sess.Lines))
}
