package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/pipeline"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/session"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// Version is reported to MCP clients
const Version = "0.1.0"

// Server exposes the normalizer and the capture history as MCP tools
type Server struct {
	transformer textnorm.Transformer
	sessions    *session.Manager
	queue       *pipeline.CaptureQueue
	events      *feedback.EventBus
	sessionID   string
	mcpServer   *mcp.Server
}

// TextInput is the input of the text tools
type TextInput struct {
	Text string `json:"text" jsonschema:"the text to process"`
}

// SessionInput is the input of the session tools
type SessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"the session ID"`
}

// EmptyInput is the input of tools without arguments
type EmptyInput struct{}

// NewServer creates a new MCP server. queue and events may be nil when the
// clipboard watcher is not running.
func NewServer(trans textnorm.Transformer, sessions *session.Manager, queue *pipeline.CaptureQueue, events *feedback.EventBus, sessionID string) *Server {
	s := &Server{
		transformer: trans,
		sessions:    sessions,
		queue:       queue,
		events:      events,
		sessionID:   sessionID,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "clipboard-dialogue-mcp",
		Version: Version,
	}, nil)
	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "normalize_text",
		Description: "Clean a captured line of Japanese game dialogue: keep the quoted line, strip markup tags, collapse typewriter repetition and remove line breaks",
	}, s.handleNormalizeText)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "collapse_repetition",
		Description: "Collapse text made of growing prefixes of its final line down to that line",
	}, s.handleCollapseRepetition)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List all capture sessions",
	}, s.handleListSessions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_history",
		Description: "Get the normalized lines of a session",
	}, s.handleGetHistory)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_session",
		Description: "Export a session to a JSON file",
	}, s.handleExportSession)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_status",
		Description: "Get clipboard pipeline status",
	}, s.handleGetStatus)
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	logrus.Info("MCP server started on stdio")
	if err := s.mcpServer.Run(ctx, mcp.NewStdioTransport()); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (s *Server) handleNormalizeText(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[TextInput]) (*mcp.CallToolResultFor[any], error) {
	res := s.transformer.Normalize(params.Arguments.Text)

	switch res.Outcome {
	case textnorm.Normalized:
		return textResult(res.Text), nil
	case textnorm.NotTargetScript:
		return textResult("Text unchanged: it contains no Japanese characters"), nil
	default:
		return textResult("Text unchanged: it contains no markup tags"), nil
	}
}

func (s *Server) handleCollapseRepetition(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[TextInput]) (*mcp.CallToolResultFor[any], error) {
	return textResult(textnorm.CollapseRepetition(params.Arguments.Text)), nil
}

func (s *Server) handleListSessions(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	sessions := s.sessions.ListSessions()
	if len(sessions) == 0 {
		return textResult("No sessions found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d session(s):\n", len(sessions))
	for _, sess := range sessions {
		status := "active"
		if sess.EndTime != nil {
			status = "ended"
		}
		marker := ""
		if sess.ID == s.sessionID {
			marker = " (current)"
		}
		fmt.Fprintf(&b, "- %s%s [%s] source=%s started=%s lines=%d\n",
			sess.ID, marker, status, sess.Source, sess.StartTime.Format(time.RFC3339), len(sess.Lines))
	}
	return textResult(b.String()), nil
}

func (s *Server) handleGetHistory(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionInput]) (*mcp.CallToolResultFor[any], error) {
	sess, err := s.sessions.GetSession(params.Arguments.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	if len(sess.Lines) == 0 {
		return textResult(fmt.Sprintf("Session %s has no lines yet", sess.ID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (%d lines):\n", sess.ID, len(sess.Lines))
	for _, line := range sess.Lines {
		fmt.Fprintf(&b, "[%s] %s\n", line.Timestamp.Format("15:04:05"), line.Text)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleExportSession(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionInput]) (*mcp.CallToolResultFor[any], error) {
	path, err := s.sessions.ExportSession(params.Arguments.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to export session: %w", err)
	}
	return textResult(fmt.Sprintf("Session exported to %s", path)), nil
}

func (s *Server) handleGetStatus(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	var b strings.Builder
	b.WriteString("Pipeline Status\n")

	if s.sessionID == "" {
		b.WriteString("Current Session: none\n")
	} else {
		fmt.Fprintf(&b, "Current Session: %s\n", s.sessionID)
		if line, ok := s.sessions.LastLine(s.sessionID); ok {
			fmt.Fprintf(&b, "Last Line: %s\n", line.Text)
		}
	}

	if s.queue == nil {
		b.WriteString("Clipboard Watcher: not running\n")
	} else {
		m := s.queue.GetMetrics()
		fmt.Fprintf(&b, "Queue Depth: %d\n", m.CurrentQueueDepth)
		fmt.Fprintf(&b, "Active Workers: %d\n", m.ActiveWorkers)
		fmt.Fprintf(&b, "Captures: queued=%d normalized=%d skipped=%d failed=%d dropped=%d\n",
			m.CapturesQueued, m.CapturesNormalized, m.CapturesSkipped, m.CapturesFailed, m.CapturesDropped)
		fmt.Fprintf(&b, "Average Process Time: %dµs\n", m.AverageProcessTime)
	}

	if s.events != nil {
		m := s.events.GetMetrics()
		fmt.Fprintf(&b, "Events: delivered=%d dropped=%d\n", m.EventsDelivered, m.EventsDropped)
	}

	return textResult(b.String()), nil
}
