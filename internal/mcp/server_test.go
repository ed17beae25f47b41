package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fankserver/clipboard-dialogue-mcp/internal/clipboard"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/feedback"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/pipeline"
	"github.com/fankserver/clipboard-dialogue-mcp/internal/session"
	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, sessionID string) (*Server, *session.Manager) {
	t.Helper()
	sessions := session.NewManagerWithExportDir(filepath.Join(t.TempDir(), "exports"))
	trans := textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor())
	return NewServer(trans, sessions, nil, nil, sessionID), sessions
}

func resultText(t *testing.T, result *mcp.CallToolResultFor[any]) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	textContent, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return textContent.Text
}

func TestNewServer(t *testing.T) {
	server, _ := newTestServer(t, "")
	require.NotNil(t, server)
	assert.NotNil(t, server.mcpServer)
	assert.Empty(t, server.sessionID)
}

func TestHandleNormalizeText(t *testing.T) {
	server, _ := newTestServer(t, "")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "markup and repetition",
			input:    "<color=#fff>こん</color>こんにちは",
			expected: "こんにちは",
		},
		{
			name:     "dialogue span",
			input:    "「a<color=#fff>b</color>「a<color=#fff>b</color>c」",
			expected: "「abc」",
		},
		{
			name:     "no japanese",
			input:    "<b>hello</b>",
			expected: "no Japanese characters",
		},
		{
			name:     "no markup",
			input:    "こんにちは",
			expected: "no markup tags",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := &mcp.CallToolParamsFor[TextInput]{
				Arguments: TextInput{Text: tt.input},
			}
			result, err := server.handleNormalizeText(context.Background(), &mcp.ServerSession{}, params)
			require.NoError(t, err)
			assert.Contains(t, resultText(t, result), tt.expected)
		})
	}
}

func TestHandleCollapseRepetition(t *testing.T) {
	server, _ := newTestServer(t, "")

	params := &mcp.CallToolParamsFor[TextInput]{
		Arguments: TextInput{Text: "このテキストこのテキストです"},
	}
	result, err := server.handleCollapseRepetition(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)
	assert.Equal(t, "このテキストです", resultText(t, result))
}

func TestHandleListSessionsEmpty(t *testing.T) {
	server, _ := newTestServer(t, "")

	params := &mcp.CallToolParamsFor[EmptyInput]{Arguments: EmptyInput{}}
	result, err := server.handleListSessions(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No sessions found")
}

func TestHandleListSessionsWithData(t *testing.T) {
	sessions := session.NewManager()
	first := sessions.CreateSession("clipboard")
	second := sessions.CreateSession("mcp")
	require.NoError(t, sessions.AddLine(first, "c1", "raw", "一行目"))
	require.NoError(t, sessions.EndSession(second))

	server := NewServer(textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor()), sessions, nil, nil, first)

	params := &mcp.CallToolParamsFor[EmptyInput]{Arguments: EmptyInput{}}
	result, err := server.handleListSessions(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 session(s)")
	assert.Contains(t, text, first+" (current) [active]")
	assert.Contains(t, text, second+" [ended]")
	assert.Contains(t, text, "lines=1")
}

func TestHandleGetHistory(t *testing.T) {
	server, sessions := newTestServer(t, "")
	sessionID := sessions.CreateSession("clipboard")

	params := &mcp.CallToolParamsFor[SessionInput]{
		Arguments: SessionInput{SessionID: sessionID},
	}
	result, err := server.handleGetHistory(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "no lines yet")

	require.NoError(t, sessions.AddLine(sessionID, "c1", "<b>一</b>", "一"))
	require.NoError(t, sessions.AddLine(sessionID, "c2", "<b>二</b>", "二"))

	result, err = server.handleGetHistory(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "(2 lines)")
	assert.Contains(t, text, "一")
	assert.Contains(t, text, "二")
	assert.NotContains(t, text, "<b>")
}

func TestHandleGetHistoryNonExistentSession(t *testing.T) {
	server, _ := newTestServer(t, "")

	params := &mcp.CallToolParamsFor[SessionInput]{
		Arguments: SessionInput{SessionID: "non-existent-session"},
	}
	result, err := server.handleGetHistory(context.Background(), &mcp.ServerSession{}, params)

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Contains(t, err.Error(), "session not found")
}

func TestHandleExportSession(t *testing.T) {
	server, sessions := newTestServer(t, "")
	sessionID := sessions.CreateSession("clipboard")

	params := &mcp.CallToolParamsFor[SessionInput]{
		Arguments: SessionInput{SessionID: sessionID},
	}
	result, err := server.handleExportSession(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Session exported to")
	assert.Contains(t, text, sessionID)
}

func TestHandleExportSessionNonExistent(t *testing.T) {
	server, _ := newTestServer(t, "")

	params := &mcp.CallToolParamsFor[SessionInput]{
		Arguments: SessionInput{SessionID: "non-existent-session"},
	}
	result, err := server.handleExportSession(context.Background(), &mcp.ServerSession{}, params)

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to export session")
}

func TestHandleGetStatusWithoutPipeline(t *testing.T) {
	server, _ := newTestServer(t, "")

	params := &mcp.CallToolParamsFor[EmptyInput]{Arguments: EmptyInput{}}
	result, err := server.handleGetStatus(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Pipeline Status")
	assert.Contains(t, text, "Current Session: none")
	assert.Contains(t, text, "Clipboard Watcher: not running")
}

func TestHandleGetStatusWithPipeline(t *testing.T) {
	sessions := session.NewManager()
	sessionID := sessions.CreateSession("clipboard")
	require.NoError(t, sessions.AddLine(sessionID, "c1", "raw", "最後の行"))

	events := feedback.NewEventBus(8)
	defer events.Stop()

	trans := textnorm.NewNormalizer(textnorm.DefaultDialogueExtractor())
	queue := pipeline.NewCaptureQueue(pipeline.DefaultQueueConfig(), events)
	queue.Start(trans, clipboard.NewMemory(""))
	defer queue.Stop()

	done := make(chan struct{})
	require.NoError(t, queue.Submit(&pipeline.Capture{
		Text:       "<b>テスト</b>",
		OnComplete: func(textnorm.Result) { close(done) },
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture was not processed")
	}

	server := NewServer(trans, sessions, queue, events, sessionID)
	params := &mcp.CallToolParamsFor[EmptyInput]{Arguments: EmptyInput{}}
	result, err := server.handleGetStatus(context.Background(), &mcp.ServerSession{}, params)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Current Session: "+sessionID)
	assert.Contains(t, text, "Last Line: 最後の行")
	assert.Contains(t, text, "normalized=1")
	assert.Contains(t, text, "Events:")
}
