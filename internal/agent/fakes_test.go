package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hyfa/internal/domain"
)

const testBotID = "UBOT"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type sentMessage struct {
	ChannelID string
	Text      string
	ThreadID  string
}

// fakeGateway records every call made by the orchestrator.
type fakeGateway struct {
	mu sync.Mutex

	botID      string
	channel    []domain.TranscriptEntry
	thread     []domain.TranscriptEntry
	historyErr error
	sendErr    error
	typingErr  error
	typingID   string

	sent         []sentMessage
	historyCalls []int // limits passed to ChannelHistory
	threadCalls  []int // limits passed to ThreadMessages
	typingCalls  int
	deletes      []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{botID: testBotID, typingID: "1700000000.000100"}
}

func (g *fakeGateway) BotUserID() string { return g.botID }

func (g *fakeGateway) ChannelHistory(_ context.Context, _ string, limit int) ([]domain.TranscriptEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.historyCalls = append(g.historyCalls, limit)
	if g.historyErr != nil {
		return nil, g.historyErr
	}
	return g.channel, nil
}

func (g *fakeGateway) ThreadMessages(_ context.Context, _, _ string, limit int) ([]domain.TranscriptEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threadCalls = append(g.threadCalls, limit)
	if g.historyErr != nil {
		return nil, g.historyErr
	}
	return g.thread, nil
}

func (g *fakeGateway) SendMessage(_ context.Context, channelID, text, threadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, sentMessage{ChannelID: channelID, Text: text, ThreadID: threadID})
	return nil
}

func (g *fakeGateway) SendTypingIndicator(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.typingCalls++
	if g.typingErr != nil {
		return "", g.typingErr
	}
	return g.typingID, nil
}

func (g *fakeGateway) DeleteTypingIndicator(_ context.Context, _, markerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, markerID)
	return nil
}

func (g *fakeGateway) sentMessages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

func (g *fakeGateway) deleteCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.deletes)
}

type llmCall struct {
	Prompt  string
	History []domain.ConversationMessage
}

// fakeLLM returns reply (or err) and records its inputs.
type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	panic   bool
	calls   []llmCall
	gate    chan struct{} // when set, Generate blocks until it is closed
	started atomic.Int32
}

func (l *fakeLLM) Generate(_ context.Context, prompt string, history []domain.ConversationMessage) (string, error) {
	l.started.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, llmCall{Prompt: prompt, History: history})
	if l.panic {
		panic("boom")
	}
	if l.err != nil {
		return "", l.err
	}
	return l.reply, nil
}

func (l *fakeLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

var errTransport = errors.New("connection reset by peer")

// memHistory is a minimal HistoryStore for orchestrator tests.
type memHistory struct {
	mu        sync.Mutex
	data      map[string][]domain.ConversationMessage
	appendErr error
}

func newMemHistory() *memHistory {
	return &memHistory{data: make(map[string][]domain.ConversationMessage)}
}

func (m *memHistory) Get(_ context.Context, userID string) ([]domain.ConversationMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ConversationMessage{}, m.data[userID]...), nil
}

func (m *memHistory) Append(_ context.Context, userID string, msgs ...domain.ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.data[userID] = append(m.data[userID], msgs...)
	return nil
}
