package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu        sync.Mutex
	messages  []Message
	writeErr  error
	goneAway  bool
	closed    bool
	lastClose string
}

func (f *fakeSocket) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, v.(Message))
	return nil
}

func (f *fakeSocket) CloseGoingAway(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.goneAway = true
	f.lastClose = reason
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) received() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

func TestSendToClient(t *testing.T) {
	h := New(nil)
	sock := &fakeSocket{}
	h.Connect(sock, 1, "command_deck")

	h.SendToClient(SystemLog("hello"), 1, "command_deck")

	msgs := sock.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeSystemLog, msgs[0]["type"])
	assert.Equal(t, "hello", msgs[0]["content"])
}

func TestSendToUnknownClientIsNoop(t *testing.T) {
	h := New(nil)
	h.SendToClient(SystemLog("into the void"), 42, "command_deck")
}

func TestReconnectReplacesOldSocket(t *testing.T) {
	h := New(nil)
	old := &fakeSocket{}
	h.Connect(old, 1, "command_deck")

	fresh := &fakeSocket{}
	h.Connect(fresh, 1, "command_deck")

	assert.True(t, old.goneAway)
	assert.Equal(t, 1, h.ClientCount(1))

	h.SendToClient(AgentStatus("idle"), 1, "command_deck")
	assert.Empty(t, old.received())
	assert.Len(t, fresh.received(), 1)
}

func TestBroadcastToUserReachesAllClients(t *testing.T) {
	h := New(nil)
	a := &fakeSocket{}
	b := &fakeSocket{}
	h.Connect(a, 1, "command_deck")
	h.Connect(b, 1, "second_tab")
	other := &fakeSocket{}
	h.Connect(other, 2, "command_deck")

	h.BroadcastToUser(Phase("planning"), 1)

	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
	assert.Empty(t, other.received())
}

func TestFailedWriteDisconnects(t *testing.T) {
	h := New(nil)
	sock := &fakeSocket{writeErr: errors.New("broken pipe")}
	h.Connect(sock, 1, "command_deck")

	h.BroadcastToUser(SystemLog("x"), 1)

	assert.Equal(t, 0, h.ClientCount(1))
	assert.True(t, sock.closed)
}

func TestDisconnectPrunesUser(t *testing.T) {
	h := New(nil)
	h.Connect(&fakeSocket{}, 1, "command_deck")
	h.Disconnect(1, "command_deck")
	assert.Equal(t, 0, h.ClientCount(1))

	// Disconnecting twice is harmless.
	h.Disconnect(1, "command_deck")
}

func TestMessageShapes(t *testing.T) {
	assert.Equal(t, Message{"type": "agent_status", "status": "thinking"}, AgentStatus("thinking"))
	assert.Equal(t,
		Message{"type": "code_stream_chunk", "content": map[string]any{"filePath": "a.py", "chunk": "x"}},
		CodeStreamChunk("a.py", "x"))
	assert.Equal(t, Message{"type": "internal_ws_status", "content": "connected"}, Connected())
	assert.Equal(t,
		Message{"type": "active_task_updated", "content": map[string]any{"taskId": 3}},
		ActiveTaskUpdated(3))
}
