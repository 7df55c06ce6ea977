package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	writeErr error
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &fakeConn{}

	sm.Register("user123", "tab-1", conn)

	assert.Same(t, conn, sm.GetActive("user123", "tab-1"))
	assert.Equal(t, 1, sm.Count())
}

func TestSessionManager_RegisterReplacesAndCloses(t *testing.T) {
	sm := NewSessionManager()
	old := &fakeConn{}
	replacement := &fakeConn{}

	sm.Register("user123", "tab-1", old)
	sm.Register("user123", "tab-1", replacement)

	assert.True(t, old.Closed())
	assert.False(t, replacement.Closed())
	assert.Same(t, replacement, sm.GetActive("user123", "tab-1"))
	assert.Equal(t, 1, sm.Count())

	// The replaced connection's deferred unregister must not remove the new one.
	sm.Unregister("user123", "tab-1", old)
	assert.Same(t, replacement, sm.GetActive("user123", "tab-1"))
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager()
	conn := &fakeConn{}

	sm.Register("user123", "tab-1", conn)
	sm.Unregister("user123", "tab-1", conn)

	assert.Nil(t, sm.GetActive("user123", "tab-1"))
	assert.Equal(t, 0, sm.Count())
}

func TestSessionManager_CloseSession(t *testing.T) {
	sm := NewSessionManager()
	a, b := &fakeConn{}, &fakeConn{}
	sm.Register("user123", "tab-1", a)
	sm.Register("user123", "tab-2", b)

	sm.CloseSession("user123")

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, sm.Count())
}

func TestSessionManager_Broadcast(t *testing.T) {
	sm := NewSessionManager()
	a, b := &fakeConn{}, &fakeConn{writeErr: errors.New("gone")}
	other := &fakeConn{}
	sm.Register("user123", "tab-1", a)
	sm.Register("user123", "tab-2", b)
	sm.Register("someone-else", "tab-1", other)

	sent := sm.Broadcast(context.Background(), "user123", wsFrame{Type: "turn", Turn: &Turn{Reply: "hi"}})
	assert.Equal(t, 1, sent)

	frames := a.Frames()
	require.Len(t, frames, 1)
	var got wsFrame
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.Equal(t, "turn", got.Type)
	require.NotNil(t, got.Turn)
	assert.Equal(t, "hi", got.Turn.Reply)
	assert.Empty(t, other.Frames())
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	userID := "concurrentUser"

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register(userID, "tab-"+strconv.Itoa(i), &fakeConn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.GetActive(userID, "tab-"+strconv.Itoa(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			sm.Broadcast(context.Background(), userID, map[string]string{"type": "ping"})
		}
	}()
	wg.Wait()

	assert.Equal(t, 1000, sm.Count())
}
