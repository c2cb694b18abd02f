package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/model"
)

var errClosed = errors.New("closed")

// fakeConn blocks reads until closed and records writes.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	wrote   chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{wrote: make(chan struct{}, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errClosed
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errClosed
	default:
	}
	f.mu.Lock()
	f.written = append(f.written, data)
	f.mu.Unlock()
	f.wrote <- struct{}{}
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) messages(t *testing.T) []Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, raw := range f.written {
		var m Message
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func waitWrite(t *testing.T, f *fakeConn) {
	t.Helper()
	select {
	case <-f.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestHubEmitBuildStatus(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(zap.NewNop())
	uid := int64(3)

	siteConn, userConn, otherConn := newFakeConn(), newFakeConn(), newFakeConn()
	siteClient := hub.Register(siteConn, nil)
	userClient := hub.Register(userConn, &uid)
	otherClient := hub.Register(otherConn, nil)
	siteClient.Join(SiteRoom(1))
	userClient.Join(SiteUserRoom(1, uid))
	otherClient.Join(SiteRoom(2))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, c := range []*Client{siteClient, userClient, otherClient} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Serve(ctx)
		}(c)
	}

	hub.EmitBuildStatus(&model.Build{ID: 9, SiteID: 1, UserID: &uid, State: model.BuildSuccess, Token: "secret"})
	waitWrite(t, siteConn)
	waitWrite(t, userConn)

	cancel()
	wg.Wait()

	msgs := siteConn.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, BuildStatusEvent, msgs[0].Event)
	data := msgs[0].Data.(map[string]interface{})
	assert.Equal(t, "success", data["state"])
	assert.NotContains(t, data, "token")

	assert.Len(t, userConn.messages(t), 1)
	assert.Empty(t, otherConn.messages(t))
	assert.Zero(t, hub.ClientCount())
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(zap.NewNop())
	conn := newFakeConn()
	client := hub.Register(conn, nil)
	client.Join(client.ID())
	assert.Equal(t, 1, hub.ClientCount())

	done := make(chan struct{})
	go func() {
		client.Serve(context.Background())
		close(done)
	}()

	conn.Close()
	<-done

	assert.Zero(t, hub.ClientCount())
	require.NoError(t, hub.Broadcast(client.ID(), "ping", nil))

	// joining after disconnect is a no-op
	client.Join("late")
	assert.NotContains(t, client.Rooms(), "late")
}
