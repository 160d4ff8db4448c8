package server

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-central/central/internal/registry"
)

func newWSServer(t *testing.T, sessions int) (*Server, string) {
	t.Helper()
	reg := registry.New(2)
	for i := 0; i < sessions; i++ {
		reg.Register(fmt.Sprintf("s%03d", i), strings.Repeat("x", 64), 100+i, "/home/u/proj")
	}
	s := New("", reg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestWSSubscriberGetsImmediateSnapshot(t *testing.T) {
	_, url := newWSServer(t, 3)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "sessions", msg.Type)
	assert.Len(t, msg.Sessions, 3)
	assert.EqualValues(t, 3, msg.Total)
}

// Subscribers joining while the hub is mid-broadcast must each see
// exactly one writer on their connection. Large frames and many
// concurrent dials make any second writer show up under -race.
func TestWSSubscribeDuringBroadcast(t *testing.T) {
	s, url := newWSServer(t, 200)

	stop := make(chan struct{})
	var hubDone sync.WaitGroup
	hubDone.Add(1)
	go func() {
		defer hubDone.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.hub.broadcast()
			}
		}
	}()

	var clients sync.WaitGroup
	for i := 0; i < 25; i++ {
		clients.Add(1)
		go func() {
			defer clients.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			defer conn.Close()
			for j := 0; j < 3; j++ {
				var msg wsMessage
				if err := conn.ReadJSON(&msg); err != nil {
					t.Errorf("read %d: %v", j, err)
					return
				}
				if len(msg.Sessions) != 200 {
					t.Errorf("read %d: got %d sessions", j, len(msg.Sessions))
					return
				}
			}
		}()
	}
	clients.Wait()
	close(stop)
	hubDone.Wait()
}
