package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"academy/internal/apperr"
	"academy/internal/metrics"
	"academy/internal/realtime"
	"academy/internal/recordstore"
)

const (
	readyTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the token check has already run; origins are enforced by CORS for XHR only
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber buffers changes for one push client. A client that falls
// behind by more than clientBuffer changes is disconnected and reloads on
// reconnect, since skipping a change would leave it inconsistent.
type subscriber struct {
	changes  chan realtime.Change
	overflow chan struct{}
	once     sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{changes: make(chan realtime.Change, clientBuffer), overflow: make(chan struct{})}
}

func (sub *subscriber) push(ch realtime.Change) {
	select {
	case sub.changes <- ch:
	default:
		sub.once.Do(func() { close(sub.overflow) })
	}
}

// watch resolves the view named in the path and waits for its first load.
func (s *server) watch(c *gin.Context) (json.RawMessage, *subscriber, func(), string, bool) {
	name := c.Param("collection")
	view, err := s.Views.Get(recordstore.Collection(name))
	if err != nil {
		s.writeError(c, apperr.NotFound("realtime", "collection %q is not available", name))
		return nil, nil, nil, "", false
	}

	ctx := c.Request.Context()
	select {
	case <-view.Ready():
	case <-ctx.Done():
		return nil, nil, nil, "", false
	case <-time.After(readyTimeout):
		s.writeError(c, apperr.Upstream("realtime", errors.New(name+" not loaded yet")))
		return nil, nil, nil, "", false
	}

	sub := newSubscriber()
	snapshot, cancel, err := view.Watch(ctx, sub.push)
	if err != nil {
		if ctx.Err() == nil {
			s.writeError(c, apperr.Upstream("realtime", err))
		}
		return nil, nil, nil, "", false
	}
	return snapshot, sub, cancel, name, true
}

// streamSSE pushes a snapshot event followed by one event per change.
func (s *server) streamSSE(c *gin.Context) {
	snapshot, sub, cancel, name, ok := s.watch(c)
	if !ok {
		return
	}
	defer cancel()

	gauge := metrics.RealtimeClients.WithLabelValues(name, "sse")
	gauge.Inc()
	defer gauge.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ch := <-sub.changes:
			c.SSEvent(string(ch.Type), ch)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-sub.overflow:
			s.log.Warnf("sse client on %s fell behind; closing", name)
			return false
		case <-ctx.Done():
			return false
		}
	})
}

type wsMessage struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection"`
	ID         string          `json:"id,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// streamWS is the WebSocket variant of streamSSE. Messages from the client
// are read only to notice that it went away.
func (s *server) streamWS(c *gin.Context) {
	snapshot, sub, cancel, name, ok := s.watch(c)
	if !ok {
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade on %s: %v", name, err)
		return
	}
	defer conn.Close()

	gauge := metrics.RealtimeClients.WithLabelValues(name, "websocket")
	gauge.Inc()
	defer gauge.Dec()

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(m wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(m)
	}
	if err := write(wsMessage{Type: "snapshot", Collection: name, Record: snapshot}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ch := <-sub.changes:
			if err := write(wsMessage{Type: string(ch.Type), Collection: ch.Collection, ID: ch.ID, Record: ch.Record}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-sub.overflow:
			s.log.Warnf("websocket client on %s fell behind; closing", name)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "fell behind"), time.Now().Add(writeTimeout))
			return
		case <-ctx.Done():
			return
		}
	}
}
