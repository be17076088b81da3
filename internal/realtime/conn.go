package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsPeer is a Peer backed by a websocket connection. Send only queues the
// encoded event; writePump is the sole writer of data frames. Close may be
// called from any goroutine, any number of times.
type wsPeer struct {
	id           string
	documentID   string
	ws           *websocket.Conn
	writeTimeout time.Duration
	send         chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSPeer(ws *websocket.Conn, documentID string, writeTimeout time.Duration, queueSize int) *wsPeer {
	return &wsPeer{
		id:           uuid.NewString(),
		documentID:   documentID,
		ws:           ws,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, queueSize),
		closed:       make(chan struct{}),
	}
}

func (p *wsPeer) ID() string {
	return p.id
}

// Send never blocks. A connection whose queue is full has stopped reading
// and the send fails like any other transport error.
func (p *wsPeer) Send(_ context.Context, event Outbound) error {
	data, err := json.Marshal(event)
	if err != nil {
		return channelError(ErrProtocol, "encode outbound event", err)
	}

	select {
	case <-p.closed:
		return channelError(ErrTransport, "connection closed", nil)
	default:
	}

	select {
	case p.send <- data:
		return nil
	default:
		return channelError(ErrTransport, "send queue full", nil)
	}
}

func (p *wsPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.ws.Close()
	})
	return err
}

// writePump writes queued events in order and pings the client every period
// until the peer closes. A failed write closes the peer, which ends its read
// loop.
func (p *wsPeer) writePump(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case data := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = p.Close()
				return
			}
		case <-ticker.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeTimeout)); err != nil {
				_ = p.Close()
				return
			}
		case <-p.closed:
			return
		}
	}
}
