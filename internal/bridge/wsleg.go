package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

var (
	errLegClosed       = errors.New("bridge: leg closed")
	errLegBackpressure = errors.New("bridge: leg send queue full")
)

const (
	legSendBuffer   = 256
	legWriteTimeout = 5 * time.Second
	legReadLimit    = 1 << 20
)

// wsLeg is a websocket peer with a bounded outbound queue drained by one
// writer goroutine.
type wsLeg struct {
	name   string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sendQ  chan []byte

	closeOnce sync.Once
}

func newWSLeg(parent context.Context, name string, c *websocket.Conn) *wsLeg {
	ctx, cancel := context.WithCancel(parent)
	c.SetReadLimit(legReadLimit)
	l := &wsLeg{
		name:   name,
		conn:   c,
		ctx:    ctx,
		cancel: cancel,
		sendQ:  make(chan []byte, legSendBuffer),
	}
	go l.writeLoop()
	return l
}

func (l *wsLeg) Send(v any) error {
	if l.ctx.Err() != nil {
		return errLegClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case l.sendQ <- b:
		return nil
	default:
		metricLegSendDrops.WithLabelValues(l.name).Inc()
		return errLegBackpressure
	}
}

// Close does not wait for the close handshake.
func (l *wsLeg) Close(reason string) {
	l.closeOnce.Do(func() {
		l.cancel()
		go func() { _ = l.conn.Close(websocket.StatusNormalClosure, reason) }()
	})
}

func (l *wsLeg) writeLoop() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case b := <-l.sendQ:
			wctx, cancel := context.WithTimeout(l.ctx, legWriteTimeout)
			err := l.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				if l.ctx.Err() == nil {
					log.Printf("[bridge] %s write error: %v", l.name, err)
				}
				l.Close("write error")
				return
			}
		}
	}
}

// readLoop hands every text frame to fn until the peer goes away.
func (l *wsLeg) readLoop(fn func(data []byte)) {
	for {
		typ, data, err := l.conn.Read(l.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && l.ctx.Err() == nil {
				log.Printf("[bridge] %s read ended: %v", l.name, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		fn(data)
	}
}
