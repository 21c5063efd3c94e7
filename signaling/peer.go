package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrPeerClosed    = errors.New("peer closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// wsPeer is the send side of one websocket connection. Messages are queued by
// Send and written by a single writePump goroutine.
type wsPeer struct {
	id   uuid.UUID
	conn *websocket.Conn
	typ  websocket.MessageType

	queue chan []byte
	// closed when the peer stops accepting messages.
	done     chan struct{}
	doneOnce sync.Once
	// closed to ask writePump to flush the queue and close with StatusGoingAway.
	goingAway     chan struct{}
	goingAwayOnce sync.Once
}

func newWsPeer(conn *websocket.Conn, typ websocket.MessageType, queueSize int) *wsPeer {
	return &wsPeer{
		id:        uuid.New(),
		conn:      conn,
		typ:       typ,
		queue:     make(chan []byte, queueSize),
		done:      make(chan struct{}),
		goingAway: make(chan struct{}),
	}
}

func (p *wsPeer) Send(b []byte) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.queue <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (p *wsPeer) Open() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *wsPeer) close() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *wsPeer) shutdown() {
	p.goingAwayOnce.Do(func() { close(p.goingAway) })
}

// writePump writes queued messages until the peer is closed, ctx is done or a
// write fails. A write error is returned; the caller owns closing the conn.
func (p *wsPeer) writePump(ctx context.Context, timeout time.Duration) error {
	defer p.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case <-p.goingAway:
			p.close()
			p.flush(ctx, timeout)
			p.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		case b := <-p.queue:
			if err := p.write(ctx, b, timeout); err != nil {
				return err
			}
		}
	}
}

func (p *wsPeer) flush(ctx context.Context, timeout time.Duration) {
	for {
		select {
		case b := <-p.queue:
			if err := p.write(ctx, b, timeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *wsPeer) write(ctx context.Context, b []byte, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.conn.Write(wctx, p.typ, b)
}
