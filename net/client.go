package net

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBacklog    = 64
)

// client is one live socket bound to a session pid.
type client struct {
	pid  string
	conn *websocket.Conn
	send chan []byte
	gw   *Gateway

	once sync.Once
	done chan struct{}
}

func newClient(gw *Gateway, pid string, conn *websocket.Conn) *client {
	return &client{
		pid:  pid,
		conn: conn,
		send: make(chan []byte, sendBacklog),
		gw:   gw,
		done: make(chan struct{}),
	}
}

// enqueue hands a pre-encoded frame to the write pump. Slow consumers drop
// frames rather than stall the coordinator.
func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.gw.log.Warnw("send backlog full, dropping frame", "pid", c.pid)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.close()
		c.gw.dropClient(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.log.Debugw("socket read failed", "pid", c.pid, "err", err)
			}
			return
		}
		c.gw.dispatch(c, frame)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
