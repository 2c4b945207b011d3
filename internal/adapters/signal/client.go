package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	clientWriteWait  = 10 * time.Second
	clientPongWait   = 60 * time.Second
	clientPingPeriod = (clientPongWait * 9) / 10
	clientReadLimit  = 64 * 1024
)

var ErrClientClosed = errors.New("signal client closed")

// Client is the participant side of the signaling channel.
type Client struct {
	conn     *websocket.Conn
	incoming chan core.Envelope
	outgoing chan core.Frame
	done     chan struct{}

	closeOnce sync.Once
}

// Dial connects to the signaling endpoint and starts the pumps.
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan core.Envelope, 64),
		outgoing: make(chan core.Frame, 64),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(clientReadLimit)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Info().Str("module", "signal.client").Str("url", serverURL).Msg("connected")
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
		_ = c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "signal.client").Msg("read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(clientPongWait))

		env, err := core.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal.client").Msg("bad frame")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(clientPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		_ = c.Close()
	}()

	for {
		select {
		case f := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				log.Warn().Err(err).Str("module", "signal.client").Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes v under event and queues it for writing.
func (c *Client) Send(event core.EventName, v any) error {
	f, err := core.Encode(event, v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.outgoing <- f:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// Events is closed when the connection drops.
func (c *Client) Events() <-chan core.Envelope {
	return c.incoming
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
