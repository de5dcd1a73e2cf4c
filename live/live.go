// Package live is the backend's push channel: a websocket carrying
// {"event": name, "data": {...}} frames in both directions.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"echosketch/log"
)

const (
	ConnectTimeout = 20 * time.Second
	eventBuffer    = 32
	closeWait      = 2 * time.Second
)

var ErrClosed = errors.New("live channel closed")

// Event is one decoded server frame.
type Event interface {
	Name() string
}

type Connected struct{ Message string }

func (Connected) Name() string { return "connected" }

type Processing struct{ Message string }

func (Processing) Name() string { return "processing" }

type StreamReceived struct{ Status string }

func (StreamReceived) Name() string { return "stream_received" }

type Error struct{ Message string }

func (Error) Name() string { return "error" }

// Unknown carries events this client has no type for.
type Unknown struct {
	Event string
	Data  json.RawMessage
}

func (e Unknown) Name() string { return e.Event }

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func decode(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode live frame: %w", err)
	}
	var body struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if len(f.Data) > 0 {
		// Non-object payloads still surface as Unknown below.
		_ = json.Unmarshal(f.Data, &body)
	}
	switch f.Event {
	case "connected":
		return Connected{Message: body.Message}, nil
	case "processing":
		return Processing{Message: body.Message}, nil
	case "stream_received":
		return StreamReceived{Status: body.Status}, nil
	case "error":
		return Error{Message: body.Message}, nil
	case "":
		return nil, fmt.Errorf("decode live frame: missing event name")
	}
	return Unknown{Event: f.Event, Data: f.Data}, nil
}

// SocketURL turns an http(s) base URL into the ws(s) endpoint. ws:// and
// wss:// URLs pass through unchanged.
func SocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

type Client struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial connects to the socket URL. Frames are decoded on a background
// goroutine and delivered on Events until the connection ends.
func Dial(ctx context.Context, socketURL string) (*Client, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ConnectTimeout)
		defer cancel()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, socketURL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live dial %s (status %d): %w", socketURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("live dial %s: %w", socketURL, err)
	}
	c := &Client{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Events() <-chan Event { return c.events }

// Done is closed once the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Emit sends an event to the server.
func (c *Client) Emit(event string, data any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame{Event: event, Data: raw})
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Err reports why the connection ended. Nil after a normal close.
func (c *Client) Err() error {
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setErr(err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, err := decode(data)
		if err != nil {
			log.Warn(err.Error())
			continue
		}
		select {
		case c.events <- ev:
		default:
			log.Warnf("live: dropped %s event, consumer not keeping up", ev.Name())
		}
	}
}
