package websocket

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Filter selects the feed messages a client receives. Empty fields match
// everything. Date only narrows entry messages that carry a date.
type Filter struct {
	Entities []string `json:"entities,omitempty"`
	Date     string   `json:"date,omitempty"`
}

// FilterFromQuery reads a filter from ?entity=entry,sync&date=YYYY-MM-DD.
func FilterFromQuery(q url.Values) Filter {
	var f Filter
	for _, v := range q["entity"] {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				f.Entities = append(f.Entities, e)
			}
		}
	}
	f.Date = q.Get("date")
	return f
}

// Match reports whether msg passes the filter.
func (f Filter) Match(msg Message) bool {
	if len(f.Entities) > 0 && !slices.Contains(f.Entities, msg.Entity) {
		return false
	}
	if f.Date != "" && msg.Entity == EntityEntry {
		if d, ok := msg.Extra["date"].(string); ok && d != f.Date {
			return false
		}
	}
	return true
}

// Client is one feed subscriber. A client may replace its filter at any
// time by sending a Filter as a JSON text frame.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte

	mu     sync.RWMutex
	filter Filter
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, filter Filter) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: filter,
	}
}

// SetFilter replaces the client's subscription.
func (c *Client) SetFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *Client) wants(msg Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.Match(msg)
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump applies subscription frames until the peer goes away. A frame
// that is not a JSON filter closes the connection.
func (c *Client) readPump(ctx context.Context) {
	for {
		var f Filter
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			return
		}
		c.SetFilter(f)
	}
}

// writePump writes queued messages and pings the peer on an interval.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, ws.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
