package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/terifai/terifai/internal/logging"
)

const keepAliveInterval = 30 * time.Second

// ErrToolFailed wraps the text of a tool result flagged as an error.
var ErrToolFailed = errors.New("mcp tool failed")

// Client is an MCP client session over a websocket.
type Client struct {
	client  *sdk.Client
	session *sdk.ClientSession
	stop    chan struct{}
	once    sync.Once
}

func NewClient(name, version string) *Client {
	return &Client{
		client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil),
		stop:   make(chan struct{}),
	}
}

// Dial connects to rawurl. http and https URLs are dialed as ws and wss.
func (c *Client) Dial(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("mcp: dial %s: %w", u, err)
	}
	return c.Connect(ctx, NewWebSocketTransport(conn))
}

// Connect starts a session over t and pings the server periodically.
func (c *Client) Connect(ctx context.Context, t sdk.Transport) error {
	sess, err := c.client.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect: %w", err)
	}
	c.session = sess
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if err := sess.Ping(context.Background(), nil); err != nil {
					logging.Debugw("mcp ping failed", "err", err)
				}
			}
		}
	}()
	return nil
}

// Call invokes tool with args and decodes its JSON text result into out,
// which may be nil.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any, out any) error {
	if c.session == nil {
		return errors.New("mcp: not connected")
	}
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("mcp: call %s: %w", tool, err)
	}
	text := ""
	for _, ct := range res.Content {
		if tc, ok := ct.(*sdk.TextContent); ok {
			text += tc.Text
		}
	}
	if res.IsError {
		return fmt.Errorf("%w: %s: %s", ErrToolFailed, tool, text)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("mcp: decode %s result: %w", tool, err)
	}
	return nil
}

// Tools lists the server's tool names.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	if c.session == nil {
		return nil, errors.New("mcp: not connected")
	}
	res, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.stop) })
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
