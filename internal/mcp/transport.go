package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// WSConn is the part of a websocket connection the transport uses. Both
// gorilla and gofiber connections satisfy it.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsTransport carries one JSON-RPC message per binary websocket message.
type wsTransport struct{ conn WSConn }

// NewWebSocketTransport wraps an established websocket connection.
func NewWebSocketTransport(conn WSConn) sdk.Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Connect(context.Context) (sdk.Connection, error) {
	return &wsConnection{conn: t.conn}, nil
}

type wsConnection struct {
	conn WSConn
	wmu  sync.Mutex
}

func (w *wsConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetReadDeadline(dl)
		defer w.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeMessage(data)
}

func (w *wsConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConnection) Close() error      { return w.conn.Close() }
func (w *wsConnection) SessionID() string { return "" }
