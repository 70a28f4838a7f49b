// Package mcp exposes the control operations as MCP tools and carries MCP
// sessions over websockets.
package mcp

import (
	"context"
	"encoding/json"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/terifai/terifai/internal/control"
	"github.com/terifai/terifai/internal/logging"
)

// Tool names.
const (
	ToolCreateRoom = "create_room"
	ToolStartBot   = "start_bot"
	ToolBotStatus  = "bot_status"
	ToolListBots   = "list_bots"
)

type createRoomArgs struct {
	RoomURL string `json:"room_url,omitempty" jsonschema:"existing room to issue a token for; empty creates a new room"`
}

type startBotArgs struct {
	RoomURL        string `json:"room_url" jsonschema:"room the bot joins"`
	Token          string `json:"token" jsonschema:"meeting token for the room"`
	SelectedPrompt string `json:"selected_prompt,omitempty" jsonschema:"conversation style"`
}

type botStatusArgs struct {
	BotID string `json:"bot_id" jsonschema:"id returned by start_bot"`
}

type listBotsArgs struct{}

type botInfo struct {
	ID        string `json:"bot_id"`
	RoomURL   string `json:"room_url"`
	Prompt    string `json:"prompt,omitempty"`
	StartedAt string `json:"started_at"`
}

// NewServer returns an MCP server whose tools drive svc.
func NewServer(svc *control.Service, version string) *sdk.Server {
	s := sdk.NewServer(&sdk.Implementation{Name: "terifai", Version: version}, nil)

	sdk.AddTool(s, &sdk.Tool{Name: ToolCreateRoom, Description: "Create a room with an owner token, or issue a token for an existing room"},
		func(ctx context.Context, _ *sdk.CallToolRequest, args createRoomArgs) (*sdk.CallToolResult, any, error) {
			room, err := svc.CreateRoom(ctx, args.RoomURL)
			return result(ToolCreateRoom, room, err), nil, nil
		})

	sdk.AddTool(s, &sdk.Tool{Name: ToolStartBot, Description: "Start a bot worker in a room"},
		func(ctx context.Context, _ *sdk.CallToolRequest, args startBotArgs) (*sdk.CallToolResult, any, error) {
			b, err := svc.StartBot(ctx, control.StartRequest{RoomURL: args.RoomURL, Token: args.Token, SelectedPrompt: args.SelectedPrompt})
			return result(ToolStartBot, info(b), err), nil, nil
		})

	sdk.AddTool(s, &sdk.Tool{Name: ToolBotStatus, Description: "Report the state of a bot worker"},
		func(ctx context.Context, _ *sdk.CallToolRequest, args botStatusArgs) (*sdk.CallToolResult, any, error) {
			st, err := svc.Status(ctx, args.BotID)
			return result(ToolBotStatus, st, err), nil, nil
		})

	sdk.AddTool(s, &sdk.Tool{Name: ToolListBots, Description: "List bot workers started by this server"},
		func(context.Context, *sdk.CallToolRequest, listBotsArgs) (*sdk.CallToolResult, any, error) {
			bots := svc.Bots()
			out := make([]botInfo, 0, len(bots))
			for _, b := range bots {
				out = append(out, info(b))
			}
			return result(ToolListBots, map[string]any{"bots": out}, nil), nil, nil
		})
	return s
}

func info(b control.Bot) botInfo {
	bi := botInfo{ID: b.ID, RoomURL: b.RoomURL, Prompt: b.Prompt}
	if !b.StartedAt.IsZero() {
		bi.StartedAt = b.StartedAt.UTC().Format(time.RFC3339)
	}
	return bi
}

// result renders v as JSON text, or err as a tool error.
func result(tool string, v any, err error) *sdk.CallToolResult {
	if err != nil {
		logging.Warnw("mcp tool failed", "tool", tool, "err", err)
		return &sdk.CallToolResult{IsError: true, Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}}}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return &sdk.CallToolResult{IsError: true, Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}}}
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}
}

// Serve runs an MCP session over conn until the peer disconnects.
func Serve(ctx context.Context, s *sdk.Server, conn WSConn) error {
	session, err := s.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer session.Close()
	return session.Wait()
}
