package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/terifai/terifai/internal/config"
	"github.com/terifai/terifai/internal/transport"
	"github.com/terifai/terifai/internal/transport/discord"
	"github.com/terifai/terifai/internal/transport/wsroom"
)

// BotName is the display name the bot joins rooms with.
const BotName = "TerifAI"

// ErrNoGateway is returned for https rooms when ROOM_GATEWAY_URL is unset.
var ErrNoGateway = errors.New("bot: https rooms need ROOM_GATEWAY_URL")

// OpenTransport joins roomURL. ws and wss rooms are dialed directly,
// discord://guild/channel joins a voice channel, and https rooms go through
// the configured websocket gateway.
func OpenTransport(ctx context.Context, cfg config.Config, roomURL, token string) (transport.Transport, error) {
	target, err := resolveRoom(cfg, roomURL)
	if err != nil {
		return nil, err
	}
	if target.scheme == discord.Scheme {
		if token == "" {
			token = cfg.DiscordBotToken
		}
		room, err := discord.Open(ctx, roomURL, token)
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	room, err := wsroom.Dial(ctx, target.url, token, wsroom.WithBotName(BotName))
	if err != nil {
		return nil, err
	}
	return room, nil
}

type roomTarget struct {
	scheme string
	url    string
}

func resolveRoom(cfg config.Config, roomURL string) (roomTarget, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return roomTarget{}, fmt.Errorf("bot: parse room url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return roomTarget{scheme: u.Scheme, url: roomURL}, nil
	case discord.Scheme:
		return roomTarget{scheme: u.Scheme, url: roomURL}, nil
	case "http", "https":
		if cfg.RoomGatewayURL == "" {
			return roomTarget{}, ErrNoGateway
		}
		gw, err := url.Parse(cfg.RoomGatewayURL)
		if err != nil {
			return roomTarget{}, fmt.Errorf("bot: parse gateway url: %w", err)
		}
		q := gw.Query()
		q.Set("room", roomURL)
		gw.RawQuery = q.Encode()
		return roomTarget{scheme: gw.Scheme, url: gw.String()}, nil
	}
	return roomTarget{}, fmt.Errorf("bot: unsupported room url %q", roomURL)
}
