// Package daily creates Daily rooms and meeting tokens through the REST API.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/httpc"
	"github.com/terifai/terifai/internal/logging"
)

const (
	DefaultAPIURL = "https://api.daily.co/v1"

	// RoomTTL is how long created rooms and tokens stay valid.
	RoomTTL = time.Hour

	providerName   = "daily"
	defaultTimeout = 15 * time.Second
	retryAttempts  = 2
)

// ErrNoRoom is returned when a token is requested without a room URL.
var ErrNoRoom = errors.New("daily: room url is required")

// Room is what the control API hands back to a browser client.
type Room struct {
	URL   string `json:"room_url"`
	Name  string `json:"room_name"`
	Token string `json:"token"`
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New returns a client for apiURL. A URL without a scheme is taken as https.
func New(apiKey, apiURL string, opts ...Option) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if !strings.Contains(apiURL, "://") {
		apiURL = "https://" + apiURL
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(apiURL, "/"),
		client:  httpc.NewClient(defaultTimeout),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NameFromURL returns the room name, the URL path without its leading slash.
func NameFromURL(roomURL string) string {
	u, err := url.Parse(roomURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (c *Client) post(ctx context.Context, op, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := httpc.Do(ctx, c.client, httpc.Request{
		Provider:      providerName,
		Operation:     op,
		Attempts:      retryAttempts,
		CorrelationID: uuid.NewString(),
		New: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		},
	})
	if err != nil {
		return fmt.Errorf("daily: %s: %w", op, err)
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("daily: decode %s response: %w", op, err)
	}
	return nil
}

type roomProperties struct {
	Exp                  int64 `json:"exp"`
	EnableChat           bool  `json:"enable_chat"`
	EnableEmojiReactions bool  `json:"enable_emoji_reactions"`
	EjectAtRoomExp       bool  `json:"eject_at_room_exp"`
	// The bot joins headless and cannot pass a prejoin screen.
	EnablePrejoinUI bool `json:"enable_prejoin_ui"`
}

type roomResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// CreateRoom creates a room that expires after RoomTTL and ejects everyone
// when it does.
func (c *Client) CreateRoom(ctx context.Context) (roomURL, name string, err error) {
	props := roomProperties{
		Exp:                  c.now().Add(RoomTTL).Unix(),
		EnableChat:           true,
		EnableEmojiReactions: true,
		EjectAtRoomExp:       true,
	}
	var out roomResponse
	if err := c.post(ctx, "create_room", "/rooms", map[string]any{"properties": props}, &out); err != nil {
		return "", "", err
	}
	if out.URL == "" || out.Name == "" {
		return "", "", errors.New("daily: create room: missing room url or name in response")
	}
	logging.Infow("daily room created", logging.RoomFields(out.URL, out.Name)...)
	return out.URL, out.Name, nil
}

type tokenProperties struct {
	RoomName string `json:"room_name"`
	IsOwner  bool   `json:"is_owner"`
	Exp      int64  `json:"exp"`
}

// Token issues an owner meeting token for roomURL valid for RoomTTL.
func (c *Client) Token(ctx context.Context, roomURL string) (string, error) {
	if roomURL == "" {
		return "", ErrNoRoom
	}
	props := tokenProperties{
		RoomName: NameFromURL(roomURL),
		IsOwner:  true,
		Exp:      c.now().Add(RoomTTL).Unix(),
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "meeting_token", "/meeting-tokens", map[string]any{"properties": props}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("daily: meeting token: empty token in response")
	}
	return out.Token, nil
}

// CreateRoomWithToken creates a room and an owner token for it.
func (c *Client) CreateRoomWithToken(ctx context.Context) (Room, error) {
	u, name, err := c.CreateRoom(ctx)
	if err != nil {
		return Room{}, err
	}
	tok, err := c.Token(ctx, u)
	if err != nil {
		return Room{}, err
	}
	return Room{URL: u, Name: name, Token: tok}, nil
}

// ForURL issues a token for an existing room.
func (c *Client) ForURL(ctx context.Context, roomURL string) (Room, error) {
	tok, err := c.Token(ctx, roomURL)
	if err != nil {
		return Room{}, err
	}
	return Room{URL: roomURL, Name: NameFromURL(roomURL), Token: tok}, nil
}
