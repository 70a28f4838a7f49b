// Package discord joins a Discord voice channel as a room. Room URLs have
// the form discord://<guild id>/<channel id>; the token is the bot token.
//
// Voice is Opus at 48 kHz stereo. Decoding and encoding need libopus and are
// compiled in with the `opus` build tag.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/transport"
)

const (
	// Scheme is the room URL scheme handled by this package.
	Scheme = "discord"

	sampleRate   = 48000
	channels     = 2
	frameSamples = 960 // 20 ms per channel
	maxOpusFrame = 4000
	audioBuffer  = 256
	eventBuffer  = 32
	joinTimeout  = 10 * time.Second
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("discord: closed")

// ParseURL splits discord://guild/channel.
func ParseURL(roomURL string) (guildID, channelID string, err error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", "", fmt.Errorf("discord: parse room url: %w", err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("discord: unsupported scheme %q", u.Scheme)
	}
	guildID = u.Host
	channelID = strings.Trim(u.Path, "/")
	if guildID == "" || channelID == "" || strings.Contains(channelID, "/") {
		return "", "", fmt.Errorf("discord: room url must be discord://<guild>/<channel>, got %q", roomURL)
	}
	return guildID, channelID, nil
}

// Room is a joined voice channel. It implements transport.Transport.
type Room struct {
	session   *discordgo.Session
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string
	botUserID string
	resolver  *resolver

	audio        chan audio.Chunk
	events       chan transport.Event
	participants *transport.Participants
	done         chan struct{}
	closeOnce    sync.Once
	removeState  func()
	wg           sync.WaitGroup

	dmu      sync.Mutex
	decoders map[uint32]decoder
	ssrcUser map[uint32]string

	wmu     sync.Mutex
	enc     encoder
	pending []int16
}

// Open connects the bot and joins the channel named by roomURL.
func Open(ctx context.Context, roomURL, token string) (*Room, error) {
	guildID, channelID, err := ParseURL(roomURL)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	enc, err := newEncoder()
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	r := newRoom(s, guildID, channelID, enc)
	if s.State != nil && s.State.User != nil {
		r.botUserID = s.State.User.ID
	}
	r.removeState = s.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		r.handleVoiceState(vs)
	})

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	vc, err := joinVoice(joinCtx, s, guildID, channelID)
	if err != nil {
		r.removeState()
		_ = s.Close()
		return nil, err
	}
	r.vc = vc
	if err := vc.Speaking(true); err != nil {
		logging.Warnw("discord: failed to set speaking", "err", err)
	}
	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		r.mapSSRC(uint32(su.SSRC), su.UserID)
	})
	r.seedParticipants()

	r.wg.Add(1)
	go r.receive()
	logging.Infow("discord: joined voice channel", "guild", r.resolver.GuildName(guildID), "channel", r.resolver.ChannelName(channelID), "guild_id", guildID, "channel_id", channelID)
	return r, nil
}

func joinVoice(ctx context.Context, s *discordgo.Session, guildID, channelID string) (*discordgo.VoiceConnection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := s.ChannelVoiceJoin(guildID, channelID, false, false)
		ch <- result{vc, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("discord: join voice: %w", r.err)
		}
		return r.vc, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("discord: join voice: %w", ctx.Err())
	}
}

func newRoom(s *discordgo.Session, guildID, channelID string, enc encoder) *Room {
	return &Room{
		session:      s,
		guildID:      guildID,
		channelID:    channelID,
		resolver:     newResolver(s),
		audio:        make(chan audio.Chunk, audioBuffer),
		events:       make(chan transport.Event, eventBuffer),
		participants: transport.NewParticipants(),
		done:         make(chan struct{}),
		removeState:  func() {},
		decoders:     make(map[uint32]decoder),
		ssrcUser:     make(map[uint32]string),
		enc:          enc,
	}
}

func (r *Room) Audio() <-chan audio.Chunk        { return r.audio }
func (r *Room) Events() <-chan transport.Event { return r.events }

func (r *Room) emit(ev transport.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// seedParticipants reports users already in the channel when the bot joins.
func (r *Room) seedParticipants() {
	if r.session.State == nil {
		return
	}
	g, err := r.session.State.Guild(r.guildID)
	if err != nil || g == nil {
		return
	}
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == r.channelID && vs.UserID != r.botUserID {
			for _, ev := range r.participants.Join(vs.UserID) {
				r.emit(ev)
			}
		}
	}
}

func (r *Room) handleVoiceState(vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil || vs.GuildID != r.guildID {
		return
	}
	if vs.UserID == r.botUserID {
		if vs.ChannelID != r.channelID {
			r.emit(transport.Event{Type: transport.EventCallStateUpdated, State: transport.CallStateLeft})
		}
		return
	}
	var evs []transport.Event
	if vs.ChannelID == r.channelID {
		evs = r.participants.Join(vs.UserID)
	} else {
		evs = r.participants.Leave(vs.UserID)
	}
	for _, ev := range evs {
		logging.Infow("discord: participant update", "type", ev.Type, "user_id", vs.UserID, "user", r.resolver.UserName(vs.UserID))
		r.emit(ev)
	}
}

func (r *Room) mapSSRC(ssrc uint32, userID string) {
	r.dmu.Lock()
	r.ssrcUser[ssrc] = userID
	r.dmu.Unlock()
}

func (r *Room) receive() {
	defer r.wg.Done()
	defer func() {
		r.emit(transport.Event{Type: transport.EventClosed})
		close(r.events)
		close(r.audio)
	}()
	pcm := make([]int16, frameSamples*channels)
	for {
		select {
		case <-r.done:
			return
		case pkt, ok := <-r.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}
			c, err := r.decode(pkt.SSRC, pkt.Opus, pcm)
			if err != nil {
				logging.Debugw("discord: opus decode failed", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			select {
			case r.audio <- c:
			case <-r.done:
				return
			}
		}
	}
}

func (r *Room) decode(ssrc uint32, payload []byte, pcm []int16) (audio.Chunk, error) {
	r.dmu.Lock()
	dec, ok := r.decoders[ssrc]
	r.dmu.Unlock()
	if !ok {
		d, err := newDecoder()
		if err != nil {
			return audio.Chunk{}, err
		}
		dec = d
		r.dmu.Lock()
		r.decoders[ssrc] = dec
		userID := r.ssrcUser[ssrc]
		r.dmu.Unlock()
		logging.Debugw("discord: new speaker", "ssrc", ssrc, "user_id", userID, "user", r.resolver.UserName(userID))
	}
	n, err := dec.Decode(payload, pcm)
	if err != nil {
		return audio.Chunk{}, err
	}
	return audio.Chunk{Data: audio.SamplesToBytes(pcm[:n*channels]), SampleRate: sampleRate, Channels: channels}, nil
}

// WriteAudio converts c to 48 kHz stereo and sends whole 20 ms Opus frames.
// A partial frame waits for the next write.
func (r *Room) WriteAudio(ctx context.Context, c audio.Chunk) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	frames, err := r.encodeFrames(c)
	if err != nil {
		return err
	}
	for _, f := range frames {
		select {
		case r.vc.OpusSend <- f:
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrClosed
		}
	}
	return nil
}

func (r *Room) encodeFrames(c audio.Chunk) ([][]byte, error) {
	samples := c.Samples()
	if c.Channels == 2 {
		samples = audio.StereoToMono(samples)
	}
	samples = audio.MonoToStereo(audio.Resample(samples, c.SampleRate, sampleRate))

	r.wmu.Lock()
	defer r.wmu.Unlock()
	r.pending = append(r.pending, samples...)
	var out [][]byte
	step := frameSamples * channels
	for len(r.pending) >= step {
		buf := make([]byte, maxOpusFrame)
		n, err := r.enc.Encode(r.pending[:step], buf)
		if err != nil {
			return out, fmt.Errorf("discord: opus encode: %w", err)
		}
		out = append(out, buf[:n])
		r.pending = r.pending[step:]
	}
	return out, nil
}

// Close leaves the channel and closes the session.
func (r *Room) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.removeState()
		if r.vc != nil {
			_ = r.vc.Speaking(false)
			if derr := r.vc.Disconnect(); derr != nil {
				logging.Warnw("discord: voice disconnect error", "err", derr)
			}
		}
		if r.session != nil {
			err = r.session.Close()
		}
	})
	r.wg.Wait()
	return err
}

var _ transport.Transport = (*Room)(nil)
