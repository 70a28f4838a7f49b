package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/terifai/terifai/internal/audio"
	"github.com/terifai/terifai/internal/transport"
)

func TestParseURL(t *testing.T) {
	g, c, err := ParseURL("discord://123/456")
	if err != nil || g != "123" || c != "456" {
		t.Fatalf("ParseURL: guild=%q channel=%q err=%v", g, c, err)
	}
	for _, bad := range []string{"https://x.daily.co/room", "discord://123", "discord:///456", "discord://1/2/3"} {
		if _, _, err := ParseURL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func voiceState(guild, channel, user string) *discordgo.VoiceStateUpdate {
	return &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: guild, ChannelID: channel, UserID: user}}
}

func drain(r *Room) []transport.Event {
	var out []transport.Event
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHandleVoiceState(t *testing.T) {
	r := newRoom(nil, "g1", "c1", nil)
	r.botUserID = "bot"

	r.handleVoiceState(voiceState("g1", "c1", "alice"))
	r.handleVoiceState(voiceState("g1", "c1", "alice"))
	r.handleVoiceState(voiceState("g2", "c1", "mallory"))
	r.handleVoiceState(voiceState("g1", "other", "alice"))
	r.handleVoiceState(voiceState("g1", "", "bot"))

	got := drain(r)
	want := []transport.Event{
		{Type: transport.EventParticipantJoined, ParticipantID: "alice"},
		{Type: transport.EventFirstParticipantJoined, ParticipantID: "alice"},
		{Type: transport.EventParticipantLeft, ParticipantID: "alice"},
		{Type: transport.EventCallStateUpdated, State: transport.CallStateLeft},
	}
	if len(got) != len(want) {
		t.Fatalf("events: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: want=%+v got=%+v", i, want[i], got[i])
		}
	}
}

type countingEncoder struct{ calls int }

func (e *countingEncoder) Encode(pcm []int16, data []byte) (int, error) {
	e.calls++
	data[0] = byte(len(pcm) / 100)
	return 1, nil
}

func TestEncodeFramesBuffersPartialFrames(t *testing.T) {
	enc := &countingEncoder{}
	r := newRoom(nil, "g", "c", enc)

	// 10 ms at 16 kHz mono is half an Opus frame
	half := audio.NewChunk(make([]byte, 160*2))
	frames, err := r.encodeFrames(half)
	if err != nil || len(frames) != 0 {
		t.Fatalf("first half: frames=%d err=%v", len(frames), err)
	}
	frames, err = r.encodeFrames(half)
	if err != nil || len(frames) != 1 {
		t.Fatalf("second half: frames=%d err=%v", len(frames), err)
	}
	if frames[0][0] != byte(frameSamples*channels/100) {
		t.Fatalf("encoder got wrong frame size: %d", frames[0][0])
	}
	if len(r.pending) != 0 {
		t.Fatalf("pending samples left: %d", len(r.pending))
	}
}

func TestResolverCachesNames(t *testing.T) {
	r := newResolver(nil)
	now := time.Unix(0, 0)
	r.now = func() time.Time { return now }
	calls := 0
	r.user = func(id string) string { calls++; return "name-" + id }

	if got := r.UserName("u1"); got != "name-u1" {
		t.Fatalf("UserName: %q", got)
	}
	r.UserName("u1")
	if calls != 1 {
		t.Fatalf("expected cached lookup, calls=%d", calls)
	}
	now = now.Add(cacheTTL + time.Second)
	r.UserName("u1")
	if calls != 2 {
		t.Fatalf("expected refetch after ttl, calls=%d", calls)
	}
	if r.GuildName("g") != "" || r.UserName("") != "" {
		t.Fatalf("expected empty names without a session")
	}
}
