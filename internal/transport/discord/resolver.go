package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// cacheTTL controls how long a resolved name is reused.
var cacheTTL = 5 * time.Minute

type cacheEntry struct {
	val    string
	expiry time.Time
}

// resolver turns user, guild and channel ids into display names for logs,
// caching lookups so the gateway is not hit per packet.
type resolver struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time

	user    func(id string) string
	guild   func(id string) string
	channel func(id string) string
}

func newResolver(s *discordgo.Session) *resolver {
	r := &resolver{cache: make(map[string]cacheEntry), now: time.Now}
	if s == nil {
		none := func(string) string { return "" }
		r.user, r.guild, r.channel = none, none, none
		return r
	}
	r.user = func(id string) string {
		if u, err := s.User(id); err == nil && u != nil {
			return u.Username
		}
		return ""
	}
	r.guild = func(id string) string {
		if s.State != nil {
			if g, err := s.State.Guild(id); err == nil && g != nil {
				return g.Name
			}
		}
		if g, err := s.Guild(id); err == nil && g != nil {
			return g.Name
		}
		return ""
	}
	r.channel = func(id string) string {
		if s.State != nil {
			if c, err := s.State.Channel(id); err == nil && c != nil {
				return c.Name
			}
		}
		if c, err := s.Channel(id); err == nil && c != nil {
			return c.Name
		}
		return ""
	}
	return r
}

func (r *resolver) lookup(kind, id string, fetch func(string) string) string {
	if r == nil || id == "" {
		return ""
	}
	key := kind + ":" + id
	r.mu.Lock()
	if e, ok := r.cache[key]; ok {
		if r.now().Before(e.expiry) {
			r.mu.Unlock()
			return e.val
		}
		delete(r.cache, key)
	}
	r.mu.Unlock()

	name := fetch(id)
	if name == "" {
		return ""
	}
	r.mu.Lock()
	r.cache[key] = cacheEntry{val: name, expiry: r.now().Add(cacheTTL)}
	r.mu.Unlock()
	return name
}

func (r *resolver) UserName(id string) string    { return r.lookup("user", id, r.user) }
func (r *resolver) GuildName(id string) string   { return r.lookup("guild", id, r.guild) }
func (r *resolver) ChannelName(id string) string { return r.lookup("channel", id, r.channel) }
