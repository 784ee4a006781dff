package gateway

import (
	"sync"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/session"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GUILD STATE
// The gateway receives absolute voice states, not transitions. GuildState
// remembers each user's last known channel so a VOICE_STATE_UPDATE can be
// diffed into the enter/leave boundary events the application layer
// consumes. A channel-to-channel move becomes a leave followed by an enter.
// ══════════════════════════════════════════════════════════════════════════════

// location is a user's last observed voice position.
type location struct {
	guildID   string
	channelID string
}

// GuildState tracks AFK channels, known bot accounts, and each user's
// current voice channel. Safe for concurrent use, though the gateway
// feeds it from a single read loop.
type GuildState struct {
	mu          sync.RWMutex
	afkChannels map[string]string // guildID -> AFK channel ID ("" if none)
	bots        map[string]bool   // userID -> is a bot account
	locations   map[string]location
}

// NewGuildState creates an empty GuildState.
func NewGuildState() *GuildState {
	return &GuildState{
		afkChannels: make(map[string]string),
		bots:        make(map[string]bool),
		locations:   make(map[string]location),
	}
}

// SetAFKChannel records a guild's AFK channel. Empty means the guild has none.
func (s *GuildState) SetAFKChannel(guildID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afkChannels[guildID] = channelID
}

// IsAFKChannel reports whether the channel is the guild's AFK channel.
func (s *GuildState) IsAFKChannel(guildID, channelID string) bool {
	if channelID == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.afkChannels[guildID] == channelID
}

// MarkBot records that a user is a bot account.
func (s *GuildState) MarkBot(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[userID] = true
}

// IsBot reports whether the user is a known bot account.
func (s *GuildState) IsBot(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bots[userID]
}

// TransitionKind distinguishes diffed boundary events.
type TransitionKind int

const (
	// TransitionEnter means the user entered a voice channel.
	TransitionEnter TransitionKind = iota
	// TransitionLeave means the user left a voice channel.
	TransitionLeave
)

// Transition is one boundary event produced from a voice state update.
type Transition struct {
	Kind  TransitionKind
	State session.VoiceState
}

// VoiceUpdate is the decoded subset of a VOICE_STATE_UPDATE payload.
type VoiceUpdate struct {
	UserID    string
	GuildID   string
	ChannelID string // empty when the user disconnected
	IsBot     bool
}

// Apply diffs the update against the user's last known location and
// returns the resulting transitions in the order they happened.
func (s *GuildState) Apply(u VoiceUpdate) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.IsBot {
		s.bots[u.UserID] = true
	}
	isBot := s.bots[u.UserID]

	prev, tracked := s.locations[u.UserID]

	// No change in channel means mute/deafen/etc. Not a boundary event.
	if tracked && prev.channelID == u.ChannelID && prev.guildID == u.GuildID {
		return nil
	}

	var transitions []Transition

	if tracked && prev.channelID != "" {
		transitions = append(transitions, Transition{
			Kind: TransitionLeave,
			State: session.VoiceState{
				UserID:       shared.UserID(u.UserID),
				GuildID:      shared.GuildID(prev.guildID),
				ChannelID:    shared.ChannelID(prev.channelID),
				IsAFKChannel: s.afkChannels[prev.guildID] == prev.channelID,
				IsBot:        isBot,
			},
		})
	}

	if u.ChannelID != "" {
		transitions = append(transitions, Transition{
			Kind: TransitionEnter,
			State: session.VoiceState{
				UserID:       shared.UserID(u.UserID),
				GuildID:      shared.GuildID(u.GuildID),
				ChannelID:    shared.ChannelID(u.ChannelID),
				IsAFKChannel: s.afkChannels[u.GuildID] == u.ChannelID,
				IsBot:        isBot,
			},
		})
		s.locations[u.UserID] = location{guildID: u.GuildID, channelID: u.ChannelID}
	} else {
		delete(s.locations, u.UserID)
	}

	return transitions
}

// ForgetGuild drops every tracked location in the guild and reports how
// many were dropped. Used when a guild becomes unavailable and its
// members' states can no longer be trusted.
func (s *GuildState) ForgetGuild(guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	forgotten := 0
	for userID, loc := range s.locations {
		if loc.guildID == guildID {
			delete(s.locations, userID)
			forgotten++
		}
	}
	return forgotten
}
