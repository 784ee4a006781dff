package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

const (
	vsUser    = "100000000000000001"
	vsGuild   = "200000000000000001"
	vsChannel = "300000000000000001"
	vsOther   = "300000000000000002"
	vsAFK     = "300000000000000099"
)

func TestApply_FirstJoinProducesEnter(t *testing.T) {
	state := NewGuildState()

	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})

	require.Len(t, transitions, 1)
	assert.Equal(t, TransitionEnter, transitions[0].Kind)
	assert.Equal(t, shared.ChannelID(vsChannel), transitions[0].State.ChannelID)
	assert.False(t, transitions[0].State.IsAFKChannel)
}

func TestApply_DisconnectProducesLeave(t *testing.T) {
	state := NewGuildState()
	state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})

	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: ""})

	require.Len(t, transitions, 1)
	assert.Equal(t, TransitionLeave, transitions[0].Kind)
	assert.Equal(t, shared.ChannelID(vsChannel), transitions[0].State.ChannelID)
}

func TestApply_MoveProducesLeaveThenEnter(t *testing.T) {
	state := NewGuildState()
	state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})

	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsOther})

	require.Len(t, transitions, 2)
	assert.Equal(t, TransitionLeave, transitions[0].Kind)
	assert.Equal(t, shared.ChannelID(vsChannel), transitions[0].State.ChannelID)
	assert.Equal(t, TransitionEnter, transitions[1].Kind)
	assert.Equal(t, shared.ChannelID(vsOther), transitions[1].State.ChannelID)
}

func TestApply_SameChannelUpdateIsNoop(t *testing.T) {
	state := NewGuildState()
	state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})

	// Mute/deafen приходят тем же VOICE_STATE_UPDATE с тем же каналом
	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})
	assert.Empty(t, transitions)
}

func TestApply_LeaveWithoutTrackedLocation(t *testing.T) {
	state := NewGuildState()

	// Отключение пользователя, которого мы не видели (рестарт процесса)
	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: ""})
	assert.Empty(t, transitions)
}

func TestApply_AFKFlags(t *testing.T) {
	state := NewGuildState()
	state.SetAFKChannel(vsGuild, vsAFK)

	// Вход в AFK-канал помечается флагом
	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsAFK})
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].State.IsAFKChannel)

	// Перемещение из AFK в обычный канал: leave с AFK-флагом, enter без
	transitions = state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})
	require.Len(t, transitions, 2)
	assert.Equal(t, TransitionLeave, transitions[0].Kind)
	assert.True(t, transitions[0].State.IsAFKChannel)
	assert.Equal(t, TransitionEnter, transitions[1].Kind)
	assert.False(t, transitions[1].State.IsAFKChannel)
}

func TestApply_MoveIntoAFK(t *testing.T) {
	state := NewGuildState()
	state.SetAFKChannel(vsGuild, vsAFK)
	state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})

	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsAFK})
	require.Len(t, transitions, 2)
	assert.False(t, transitions[0].State.IsAFKChannel)
	assert.True(t, transitions[1].State.IsAFKChannel)
}

func TestApply_BotFlagSticksAcrossUpdates(t *testing.T) {
	state := NewGuildState()

	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel, IsBot: true})
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].State.IsBot)

	// Последующие апдейты без member-данных всё равно знают, что это бот
	transitions = state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: ""})
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].State.IsBot)
}

func TestApply_MarkBotFromGuildRoster(t *testing.T) {
	state := NewGuildState()
	state.MarkBot(vsUser)

	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].State.IsBot)
	assert.True(t, state.IsBot(vsUser))
}

func TestIsAFKChannel(t *testing.T) {
	state := NewGuildState()
	state.SetAFKChannel(vsGuild, vsAFK)

	assert.True(t, state.IsAFKChannel(vsGuild, vsAFK))
	assert.False(t, state.IsAFKChannel(vsGuild, vsChannel))
	assert.False(t, state.IsAFKChannel(vsGuild, ""))

	// Гильдия без AFK-канала
	state.SetAFKChannel(vsGuild, "")
	assert.False(t, state.IsAFKChannel(vsGuild, vsAFK))
}

func TestForgetGuild(t *testing.T) {
	state := NewGuildState()
	state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsChannel})
	state.Apply(VoiceUpdate{UserID: "100000000000000002", GuildID: vsGuild, ChannelID: vsOther})
	state.Apply(VoiceUpdate{UserID: "100000000000000003", GuildID: "200000000000000002", ChannelID: vsChannel})

	assert.Equal(t, 2, state.ForgetGuild(vsGuild))

	// После ForgetGuild следующий апдейт не производит leave
	transitions := state.Apply(VoiceUpdate{UserID: vsUser, GuildID: vsGuild, ChannelID: vsOther})
	require.Len(t, transitions, 1)
	assert.Equal(t, TransitionEnter, transitions[0].Kind)

	// Чужая гильдия не затронута: у её участника leave сохранился
	transitions = state.Apply(VoiceUpdate{UserID: "100000000000000003", GuildID: "200000000000000002", ChannelID: ""})
	require.Len(t, transitions, 1)
	assert.Equal(t, TransitionLeave, transitions[0].Kind)

	assert.Zero(t, state.ForgetGuild(vsGuild))
}
