package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva-hub/shiva-voice-hub/internal/application/query"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/guild"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────────────────────────────────────

type fakeLevelStore struct {
	records map[shared.UserID]*leveling.UserLevelRecord
	topErr  error
}

func newFakeLevelStore() *fakeLevelStore {
	return &fakeLevelStore{records: make(map[shared.UserID]*leveling.UserLevelRecord)}
}

func (s *fakeLevelStore) seed(userID string, xp int) {
	id := shared.UserID(userID)
	s.records[id] = &leveling.UserLevelRecord{
		UserID: id,
		XP:     leveling.XP(xp),
		Level:  leveling.LevelForXP(leveling.XP(xp)),
	}
}

func (s *fakeLevelStore) GetOrCreate(_ context.Context, userID shared.UserID) (*leveling.UserLevelRecord, error) {
	if r, ok := s.records[userID]; ok {
		return r, nil
	}
	r := &leveling.UserLevelRecord{UserID: userID, Level: 1}
	s.records[userID] = r
	return r, nil
}

func (s *fakeLevelStore) AwardXP(_ context.Context, userID shared.UserID, delta leveling.XP) (*leveling.AwardResult, error) {
	return nil, errors.New("not used in read-only tests")
}

func (s *fakeLevelStore) GetByUserID(_ context.Context, userID shared.UserID) (*leveling.UserLevelRecord, error) {
	r, ok := s.records[userID]
	if !ok {
		return nil, shared.ErrRecordNotFound
	}
	return r, nil
}

func (s *fakeLevelStore) TopUsers(_ context.Context, limit int) ([]*leveling.UserLevelRecord, error) {
	if s.topErr != nil {
		return nil, s.topErr
	}
	all := make([]*leveling.UserLevelRecord, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Level != all[j].Level {
			return all[i].Level > all[j].Level
		}
		return all[i].XP > all[j].XP
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fakeLevelStore) Rank(_ context.Context, userID shared.UserID) (int, error) {
	all, _ := s.TopUsers(context.Background(), len(s.records))
	for i, r := range all {
		if r.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, shared.ErrRecordNotFound
}

func (s *fakeLevelStore) CountUsers(_ context.Context) (int, error) {
	return len(s.records), nil
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

type fakeGuildSettings struct {
	settings  map[shared.GuildID]*guild.Settings
	upserts   int
	upsertErr error
}

func newFakeGuildSettings() *fakeGuildSettings {
	return &fakeGuildSettings{settings: make(map[shared.GuildID]*guild.Settings)}
}

func (r *fakeGuildSettings) GetOrDefault(_ context.Context, guildID shared.GuildID) (*guild.Settings, error) {
	if s, ok := r.settings[guildID]; ok {
		clone := *s
		return &clone, nil
	}
	return guild.DefaultSettings(guildID), nil
}

func (r *fakeGuildSettings) Upsert(_ context.Context, s *guild.Settings) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserts++
	clone := *s
	r.settings[s.GuildID] = &clone
	return nil
}

func (r *fakeGuildSettings) SyncChannels(_ context.Context, guildID shared.GuildID, systemChannelID, afkChannelID shared.ChannelID) error {
	s, err := r.GetOrDefault(context.Background(), guildID)
	if err != nil {
		return err
	}
	s.SystemChannelID = systemChannelID
	s.AFKChannelID = afkChannelID
	r.settings[guildID] = s
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, store *fakeLevelStore, db, cache HealthChecker) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0

	return NewServer(cfg, Dependencies{
		GetLeaderboardHandler: query.NewGetLeaderboardHandler(store, nil, nil),
		GetUserLevelHandler:   query.NewGetUserLevelHandler(store),
		Database:              db,
		Cache:                 cache,
	})
}

func doRequest(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(body, &resp), "body: %s", body)
	return rec, resp
}

const (
	httpUserA = "111111111111111111"
	httpUserB = "222222222222222222"
	httpUserC = "333333333333333333"
)

// ─────────────────────────────────────────────────────────────────────────────
// Leaderboard endpoint
// ─────────────────────────────────────────────────────────────────────────────

func TestHandleGetLeaderboard_ReturnsOrderedEntries(t *testing.T) {
	store := newFakeLevelStore()
	store.seed(httpUserA, 150) // level 2
	store.seed(httpUserB, 500) // level 3
	store.seed(httpUserC, 50)  // level 1
	s := newTestServer(t, store, &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/api/v1/leaderboard")

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var dto query.LeaderboardDTO
	require.NoError(t, json.Unmarshal(raw, &dto))

	require.Len(t, dto.Entries, 3)
	assert.Equal(t, httpUserB, dto.Entries[0].UserID)
	assert.Equal(t, httpUserA, dto.Entries[1].UserID)
	assert.Equal(t, httpUserC, dto.Entries[2].UserID)
	assert.Equal(t, 1, dto.Entries[0].Rank)
	assert.Equal(t, 3, dto.TotalUsers)
	assert.Equal(t, 3, resp.Meta.TotalCount)
}

func TestHandleGetLeaderboard_LimitParam(t *testing.T) {
	store := newFakeLevelStore()
	store.seed(httpUserA, 150)
	store.seed(httpUserB, 500)
	store.seed(httpUserC, 50)
	s := newTestServer(t, store, &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/api/v1/leaderboard?limit=2")

	require.Equal(t, http.StatusOK, rec.Code)

	raw, _ := json.Marshal(resp.Data)
	var dto query.LeaderboardDTO
	require.NoError(t, json.Unmarshal(raw, &dto))
	assert.Len(t, dto.Entries, 2)
}

func TestHandleGetLeaderboard_StoreFailure(t *testing.T) {
	store := newFakeLevelStore()
	store.topErr = errors.New("connection reset")
	s := newTestServer(t, store, &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/api/v1/leaderboard")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "query_failed", resp.Error.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// User level endpoint
// ─────────────────────────────────────────────────────────────────────────────

func TestHandleGetUserLevel_Found(t *testing.T) {
	store := newFakeLevelStore()
	store.seed(httpUserA, 250) // level 2, next threshold at 400
	s := newTestServer(t, store, &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/api/v1/levels/"+httpUserA)

	require.Equal(t, http.StatusOK, rec.Code)

	raw, _ := json.Marshal(resp.Data)
	var dto query.UserLevelDTO
	require.NoError(t, json.Unmarshal(raw, &dto))
	assert.Equal(t, httpUserA, dto.UserID)
	assert.Equal(t, 250, dto.XP)
	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, 150, dto.XPToNextLevel)
	assert.Zero(t, dto.Rank)
}

func TestHandleGetUserLevel_WithRank(t *testing.T) {
	store := newFakeLevelStore()
	store.seed(httpUserA, 250)
	store.seed(httpUserB, 500)
	s := newTestServer(t, store, &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/api/v1/levels/"+httpUserA+"?rank=true")

	require.Equal(t, http.StatusOK, rec.Code)

	raw, _ := json.Marshal(resp.Data)
	var dto query.UserLevelDTO
	require.NoError(t, json.Unmarshal(raw, &dto))
	assert.Equal(t, 2, dto.Rank)
}

func TestHandleGetUserLevel_NotFound(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/api/v1/levels/"+httpUserA)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestHandleGetUserLevel_InvalidID(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/api/v1/levels/not-a-snowflake")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_user_id", resp.Error.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Health probes
// ─────────────────────────────────────────────────────────────────────────────

func TestHandleReady_DatabaseUp(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), &fakePinger{}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestHandleReady_DatabaseDown(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), &fakePinger{err: errors.New("refused")}, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_ready", resp.Error.Code)
}

func TestHandleHealth_CacheDownDoesNotFailHealth(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), &fakePinger{}, &fakePinger{err: errors.New("refused")})

	rec, resp := doRequest(t, s, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)

	raw, _ := json.Marshal(resp.Data)
	var body struct {
		Healthy bool              `json:"healthy"`
		Checks  map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.True(t, body.Healthy)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Contains(t, body.Checks["cache"], "down")
}

func TestHandleLive(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), nil, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/live")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestHandleRoot_UnknownPath(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), nil, nil)

	rec, resp := doRequest(t, s, http.MethodGet, "/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

func TestRequestIDMiddleware_EchoesProvidedID(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware_PreflightAndHeaders(t *testing.T) {
	s := newTestServer(t, newFakeLevelStore(), nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/leaderboard", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware_Blocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 2
	s := NewServer(cfg, Dependencies{})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/live", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		last = httptest.NewRecorder()
		s.httpServer.Handler.ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
}

func TestRateLimiter_PerKeyIsolation(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Guild settings endpoint
// ─────────────────────────────────────────────────────────────────────────────

const httpGuild = "999999999999999999"

func newSettingsServer(t *testing.T, repo *fakeGuildSettings) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return NewServer(cfg, Dependencies{GuildSettings: repo})
}

func putSettings(t *testing.T, s *Server, guildID, body string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/guilds/"+guildID+"/settings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return rec, resp
}

func TestUpdateGuildSettings_PersistsAdminFields(t *testing.T) {
	repo := newFakeGuildSettings()
	s := newSettingsServer(t, repo)

	rec, resp := putSettings(t, s, httpGuild,
		`{"leveling_channel_id":"444444444444444444","embed_color":"#ff8800","level_up_messages":["GG {user}, level {level}!"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	require.Equal(t, 1, repo.upserts)

	saved := repo.settings[shared.GuildID(httpGuild)]
	require.NotNil(t, saved)
	assert.Equal(t, shared.ChannelID("444444444444444444"), saved.LevelingChannelID)
	assert.Equal(t, "#ff8800", saved.EmbedColor)
	assert.Equal(t, []string{"GG {user}, level {level}!"}, saved.LevelUpMessages)
}

func TestUpdateGuildSettings_KeepsGatewayObservedChannels(t *testing.T) {
	repo := newFakeGuildSettings()
	require.NoError(t, repo.SyncChannels(context.Background(),
		shared.GuildID(httpGuild), "555555555555555555", "666666666666666666"))
	s := newSettingsServer(t, repo)

	rec, _ := putSettings(t, s, httpGuild, `{"embed_color":"#123abc"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	saved := repo.settings[shared.GuildID(httpGuild)]
	assert.Equal(t, shared.ChannelID("555555555555555555"), saved.SystemChannelID)
	assert.Equal(t, shared.ChannelID("666666666666666666"), saved.AFKChannelID)
	assert.Equal(t, "#123abc", saved.EmbedColor)
}

func TestUpdateGuildSettings_OmittedFieldsUntouched(t *testing.T) {
	repo := newFakeGuildSettings()
	repo.settings[shared.GuildID(httpGuild)] = &guild.Settings{
		GuildID:           shared.GuildID(httpGuild),
		LevelingChannelID: "444444444444444444",
		EmbedColor:        "#ff8800",
	}
	s := newSettingsServer(t, repo)

	rec, _ := putSettings(t, s, httpGuild, `{"level_up_messages":[]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	saved := repo.settings[shared.GuildID(httpGuild)]
	assert.Equal(t, shared.ChannelID("444444444444444444"), saved.LevelingChannelID)
	assert.Equal(t, "#ff8800", saved.EmbedColor)
	assert.Empty(t, saved.LevelUpMessages)
}

func TestUpdateGuildSettings_RejectsBadInput(t *testing.T) {
	repo := newFakeGuildSettings()
	s := newSettingsServer(t, repo)

	cases := []struct {
		name    string
		guildID string
		body    string
		code    string
	}{
		{"bad guild id", "not-a-snowflake", `{}`, "invalid_guild_id"},
		{"bad json", httpGuild, `{`, "invalid_body"},
		{"unknown field", httpGuild, `{"system_channel_id":"123"}`, "invalid_body"},
		{"bad color", httpGuild, `{"embed_color":"green"}`, "invalid_embed_color"},
		{"bad channel", httpGuild, `{"leveling_channel_id":"abc"}`, "invalid_channel_id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := putSettings(t, s, tc.guildID, tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Zero(t, repo.upserts)
		})
	}
}

func TestUpdateGuildSettings_NotConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	s := NewServer(cfg, Dependencies{})

	rec, resp := putSettings(t, s, httpGuild, `{}`)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_available", resp.Error.Code)
}
