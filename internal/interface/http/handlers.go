package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/application/query"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/guild"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns basic service information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "shiva-voice-hub",
		"status":  "running",
		"uptime":  s.Uptime().String(),
	})
}

// handleLive is the liveness probe: the process is up.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady is the readiness probe: the database must answer. Cache
// degradation does not fail readiness - the leaderboard falls back to
// the store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(ctx); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleHealth reports per-dependency health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(ctx); err != nil {
			checks["database"] = "down: " + err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Ping(ctx); err != nil {
			checks["cache"] = "down: " + err.Error()
		} else {
			checks["cache"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"healthy": healthy,
		"checks":  checks,
		"uptime":  s.Uptime().String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// API HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard returns the top users ordered by level, then XP.
//
// GET /api/v1/leaderboard?limit=10
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetLeaderboardHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Leaderboard is not available")
		return
	}

	q := query.GetLeaderboardQuery{
		Limit: queryInt(r, "limit", 10),
	}

	result, err := s.deps.GetLeaderboardHandler.Handle(r.Context(), q)
	if err != nil {
		s.logger.Error("leaderboard query failed",
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeJSONError(w, http.StatusInternalServerError, "query_failed", "Failed to load leaderboard")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{
		TotalCount: result.TotalUsers,
	})
}

// handleGetUserLevel returns a single user's level and XP progress.
//
// GET /api/v1/levels/{id}?rank=true
func (s *Server) handleGetUserLevel(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetUserLevelHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Level lookup is not available")
		return
	}

	userID := shared.UserID(r.PathValue("id"))
	if !userID.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_user_id", "User ID must be a Discord snowflake")
		return
	}

	q := query.GetUserLevelQuery{
		UserID:      userID,
		IncludeRank: queryBool(r, "rank"),
	}

	result, err := s.deps.GetUserLevelHandler.Handle(r.Context(), q)
	if err != nil {
		if errors.Is(err, query.ErrUserLevelNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "User has no recorded voice activity")
			return
		}
		s.logger.Error("user level query failed",
			"user_id", userID.String(),
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeJSONError(w, http.StatusInternalServerError, "query_failed", "Failed to load user level")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// guildSettingsRequest is the admin payload. Pointer fields distinguish
// "leave as is" from "set to empty".
type guildSettingsRequest struct {
	LevelingChannelID *string   `json:"leveling_channel_id"`
	EmbedColor        *string   `json:"embed_color"`
	LevelUpMessages   *[]string `json:"level_up_messages"`
}

// handleUpdateGuildSettings updates the announcement settings that
// admins control. Channels observed by the gateway (system, AFK) are
// not writable here.
//
// PUT /api/v1/guilds/{id}/settings
func (s *Server) handleUpdateGuildSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.GuildSettings == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_available", "Guild settings are not available")
		return
	}

	guildID := shared.GuildID(r.PathValue("id"))
	if !guildID.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_guild_id", "Guild ID must be a Discord snowflake")
		return
	}

	var req guildSettingsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	if req.EmbedColor != nil && !validEmbedColor(*req.EmbedColor) {
		writeJSONError(w, http.StatusBadRequest, "invalid_embed_color", "Embed color must be a #rrggbb hex value")
		return
	}
	if req.LevelingChannelID != nil && *req.LevelingChannelID != "" {
		if !shared.ChannelID(*req.LevelingChannelID).IsValid() {
			writeJSONError(w, http.StatusBadRequest, "invalid_channel_id", "Leveling channel ID must be a Discord snowflake")
			return
		}
	}

	settings, err := s.deps.GuildSettings.GetOrDefault(r.Context(), guildID)
	if err != nil {
		s.logger.Error("guild settings load failed",
			"guild_id", guildID.String(),
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeJSONError(w, http.StatusInternalServerError, "settings_load_failed", "Failed to load guild settings")
		return
	}

	if req.LevelingChannelID != nil {
		settings.LevelingChannelID = shared.ChannelID(*req.LevelingChannelID)
	}
	if req.EmbedColor != nil {
		settings.EmbedColor = *req.EmbedColor
	}
	if req.LevelUpMessages != nil {
		settings.LevelUpMessages = *req.LevelUpMessages
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := s.deps.GuildSettings.Upsert(r.Context(), settings); err != nil {
		s.logger.Error("guild settings save failed",
			"guild_id", guildID.String(),
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeJSONError(w, http.StatusInternalServerError, "settings_save_failed", "Failed to save guild settings")
		return
	}

	writeJSON(w, http.StatusOK, guildSettingsView(settings))
}

func validEmbedColor(c string) bool {
	if len(c) != 7 || !strings.HasPrefix(c, "#") {
		return false
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func guildSettingsView(s *guild.Settings) map[string]interface{} {
	return map[string]interface{}{
		"guild_id":            s.GuildID.String(),
		"leveling_channel_id": string(s.LevelingChannelID),
		"embed_color":         s.EmbedColor,
		"level_up_messages":   s.LevelUpMessages,
		"updated_at":          s.UpdatedAt,
	}
}
