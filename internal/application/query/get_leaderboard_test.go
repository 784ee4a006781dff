package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeRepo struct {
	mu      sync.Mutex
	records map[shared.UserID]*leveling.UserLevelRecord
	ranks   map[shared.UserID]int
	topErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records: make(map[shared.UserID]*leveling.UserLevelRecord),
		ranks:   make(map[shared.UserID]int),
	}
}

func (r *fakeRepo) seed(userID shared.UserID, xp leveling.XP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[userID] = &leveling.UserLevelRecord{
		UserID:    userID,
		XP:        xp,
		Level:     leveling.LevelForXP(xp),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (r *fakeRepo) GetOrCreate(ctx context.Context, userID shared.UserID) (*leveling.UserLevelRecord, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *fakeRepo) AwardXP(ctx context.Context, userID shared.UserID, delta leveling.XP) (*leveling.AwardResult, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) GetByUserID(ctx context.Context, userID shared.UserID) (*leveling.UserLevelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[userID]
	if !ok {
		return nil, shared.ErrRecordNotFound
	}
	return record, nil
}

func (r *fakeRepo) TopUsers(ctx context.Context, limit int) ([]*leveling.UserLevelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topErr != nil {
		return nil, r.topErr
	}

	out := make([]*leveling.UserLevelRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].XP > out[j].XP
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Rank(ctx context.Context, userID shared.UserID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ranks[userID], nil
}

func (r *fakeRepo) CountUsers(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records), nil
}

type fakeCache struct {
	entries  []LeaderboardEntryDTO
	topErr   error
	fills    int
	lastFill []LeaderboardEntryDTO
}

func (c *fakeCache) Top(ctx context.Context, limit int) ([]LeaderboardEntryDTO, error) {
	if c.topErr != nil {
		return nil, c.topErr
	}
	if len(c.entries) > limit {
		return c.entries[:limit], nil
	}
	return c.entries, nil
}

func (c *fakeCache) Fill(ctx context.Context, entries []LeaderboardEntryDTO) error {
	c.fills++
	c.lastFill = entries
	c.entries = entries
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetLeaderboard_OrderingLevelThenXP(t *testing.T) {
	repo := newFakeRepo()
	// Одинаковый уровень у двух пользователей - решает XP
	repo.seed(shared.UserID("100000000000000001"), 150) // level 2
	repo.seed(shared.UserID("100000000000000002"), 390) // level 2, больше XP
	repo.seed(shared.UserID("100000000000000003"), 500) // level 3

	handler := NewGetLeaderboardHandler(repo, nil, nil)
	dto, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 10})
	require.NoError(t, err)

	require.Len(t, dto.Entries, 3)
	assert.Equal(t, "100000000000000003", dto.Entries[0].UserID)
	assert.Equal(t, "100000000000000002", dto.Entries[1].UserID)
	assert.Equal(t, "100000000000000001", dto.Entries[2].UserID)

	// Ранги присваиваются последовательно с единицы
	assert.Equal(t, 1, dto.Entries[0].Rank)
	assert.Equal(t, 2, dto.Entries[1].Rank)
	assert.Equal(t, 3, dto.Entries[2].Rank)

	assert.False(t, dto.FromCache)
	assert.Equal(t, 3, dto.TotalUsers)
}

func TestGetLeaderboard_CacheHit(t *testing.T) {
	repo := newFakeRepo()
	repo.topErr = errors.New("store must not be touched on cache hit")

	cache := &fakeCache{entries: []LeaderboardEntryDTO{
		{Rank: 1, UserID: "100000000000000001", Level: 5, XP: 2000},
	}}

	handler := NewGetLeaderboardHandler(repo, cache, nil)
	dto, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 1})
	require.NoError(t, err)

	assert.True(t, dto.FromCache)
	require.Len(t, dto.Entries, 1)
	assert.Equal(t, 5, dto.Entries[0].Level)
}

func TestGetLeaderboard_ShortCacheFallsBackToStore(t *testing.T) {
	repo := newFakeRepo()
	for i := 0; i < 20; i++ {
		repo.seed(shared.UserID(fmt.Sprintf("1000000000000000%02d", i)), leveling.XP(100*(i+1)))
	}

	// Кеш держит меньше записей, чем просит запрос: отдать его значило бы
	// молча усечь лидерборд
	cache := &fakeCache{entries: []LeaderboardEntryDTO{
		{Rank: 1, UserID: "100000000000000019", Level: 5, XP: 2000},
	}}

	handler := NewGetLeaderboardHandler(repo, cache, nil)
	dto, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 20})
	require.NoError(t, err)

	assert.False(t, dto.FromCache)
	assert.Len(t, dto.Entries, 20)
}

func TestGetLeaderboard_QueryPathDoesNotFillCache(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(shared.UserID("100000000000000001"), 300)

	cache := &fakeCache{}
	handler := NewGetLeaderboardHandler(repo, cache, nil)

	dto, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 10})
	require.NoError(t, err)

	assert.False(t, dto.FromCache)
	assert.Zero(t, cache.fills)
}

func TestGetLeaderboard_SmallQueryDoesNotTruncateLargerOnes(t *testing.T) {
	repo := newFakeRepo()
	for i := 0; i < 50; i++ {
		repo.seed(shared.UserID(fmt.Sprintf("1000000000000000%02d", i)), leveling.XP(100*(i+1)))
	}

	// fakeCache сохраняет всё, что в него пишут; будь у запросного пути
	// право на Fill, limit=5 оставил бы в кеше пять записей
	cache := &fakeCache{}
	handler := NewGetLeaderboardHandler(repo, cache, nil)

	small, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 5})
	require.NoError(t, err)
	require.Len(t, small.Entries, 5)

	large, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, large.Entries, 50)
	assert.False(t, large.FromCache)
}

func TestGetLeaderboard_CacheErrorFallsBack(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(shared.UserID("100000000000000001"), 300)

	cache := &fakeCache{topErr: errors.New("redis down")}
	handler := NewGetLeaderboardHandler(repo, cache, nil)

	dto, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 10})
	require.NoError(t, err)
	assert.False(t, dto.FromCache)
	assert.Len(t, dto.Entries, 1)
}

func TestGetLeaderboard_EmptyStore(t *testing.T) {
	handler := NewGetLeaderboardHandler(newFakeRepo(), nil, nil)

	dto, err := handler.Handle(context.Background(), GetLeaderboardQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, dto.Entries)
	assert.Equal(t, 0, dto.TotalUsers)
}

func TestGetLeaderboard_LimitDefaultsAndClamping(t *testing.T) {
	q := GetLeaderboardQuery{}
	require.NoError(t, q.Validate())
	assert.Equal(t, 10, q.Limit)

	q = GetLeaderboardQuery{Limit: 500}
	require.NoError(t, q.Validate())
	assert.Equal(t, 100, q.Limit)

	q = GetLeaderboardQuery{Limit: -1}
	assert.Error(t, q.Validate())
}

func TestMapRecords(t *testing.T) {
	records := []*leveling.UserLevelRecord{
		{UserID: shared.UserID("100000000000000001"), XP: 400, Level: 3},
		{UserID: shared.UserID("100000000000000002"), XP: 100, Level: 2},
	}

	entries := MapRecords(records)
	require.Len(t, entries, 2)
	assert.Equal(t, LeaderboardEntryDTO{Rank: 1, UserID: "100000000000000001", Level: 3, XP: 400}, entries[0])
	assert.Equal(t, LeaderboardEntryDTO{Rank: 2, UserID: "100000000000000002", Level: 2, XP: 100}, entries[1])
}
