// Package postgres implements the PostgreSQL persistence layer for the
// Shiva voice hub.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER LEVEL REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UserLevelRepository implements leveling.Repository for PostgreSQL.
type UserLevelRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewUserLevelRepository creates a new UserLevelRepository.
func NewUserLevelRepository(conn *Connection) *UserLevelRepository {
	return &UserLevelRepository{conn: conn, now: time.Now}
}

// GetOrCreate returns the record for a user, creating it with the defaults
// {xp: 0, level: 1} on first contact. INSERT .. ON CONFLICT DO NOTHING makes
// concurrent first-time awards converge on a single row.
func (r *UserLevelRepository) GetOrCreate(ctx context.Context, userID shared.UserID) (*leveling.UserLevelRecord, error) {
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}

	now := r.now().UTC()
	insert := `
		INSERT INTO user_levels (user_id, xp, level, created_at, updated_at)
		VALUES ($1, 0, 1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.conn.Exec(ctx, insert, userID.String(), now); err != nil {
		return nil, fmt.Errorf("failed to create level record: %w", err)
	}

	return r.GetByUserID(ctx, userID)
}

// AwardXP atomically grants delta XP and recomputes the level from the new
// XP inside the same transaction. SELECT .. FOR UPDATE serializes concurrent
// awards for one user so the read-modify-write cannot lose an update, even
// with multiple bot instances sharing the store.
func (r *UserLevelRepository) AwardXP(ctx context.Context, userID shared.UserID, delta leveling.XP) (*leveling.AwardResult, error) {
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if delta < 0 {
		return nil, leveling.ErrNegativeDelta
	}

	now := r.now().UTC()
	result := &leveling.AwardResult{}

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO user_levels (user_id, xp, level, created_at, updated_at)
			VALUES ($1, 0, 1, $2, $2)
			ON CONFLICT (user_id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, insert, userID.String(), now)
		if err != nil {
			return fmt.Errorf("failed to ensure level record: %w", err)
		}
		result.Created = tag.RowsAffected() > 0

		record := &leveling.UserLevelRecord{UserID: userID}
		var xp, level int
		row := tx.QueryRow(ctx,
			`SELECT xp, level, created_at, updated_at FROM user_levels WHERE user_id = $1 FOR UPDATE`,
			userID.String(),
		)
		if err := row.Scan(&xp, &level, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return fmt.Errorf("failed to lock level record: %w", err)
		}
		record.XP = leveling.XP(xp)
		record.Level = leveling.Level(level)

		outcome, err := record.ApplyAward(delta, now)
		if err != nil {
			return err
		}

		update := `UPDATE user_levels SET xp = $2, level = $3, updated_at = $4 WHERE user_id = $1`
		if _, err := tx.Exec(ctx, update,
			userID.String(), record.XP.Int(), record.Level.Int(), record.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to update level record: %w", err)
		}

		history := `
			INSERT INTO xp_history (id, user_id, old_xp, new_xp, delta, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		oldXP := record.XP.Int() - outcome.Delta.Int()
		if _, err := tx.Exec(ctx, history,
			uuid.New().String(), userID.String(), oldXP, record.XP.Int(), outcome.Delta.Int(), now,
		); err != nil {
			return fmt.Errorf("failed to record xp history: %w", err)
		}

		result.Record = record
		result.Outcome = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetByUserID returns a record by user ID.
func (r *UserLevelRepository) GetByUserID(ctx context.Context, userID shared.UserID) (*leveling.UserLevelRecord, error) {
	query := `SELECT user_id, xp, level, created_at, updated_at FROM user_levels WHERE user_id = $1`

	record, err := scanRecord(r.conn.QueryRow(ctx, query, userID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get level record: %w", err)
	}
	return record, nil
}

// TopUsers returns the top N records ranked by level DESC, xp DESC.
func (r *UserLevelRepository) TopUsers(ctx context.Context, limit int) ([]*leveling.UserLevelRecord, error) {
	if limit <= 0 {
		return []*leveling.UserLevelRecord{}, nil
	}

	query := `
		SELECT user_id, xp, level, created_at, updated_at
		FROM user_levels
		ORDER BY level DESC, xp DESC, user_id ASC
		LIMIT $1
	`
	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	records := make([]*leveling.UserLevelRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Rank returns the user's 1-based position in the global ranking.
// The row comparison is lexicographic: level first, xp as tiebreaker.
func (r *UserLevelRepository) Rank(ctx context.Context, userID shared.UserID) (int, error) {
	var exists bool
	if err := r.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_levels WHERE user_id = $1)`, userID.String(),
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	if !exists {
		return 0, shared.ErrRecordNotFound
	}

	query := `
		SELECT COUNT(*) + 1
		FROM user_levels
		WHERE (level, xp) > (SELECT level, xp FROM user_levels WHERE user_id = $1)
	`
	var rank int
	if err := r.conn.QueryRow(ctx, query, userID.String()).Scan(&rank); err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	return rank, nil
}

// CountUsers returns the total number of level records.
func (r *UserLevelRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM user_levels`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count level records: %w", err)
	}
	return count, nil
}

func scanRecord(row pgx.Row) (*leveling.UserLevelRecord, error) {
	var (
		userID    string
		xp, level int
		record    leveling.UserLevelRecord
	)
	if err := row.Scan(&userID, &xp, &level, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}
	record.UserID = shared.UserID(userID)
	record.XP = leveling.XP(xp)
	record.Level = leveling.Level(level)
	return &record, nil
}
