package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"replybot/internal/pipeline"
	"replybot/internal/utils"
)

var ErrNotFound = errors.New("reply item not found")

// Store is the optional Postgres ledger of item states.
type Store struct {
	pool *pgxpool.Pool
}

type ReplyItem struct {
	ID          string
	State       string
	FailedStage *string
	Error       *string
	VideoPath   *string
	RunID       *string
	UpdatedAt   time.Time
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// transitionArgs maps a transition onto the reply_items upsert parameters.
func transitionArgs(t pipeline.Transition) []any {
	return []any{
		t.ID,
		string(t.State),
		nullString(string(t.Stage)),
		nullString(errString(t.Err)),
		nullString(t.VideoPath),
		nullString(t.RunID),
	}
}

// recordSQL upserts the latest state for an item. Failure columns always take
// the new values, so a later success clears them. A failure also clears
// video_path: the pipeline deletes the previous video before re-rendering.
const recordSQL = `
	INSERT INTO reply_items (id, state, failed_stage, error, video_path, run_id, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		failed_stage = EXCLUDED.failed_stage,
		error = EXCLUDED.error,
		video_path = CASE WHEN EXCLUDED.state = 'FAILED' THEN NULL
			ELSE COALESCE(EXCLUDED.video_path, reply_items.video_path) END,
		run_id = COALESCE(EXCLUDED.run_id, reply_items.run_id),
		updated_at = NOW()
`

func (s *Store) Record(ctx context.Context, t pipeline.Transition) error {
	utils.Debug("db record", "id", t.ID, "state", t.State)
	_, err := s.pool.Exec(ctx, recordSQL, transitionArgs(t)...)
	return err
}

func (s *Store) GetItem(ctx context.Context, id string) (ReplyItem, error) {
	utils.Debug("db get item", "id", id)
	row := s.pool.QueryRow(ctx, `
		SELECT id, state, failed_stage, error, video_path, run_id, updated_at
		FROM reply_items
		WHERE id = $1
	`, id)

	var it ReplyItem
	err := row.Scan(&it.ID, &it.State, &it.FailedStage, &it.Error, &it.VideoPath, &it.RunID, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReplyItem{}, ErrNotFound
		}
		return ReplyItem{}, err
	}
	return it, nil
}

func (s *Store) ListByState(ctx context.Context, state string, limit int) ([]ReplyItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, state, failed_stage, error, video_path, run_id, updated_at
		FROM reply_items
		WHERE state = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReplyItem
	for rows.Next() {
		var it ReplyItem
		if err := rows.Scan(&it.ID, &it.State, &it.FailedStage, &it.Error, &it.VideoPath, &it.RunID, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM reply_items GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
