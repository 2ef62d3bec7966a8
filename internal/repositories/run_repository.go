package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
)

// DefaultRunLimit caps ListRuns when no limit is given.
const DefaultRunLimit = 100

var ErrRunExists = errors.New(errors.CodeConflict, "run already recorded")

// RunRepository is the ledger of completed renders.
type RunRepository struct {
	db *pgxpool.Pool
}

func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) CreateRun(ctx context.Context, run models.Run) error {
	outputs := run.Outputs
	if outputs == nil {
		outputs = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO runs (id, scene, format, total_frames, started_at, completed_at, outputs)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, run.ID, run.Scene, run.Format, run.TotalFrames, run.StartedAt, run.CompletedAt, outputs)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(ErrRunExists, "runs.create", "run already recorded").WithField("id", run.ID)
		}
		return errors.Storage(err, "runs.create", "insert run")
	}
	return nil
}

// ListRuns returns the most recently completed runs first. A non-empty
// scene and/or format narrows the result.
func (r *RunRepository) ListRuns(ctx context.Context, scene, format string, limit int) ([]models.Run, error) {
	if limit <= 0 || limit > DefaultRunLimit {
		limit = DefaultRunLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, scene, format, total_frames, started_at, completed_at, outputs, created_at
		FROM runs
		WHERE ($1 = '' OR scene = $1)
		  AND ($2 = '' OR format = $2)
		ORDER BY completed_at DESC, created_at DESC
		LIMIT $3
	`, scene, format, limit)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "runs.list", "run ledger is not migrated")
		}
		return nil, errors.Storage(err, "runs.list", "query runs")
	}
	defer rows.Close()

	out := []models.Run{}
	for rows.Next() {
		var run models.Run
		if err := rows.Scan(
			&run.ID,
			&run.Scene,
			&run.Format,
			&run.TotalFrames,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Outputs,
			&run.CreatedAt,
		); err != nil {
			return nil, errors.Storage(err, "runs.list", "scan run")
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage(err, "runs.list", "read runs")
	}
	return out, nil
}

// Ping reports whether the ledger database is reachable.
func (r *RunRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
