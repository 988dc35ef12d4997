package feedback

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triage/triage/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Feedback Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const feedbackCols = `id, session_id, patient_id, accurate, confirmed_condition, note, created_at`

func (r *repoPG) scan(row pgx.Row) (*Feedback, error) {
	var f Feedback
	err := row.Scan(&f.ID, &f.SessionID, &f.PatientID, &f.Accurate,
		&f.ConfirmedCondition, &f.Note, &f.CreatedAt)
	return &f, err
}

func (r *repoPG) Create(ctx context.Context, f *Feedback) error {
	f.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO session_feedback (id, session_id, patient_id, accurate, confirmed_condition, note)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		f.ID, f.SessionID, f.PatientID, f.Accurate, f.ConfirmedCondition, f.Note)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Feedback, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+feedbackCols+` FROM session_feedback WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Feedback, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM session_feedback`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+feedbackCols+` FROM session_feedback ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Feedback
	for rows.Next() {
		f, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, nil
}

func (r *repoPG) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Feedback, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+feedbackCols+` FROM session_feedback WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Feedback
	for rows.Next() {
		f, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, nil
}

func (r *repoPG) ListCorrections(ctx context.Context) ([]*Feedback, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+feedbackCols+` FROM session_feedback WHERE confirmed_condition <> '' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Feedback
	for rows.Next() {
		f, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, nil
}

// =========== Training Run Repository ===========

type runRepoPG struct{ pool *pgxpool.Pool }

func NewTrainingRunRepoPG(pool *pgxpool.Pool) TrainingRunRepository { return &runRepoPG{pool: pool} }

func (r *runRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const runCols = `id, started_at, completed_at, outcome, model_version,
	training_set_size, validation_accuracy, feedback_applied, error`

func (r *runRepoPG) scan(row pgx.Row) (*TrainingRun, error) {
	var run TrainingRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.CompletedAt, &run.Outcome, &run.ModelVersion,
		&run.TrainingSetSize, &run.ValidationAccuracy, &run.FeedbackApplied, &run.Error)
	return &run, err
}

func (r *runRepoPG) Create(ctx context.Context, run *TrainingRun) error {
	run.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO training_run (id, started_at, completed_at, outcome, model_version,
			training_set_size, validation_accuracy, feedback_applied, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.StartedAt, run.CompletedAt, run.Outcome, run.ModelVersion,
		run.TrainingSetSize, run.ValidationAccuracy, run.FeedbackApplied, run.Error)
	return err
}

func (r *runRepoPG) Update(ctx context.Context, run *TrainingRun) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE training_run SET completed_at=$2, outcome=$3, model_version=$4,
			training_set_size=$5, validation_accuracy=$6, feedback_applied=$7, error=$8
		WHERE id = $1`,
		run.ID, run.CompletedAt, run.Outcome, run.ModelVersion,
		run.TrainingSetSize, run.ValidationAccuracy, run.FeedbackApplied, run.Error)
	return err
}

func (r *runRepoPG) List(ctx context.Context, limit, offset int) ([]*TrainingRun, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM training_run`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+runCols+` FROM training_run ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TrainingRun
	for rows.Next() {
		run, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, run)
	}
	return items, total, nil
}

func (r *runRepoPG) Latest(ctx context.Context) (*TrainingRun, error) {
	run, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+runCols+` FROM training_run ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}
