package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triage/triage/internal/platform/db"
	"github.com/triage/triage/internal/platform/ml"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

func (r *sessionRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const sessionCols = `id, patient_id, state, patient, reports, questions_asked,
	pending_question, result, created_at, updated_at, completed_at`

func (r *sessionRepoPG) scanSession(row pgx.Row) (*Session, error) {
	var (
		s          Session
		patientRaw []byte
		reportsRaw []byte
		resultRaw  []byte
	)
	err := row.Scan(&s.ID, &s.PatientID, &s.State, &patientRaw, &reportsRaw, &s.QuestionsAsked,
		&s.PendingQuestion, &resultRaw, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(patientRaw, &s.Patient); err != nil {
		return nil, fmt.Errorf("decode patient context: %w", err)
	}
	if err := json.Unmarshal(reportsRaw, &s.Reports); err != nil {
		return nil, fmt.Errorf("decode symptom reports: %w", err)
	}
	if len(resultRaw) > 0 {
		var result ml.Prediction
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return nil, fmt.Errorf("decode prediction result: %w", err)
		}
		s.Result = &result
	}
	return &s, nil
}

func (r *sessionRepoPG) encode(s *Session) (patient, reports, result []byte, err error) {
	if patient, err = json.Marshal(s.Patient); err != nil {
		return nil, nil, nil, fmt.Errorf("encode patient context: %w", err)
	}
	if s.Reports == nil {
		reports = []byte("[]")
	} else if reports, err = json.Marshal(s.Reports); err != nil {
		return nil, nil, nil, fmt.Errorf("encode symptom reports: %w", err)
	}
	if s.Result != nil {
		if result, err = json.Marshal(s.Result); err != nil {
			return nil, nil, nil, fmt.Errorf("encode prediction result: %w", err)
		}
	}
	return patient, reports, result, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	patient, reports, result, err := r.encode(s)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO triage_session (id, patient_id, state, patient, reports, questions_asked,
			pending_question, result, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.PatientID, s.State, patient, reports, s.QuestionsAsked,
		s.PendingQuestion, result, s.CompletedAt)
	return err
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM triage_session WHERE id = $1`, id))
}

func (r *sessionRepoPG) Update(ctx context.Context, s *Session) error {
	patient, reports, result, err := r.encode(s)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE triage_session SET state=$2, patient=$3, reports=$4, questions_asked=$5,
			pending_question=$6, result=$7, completed_at=$8, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.State, patient, reports, s.QuestionsAsked,
		s.PendingQuestion, result, s.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM triage_session WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sessionCols+` FROM triage_session WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, nil
}

func (r *sessionRepoPG) ListIdleBefore(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sessionCols+` FROM triage_session
		 WHERE state IN ($1, $2) AND updated_at < $3`,
		StateCollectingInitial, StateQuestioning, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, nil
}
