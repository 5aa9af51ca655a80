package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/simpatient/internal/model"
)

// RecordEvaluation stores a scored session. Re-evaluating a session adds a
// new record; GetEvaluation returns the latest.
func (s *Store) RecordEvaluation(ctx context.Context, rec model.EvaluationRecord) (int64, error) {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return 0, fmt.Errorf("marshal transcript: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return 0, fmt.Errorf("marshal result: %w", err)
	}
	evaluatedAt := rec.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (session_id, case_id, patient_name, overall_score, transcript, result, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.CaseID, rec.PatientName, rec.Result.Scores.OverallScore,
		string(transcript), string(result), evaluatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetEvaluation returns the latest evaluation for a session, or nil if the
// session was never evaluated.
func (s *Store) GetEvaluation(ctx context.Context, sessionID string) (*model.EvaluationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, case_id, patient_name, transcript, result, evaluated_at
		 FROM evaluations WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID,
	)
	rec, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListEvaluations returns every recorded evaluation, oldest first.
func (s *Store) ListEvaluations(ctx context.Context) ([]model.EvaluationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, case_id, patient_name, transcript, result, evaluated_at
		 FROM evaluations ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.EvaluationRecord
	for rows.Next() {
		rec, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EvaluationCount returns the number of recorded evaluations.
func (s *Store) EvaluationCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(sc scanner) (model.EvaluationRecord, error) {
	var rec model.EvaluationRecord
	var transcript, result string
	if err := sc.Scan(&rec.SessionID, &rec.CaseID, &rec.PatientName, &transcript, &result, &rec.EvaluatedAt); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(transcript), &rec.Transcript); err != nil {
		return rec, fmt.Errorf("decode transcript of %s: %w", rec.SessionID, err)
	}
	if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
		return rec, fmt.Errorf("decode result of %s: %w", rec.SessionID, err)
	}
	return rec, nil
}
