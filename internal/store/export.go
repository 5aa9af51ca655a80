package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/simpatient/internal/model"
)

// ExportEvaluations builds the export document of all recorded evaluations,
// optionally restricted to one case.
func (s *Store) ExportEvaluations(ctx context.Context, caseID string) (model.EvaluationExport, error) {
	records, err := s.ListEvaluations(ctx)
	if err != nil {
		return model.EvaluationExport{}, fmt.Errorf("list evaluations: %w", err)
	}

	results := make([]model.EvaluationRecord, 0, len(records))
	for _, rec := range records {
		if caseID != "" && rec.CaseID != caseID {
			continue
		}
		results = append(results, rec)
	}

	return model.EvaluationExport{
		ExportedAt: s.now().UTC(),
		Count:      len(results),
		Results:    results,
	}, nil
}
