// Package audit records the append-only history of every problem.
package audit

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/apperr"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "audit").Logger()}
}

// Append writes one audit row. Called inside the transaction of the change
// it records, so a failure here aborts that change.
func (s *Service) Append(ctx context.Context, e *Entry) error {
	fields := map[string]string{}
	if e.ProblemID <= 0 {
		fields["problem_id"] = "required"
	}
	if e.UpdatedBy <= 0 {
		fields["updated_by"] = "required"
	}
	if !e.UpdateType.Valid() {
		fields["update_type"] = "invalid"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid audit entry", fields)
	}
	e.Notes = strings.TrimSpace(e.Notes)

	if err := s.repo.Append(ctx, e); err != nil {
		return apperr.Infrastructure("append audit entry", err)
	}

	s.logger.Debug().
		Int64("problem_id", e.ProblemID).
		Int64("actor_id", e.UpdatedBy).
		Str("update_type", string(e.UpdateType)).
		Msg("audit entry appended")
	return nil
}

// ListForProblem returns the history of a problem, newest first.
func (s *Service) ListForProblem(ctx context.Context, problemID int64) ([]*Entry, error) {
	entries, err := s.repo.ListForProblem(ctx, problemID)
	if err != nil {
		return nil, apperr.Infrastructure("list audit entries", err)
	}
	return entries, nil
}
