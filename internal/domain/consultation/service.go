// Package consultation records doctors' medical responses to escalated
// problems.
package consultation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/domain/audit"
	"github.com/villagecare/villagecare/internal/domain/notification"
	"github.com/villagecare/villagecare/internal/domain/problem"
	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/internal/platform/db"
	"github.com/villagecare/villagecare/internal/platform/metrics"
)

const responseAdded = "response_added"

type Service struct {
	repo     Repository
	tx       db.Transactor
	problems *problem.Service
	audit    *audit.Service
	notifier *notification.Service
	users    problem.Directory
	logger   zerolog.Logger
}

func NewService(
	repo Repository,
	tx db.Transactor,
	problems *problem.Service,
	auditSvc *audit.Service,
	notifier *notification.Service,
	users problem.Directory,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		problems: problems,
		audit:    auditSvc,
		notifier: notifier,
		users:    users,
		logger:   logger.With().Str("component", "consultation").Logger(),
	}
}

// Submit records a doctor's response to an open problem, stamps the
// problem's response activity, notifies the assigned officer, the villager
// and the doctor, and writes a response audit row, all in one transaction.
func (s *Service) Submit(ctx context.Context, p auth.Principal, problemID int64, in SubmitInput) (*SubmitResult, error) {
	if !p.HasRole(auth.RoleDoctor, auth.RoleAdmin) {
		return nil, apperr.Permission("only doctors can submit medical responses")
	}

	resp := &Response{
		ProblemID:        problemID,
		DoctorID:         p.UserID,
		Response:         strings.TrimSpace(in.Response),
		Recommendations:  strings.TrimSpace(in.Recommendations),
		FollowUpRequired: in.FollowUpRequired,
		UrgencyLevel:     in.UrgencyLevel,
	}
	if resp.UrgencyLevel == "" {
		resp.UrgencyLevel = UrgencyMedium
	}
	fields := map[string]string{}
	if resp.Response == "" {
		fields["response"] = "required"
	}
	if !resp.UrgencyLevel.Valid() {
		fields["urgency_level"] = "must be low, medium, high or critical"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid medical response", fields)
	}

	doctor, err := s.users.Lookup(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	resp.DoctorName = doctor.Name

	sent := 0
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pr, err := s.problems.Get(ctx, p, problemID)
		if err != nil {
			return err
		}
		if pr.Status.IsTerminal() {
			return apperr.Conflict("the problem is already closed")
		}

		if err := s.repo.Create(ctx, resp); err != nil {
			return apperr.Infrastructure("create medical response", err)
		}
		if err := s.problems.RecordResponseActivity(ctx, problemID); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, &audit.Entry{
			ProblemID:  problemID,
			UpdatedBy:  p.UserID,
			UpdateType: audit.TypeResponse,
			NewValue:   audit.Value(responseAdded),
			Notes:      responseSummary(doctor.Name, resp),
		}); err != nil {
			return err
		}

		if pr.AssignedTo != nil && s.notifier.NotifyTemplate(ctx, *pr.AssignedTo, &pr.ID, notification.TplResponseOfficer, map[string]string{
			"doctor":  doctor.Name,
			"title":   pr.Title,
			"urgency": string(resp.UrgencyLevel),
		}) {
			sent++
		}
		followUp := ""
		if resp.FollowUpRequired {
			followUp = " A follow-up is required."
		}
		if s.notifier.NotifyTemplate(ctx, pr.VillagerID, &pr.ID, notification.TplResponseVillager, map[string]string{
			"doctor":    doctor.Name,
			"title":     pr.Title,
			"follow_up": followUp,
		}) {
			sent++
		}
		if s.notifier.NotifyTemplate(ctx, p.UserID, &pr.ID, notification.TplResponseDoctor, map[string]string{
			"title": pr.Title,
		}) {
			sent++
		}

		if in.CompleteCase {
			_, err := s.problems.UpdateStatus(ctx, p, problemID, problem.StatusInput{
				Status: problem.StatusCompleted,
				Notes:  "completed after medical response",
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordMedicalResponse(string(resp.UrgencyLevel))
	s.logger.Info().
		Int64("problem_id", problemID).
		Int64("doctor_id", p.UserID).
		Int64("response_id", resp.ID).
		Int("notifications", sent).
		Msg("medical response recorded")

	return &SubmitResult{
		Success:           true,
		ResponseID:        resp.ID,
		NotificationsSent: sent,
		Message:           fmt.Sprintf("medical response recorded, %d notification(s) sent", sent),
	}, nil
}

// ListForProblem returns the responses on a problem the caller may see.
func (s *Service) ListForProblem(ctx context.Context, p auth.Principal, problemID int64) ([]*Response, error) {
	if _, err := s.problems.Get(ctx, p, problemID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListForProblem(ctx, problemID)
	if err != nil {
		return nil, apperr.Infrastructure("list medical responses", err)
	}
	return items, nil
}

func responseSummary(doctor string, r *Response) string {
	followUp := "no follow-up"
	if r.FollowUpRequired {
		followUp = "follow-up required"
	}
	return fmt.Sprintf("%s responded (urgency: %s, %s)", doctor, r.UrgencyLevel, followUp)
}
