// Package problem implements the case lifecycle: villagers report problems,
// officers take and resolve or escalate them, and doctors close escalated
// cases. Every transition writes one audit row and notifies the people
// involved.
package problem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/domain/audit"
	"github.com/villagecare/villagecare/internal/domain/notification"
	"github.com/villagecare/villagecare/internal/domain/user"
	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/internal/platform/db"
	"github.com/villagecare/villagecare/internal/platform/metrics"
	"github.com/villagecare/villagecare/pkg/pagination"
)

const (
	minTitleLength       = 5
	minDescriptionLength = 20

	// Upper bounds match the column widths in the problems table.
	maxTitleLength    = 255
	maxCategoryLength = 64
	maxLocationLength = 255
	maxPhotoRefLength = 255
	maxNotesLength       = 2000
)

const errNoAccess = "you do not have access to this problem"

// Directory resolves the users a problem refers to.
type Directory interface {
	Lookup(ctx context.Context, id int64) (*user.User, error)
	ActiveByRole(ctx context.Context, role, village string) ([]*user.User, error)
}

// ResponseCounter counts medical responses recorded for a problem.
type ResponseCounter interface {
	CountByProblem(ctx context.Context, problemID int64) (int, error)
}

// PhotoChecker confirms an uploaded photo exists before a problem refers to it.
type PhotoChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

type Service struct {
	repo      Repository
	tx        db.Transactor
	audit     *audit.Service
	notifier  *notification.Service
	users     Directory
	responses ResponseCounter
	photos    PhotoChecker
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	tx db.Transactor,
	auditSvc *audit.Service,
	notifier *notification.Service,
	users Directory,
	responses ResponseCounter,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		audit:     auditSvc,
		notifier:  notifier,
		users:     users,
		responses: responses,
		logger:    logger.With().Str("component", "problem").Logger(),
		now:       time.Now,
	}
}

// WithPhotoChecker makes Create reject photo references the store does not
// hold.
func (s *Service) WithPhotoChecker(pc PhotoChecker) *Service {
	s.photos = pc
	return s
}

// Create files a new pending problem for a villager, or for the villager
// named in the input when an admin files it.
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (*Problem, error) {
	villagerID := p.UserID
	switch p.Role {
	case auth.RoleVillager:
	case auth.RoleAdmin:
		if in.VillagerID <= 0 {
			return nil, apperr.Validation("villager is required", map[string]string{"villager_id": "required"})
		}
		villagerID = in.VillagerID
	default:
		return nil, apperr.Permission("only villagers can report problems")
	}

	pr := &Problem{
		VillagerID:  villagerID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Priority:    in.Priority,
		Status:      StatusPending,
		Location:    strings.TrimSpace(in.Location),
	}
	if pr.Priority == "" {
		pr.Priority = PriorityMedium
	}

	fields := map[string]string{}
	switch n := utf8.RuneCountInString(pr.Title); {
	case n < minTitleLength:
		fields["title"] = fmt.Sprintf("must be at least %d characters", minTitleLength)
	case n > maxTitleLength:
		fields["title"] = fmt.Sprintf("must be at most %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(pr.Description) < minDescriptionLength {
		fields["description"] = fmt.Sprintf("must be at least %d characters", minDescriptionLength)
	}
	switch {
	case pr.Category == "":
		fields["category"] = "required"
	case utf8.RuneCountInString(pr.Category) > maxCategoryLength:
		fields["category"] = fmt.Sprintf("must be at most %d characters", maxCategoryLength)
	}
	if utf8.RuneCountInString(pr.Location) > maxLocationLength {
		fields["location"] = fmt.Sprintf("must be at most %d characters", maxLocationLength)
	}
	if !pr.Priority.Valid() {
		fields["priority"] = "must be low, medium, high or urgent"
	}
	if ref := strings.TrimSpace(in.Photo); len(ref) > maxPhotoRefLength {
		fields["photo"] = "unknown photo reference"
	} else if ref != "" {
		if err := s.checkPhoto(ctx, ref); err != nil {
			if !apperr.Is(err, apperr.KindValidation) {
				return nil, err
			}
			fields["photo"] = "unknown photo reference"
		}
		pr.Photo = &ref
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid problem", fields)
	}

	villager, err := s.users.Lookup(ctx, villagerID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Validation("villager not found", map[string]string{"villager_id": "unknown villager"})
	}
	if err != nil {
		return nil, err
	}
	if villager.Role != auth.RoleVillager || !villager.IsActive() {
		return nil, apperr.Validation("problems can only be filed for active villagers", map[string]string{"villager_id": "not an active villager"})
	}
	if pr.Location == "" {
		pr.Location = villager.Village
	}
	pr.VillagerName = villager.Name

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, pr); err != nil {
			return apperr.Infrastructure("create problem", err)
		}
		if err := s.audit.Append(ctx, &audit.Entry{
			ProblemID:  pr.ID,
			UpdatedBy:  p.UserID,
			UpdateType: audit.TypeStatus,
			NewValue:   audit.Value(string(StatusPending)),
			Notes:      "problem reported",
		}); err != nil {
			return err
		}

		officers, err := s.officersFor(ctx, villager.Village)
		if err != nil {
			return err
		}
		s.notifier.NotifyMany(ctx, userIDs(officers), &pr.ID, notification.TplProblemSubmitted, map[string]string{
			"villager": villager.Name,
			"title":    pr.Title,
			"priority": string(pr.Priority),
			"village":  pr.Location,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordProblemCreated(string(pr.Priority))
	metrics.RecordTransition("none", string(StatusPending))
	s.logger.Info().Int64("problem_id", pr.ID).Int64("villager_id", villagerID).Str("priority", string(pr.Priority)).Msg("problem reported")
	return pr, nil
}

// officersFor returns the active officers serving village, or every active
// officer when none serve it.
func (s *Service) officersFor(ctx context.Context, village string) ([]*user.User, error) {
	if village != "" {
		local, err := s.users.ActiveByRole(ctx, auth.RoleAVMS, village)
		if err != nil {
			return nil, err
		}
		if len(local) > 0 {
			return local, nil
		}
	}
	return s.users.ActiveByRole(ctx, auth.RoleAVMS, "")
}

func (s *Service) checkPhoto(ctx context.Context, ref string) error {
	if s.photos == nil {
		return nil
	}
	ok, err := s.photos.Exists(ctx, ref)
	if err != nil {
		return apperr.Infrastructure("check photo", err)
	}
	if !ok {
		return apperr.Validation("unknown photo reference", nil)
	}
	return nil
}

// Assign gives an unassigned problem to an officer. Officers may only take
// problems for themselves; admins may name any active officer. When two
// callers race, the conditional update lets exactly one win.
func (s *Service) Assign(ctx context.Context, p auth.Principal, problemID, officerID int64) (*Problem, error) {
	switch p.Role {
	case auth.RoleAVMS:
		if officerID == 0 {
			officerID = p.UserID
		}
		if officerID != p.UserID {
			return nil, apperr.Permission("officers can only assign problems to themselves")
		}
	case auth.RoleAdmin:
		if officerID <= 0 {
			return nil, apperr.Validation("officer is required", map[string]string{"officer_id": "required"})
		}
	default:
		return nil, apperr.Permission("only officers can take problems")
	}

	officer, err := s.users.Lookup(ctx, officerID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Validation("officer not found", map[string]string{"officer_id": "unknown officer"})
	}
	if err != nil {
		return nil, err
	}
	if officer.Role != auth.RoleAVMS || !officer.IsActive() {
		return nil, apperr.Validation("assignee must be an active officer", map[string]string{"officer_id": "not an active officer"})
	}

	var updated *Problem
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, problemID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return apperr.Conflict("problem is already closed")
		}

		updated, err = s.repo.Assign(ctx, problemID, officerID)
		if errors.Is(err, ErrAlreadyAssigned) {
			metrics.RecordAssignmentConflict()
			return apperr.Conflict("problem is already assigned")
		}
		if err != nil {
			return apperr.Infrastructure("assign problem", err)
		}

		if err := s.audit.Append(ctx, &audit.Entry{
			ProblemID:  problemID,
			UpdatedBy:  p.UserID,
			UpdateType: audit.TypeAssignment,
			OldValue:   audit.Value(string(current.Status)),
			NewValue:   audit.Value(string(updated.Status)),
			Notes:      "assigned to " + officer.Name,
		}); err != nil {
			return err
		}

		s.notifier.NotifyTemplate(ctx, updated.VillagerID, &updated.ID, notification.TplProblemAssigned, map[string]string{
			"title":   updated.Title,
			"officer": officer.Name,
		})

		if current.Status != updated.Status {
			metrics.RecordTransition(string(current.Status), string(updated.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("problem_id", problemID).Int64("officer_id", officerID).Msg("problem assigned")
	return updated, nil
}

// UpdateStatus moves a problem to any state. An audit row is written even
// when the status does not change. Completing requires a medical response.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, problemID int64, in StatusInput) (*Problem, error) {
	if !p.HasRole(auth.RoleAVMS, auth.RoleDoctor, auth.RoleAdmin) {
		return nil, apperr.Permission("you cannot change the status of a problem")
	}
	if !in.Status.Valid() {
		return nil, apperr.Validation("invalid status", map[string]string{"status": "unknown status"})
	}
	notes, err := cleanNotes(in.Notes, false)
	if err != nil {
		return nil, err
	}

	var pr *Problem
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pr, err = s.loadForUpdate(ctx, p, problemID)
		if err != nil {
			return err
		}

		if in.Status == StatusCompleted {
			n, err := s.responses.CountByProblem(ctx, problemID)
			if err != nil {
				return apperr.Wrap("count medical responses", err)
			}
			if n == 0 {
				return apperr.Conflict("a problem can only be completed after a medical response")
			}
		}

		old := pr.Status
		pr.Status = in.Status
		switch {
		case !in.Status.IsTerminal():
			pr.ResolvedAt = nil
		case pr.ResolvedAt == nil:
			now := s.now()
			pr.ResolvedAt = &now
		}
		if err := s.repo.SaveStatus(ctx, pr); err != nil {
			return apperr.Infrastructure("update problem status", err)
		}

		if err := s.audit.Append(ctx, &audit.Entry{
			ProblemID:  problemID,
			UpdatedBy:  p.UserID,
			UpdateType: audit.TypeStatus,
			OldValue:   audit.Value(string(old)),
			NewValue:   audit.Value(string(pr.Status)),
			Notes:      notes,
		}); err != nil {
			return err
		}

		if old != pr.Status || notes != "" {
			s.notifier.NotifyTemplate(ctx, pr.VillagerID, &pr.ID, notification.TplStatusChanged, map[string]string{
				"title":  pr.Title,
				"status": statusLabel(pr.Status),
				"notes":  notesSuffix(notes),
			})
		}
		if old != pr.Status {
			metrics.RecordTransition(string(old), string(pr.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("problem_id", problemID).Int64("actor_id", p.UserID).Str("status", string(pr.Status)).Msg("problem status updated")
	return pr, nil
}

// Escalate refers an open problem to a doctor, or to every active doctor
// when no doctor is named.
func (s *Service) Escalate(ctx context.Context, p auth.Principal, problemID int64, in EscalateInput) (*Problem, error) {
	if !p.HasRole(auth.RoleAVMS, auth.RoleAdmin) {
		return nil, apperr.Permission("only officers can escalate problems")
	}
	notes, err := cleanNotes(in.Notes, false)
	if err != nil {
		return nil, err
	}

	var doctor *user.User
	if in.DoctorID != nil {
		doctor, err = s.users.Lookup(ctx, *in.DoctorID)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Validation("doctor not found", map[string]string{"doctor_id": "unknown doctor"})
		}
		if err != nil {
			return nil, err
		}
		if doctor.Role != auth.RoleDoctor || !doctor.IsActive() {
			return nil, apperr.Validation("escalation target must be an active doctor", map[string]string{"doctor_id": "not an active doctor"})
		}
	}

	var pr *Problem
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pr, err = s.loadForUpdate(ctx, p, problemID)
		if err != nil {
			return err
		}
		if pr.Status.IsTerminal() {
			return apperr.Conflict("a closed problem cannot be escalated")
		}

		old := pr.Status
		now := s.now()
		pr.Status = StatusEscalated
		pr.EscalatedTo = in.DoctorID
		pr.EscalationDate = &now
		if err := s.repo.SaveStatus(ctx, pr); err != nil {
			return apperr.Infrastructure("escalate problem", err)
		}

		target := "all doctors"
		if doctor != nil {
			target = doctor.Name
		}
		if err := s.audit.Append(ctx, &audit.Entry{
			ProblemID:  problemID,
			UpdatedBy:  p.UserID,
			UpdateType: audit.TypeEscalation,
			OldValue:   audit.Value(string(old)),
			NewValue:   audit.Value(string(StatusEscalated)),
			Notes:      joinNotes("escalated to "+target, notes),
		}); err != nil {
			return err
		}

		data := map[string]string{
			"title": pr.Title,
			"notes": notesSuffix(notes),
		}
		if doctor != nil {
			s.notifier.NotifyTemplate(ctx, doctor.ID, &pr.ID, notification.TplEscalatedDoctor, data)
			data["doctor"] = doctor.Name
		} else {
			doctors, err := s.users.ActiveByRole(ctx, auth.RoleDoctor, "")
			if err != nil {
				return err
			}
			s.notifier.NotifyMany(ctx, userIDs(doctors), &pr.ID, notification.TplEscalatedBroadcast, data)
			data["doctor"] = "a doctor"
		}
		s.notifier.NotifyTemplate(ctx, pr.VillagerID, &pr.ID, notification.TplEscalatedVillager, data)

		if old != StatusEscalated {
			metrics.RecordTransition(string(old), string(StatusEscalated))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := s.logger.Info().Int64("problem_id", problemID).Int64("actor_id", p.UserID)
	if in.DoctorID != nil {
		ev = ev.Int64("doctor_id", *in.DoctorID)
	}
	ev.Msg("problem escalated")
	return pr, nil
}

// Comment adds a note to the problem history without changing its state.
// The villager is told about comments from staff; the assigned officer is
// told about comments from the villager.
func (s *Service) Comment(ctx context.Context, p auth.Principal, problemID int64, text string) (*audit.Entry, error) {
	notes, err := cleanNotes(text, true)
	if err != nil {
		return nil, err
	}

	author, err := s.users.Lookup(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	var entry *audit.Entry
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pr, err := s.Get(ctx, p, problemID)
		if err != nil {
			return err
		}

		entry = &audit.Entry{
			ProblemID:     problemID,
			UpdatedBy:     p.UserID,
			UpdatedByName: author.Name,
			UpdateType:    audit.TypeComment,
			NewValue:      audit.Value(string(pr.Status)),
			Notes:         notes,
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			return err
		}

		recipient := pr.VillagerID
		if p.UserID == pr.VillagerID {
			if pr.AssignedTo == nil {
				return nil
			}
			recipient = *pr.AssignedTo
		}
		s.notifier.NotifyTemplate(ctx, recipient, &pr.ID, notification.TplCommentAdded, map[string]string{
			"author": author.Name,
			"title":  pr.Title,
			"notes":  notes,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns a problem the caller may see. Missing problems are NotFound;
// problems outside the caller's scope are a Permission failure.
func (s *Service) Get(ctx context.Context, p auth.Principal, problemID int64) (*Problem, error) {
	pr, err := s.load(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if !ScopeFor(p).Allows(pr) {
		return nil, apperr.Permission(errNoAccess)
	}
	return pr, nil
}

func (s *Service) load(ctx context.Context, problemID int64) (*Problem, error) {
	pr, err := s.repo.GetByID(ctx, problemID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("problem", problemID)
	}
	if err != nil {
		return nil, apperr.Infrastructure("load problem", err)
	}
	return pr, nil
}

func (s *Service) loadForUpdate(ctx context.Context, p auth.Principal, problemID int64) (*Problem, error) {
	pr, err := s.repo.GetForUpdate(ctx, problemID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("problem", problemID)
	}
	if err != nil {
		return nil, apperr.Infrastructure("load problem", err)
	}
	if !ScopeFor(p).Allows(pr) {
		return nil, apperr.Permission(errNoAccess)
	}
	return pr, nil
}

// List returns problems in the caller's scope, newest first.
func (s *Service) List(ctx context.Context, p auth.Principal, f ListFilter) ([]*Problem, int, error) {
	fields := map[string]string{}
	if f.Status != "" && !f.Status.Valid() {
		fields["status"] = "unknown status"
	}
	if f.Priority != "" && !f.Priority.Valid() {
		fields["priority"] = "unknown priority"
	}
	if len(fields) > 0 {
		return nil, 0, apperr.Validation("invalid filter", fields)
	}
	f.Limit = pagination.Clamp(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}

	scope := ScopeFor(p)
	scope.Mine = f.Mine
	items, total, err := s.repo.List(ctx, scope, f)
	if err != nil {
		return nil, 0, apperr.Infrastructure("list problems", err)
	}
	return items, total, nil
}

// Stats counts the caller's visible problems by status. Every status is
// present in the result.
func (s *Service) Stats(ctx context.Context, p auth.Principal, mine bool) (*Stats, error) {
	scope := ScopeFor(p)
	scope.Mine = mine
	counts, err := s.repo.CountByStatus(ctx, scope)
	if err != nil {
		return nil, apperr.Infrastructure("count problems", err)
	}
	st := &Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, status := range Statuses {
		st.ByStatus[status] = counts[status]
		st.Total += counts[status]
	}
	return st, nil
}

// Timeline returns the audit history of a problem the caller may see.
func (s *Service) Timeline(ctx context.Context, p auth.Principal, problemID int64) ([]*audit.Entry, error) {
	if _, err := s.Get(ctx, p, problemID); err != nil {
		return nil, err
	}
	return s.audit.ListForProblem(ctx, problemID)
}

// CanViewPhoto reports whether p may see the photo ref. Photos not attached
// to any problem are visible to admins only.
func (s *Service) CanViewPhoto(ctx context.Context, p auth.Principal, ref string) (bool, error) {
	pr, err := s.repo.FindByPhoto(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return p.IsAdmin(), nil
	}
	if err != nil {
		return false, apperr.Infrastructure("find photo owner", err)
	}
	return ScopeFor(p).Allows(pr), nil
}

// RecordResponseActivity stamps last_response_date after a medical response.
func (s *Service) RecordResponseActivity(ctx context.Context, problemID int64) error {
	err := s.repo.TouchResponse(ctx, problemID, s.now())
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("problem", problemID)
	}
	if err != nil {
		return apperr.Infrastructure("touch problem", err)
	}
	return nil
}

func cleanNotes(notes string, required bool) (string, error) {
	notes = strings.TrimSpace(notes)
	if required && notes == "" {
		return "", apperr.Validation("notes are required", map[string]string{"notes": "required"})
	}
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return "", apperr.Validation("notes are too long", map[string]string{"notes": fmt.Sprintf("at most %d characters", maxNotesLength)})
	}
	return notes, nil
}

func joinNotes(prefix, notes string) string {
	if notes == "" {
		return prefix
	}
	return prefix + ": " + notes
}

func notesSuffix(notes string) string {
	if notes == "" {
		return ""
	}
	return " Notes: " + notes
}

func statusLabel(s Status) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func userIDs(users []*user.User) []int64 {
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
