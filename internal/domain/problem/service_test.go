package problem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/domain/audit"
	"github.com/villagecare/villagecare/internal/domain/notification"
	"github.com/villagecare/villagecare/internal/domain/user"
	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
)

type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeResponses struct {
	mu     sync.Mutex
	counts map[int64]int
}

func (f *fakeResponses) CountByProblem(_ context.Context, problemID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[problemID], nil
}

func (f *fakeResponses) add(problemID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[problemID]++
}

type fakePhotos map[string]bool

func (f fakePhotos) Exists(_ context.Context, ref string) (bool, error) {
	return f[ref], nil
}

type fixture struct {
	svc       *Service
	repo      *MemoryRepo
	audits    *audit.MemoryRepo
	notes     *notification.MemoryRepo
	users     *user.Service
	responses *fakeResponses

	villager *user.User
	officer  *user.User
	officer2 *user.User
	doctor   *user.User
	doctor2  *user.User
	admin    *user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{
		repo:      NewMemoryRepo(),
		audits:    audit.NewMemoryRepo(),
		notes:     notification.NewMemoryRepo(),
		responses: &fakeResponses{counts: map[int64]int{}},
	}
	f.users = user.NewService(user.NewMemoryRepo(), auth.NewTokenIssuer([]byte("k"), "villagecare", time.Hour), 4, logger)

	create := func(name, email, role, village string) *user.User {
		u, err := f.users.Create(context.Background(), user.RegisterInput{
			Name: name, Email: email, Password: "password123", Role: role, Village: village,
		})
		if err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
		f.repo.Names[u.ID] = u.Name
		return u
	}
	f.villager = create("Sita", "sita@example.com", auth.RoleVillager, "Rampur")
	f.officer = create("Officer Five", "five@example.com", auth.RoleAVMS, "Rampur")
	f.officer2 = create("Officer Nine", "nine@example.com", auth.RoleAVMS, "Sitapur")
	f.doctor = create("Dr Three", "three@example.com", auth.RoleDoctor, "")
	f.doctor2 = create("Dr Four", "four@example.com", auth.RoleDoctor, "")
	f.admin = create("Admin", "admin@example.com", auth.RoleAdmin, "")

	f.svc = NewService(
		f.repo,
		directTx{},
		audit.NewService(f.audits, logger),
		notification.NewService(f.notes, nil, logger),
		f.users,
		f.responses,
		logger,
	)
	return f
}

func (f *fixture) report(t *testing.T) *Problem {
	t.Helper()
	pr, err := f.svc.Create(context.Background(), f.villager.Principal(), CreateInput{
		Title:       "Fever for 3 days",
		Description: "High temperature since Monday, with chills at night.",
		Category:    "general",
		Priority:    PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return pr
}

func (f *fixture) timeline(t *testing.T, id int64) []*audit.Entry {
	t.Helper()
	entries, err := f.audits.ListForProblem(context.Background(), id)
	if err != nil {
		t.Fatalf("ListForProblem: %v", err)
	}
	return entries
}

func expectKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %v (%v)", kind, got, err)
	}
	var appErr *apperr.Error
	errors.As(err, &appErr)
	return appErr
}

func checkResolvedInvariant(t *testing.T, pr *Problem) {
	t.Helper()
	if (pr.ResolvedAt != nil) != pr.Status.IsTerminal() {
		t.Errorf("resolved_at=%v inconsistent with status %s", pr.ResolvedAt, pr.Status)
	}
}

func TestCreate_PendingWithAuditRowAndOfficerNotifications(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)

	if pr.Status != StatusPending || pr.VillagerID != f.villager.ID {
		t.Errorf("unexpected problem: %+v", pr)
	}
	if pr.Location != "Rampur" {
		t.Errorf("expected location to default to the village, got %q", pr.Location)
	}
	checkResolvedInvariant(t, pr)

	entries := f.timeline(t, pr.ID)
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(entries))
	}
	e := entries[0]
	if e.UpdateType != audit.TypeStatus || e.OldValue != nil || e.NewValue == nil || *e.NewValue != "pending" {
		t.Errorf("unexpected audit row: %+v", e)
	}

	if got := f.notes.ForUser(f.officer.ID); len(got) != 1 || !strings.Contains(got[0].Message, "Fever for 3 days") {
		t.Errorf("expected the village officer to be notified, got %+v", got)
	}
	if got := f.notes.ForUser(f.officer2.ID); len(got) != 0 {
		t.Errorf("officer from another village should not be notified, got %d", len(got))
	}
}

func TestCreate_FallsBackToAllOfficers(t *testing.T) {
	f := newFixture(t)
	villager, err := f.users.Create(context.Background(), user.RegisterInput{
		Name: "Ravi", Email: "ravi@example.com", Password: "password123", Village: "Nowhere",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Create(context.Background(), villager.Principal(), CreateInput{
		Title: "Broken arm", Description: "Fell from a tree and the arm is swollen.", Category: "injury",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(f.notes.ForUser(f.officer.ID)) != 1 || len(f.notes.ForUser(f.officer2.ID)) != 1 {
		t.Error("expected every active officer to be notified")
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := CreateInput{Title: "Fever for 3 days", Description: "High temperature since Monday night.", Category: "general"}

	tests := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"short title", func(in *CreateInput) { in.Title = "Flu" }, "title"},
		{"short description", func(in *CreateInput) { in.Description = "too short" }, "description"},
		{"no category", func(in *CreateInput) { in.Category = " " }, "category"},
		{"bad priority", func(in *CreateInput) { in.Priority = "critical" }, "priority"},
		{"long title", func(in *CreateInput) { in.Title = strings.Repeat("ज्", 150) }, "title"},
		{"long category", func(in *CreateInput) { in.Category = strings.Repeat("c", 65) }, "category"},
		{"long location", func(in *CreateInput) { in.Location = strings.Repeat("l", 256) }, "location"},
		{"long photo reference", func(in *CreateInput) { in.Photo = strings.Repeat("p", 256) }, "photo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := f.svc.Create(ctx, f.villager.Principal(), in)
			appErr := expectKind(t, err, apperr.KindValidation)
			if !strings.Contains(err.Error(), "invalid problem") {
				t.Errorf("unexpected message: %v", err)
			}
			if _, ok := appErr.Fields[tt.field]; !ok {
				t.Errorf("expected field %s in %v", tt.field, appErr.Fields)
			}
		})
	}

	atLimit := valid
	atLimit.Title = strings.Repeat("न", maxTitleLength)
	if _, err := f.svc.Create(ctx, f.villager.Principal(), atLimit); err != nil {
		t.Fatalf("title of %d characters rejected: %v", maxTitleLength, err)
	}

	pr, err := f.svc.Create(ctx, f.villager.Principal(), valid)
	if err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	if pr.Priority != PriorityMedium {
		t.Errorf("expected default priority medium, got %s", pr.Priority)
	}
}

func TestCreate_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{Title: "Fever for 3 days", Description: "High temperature since Monday night.", Category: "general"}

	_, err := f.svc.Create(ctx, f.officer.Principal(), in)
	expectKind(t, err, apperr.KindPermission)

	_, err = f.svc.Create(ctx, f.admin.Principal(), in)
	expectKind(t, err, apperr.KindValidation)

	in.VillagerID = f.villager.ID
	pr, err := f.svc.Create(ctx, f.admin.Principal(), in)
	if err != nil {
		t.Fatalf("admin on behalf: %v", err)
	}
	if pr.VillagerID != f.villager.ID {
		t.Errorf("expected villager %d, got %d", f.villager.ID, pr.VillagerID)
	}
	if e := f.timeline(t, pr.ID)[0]; e.UpdatedBy != f.admin.ID {
		t.Errorf("audit row should name the admin, got %d", e.UpdatedBy)
	}
}

func TestCreate_PhotoMustExist(t *testing.T) {
	f := newFixture(t)
	f.svc.WithPhotoChecker(fakePhotos{"known.jpg": true})
	in := CreateInput{Title: "Skin rash", Description: "Red rash on both arms since last week.", Category: "skin", Photo: "missing.jpg"}

	_, err := f.svc.Create(context.Background(), f.villager.Principal(), in)
	expectKind(t, err, apperr.KindValidation)

	in.Photo = "known.jpg"
	pr, err := f.svc.Create(context.Background(), f.villager.Principal(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pr.Photo == nil || *pr.Photo != "known.jpg" {
		t.Errorf("expected photo reference stored, got %v", pr.Photo)
	}
}

func TestAssign_SecondCallerConflicts(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	got, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0)
	if err != nil {
		t.Fatalf("first Assign: %v", err)
	}
	if got.Status != StatusAssigned || got.AssignedTo == nil || *got.AssignedTo != f.officer.ID {
		t.Errorf("unexpected problem after assign: %+v", got)
	}

	_, err = f.svc.Assign(ctx, f.officer2.Principal(), pr.ID, 0)
	expectKind(t, err, apperr.KindConflict)

	var assignments int
	for _, e := range f.timeline(t, pr.ID) {
		if e.UpdateType == audit.TypeAssignment {
			assignments++
			if *e.OldValue != "pending" || *e.NewValue != "assigned" {
				t.Errorf("unexpected assignment row: %+v", e)
			}
		}
	}
	if assignments != 1 {
		t.Errorf("expected 1 assignment row, got %d", assignments)
	}
	if got := f.notes.ForUser(f.villager.ID); len(got) != 1 || !strings.Contains(got[0].Message, "Officer Five") {
		t.Errorf("expected the villager to hear about the assignment, got %+v", got)
	}
}

func TestAssign_ConcurrentCallersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)

	officers := []*user.User{f.officer, f.officer2}
	for i := 0; i < 6; i++ {
		u, err := f.users.Create(context.Background(), user.RegisterInput{
			Name: "Extra", Email: "extra" + string(rune('a'+i)) + "@example.com", Password: "password123", Role: auth.RoleAVMS,
		})
		if err != nil {
			t.Fatal(err)
		}
		officers = append(officers, u)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(officers))
	for i, o := range officers {
		wg.Add(1)
		go func(i int, p auth.Principal) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(context.Background(), p, pr.ID, 0)
		}(i, o.Principal())
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperr.Is(err, apperr.KindConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != len(officers)-1 {
		t.Errorf("expected 1 win and %d conflicts, got %d and %d", len(officers)-1, wins, conflicts)
	}
}

func TestAssign_Rules(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	_, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, f.officer2.ID)
	expectKind(t, err, apperr.KindPermission)
	_, err = f.svc.Assign(ctx, f.villager.Principal(), pr.ID, 0)
	expectKind(t, err, apperr.KindPermission)
	_, err = f.svc.Assign(ctx, f.admin.Principal(), pr.ID, f.doctor.ID)
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.Assign(ctx, f.officer.Principal(), 999, 0)
	expectKind(t, err, apperr.KindNotFound)

	got, err := f.svc.Assign(ctx, f.admin.Principal(), pr.ID, f.officer2.ID)
	if err != nil {
		t.Fatalf("admin assign: %v", err)
	}
	if *got.AssignedTo != f.officer2.ID {
		t.Errorf("expected officer2, got %d", *got.AssignedTo)
	}
}

func TestAssign_ClosedProblemConflicts(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()
	if _, err := f.svc.UpdateStatus(ctx, f.officer.Principal(), pr.ID, StatusInput{Status: StatusResolved}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0)
	expectKind(t, err, apperr.KindConflict)
}

func TestAssign_KeepsStatusWhenNotPending(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()
	if _, err := f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{}); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.Status != StatusEscalated {
		t.Errorf("expected status to stay escalated, got %s", got.Status)
	}
	if e := f.timeline(t, pr.ID)[0]; *e.NewValue != string(StatusEscalated) {
		t.Errorf("audit row should record the resulting status, got %s", *e.NewValue)
	}
}

func TestUpdateStatus_AlwaysAudits(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()
	p := f.officer.Principal()

	for i := 0; i < 2; i++ {
		got, err := f.svc.UpdateStatus(ctx, p, pr.ID, StatusInput{Status: StatusEscalated})
		if err != nil {
			t.Fatalf("UpdateStatus #%d: %v", i+1, err)
		}
		if got.Status != StatusEscalated {
			t.Errorf("expected escalated, got %s", got.Status)
		}
	}

	var rows int
	for _, e := range f.timeline(t, pr.ID) {
		if e.UpdateType == audit.TypeStatus && *e.NewValue == "escalated" {
			rows++
		}
	}
	if rows != 2 {
		t.Errorf("expected 2 status rows, got %d", rows)
	}
	// The repeat carried no notes and no change, so only the first notifies.
	if got := f.notes.ForUser(f.villager.ID); len(got) != 1 {
		t.Errorf("expected 1 villager notification, got %d", len(got))
	}
}

func TestUpdateStatus_NotificationKeepsTitleLiteral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	title := "Cough {{notes}} {{status}}"
	pr, err := f.svc.Create(ctx, f.villager.Principal(), CreateInput{
		Title:       title,
		Description: "Dry cough for a week, worse in the morning.",
		Category:    "general",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.UpdateStatus(ctx, f.officer.Principal(), pr.ID, StatusInput{Status: StatusInProgress, Notes: "drink warm water"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got := f.notes.ForUser(f.villager.ID)
	if len(got) != 1 {
		t.Fatalf("expected 1 villager notification, got %d", len(got))
	}
	if !strings.Contains(got[0].Message, `"`+title+`"`) {
		t.Errorf("title was rewritten in %q", got[0].Message)
	}
	if !strings.Contains(got[0].Message, "drink warm water") {
		t.Errorf("notes missing from %q", got[0].Message)
	}
}

func TestUpdateStatus_ResolvedAtTracksTerminalStates(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()
	p := f.officer.Principal()

	got, err := f.svc.UpdateStatus(ctx, p, pr.ID, StatusInput{Status: StatusResolved, Notes: "Recovered after rest"})
	if err != nil {
		t.Fatal(err)
	}
	checkResolvedInvariant(t, got)
	if got.ResolvedAt == nil {
		t.Fatal("expected resolved_at to be set")
	}

	got, err = f.svc.UpdateStatus(ctx, p, pr.ID, StatusInput{Status: StatusInProgress})
	if err != nil {
		t.Fatal(err)
	}
	checkResolvedInvariant(t, got)

	stored, _ := f.repo.GetByID(ctx, pr.ID)
	checkResolvedInvariant(t, stored)

	msgs := f.notes.ForUser(f.villager.ID)
	if len(msgs) != 2 || !strings.Contains(msgs[0].Message, "Recovered after rest") {
		t.Errorf("unexpected villager notifications: %+v", msgs)
	}
}

func TestUpdateStatus_CompletedNeedsResponse(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, f.doctor.Principal(), pr.ID, StatusInput{Status: StatusCompleted})
	expectKind(t, err, apperr.KindPermission)

	if _, err := f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{DoctorID: &f.doctor.ID}); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.UpdateStatus(ctx, f.doctor.Principal(), pr.ID, StatusInput{Status: StatusCompleted})
	expectKind(t, err, apperr.KindConflict)

	f.responses.add(pr.ID)
	got, err := f.svc.UpdateStatus(ctx, f.doctor.Principal(), pr.ID, StatusInput{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != StatusCompleted || got.ResolvedAt == nil {
		t.Errorf("unexpected problem: %+v", got)
	}
}

func TestUpdateStatus_Rules(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, f.villager.Principal(), pr.ID, StatusInput{Status: StatusResolved})
	expectKind(t, err, apperr.KindPermission)
	_, err = f.svc.UpdateStatus(ctx, f.officer.Principal(), pr.ID, StatusInput{Status: "cancelled"})
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.UpdateStatus(ctx, f.officer.Principal(), 999, StatusInput{Status: StatusResolved})
	expectKind(t, err, apperr.KindNotFound)

	if _, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.UpdateStatus(ctx, f.officer2.Principal(), pr.ID, StatusInput{Status: StatusInProgress})
	expectKind(t, err, apperr.KindPermission)
}

func TestEscalate_ToDoctor(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()
	if _, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0); err != nil {
		t.Fatal(err)
	}
	before := len(f.notes.ForUser(f.villager.ID))

	got, err := f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{DoctorID: &f.doctor.ID, Notes: "needs specialist"})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got.Status != StatusEscalated || got.EscalatedTo == nil || *got.EscalatedTo != f.doctor.ID || got.EscalationDate == nil {
		t.Errorf("unexpected problem: %+v", got)
	}

	doctorMsgs := f.notes.ForUser(f.doctor.ID)
	villagerMsgs := f.notes.ForUser(f.villager.ID)[before:]
	if len(doctorMsgs) != 1 || len(villagerMsgs) != 1 {
		t.Fatalf("expected one notification each, got doctor=%d villager=%d", len(doctorMsgs), len(villagerMsgs))
	}
	if !strings.Contains(villagerMsgs[0].Message, "Dr Three") {
		t.Errorf("villager message should name the doctor: %q", villagerMsgs[0].Message)
	}
	if len(f.notes.ForUser(f.doctor2.ID)) != 0 {
		t.Error("other doctors should not be notified")
	}

	var rows []*audit.Entry
	for _, e := range f.timeline(t, pr.ID) {
		if e.UpdateType == audit.TypeEscalation {
			rows = append(rows, e)
		}
	}
	if len(rows) != 1 || !strings.Contains(rows[0].Notes, "needs specialist") || *rows[0].NewValue != "escalated" {
		t.Errorf("unexpected escalation rows: %+v", rows)
	}
}

func TestEscalate_BroadcastWhenNoDoctor(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	got, err := f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got.EscalatedTo != nil {
		t.Errorf("expected no target doctor, got %d", *got.EscalatedTo)
	}
	if len(f.notes.ForUser(f.doctor.ID)) != 1 || len(f.notes.ForUser(f.doctor2.ID)) != 1 {
		t.Error("expected every doctor to be notified")
	}

	items, total, err := f.svc.List(ctx, f.doctor2.Principal(), ListFilter{Mine: true})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].ID != pr.ID {
		t.Errorf("broadcast escalation should be in every doctor's queue, got %d", total)
	}
}

func TestEscalate_Rules(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	_, err := f.svc.Escalate(ctx, f.doctor.Principal(), pr.ID, EscalateInput{})
	expectKind(t, err, apperr.KindPermission)
	_, err = f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{DoctorID: &f.officer2.ID})
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.Escalate(ctx, f.officer.Principal(), 999, EscalateInput{})
	expectKind(t, err, apperr.KindNotFound)

	if _, err := f.svc.UpdateStatus(ctx, f.officer.Principal(), pr.ID, StatusInput{Status: StatusResolved}); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{})
	expectKind(t, err, apperr.KindConflict)
}

func TestAccessRules(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	other, err := f.users.Create(ctx, user.RegisterInput{Name: "Other", Email: "other@example.com", Password: "password123", Village: "Rampur"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Get(ctx, other.Principal(), pr.ID)
	expectKind(t, err, apperr.KindPermission)

	if _, err := f.svc.Get(ctx, f.officer2.Principal(), pr.ID); err != nil {
		t.Errorf("unassigned problems are open to officers: %v", err)
	}
	_, err = f.svc.Get(ctx, f.doctor.Principal(), pr.ID)
	expectKind(t, err, apperr.KindPermission)

	if _, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Get(ctx, f.officer2.Principal(), pr.ID)
	expectKind(t, err, apperr.KindPermission)

	if _, err := f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{DoctorID: &f.doctor.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Get(ctx, f.doctor2.Principal(), pr.ID); err != nil {
		t.Errorf("escalated problems are open to doctors: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.admin.Principal(), pr.ID); err != nil {
		t.Errorf("admin access: %v", err)
	}
	_, err = f.svc.Get(ctx, f.admin.Principal(), 999)
	expectKind(t, err, apperr.KindNotFound)
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.report(t)
	second := f.report(t)
	if _, err := f.svc.Assign(ctx, f.officer.Principal(), first.ID, 0); err != nil {
		t.Fatal(err)
	}

	items, total, err := f.svc.List(ctx, f.officer.Principal(), ListFilter{Mine: true})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].ID != first.ID {
		t.Errorf("expected only the assigned problem, got %d", total)
	}

	items, total, _ = f.svc.List(ctx, f.officer2.Principal(), ListFilter{})
	if total != 1 || items[0].ID != second.ID {
		t.Errorf("officer2 should only see the unassigned problem, got %d", total)
	}

	_, total, _ = f.svc.List(ctx, f.villager.Principal(), ListFilter{Keyword: "FEVER"})
	if total != 2 {
		t.Errorf("keyword search should be case-insensitive, got %d", total)
	}

	_, _, err = f.svc.List(ctx, f.admin.Principal(), ListFilter{Status: "closed"})
	expectKind(t, err, apperr.KindValidation)

	st, err := f.svc.Stats(ctx, f.admin.Principal(), false)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.ByStatus[StatusPending] != 1 || st.ByStatus[StatusAssigned] != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if _, ok := st.ByStatus[StatusCompleted]; !ok {
		t.Error("expected every status to be present")
	}
}

func TestComment(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	_, err := f.svc.Comment(ctx, f.villager.Principal(), pr.ID, "  ")
	expectKind(t, err, apperr.KindValidation)

	// Nobody is assigned yet, so a villager comment notifies nobody.
	if _, err := f.svc.Comment(ctx, f.villager.Principal(), pr.ID, "Still feverish"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Comment(ctx, f.villager.Principal(), pr.ID, "Now worse"); err != nil {
		t.Fatal(err)
	}
	officerMsgs := f.notes.ForUser(f.officer.ID)
	if last := officerMsgs[len(officerMsgs)-1]; !strings.Contains(last.Message, "Now worse") {
		t.Errorf("officer should hear the villager's comment: %q", last.Message)
	}

	entry, err := f.svc.Comment(ctx, f.officer.Principal(), pr.ID, "Visiting tomorrow")
	if err != nil {
		t.Fatal(err)
	}
	if entry.UpdateType != audit.TypeComment || *entry.NewValue != string(StatusAssigned) {
		t.Errorf("unexpected comment row: %+v", entry)
	}
	villagerMsgs := f.notes.ForUser(f.villager.ID)
	if last := villagerMsgs[len(villagerMsgs)-1]; !strings.Contains(last.Message, "Visiting tomorrow") {
		t.Errorf("villager should hear the officer's comment: %q", last.Message)
	}
}

func TestTimelineAndPhotoAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, err := f.svc.Create(ctx, f.villager.Principal(), CreateInput{
		Title: "Eye infection", Description: "Red and itchy eye for two days now.", Category: "eye", Photo: "eye.png",
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := f.svc.Timeline(ctx, f.villager.Principal(), pr.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Timeline: %v, %d entries", err, len(entries))
	}
	_, err = f.svc.Timeline(ctx, f.doctor.Principal(), pr.ID)
	expectKind(t, err, apperr.KindPermission)

	if ok, _ := f.svc.CanViewPhoto(ctx, f.villager.Principal(), "eye.png"); !ok {
		t.Error("owner should see the photo")
	}
	if ok, _ := f.svc.CanViewPhoto(ctx, f.doctor.Principal(), "eye.png"); ok {
		t.Error("doctor should not see a photo of a non-escalated problem")
	}
	if ok, _ := f.svc.CanViewPhoto(ctx, f.villager.Principal(), "orphan.png"); ok {
		t.Error("unattached photos are admin-only")
	}
	if ok, _ := f.svc.CanViewPhoto(ctx, f.admin.Principal(), "orphan.png"); !ok {
		t.Error("admin should see unattached photos")
	}
}

func TestRecordResponseActivity(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()

	if err := f.svc.RecordResponseActivity(ctx, pr.ID); err != nil {
		t.Fatal(err)
	}
	stored, _ := f.repo.GetByID(ctx, pr.ID)
	if stored.LastResponseDate == nil {
		t.Error("expected last_response_date to be set")
	}
	if stored.UpdatedAt.Before(stored.CreatedAt) {
		t.Errorf("updated_at %v is before created_at %v", stored.UpdatedAt, stored.CreatedAt)
	}
	expectKind(t, f.svc.RecordResponseActivity(ctx, 999), apperr.KindNotFound)
}

func TestStatusEnumInvariant(t *testing.T) {
	f := newFixture(t)
	pr := f.report(t)
	ctx := context.Background()
	_, _ = f.svc.Assign(ctx, f.officer.Principal(), pr.ID, 0)
	_, _ = f.svc.Escalate(ctx, f.officer.Principal(), pr.ID, EscalateInput{})
	_, _ = f.svc.UpdateStatus(ctx, f.officer.Principal(), pr.ID, StatusInput{Status: StatusResolved})

	for _, e := range f.timeline(t, pr.ID) {
		if e.UpdateType == audit.TypeComment {
			continue
		}
		if e.NewValue == nil || !Status(*e.NewValue).Valid() {
			t.Errorf("audit row carries a status outside the enum: %+v", e)
		}
	}
}
