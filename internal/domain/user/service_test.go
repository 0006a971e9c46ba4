package user

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
)

var testKey = []byte("user-service-test-key")

const testCost = 4

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	issuer := auth.NewTokenIssuer(testKey, "villagecare-test", time.Hour)
	return NewService(repo, issuer, testCost, zerolog.Nop()), repo
}

func mustCreate(t *testing.T, svc *Service, in RegisterInput) *User {
	t.Helper()
	if in.Password == "" {
		in.Password = "password123"
	}
	u, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create(%s): %v", in.Email, err)
	}
	return u
}

func expectKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != kind {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
	return appErr
}

var admin = auth.Principal{UserID: 100, Role: auth.RoleAdmin}

func TestRegister_PublicVillager(t *testing.T) {
	svc, _ := newTestService()
	u, err := svc.Register(context.Background(), nil, RegisterInput{
		Name: "Sita Devi", Email: "  Sita@Example.COM ", Password: "password123", Village: "Rampur",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != "sita@example.com" {
		t.Errorf("expected lower-cased email, got %s", u.Email)
	}
	if u.Role != auth.RoleVillager || u.Status != StatusActive {
		t.Errorf("unexpected role/status %s/%s", u.Role, u.Status)
	}
	if u.PasswordHash == "" || u.PasswordHash == "password123" {
		t.Error("expected a bcrypt hash")
	}
}

func TestRegister_PublicCannotChooseRole(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Register(context.Background(), nil, RegisterInput{
		Name: "Dr X", Email: "x@example.com", Password: "password123", Role: auth.RoleDoctor,
	})
	expectKind(t, err, apperr.KindPermission)
}

func TestRegister_AdminCreatesAnyRole(t *testing.T) {
	svc, _ := newTestService()
	u, err := svc.Register(context.Background(), &admin, RegisterInput{
		Name: "Dr Rao", Email: "rao@example.com", Password: "password123", Role: auth.RoleDoctor,
		Profile: &Profile{Specialization: "General Medicine", LicenseNumber: "MCI-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Profile.Specialization != "General Medicine" {
		t.Errorf("expected profile stored, got %+v", u.Profile)
	}

	officer := auth.Principal{UserID: 5, Role: auth.RoleAVMS}
	_, err = svc.Register(context.Background(), &officer, RegisterInput{
		Name: "Y", Email: "y@example.com", Password: "password123", Role: auth.RoleAVMS,
	})
	expectKind(t, err, apperr.KindPermission)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"no name", RegisterInput{Email: "a@b.co", Password: "password123", Role: auth.RoleAVMS}, "name"},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "password123", Role: auth.RoleAVMS}, "email"},
		{"short password", RegisterInput{Name: "A", Email: "a@b.co", Password: "short", Role: auth.RoleAVMS}, "password"},
		{"bad role", RegisterInput{Name: "A", Email: "a@b.co", Password: "password123", Role: "nurse"}, "role"},
		{"villager without village", RegisterInput{Name: "A", Email: "a@b.co", Password: "password123", Role: auth.RoleVillager}, "village"},
		{"profile on officer", RegisterInput{Name: "A", Email: "a@b.co", Password: "password123", Role: auth.RoleAVMS, Profile: &Profile{Bio: "x"}}, "profile"},
		{"long name", RegisterInput{Name: strings.Repeat("न", 256), Email: "a@b.co", Password: "password123", Role: auth.RoleAVMS}, "name"},
		{"long email", RegisterInput{Name: "A", Email: strings.Repeat("a", 251) + "@b.co", Password: "password123", Role: auth.RoleAVMS}, "email"},
		{"long phone", RegisterInput{Name: "A", Email: "a@b.co", Phone: strings.Repeat("9", 33), Password: "password123", Role: auth.RoleAVMS}, "phone"},
		{"long village", RegisterInput{Name: "A", Email: "a@b.co", Password: "password123", Village: strings.Repeat("v", 256)}, "village"},
		{"long password", RegisterInput{Name: "A", Email: "a@b.co", Password: strings.Repeat("p", 73), Role: auth.RoleAVMS}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			appErr := expectKind(t, err, apperr.KindValidation)
			if _, ok := appErr.Fields[tt.field]; !ok {
				t.Errorf("expected field %s in %v", tt.field, appErr.Fields)
			}
		})
	}
}

func TestCreate_LengthLimitsCountCharacters(t *testing.T) {
	svc, _ := newTestService()
	// 255 multi-byte characters fit a VARCHAR(255) column.
	u := mustCreate(t, svc, RegisterInput{
		Name: strings.Repeat("न", 255), Email: "long@example.com", Village: "Rampur",
		Password: strings.Repeat("p", auth.MaxPasswordLength),
	})
	if _, err := svc.Login(context.Background(), LoginInput{Email: u.Email, Password: strings.Repeat("p", auth.MaxPasswordLength)}); err != nil {
		t.Fatalf("login with %d-byte password: %v", auth.MaxPasswordLength, err)
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, RegisterInput{Name: "A", Email: "dup@example.com", Role: auth.RoleAVMS})
	_, err := svc.Create(context.Background(), RegisterInput{Name: "B", Email: "DUP@example.com", Password: "password123", Role: auth.RoleAVMS})
	expectKind(t, err, apperr.KindConflict)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService()
	u := mustCreate(t, svc, RegisterInput{Name: "Officer", Email: "anms@example.com", Role: auth.RoleAVMS, Village: "Rampur"})

	res, err := svc.Login(context.Background(), LoginInput{Email: "ANMS@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := auth.ParseToken(res.Token, testKey, "villagecare-test")
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if p.UserID != u.ID || p.Role != auth.RoleAVMS || p.Village != "Rampur" {
		t.Errorf("unexpected principal: %+v", p)
	}
	if !res.ExpiresAt.After(time.Now()) {
		t.Error("expected expiry in the future")
	}
}

func TestLogin_Failures(t *testing.T) {
	svc, repo := newTestService()
	u := mustCreate(t, svc, RegisterInput{Name: "Officer", Email: "anms@example.com", Role: auth.RoleAVMS})

	_, err := svc.Login(context.Background(), LoginInput{Email: "anms@example.com", Password: "wrong-password"})
	wrong := expectKind(t, err, apperr.KindPermission)

	_, err = svc.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: "password123"})
	unknown := expectKind(t, err, apperr.KindPermission)
	if wrong.Message != unknown.Message {
		t.Errorf("messages must not reveal whether the account exists: %q vs %q", wrong.Message, unknown.Message)
	}

	repo.SetStatus(context.Background(), u.ID, StatusSuspended)
	_, err = svc.Login(context.Background(), LoginInput{Email: "anms@example.com", Password: "password123"})
	expectKind(t, err, apperr.KindPermission)

	_, err = svc.Login(context.Background(), LoginInput{Email: "", Password: ""})
	expectKind(t, err, apperr.KindValidation)
}

func TestGet_Access(t *testing.T) {
	svc, _ := newTestService()
	v1 := mustCreate(t, svc, RegisterInput{Name: "V1", Email: "v1@example.com", Village: "A"})
	v2 := mustCreate(t, svc, RegisterInput{Name: "V2", Email: "v2@example.com", Village: "A"})
	ctx := context.Background()

	if _, err := svc.Get(ctx, v1.Principal(), v1.ID); err != nil {
		t.Errorf("self access: %v", err)
	}
	_, err := svc.Get(ctx, v1.Principal(), v2.ID)
	expectKind(t, err, apperr.KindPermission)

	officer := auth.Principal{UserID: 50, Role: auth.RoleAVMS}
	if _, err := svc.Get(ctx, officer, v2.ID); err != nil {
		t.Errorf("officer access: %v", err)
	}
	_, err = svc.Get(ctx, admin, 999)
	expectKind(t, err, apperr.KindNotFound)
}

func TestList(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, RegisterInput{Name: "V1", Email: "v1@example.com", Village: "A"})
	mustCreate(t, svc, RegisterInput{Name: "Dr One", Email: "d1@example.com", Role: auth.RoleDoctor})
	mustCreate(t, svc, RegisterInput{Name: "Dr Two", Email: "d2@example.com", Role: auth.RoleDoctor})
	ctx := context.Background()

	users, total, err := svc.List(ctx, admin, ListFilter{Role: auth.RoleDoctor}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(users) != 2 {
		t.Errorf("expected 2 doctors, got %d/%d", len(users), total)
	}

	_, _, err = svc.List(ctx, auth.Principal{UserID: 1, Role: auth.RoleVillager}, ListFilter{}, 10, 0)
	expectKind(t, err, apperr.KindPermission)

	_, _, err = svc.List(ctx, admin, ListFilter{Role: "nurse"}, 10, 0)
	expectKind(t, err, apperr.KindValidation)
}

func TestActiveByRole(t *testing.T) {
	svc, repo := newTestService()
	a := mustCreate(t, svc, RegisterInput{Name: "A", Email: "a@example.com", Role: auth.RoleAVMS, Village: "Rampur"})
	b := mustCreate(t, svc, RegisterInput{Name: "B", Email: "b@example.com", Role: auth.RoleAVMS, Village: "Sitapur"})
	c := mustCreate(t, svc, RegisterInput{Name: "C", Email: "c@example.com", Role: auth.RoleAVMS, Village: "Rampur"})
	repo.SetStatus(context.Background(), c.ID, StatusInactive)

	users, err := svc.ActiveByRole(context.Background(), auth.RoleAVMS, "Rampur")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].ID != a.ID {
		t.Errorf("expected only officer A, got %+v", users)
	}

	users, _ = svc.ActiveByRole(context.Background(), auth.RoleAVMS, "")
	if len(users) != 2 || users[1].ID != b.ID {
		t.Errorf("expected A and B, got %d users", len(users))
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService()
	doc := mustCreate(t, svc, RegisterInput{Name: "Dr", Email: "dr@example.com", Role: auth.RoleDoctor})
	ctx := context.Background()

	name := "Dr Meera"
	u, err := svc.UpdateProfile(ctx, doc.Principal(), doc.ID, ProfileUpdate{
		Name:    &name,
		Profile: &Profile{Specialization: "Pediatrics", ExperienceYears: 8},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Name != "Dr Meera" || u.Profile.Specialization != "Pediatrics" {
		t.Errorf("unexpected user: %+v", u)
	}

	email := "new@example.com"
	_, err = svc.UpdateProfile(ctx, doc.Principal(), doc.ID, ProfileUpdate{Email: &email})
	expectKind(t, err, apperr.KindValidation)

	other := auth.Principal{UserID: doc.ID + 1, Role: auth.RoleDoctor}
	_, err = svc.UpdateProfile(ctx, other, doc.ID, ProfileUpdate{Name: &name})
	expectKind(t, err, apperr.KindPermission)

	if _, err := svc.UpdateProfile(ctx, admin, doc.ID, ProfileUpdate{Name: &name}); err != nil {
		t.Errorf("admin update: %v", err)
	}
}

func TestUpdateProfile_VillagerCannotHaveProfile(t *testing.T) {
	svc, _ := newTestService()
	v := mustCreate(t, svc, RegisterInput{Name: "V", Email: "v@example.com", Village: "A"})
	_, err := svc.UpdateProfile(context.Background(), v.Principal(), v.ID, ProfileUpdate{Profile: &Profile{Bio: "farmer"}})
	expectKind(t, err, apperr.KindValidation)
}

func TestUpdateProfile_LengthLimits(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	v := mustCreate(t, svc, RegisterInput{Name: "V", Email: "v@example.com", Phone: "9876543210", Village: "A"})

	phone := strings.Repeat("9", 40)
	village := strings.Repeat("v", 300)
	_, err := svc.UpdateProfile(ctx, v.Principal(), v.ID, ProfileUpdate{Phone: &phone, Village: &village})
	appErr := expectKind(t, err, apperr.KindValidation)
	for _, f := range []string{"phone", "village"} {
		if _, ok := appErr.Fields[f]; !ok {
			t.Errorf("expected field %s in %v", f, appErr.Fields)
		}
	}

	stored, err := repo.GetByID(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Phone != "9876543210" {
		t.Errorf("rejected update was stored: phone %q", stored.Phone)
	}
}

func TestSetStatus(t *testing.T) {
	svc, _ := newTestService()
	v := mustCreate(t, svc, RegisterInput{Name: "V", Email: "v@example.com", Village: "A"})
	ctx := context.Background()

	u, err := svc.SetStatus(ctx, admin, v.ID, StatusSuspended)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Status != StatusSuspended {
		t.Errorf("expected suspended, got %s", u.Status)
	}

	_, err = svc.SetStatus(ctx, v.Principal(), v.ID, StatusActive)
	expectKind(t, err, apperr.KindPermission)
	_, err = svc.SetStatus(ctx, admin, v.ID, "deleted")
	expectKind(t, err, apperr.KindValidation)
	_, err = svc.SetStatus(ctx, admin, admin.UserID, StatusInactive)
	expectKind(t, err, apperr.KindConflict)
	_, err = svc.SetStatus(ctx, admin, 999, StatusInactive)
	expectKind(t, err, apperr.KindNotFound)
}
