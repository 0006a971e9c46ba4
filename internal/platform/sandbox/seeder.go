// Package sandbox generates reproducible demo data for development and
// training environments. Accounts and cases are created through the domain
// services, so seeded data obeys the same rules as real traffic.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/domain/consultation"
	"github.com/villagecare/villagecare/internal/domain/problem"
	"github.com/villagecare/villagecare/internal/domain/user"
	"github.com/villagecare/villagecare/internal/platform/auth"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	Villages            []string
	VillagersPerVillage int
	OfficersPerVillage  int
	Doctors             int
	ProblemsPerVillager int
	// Password is set on every seeded account.
	Password string
	// Seed makes runs reproducible. 0 picks a time-based seed.
	Seed int64
	// EmailDomain keeps seeded accounts apart from real ones.
	EmailDomain string
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Villages:            []string{"Rampur", "Sitapur", "Chandpur"},
		VillagersPerVillage: 5,
		OfficersPerVillage:  1,
		Doctors:             2,
		ProblemsPerVillager: 2,
		Password:            "villagecare-demo",
		EmailDomain:         "demo.villagecare.org",
	}
}

// SeedResult summarizes a run.
type SeedResult struct {
	Villagers int                    `json:"villagers"`
	Officers  int                    `json:"officers"`
	Doctors   int                    `json:"doctors"`
	Problems  int                    `json:"problems"`
	Responses int                    `json:"responses"`
	ByStatus  map[problem.Status]int `json:"by_status"`
	Duration  string                 `json:"duration"`
}

var (
	firstNames = []string{"Sita", "Ram", "Gita", "Mohan", "Lakshmi", "Arjun", "Meena", "Ravi", "Kavita", "Suresh", "Anita", "Vijay"}
	lastNames  = []string{"Devi", "Kumar", "Sharma", "Yadav", "Patel", "Singh", "Verma", "Gupta"}
	wards      = []string{"ward 1", "ward 2", "ward 3", "near the school", "by the well", "market road"}
)

type caseTemplate struct {
	title       string
	description string
	category    string
	priority    problem.Priority
}

var cases = []caseTemplate{
	{"High fever", "Fever above 102F for three days with body ache", "fever", problem.PriorityHigh},
	{"Persistent cough", "Dry cough for two weeks, worse at night", "respiratory", problem.PriorityMedium},
	{"Pregnancy check", "Seven months pregnant, swelling in the feet", "maternal", problem.PriorityHigh},
	{"Child not eating", "Two year old has refused food for two days", "child health", problem.PriorityHigh},
	{"Skin rash", "Itchy red rash on arms spreading slowly", "skin", problem.PriorityLow},
	{"Cut on foot", "Deep cut from farm tools, swollen around the wound", "injury", problem.PriorityMedium},
	{"Stomach pain", "Loose motions and cramps after drinking well water", "water borne", problem.PriorityUrgent},
	{"Eye irritation", "Red watery eyes in several family members", "eye", problem.PriorityLow},
}

var advice = []string{
	"Start oral rehydration and monitor for dehydration.",
	"Paracetamol for fever, visit the PHC if it persists beyond two days.",
	"Clean the wound daily and keep it dry. Tetanus shot recommended.",
	"Refer to the district hospital for an ultrasound this week.",
	"Apply the prescribed cream twice daily and avoid scratching.",
}

// DataGenerator produces deterministic names, contacts and case details.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) Name() string {
	return g.pick(firstNames) + " " + g.pick(lastNames)
}

// Email is unique per generator.
func (g *DataGenerator) Email(name, domain string) string {
	g.counter++
	local := strings.ToLower(strings.ReplaceAll(name, " ", "."))
	return fmt.Sprintf("%s.%04d@%s", local, g.counter, domain)
}

func (g *DataGenerator) Phone() string {
	return fmt.Sprintf("+91 %d%04d %05d", 7+g.rng.Intn(3), g.rng.Intn(10000), g.rng.Intn(100000))
}

func (g *DataGenerator) Problem(village string) problem.CreateInput {
	c := cases[g.rng.Intn(len(cases))]
	return problem.CreateInput{
		Title:       c.title,
		Description: c.description,
		Category:    c.category,
		Priority:    c.priority,
		Location:    village + ", " + g.pick(wards),
	}
}

func (g *DataGenerator) Advice() string {
	return g.pick(advice)
}

// Seeder creates accounts and walks their cases through the workflow.
type Seeder struct {
	users         *user.Service
	problems      *problem.Service
	consultations *consultation.Service
	generator     *DataGenerator
	config        SeedConfig
	logger        zerolog.Logger
}

func NewSeeder(users *user.Service, problems *problem.Service, consultations *consultation.Service, config SeedConfig, logger zerolog.Logger) *Seeder {
	if config.EmailDomain == "" {
		config.EmailDomain = DefaultSeedConfig().EmailDomain
	}
	return &Seeder{
		users:         users,
		problems:      problems,
		consultations: consultations,
		generator:     NewDataGenerator(config.Seed),
		config:        config,
		logger:        logger.With().Str("component", "sandbox").Logger(),
	}
}

func (s *Seeder) account(ctx context.Context, role, village string) (auth.Principal, error) {
	name := s.generator.Name()
	if role == auth.RoleDoctor {
		name = "Dr " + name
	}
	u, err := s.users.Create(ctx, user.RegisterInput{
		Name:     name,
		Email:    s.generator.Email(name, s.config.EmailDomain),
		Password: s.config.Password,
		Phone:    s.generator.Phone(),
		Role:     role,
		Village:  village,
	})
	if err != nil {
		return auth.Principal{}, fmt.Errorf("seed %s account: %w", role, err)
	}
	return u.Principal(), nil
}

// Generate creates the configured accounts and cases. Cases are spread over
// every workflow stage from pending to completed.
func (s *Seeder) Generate(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{ByStatus: make(map[problem.Status]int)}

	var doctors []auth.Principal
	for i := 0; i < s.config.Doctors; i++ {
		d, err := s.account(ctx, auth.RoleDoctor, "")
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, d)
		result.Doctors++
	}

	for _, village := range s.config.Villages {
		var officers []auth.Principal
		for i := 0; i < s.config.OfficersPerVillage; i++ {
			o, err := s.account(ctx, auth.RoleAVMS, village)
			if err != nil {
				return nil, err
			}
			officers = append(officers, o)
			result.Officers++
		}

		for i := 0; i < s.config.VillagersPerVillage; i++ {
			v, err := s.account(ctx, auth.RoleVillager, village)
			if err != nil {
				return nil, err
			}
			result.Villagers++

			for j := 0; j < s.config.ProblemsPerVillager; j++ {
				pr, err := s.problems.Create(ctx, v, s.generator.Problem(village))
				if err != nil {
					return nil, fmt.Errorf("seed problem: %w", err)
				}
				result.Problems++

				status, responded, err := s.advance(ctx, pr.ID, officers, doctors)
				if err != nil {
					return nil, err
				}
				result.ByStatus[status]++
				if responded {
					result.Responses++
				}
			}
		}
	}

	result.Duration = time.Since(start).String()
	s.logger.Info().
		Int("villagers", result.Villagers).
		Int("problems", result.Problems).
		Str("duration", result.Duration).
		Msg("demo data seeded")
	return result, nil
}

// advance moves a new case to a randomly chosen stage.
func (s *Seeder) advance(ctx context.Context, problemID int64, officers, doctors []auth.Principal) (problem.Status, bool, error) {
	stage := s.generator.rng.Intn(5)
	if stage == 0 || len(officers) == 0 {
		return problem.StatusPending, false, nil
	}

	officer := officers[s.generator.rng.Intn(len(officers))]
	if _, err := s.problems.Assign(ctx, officer, problemID, 0); err != nil {
		return "", false, fmt.Errorf("seed assign: %w", err)
	}
	if stage == 1 {
		return problem.StatusAssigned, false, nil
	}
	if stage == 2 || len(doctors) == 0 {
		if _, err := s.problems.UpdateStatus(ctx, officer, problemID, problem.StatusInput{
			Status: problem.StatusInProgress, Notes: "Visited the family",
		}); err != nil {
			return "", false, fmt.Errorf("seed progress: %w", err)
		}
		return problem.StatusInProgress, false, nil
	}

	doctor := doctors[s.generator.rng.Intn(len(doctors))]
	doctorID := doctor.UserID
	if _, err := s.problems.Escalate(ctx, officer, problemID, problem.EscalateInput{
		DoctorID: &doctorID, Notes: "Needs a doctor's opinion",
	}); err != nil {
		return "", false, fmt.Errorf("seed escalate: %w", err)
	}
	if stage == 3 {
		return problem.StatusEscalated, false, nil
	}

	if _, err := s.consultations.Submit(ctx, doctor, problemID, consultation.SubmitInput{
		Response:     s.generator.Advice(),
		UrgencyLevel: consultation.UrgencyMedium,
		CompleteCase: true,
	}); err != nil {
		return "", false, fmt.Errorf("seed response: %w", err)
	}
	return problem.StatusCompleted, true, nil
}
