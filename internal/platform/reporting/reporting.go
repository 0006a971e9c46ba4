// Package reporting evaluates a fixed set of read-only dashboard queries
// over the case tables.
package reporting

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
)

// MeasureDefinition defines a reporting measure with its SQL query.
// Parameters name the query string values bound, in order, to $1..$n.
// A missing parameter binds NULL.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "problems-by-status",
		Name:        "Problems by Status",
		Description: "Number of problems in each lifecycle status, optionally for one village",
		SQL: `SELECT p.status, COUNT(*) AS total
FROM problems p JOIN users v ON v.id = p.villager_id
WHERE ($1::text IS NULL OR v.village = $1)
GROUP BY p.status ORDER BY total DESC`,
		Parameters: []string{"village"},
	},
	{
		ID:          "problems-by-priority",
		Name:        "Open Problems by Priority",
		Description: "Unresolved problems grouped by priority",
		SQL: `SELECT priority, COUNT(*) AS total FROM problems
WHERE status NOT IN ('resolved', 'completed')
GROUP BY priority ORDER BY total DESC`,
		Parameters: []string{},
	},
	{
		ID:          "officer-workload",
		Name:        "Officer Workload",
		Description: "Open problems assigned to each active ANMS officer",
		SQL: `SELECT u.id AS officer_id, u.name, u.village, COUNT(p.id) AS open_problems
FROM users u LEFT JOIN problems p
  ON p.assigned_to = u.id AND p.status NOT IN ('resolved', 'completed')
WHERE u.role = 'avms' AND u.status = 'active'
GROUP BY u.id, u.name, u.village ORDER BY open_problems DESC, u.name`,
		Parameters: []string{},
	},
	{
		ID:          "escalation-backlog",
		Name:        "Escalation Backlog",
		Description: "Escalated problems still waiting for a first medical response",
		SQL: `SELECT p.id, p.title, p.priority, p.escalated_to, p.escalation_date
FROM problems p
WHERE p.status = 'escalated'
  AND NOT EXISTS (SELECT 1 FROM medical_responses r WHERE r.problem_id = p.id)
ORDER BY p.escalation_date NULLS LAST`,
		Parameters: []string{},
	},
	{
		ID:          "resolution-time",
		Name:        "Average Resolution Time",
		Description: "Average hours from report to resolution by category, for problems resolved since a date",
		SQL: `SELECT category, COUNT(*) AS resolved,
  ROUND(AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 3600)::numeric, 1) AS avg_hours
FROM problems
WHERE resolved_at IS NOT NULL AND ($1::date IS NULL OR resolved_at >= $1::date)
GROUP BY category ORDER BY resolved DESC`,
		Parameters: []string{"since"},
	},
	{
		ID:          "doctor-responses",
		Name:        "Doctor Responses",
		Description: "Medical responses per doctor with urgent and follow-up counts",
		SQL: `SELECT u.id AS doctor_id, u.name, COUNT(r.id) AS responses,
  COUNT(*) FILTER (WHERE r.urgency_level IN ('high', 'critical')) AS urgent,
  COUNT(*) FILTER (WHERE r.follow_up_required) AS follow_ups
FROM users u JOIN medical_responses r ON r.doctor_id = u.id
GROUP BY u.id, u.name ORDER BY responses DESC`,
		Parameters: []string{},
	},
	{
		ID:          "unread-notifications",
		Name:        "Unread Notifications",
		Description: "Unread notification backlog per role",
		SQL: `SELECT u.role, COUNT(n.id) AS unread
FROM notifications n JOIN users u ON u.id = n.user_id
WHERE NOT n.is_read
GROUP BY u.role ORDER BY unread DESC`,
		Parameters: []string{},
	},
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	db Querier
}

func NewHandler(db Querier) *Handler {
	return &Handler{db: db}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleAdmin))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, apperr.OK("measures", PredefinedMeasures))
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return apperr.NotFound("measure", c.Param("id"))
	}

	params := map[string]string{}
	args := make([]interface{}, len(measure.Parameters))
	for i, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
			args[i] = v
		}
	}
	if v, ok := params["since"]; ok {
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return apperr.Validation("since must be a date (YYYY-MM-DD)", map[string]string{"since": "invalid date"})
		}
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return apperr.Infrastructure("evaluate measure "+measure.ID, err)
	}

	return c.JSON(http.StatusOK, apperr.OK("measure evaluated", MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		Parameters:  params,
	}))
}

func (h *Handler) executeSQL(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := h.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
