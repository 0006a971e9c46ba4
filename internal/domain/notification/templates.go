package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Built-in template IDs for case events.
const (
	TplProblemSubmitted   = "problem-submitted"
	TplProblemAssigned    = "problem-assigned"
	TplStatusChanged      = "status-changed"
	TplEscalatedDoctor    = "escalated-doctor"
	TplEscalatedBroadcast = "escalated-broadcast"
	TplEscalatedVillager  = "escalated-villager"
	TplResponseVillager   = "response-villager"
	TplResponseOfficer    = "response-officer"
	TplResponseDoctor     = "response-doctor"
	TplCommentAdded       = "comment-added"
)

// Template is a reusable title/message pair with {{key}} placeholders.
type Template struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Type     Type     `json:"type"`
	Priority Priority `json:"priority"`
}

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:       TplProblemSubmitted,
			Title:    "New problem reported",
			Message:  `{{villager}} reported "{{title}}" ({{priority}} priority) in {{village}}.`,
			Type:     TypeInfo,
			Priority: PriorityMedium,
		},
		{
			ID:       TplProblemAssigned,
			Title:    "Your problem has been assigned",
			Message:  `"{{title}}" has been assigned to {{officer}}, who will follow up with you.`,
			Type:     TypeSuccess,
			Priority: PriorityMedium,
		},
		{
			ID:       TplStatusChanged,
			Title:    "Problem status updated",
			Message:  `"{{title}}" is now {{status}}.{{notes}}`,
			Type:     TypeInfo,
			Priority: PriorityMedium,
		},
		{
			ID:       TplEscalatedDoctor,
			Title:    "Problem escalated to you",
			Message:  `"{{title}}" needs a medical consultation.{{notes}}`,
			Type:     TypeWarning,
			Priority: PriorityHigh,
		},
		{
			ID:       TplEscalatedBroadcast,
			Title:    "Problem awaiting a doctor",
			Message:  `"{{title}}" was escalated and is open to any doctor.{{notes}}`,
			Type:     TypeWarning,
			Priority: PriorityHigh,
		},
		{
			ID:       TplEscalatedVillager,
			Title:    "Your problem was escalated",
			Message:  `"{{title}}" was referred to {{doctor}} for a medical consultation.`,
			Type:     TypeInfo,
			Priority: PriorityMedium,
		},
		{
			ID:       TplResponseVillager,
			Title:    "A doctor responded to your problem",
			Message:  `{{doctor}} responded to "{{title}}".{{follow_up}}`,
			Type:     TypeSuccess,
			Priority: PriorityHigh,
		},
		{
			ID:       TplResponseOfficer,
			Title:    "Doctor responded to an assigned problem",
			Message:  `{{doctor}} responded to "{{title}}" with {{urgency}} urgency.`,
			Type:     TypeInfo,
			Priority: PriorityMedium,
		},
		{
			ID:       TplResponseDoctor,
			Title:    "Response recorded",
			Message:  `Your response to "{{title}}" was recorded.`,
			Type:     TypeSuccess,
			Priority: PriorityLow,
		},
		{
			ID:       TplCommentAdded,
			Title:    "New comment",
			Message:  `{{author}} commented on "{{title}}": {{notes}}`,
			Type:     TypeInfo,
			Priority: PriorityLow,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is. Substituted values are never rescanned, so placeholders typed
// into user text stay literal.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Template, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := *t
	out.Title = r.Replace(out.Title)
	out.Message = r.Replace(out.Message)
	return out, nil
}
