// Package notification records in-app notifications for users and pushes them
// to connected websocket clients once the writing transaction commits.
package notification

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/internal/platform/db"
	"github.com/villagecare/villagecare/internal/platform/metrics"
	"github.com/villagecare/villagecare/internal/platform/websocket"
	"github.com/villagecare/villagecare/pkg/pagination"
)

const (
	EventNotification = "notification"
	unreadListLimit   = 50
)

type Service struct {
	repo      Repository
	templates *TemplateEngine
	publisher websocket.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates the service. publisher may be nil, in which case
// notifications are only stored.
func NewService(repo Repository, publisher websocket.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		templates: NewTemplateEngine(),
		publisher: publisher,
		logger:    logger.With().Str("component", "notification").Logger(),
		now:       time.Now,
	}
}

func (s *Service) Templates() *TemplateEngine {
	return s.templates
}

// Notify stores one unread notification and reports whether it was stored.
// It never fails the caller: inside a transaction the insert runs in a
// savepoint, so a failed insert rolls back only itself.
func (s *Service) Notify(ctx context.Context, n *Notification) bool {
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)

	if n.UserID <= 0 || n.Title == "" || n.Message == "" || !n.Type.Valid() || !n.Priority.Valid() {
		s.warn(n).Str("type", string(n.Type)).Msg("dropping invalid notification")
		metrics.RecordNotification(string(n.Type), "failed")
		return false
	}

	err := db.Savepoint(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, n)
	})
	if err != nil {
		s.warn(n).Err(err).Msg("failed to store notification")
		metrics.RecordNotification(string(n.Type), "failed")
		return false
	}
	metrics.RecordNotification(string(n.Type), "sent")

	if s.publisher != nil {
		stored := *n
		db.AfterCommit(ctx, func() {
			s.push(context.WithoutCancel(ctx), &stored)
		})
	}
	return true
}

// NotifyTemplate renders a built-in or registered template and stores it for
// userID.
func (s *Service) NotifyTemplate(ctx context.Context, userID int64, problemID *int64, templateID string, data map[string]string) bool {
	t, err := s.templates.Render(templateID, data)
	if err != nil {
		s.logger.Error().Err(err).Str("template", templateID).Msg("render notification")
		return false
	}
	return s.Notify(ctx, &Notification{
		UserID:    userID,
		ProblemID: problemID,
		Title:     t.Title,
		Message:   t.Message,
		Type:      t.Type,
		Priority:  t.Priority,
	})
}

// NotifyMany sends the same template to every user in userIDs and returns
// how many were stored.
func (s *Service) NotifyMany(ctx context.Context, userIDs []int64, problemID *int64, templateID string, data map[string]string) int {
	sent := 0
	for _, id := range userIDs {
		if s.NotifyTemplate(ctx, id, problemID, templateID, data) {
			sent++
		}
	}
	return sent
}

func (s *Service) warn(n *Notification) *zerolog.Event {
	ev := s.logger.Warn().Int64("user_id", n.UserID)
	if n.ProblemID != nil {
		ev = ev.Int64("problem_id", *n.ProblemID)
	}
	return ev
}

func (s *Service) push(ctx context.Context, n *Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		s.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("encode notification event")
		return
	}
	event := websocket.Event{
		Type:  EventNotification,
		Topic: websocket.UserTopic(n.UserID),
		Data:  payload,
	}
	if n.ProblemID != nil {
		event.ProblemID = *n.ProblemID
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", n.UserID).Msg("push notification")
	}
}

// MarkRead marks the caller's notification read. Missing or foreign
// notifications are a no-op returning false.
func (s *Service) MarkRead(ctx context.Context, p auth.Principal, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	ok, err := s.repo.MarkRead(ctx, id, p.UserID)
	if err != nil {
		return false, apperr.Infrastructure("mark notification read", err)
	}
	return ok, nil
}

func (s *Service) MarkAllRead(ctx context.Context, p auth.Principal) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, p.UserID)
	if err != nil {
		return 0, apperr.Infrastructure("mark all notifications read", err)
	}
	return n, nil
}

func (s *Service) ListUnread(ctx context.Context, p auth.Principal) ([]*Notification, error) {
	items, err := s.repo.ListUnread(ctx, p.UserID, unreadListLimit)
	if err != nil {
		return nil, apperr.Infrastructure("list unread notifications", err)
	}
	return items, nil
}

func (s *Service) CountUnread(ctx context.Context, p auth.Principal) (int, error) {
	n, err := s.repo.CountUnread(ctx, p.UserID)
	if err != nil {
		return 0, apperr.Infrastructure("count unread notifications", err)
	}
	return n, nil
}

// List returns the caller's notifications, newest first and then by
// priority.
func (s *Service) List(ctx context.Context, p auth.Principal, f Filter) ([]*Notification, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, apperr.Validation("invalid notification type", map[string]string{"type": "must be info, success, warning or error"})
	}
	f.Limit = pagination.Clamp(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}

	items, total, err := s.repo.List(ctx, p.UserID, f)
	if err != nil {
		return nil, 0, apperr.Infrastructure("list notifications", err)
	}
	return items, total, nil
}

// Prune deletes read notifications created more than olderThan ago. Unread
// notifications are kept regardless of age.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperr.Validation("retention must be positive", nil)
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.repo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, apperr.Infrastructure("prune notifications", err)
	}
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("pruned read notifications")
	return n, nil
}
