// Package notify records user-facing messages. Recording is best-effort:
// failures are logged and never returned to the operation that triggered them.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"box-claims-api/internal/authz"
	"box-claims-api/internal/logging"
	"box-claims-api/internal/models"
)

// Store is the persistence the notifier needs.
type Store interface {
	InsertNotifications(ctx context.Context, notifications []models.Notification) (int, error)
	ListNonStaffUserIDs(ctx context.Context) ([]string, error)
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Notify records message for one user.
func (s *Service) Notify(ctx context.Context, userID, message string) {
	s.record(ctx, []string{userID}, message)
}

// Broadcast records message for every known non-staff user.
func (s *Service) Broadcast(ctx context.Context, message string) {
	userIDs, err := s.store.ListNonStaffUserIDs(ctx)
	if err != nil {
		logging.Error(ctx).Err(err).Str("message", message).Msg("failed to list broadcast recipients")
		return
	}
	s.record(ctx, userIDs, message)
}

func (s *Service) record(ctx context.Context, userIDs []string, message string) {
	if len(userIDs) == 0 {
		return
	}

	createdAt := s.now().UTC()
	batch := make([]models.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		batch = append(batch, models.Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			Message:   message,
			CreatedAt: createdAt,
		})
	}

	if _, err := s.store.InsertNotifications(ctx, batch); err != nil {
		logging.Error(ctx).Err(err).
			Int("recipients", len(batch)).
			Str("message", message).
			Msg("failed to record notifications")
		return
	}

	logging.Debug(ctx).Int("recipients", len(batch)).Msg("notifications recorded")
}

// List returns the caller's own notifications, newest first.
func (s *Service) List(ctx context.Context, caller authz.Caller) ([]models.Notification, error) {
	if err := authz.Authorize(caller, authz.OpReadNotification, authz.Resource{OwnerID: caller.ID}); err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, caller.ID)
}

// MarkRead marks one of the caller's notifications as read.
func (s *Service) MarkRead(ctx context.Context, caller authz.Caller, id string) error {
	if err := authz.Authorize(caller, authz.OpReadNotification, authz.Resource{OwnerID: caller.ID}); err != nil {
		return err
	}
	return s.store.MarkNotificationRead(ctx, id, caller.ID)
}
