package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	tracking "livestock-cloud/internal/tracking/domain"
)

// NotificationRepository keeps notifications in memory.
type NotificationRepository struct {
	mu    sync.RWMutex
	items []tracking.Notification
}

// NewNotificationRepository constructs an empty repository.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{}
}

// Append stores a notification.
func (r *NotificationRepository) Append(_ context.Context, n tracking.Notification) error {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
	return nil
}

// List returns notifications matching filter, newest first.
func (r *NotificationRepository) List(_ context.Context, filter tracking.NotificationFilter) ([]tracking.Notification, error) {
	r.mu.RLock()
	out := make([]tracking.Notification, 0, len(r.items))
	for _, n := range r.items {
		if filter.FarmID != "" && n.FarmID != filter.FarmID {
			continue
		}
		if filter.AnimalID != "" && n.AnimalID != filter.AnimalID {
			continue
		}
		if filter.Unread && n.Read {
			continue
		}
		out = append(out, n)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Get returns a notification by id, or nil when absent.
func (r *NotificationRepository) Get(_ context.Context, id string) (*tracking.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.items {
		if n.ID == id {
			out := n
			return &out, nil
		}
	}
	return nil, nil
}

// MarkRead flags a notification as read.
func (r *NotificationRepository) MarkRead(_ context.Context, id string, at time.Time) (*tracking.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID != id {
			continue
		}
		if !r.items[i].Read {
			readAt := at.UTC()
			r.items[i].Read = true
			r.items[i].ReadAt = &readAt
		}
		out := r.items[i]
		return &out, nil
	}
	return nil, tracking.ErrNotFound
}

// CountUnread returns the number of unread notifications.
func (r *NotificationRepository) CountUnread(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, n := range r.items {
		if !n.Read {
			count++
		}
	}
	return count, nil
}
