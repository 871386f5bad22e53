package feed

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Notifications returns every notification of recipient, most recent first,
// with the number of unread ones among them. The count is written back to the
// cache so that drift in the cached counter does not outlive a listing.
func (e *Engine) Notifications(ctx context.Context, recipient string) (NotificationFeed, error) {
	seen, seed := e.cachedUnreadCount(ctx, recipient)

	ns, err := e.Store.ListNotifications(ctx, recipient)
	if err != nil {
		return NotificationFeed{}, fmt.Errorf("list notifications: %w", err)
	}
	sortNotifications(ns)

	unread := lo.CountBy(ns, func(n Notification) bool { return !n.Read })
	if seed {
		e.seedUnreadCount(ctx, recipient, seen, unread)
	}

	return NotificationFeed{
		Notifications: nonNil(ns),
		UnreadCount:   unread,
	}, nil
}

// UnreadCount returns the number of unread notifications of recipient.
func (e *Engine) UnreadCount(ctx context.Context, recipient string) (int, error) {
	seen, seed := e.cachedUnreadCount(ctx, recipient)
	if seen.OK {
		return seen.N, nil
	}

	n, err := e.Store.CountUnread(ctx, recipient)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	if seed {
		e.seedUnreadCount(ctx, recipient, seen, n)
	}
	return n, nil
}

// cachedUnreadCount reads the cached counter of recipient. The boolean is
// false when there is no usable cache.
func (e *Engine) cachedUnreadCount(ctx context.Context, recipient string) (CachedCount, bool) {
	if e.Cache == nil {
		return CachedCount{}, false
	}
	c, err := e.Cache.UnreadCount(ctx, recipient)
	if err != nil {
		e.log().Error("Could not read cached unread count", "recipient", recipient, "error", err.Error())
		return CachedCount{}, false
	}
	return c, true
}

// seedUnreadCount caches n, counted from the store, unless the counter was
// written after it was read as seen.
func (e *Engine) seedUnreadCount(ctx context.Context, recipient string, seen CachedCount, n int) {
	written, err := e.Cache.ReplaceUnreadCount(ctx, recipient, seen, n)
	if err != nil {
		e.log().Error("Could not cache unread count", "recipient", recipient, "error", err.Error())
		return
	}
	if !written {
		e.log().Debug("Unread count changed meanwhile, not cached", "recipient", recipient)
	}
}

// beginUnreadChange is called before a store write that changes the unread
// count of recipient. Its result goes to adjustUnreadCount.
func (e *Engine) beginUnreadChange(ctx context.Context, recipient string) int64 {
	if e.Cache == nil {
		return 0
	}
	since, err := e.Cache.BeginUnreadChange(ctx, recipient)
	if err != nil {
		e.log().Error("Could not begin unread count change", "recipient", recipient, "error", err.Error())
		return -1
	}
	return since
}

func (e *Engine) adjustUnreadCount(ctx context.Context, recipient string, since int64, delta int) {
	if e.Cache == nil {
		return
	}
	if err := e.Cache.AdjustUnreadCount(ctx, recipient, since, delta); err != nil {
		e.log().Error("Could not adjust unread count", "recipient", recipient, "error", err.Error())
	}
}

// MarkRead marks one notification of recipient as read. A notification owned
// by someone else is reported as ErrNotFound.
func (e *Engine) MarkRead(ctx context.Context, recipient, id string) (Notification, int, error) {
	var (
		n       Notification
		changed bool
	)
	since := e.beginUnreadChange(ctx, recipient)
	err := e.retry(ctx, "mark_read", func() error {
		var err error
		n, changed, err = e.Store.MarkRead(ctx, id, recipient)
		return err
	})
	if err != nil {
		return Notification{}, 0, err
	}
	if changed {
		e.adjustUnreadCount(ctx, recipient, since, -1)
	}

	count, err := e.UnreadCount(ctx, recipient)
	if err != nil {
		return Notification{}, 0, err
	}
	return n, count, nil
}

// MarkAllRead marks every notification recipient had when the call started
// as read. Notifications created meanwhile stay unread.
func (e *Engine) MarkAllRead(ctx context.Context, recipient string) (NotificationFeed, error) {
	cutoff := e.now()

	since := e.beginUnreadChange(ctx, recipient)
	var changed int
	err := e.retry(ctx, "mark_all_read", func() error {
		var err error
		changed, err = e.Store.MarkAllRead(ctx, recipient, cutoff)
		return err
	})
	if err != nil {
		return NotificationFeed{}, err
	}
	e.log().Info("Marked notifications as read", "recipient", recipient, "count", changed)

	if changed > 0 {
		e.adjustUnreadCount(ctx, recipient, since, -changed)
	}

	return e.Notifications(ctx, recipient)
}

// sortNotifications orders ns by creation time, most recent first. Ties go to
// the later insertion, which has the greater time ordered id.
func sortNotifications(ns []Notification) {
	slices.SortStableFunc(ns, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
