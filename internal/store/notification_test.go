package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/freshkeep/internal/model"
)

func setupNotificationTestDB(t *testing.T) (*NotificationStore, int64) {
	t.Helper()
	db := setupTestDB(t)
	u := createTestUser(t, db, "test@example.com")
	return NewNotificationStore(db), u.ID
}

func expiryNotification(userID, itemID int64, tier, day string) model.Notification {
	return model.Notification{
		UserID:   userID,
		Type:     model.NotifTypeExpiryWarning,
		Priority: model.PriorityHigh,
		Title:    "Milk expires tomorrow",
		ItemID:   &itemID,
		Tier:     tier,
		DayKey:   day,
		DedupKey: model.ItemDedupKey(itemID, tier, day),
		Payload:  model.ExpiryPayload{ItemName: "Milk", Bucket: tier, DaysLeft: 1, ExpiryDate: "2026-03-11"},
	}
}

func TestNotificationCreateAndGet(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	n, created, err := ns.Create(ctx, expiryNotification(uid, 7, "tomorrow", "2026-03-10"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected created = true")
	}
	if n.Status != model.NotificationUnread {
		t.Errorf("status = %q, want unread", n.Status)
	}
	p, ok := n.Payload.(model.ExpiryPayload)
	if !ok {
		t.Fatalf("payload = %T, want ExpiryPayload", n.Payload)
	}
	if p.ItemName != "Milk" || p.DaysLeft != 1 {
		t.Errorf("payload = %+v", p)
	}
	if n.ItemID == nil || *n.ItemID != 7 {
		t.Errorf("item id = %v, want 7", n.ItemID)
	}
}

func TestNotificationCreateDeduplicates(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	if _, created, _ := ns.Create(ctx, expiryNotification(uid, 7, "tomorrow", "2026-03-10")); !created {
		t.Fatal("first create should insert")
	}
	n, created, err := ns.Create(ctx, expiryNotification(uid, 7, "tomorrow", "2026-03-10"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || n != nil {
		t.Fatal("duplicate notification was inserted")
	}

	// Next day and other tiers are distinct keys.
	if _, created, _ := ns.Create(ctx, expiryNotification(uid, 7, "tomorrow", "2026-03-11")); !created {
		t.Error("next-day notification should insert")
	}
	if _, created, _ := ns.Create(ctx, expiryNotification(uid, 7, "today", "2026-03-10")); !created {
		t.Error("other tier should insert")
	}

	exists, err := ns.Exists(ctx, uid, model.ItemDedupKey(7, "tomorrow", "2026-03-10"))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("expected notification to exist")
	}
}

func TestNotificationCreateConcurrentDuplicates(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := ns.Create(ctx, expiryNotification(uid, 9, "today", "2026-03-10"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
}

func TestNotificationWithoutDedupKeyAlwaysInserts(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	n := model.Notification{UserID: uid, Type: model.NotifTypeSystem, Priority: model.PriorityLow, Title: "hello"}
	ns.Create(ctx, n)
	if _, created, _ := ns.Create(ctx, n); !created {
		t.Error("notifications without a key must not be deduplicated")
	}
}

func TestNotificationListAndPaging(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		n := expiryNotification(uid, int64(i+1), "today", "2026-03-10")
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		ns.Create(ctx, n)
	}
	ns.Create(ctx, model.Notification{UserID: uid, Type: model.NotifTypeLowStock, Priority: model.PriorityMedium, Title: "low", CreatedAt: base})

	page, err := ns.List(ctx, uid, NotificationFilter{Type: model.NotifTypeExpiryWarning}, Page{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("total = %d, want 5", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	if *page.Items[0].ItemID != 4 {
		t.Errorf("first item = %d, want 4 (newest first, offset 1)", *page.Items[0].ItemID)
	}

	page, _ = ns.List(ctx, uid, NotificationFilter{}, Page{Limit: 1000})
	if page.Limit != MaxPageLimit {
		t.Errorf("limit = %d, want %d", page.Limit, MaxPageLimit)
	}
}

func TestNotificationReadArchiveDelete(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	a, _, _ := ns.Create(ctx, expiryNotification(uid, 1, "today", "2026-03-10"))
	b, _, _ := ns.Create(ctx, expiryNotification(uid, 2, "today", "2026-03-10"))
	ns.Create(ctx, expiryNotification(uid, 3, "today", "2026-03-10"))

	if count, _ := ns.UnreadCount(ctx, uid); count != 3 {
		t.Fatalf("unread = %d, want 3", count)
	}

	found, err := ns.MarkRead(ctx, a.ID, uid, testNow)
	if err != nil || !found {
		t.Fatalf("mark read: found=%v err=%v", found, err)
	}
	if found, _ := ns.MarkRead(ctx, a.ID, uid, testNow); !found {
		t.Error("re-reading a read notification should still find it")
	}
	if found, _ := ns.MarkRead(ctx, a.ID, uid+1, testNow); found {
		t.Error("another user must not see the notification")
	}
	got, _ := ns.GetByID(ctx, a.ID)
	if got.ReadAt == nil {
		t.Error("expected read_at to be set")
	}

	n, err := ns.MarkAllRead(ctx, uid, testNow)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}
	if count, _ := ns.UnreadCount(ctx, uid); count != 0 {
		t.Errorf("unread = %d, want 0", count)
	}

	if ok, _ := ns.Archive(ctx, b.ID, uid); !ok {
		t.Error("archive should find notification")
	}
	got, _ = ns.GetByID(ctx, b.ID)
	if got.Status != model.NotificationArchived {
		t.Errorf("status = %q, want archived", got.Status)
	}

	if ok, _ := ns.Delete(ctx, b.ID, uid, testNow); !ok {
		t.Error("delete should find notification")
	}
	if ok, _ := ns.Delete(ctx, b.ID, uid, testNow); ok {
		t.Error("second delete should not find notification")
	}
}

func TestDeleteOlderThan(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	old := testNow.AddDate(0, 0, -40)
	readOld := expiryNotification(uid, 1, "today", "2026-01-01")
	readOld.CreatedAt = old
	r, _, _ := ns.Create(ctx, readOld)
	ns.MarkRead(ctx, r.ID, uid, old)

	unreadOld := expiryNotification(uid, 2, "today", "2026-01-01")
	unreadOld.CreatedAt = old
	ns.Create(ctx, unreadOld)

	ns.Create(ctx, expiryNotification(uid, 3, "today", "2026-03-10"))

	if _, err := ns.DeleteOlderThan(ctx, nil, testNow); !errors.Is(err, ErrNoStatuses) {
		t.Fatalf("err = %v, want ErrNoStatuses", err)
	}

	n, err := ns.DeleteOlderThan(ctx, []model.NotificationStatus{model.NotificationRead, model.NotificationArchived}, testNow.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if count, _ := ns.UnreadCount(ctx, uid); count != 2 {
		t.Errorf("unread = %d, want 2 (unread notifications are kept)", count)
	}
}

func TestListSinceAndCountByType(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	early := expiryNotification(uid, 1, "today", "2026-03-01")
	early.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ns.Create(ctx, early)
	late := expiryNotification(uid, 2, "today", "2026-03-09")
	late.CreatedAt = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	ns.Create(ctx, late)

	since := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	list, err := ns.ListSince(ctx, uid, since)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(list) != 1 || *list[0].ItemID != 2 {
		t.Errorf("list since = %+v", list)
	}

	counts, err := ns.CountByType(ctx, uid, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("count by type: %v", err)
	}
	if counts[model.NotifTypeExpiryWarning] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestDeletedNotificationKeepsDedupKey(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	n, _, err := ns.Create(ctx, expiryNotification(uid, 4, "today", "2026-03-10"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := ns.Delete(ctx, n.ID, uid, testNow); err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}

	exists, err := ns.Exists(ctx, uid, n.DedupKey)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("deleted notification must keep its dedup key")
	}
	if _, created, _ := ns.Create(ctx, expiryNotification(uid, 4, "today", "2026-03-10")); created {
		t.Error("deleted notification was created again")
	}

	page, err := ns.List(ctx, uid, NotificationFilter{}, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("list = %+v, want empty", page)
	}
	if count, _ := ns.UnreadCount(ctx, uid); count != 0 {
		t.Errorf("unread = %d, want 0", count)
	}
	if got, _ := ns.GetByID(ctx, n.ID); got != nil {
		t.Error("deleted notification is still visible")
	}
	if found, _ := ns.MarkRead(ctx, n.ID, uid, testNow); found {
		t.Error("deleted notification can still be read")
	}
	if ok, _ := ns.Archive(ctx, n.ID, uid); ok {
		t.Error("deleted notification can still be archived")
	}
}

func TestDeleteOlderThanPrunesDeleted(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	old := expiryNotification(uid, 5, "today", "2026-01-01")
	old.CreatedAt = testNow.AddDate(0, 0, -40)
	n, _, _ := ns.Create(ctx, old)
	ns.Delete(ctx, n.ID, uid, old.CreatedAt)

	recent, _, _ := ns.Create(ctx, expiryNotification(uid, 6, "today", "2026-03-10"))
	ns.Delete(ctx, recent.ID, uid, testNow)

	deleted, err := ns.DeleteOlderThan(ctx, []model.NotificationStatus{model.NotificationRead}, testNow.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if exists, _ := ns.Exists(ctx, uid, old.DedupKey); exists {
		t.Error("expected the old deleted notification to be pruned")
	}
	if exists, _ := ns.Exists(ctx, uid, recent.DedupKey); !exists {
		t.Error("recently deleted notification was pruned early")
	}
}

func TestUnreadablePayloadDoesNotBreakList(t *testing.T) {
	ns, uid := setupNotificationTestDB(t)
	ctx := context.Background()

	bad, _, _ := ns.Create(ctx, expiryNotification(uid, 1, "today", "2026-03-10"))
	ns.Create(ctx, expiryNotification(uid, 2, "today", "2026-03-10"))
	if _, err := ns.db.ExecContext(ctx, `UPDATE notifications SET payload = 'not json' WHERE id = ?`, bad.ID); err != nil {
		t.Fatalf("corrupt payload: %v", err)
	}

	page, err := ns.List(ctx, uid, NotificationFilter{}, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	got, err := ns.GetByID(ctx, bad.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload.Kind() != model.PayloadSystem {
		t.Errorf("payload kind = %q, want system", got.Payload.Kind())
	}
	if _, err := ns.ListSince(ctx, uid, time.Time{}); err != nil {
		t.Errorf("list since: %v", err)
	}
}
