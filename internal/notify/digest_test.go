package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/freshkeep/internal/model"
)

type fakeDigestSender struct {
	err error

	mu      sync.Mutex
	digests []Digest
}

func (f *fakeDigestSender) Name() string { return "email" }

func (f *fakeDigestSender) Enabled(u model.User) bool { return u.Preferences.EmailNotificationsEnabled }

func (f *fakeDigestSender) SendDigest(ctx context.Context, u model.User, d Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digests = append(f.digests, d)
	return f.err
}

func TestSendDigest(t *testing.T) {
	f := newFixture(t, model.DefaultPreferences())
	sender := &fakeDigestSender{}
	rep := fakeReporter{
		expense: model.Totals{Expense: 42.5, ItemCount: 3},
		waste:   model.Totals{WasteValue: 4, WastedCount: 1, WastePercentage: 33.33},
	}
	d := NewDispatcher(f.items, f.notes, rep, nil, f.cfg, f.logger, WithClock(f.clock.Now), WithDigestSender(sender))
	ctx := context.Background()

	milk := f.addItem(t, model.GroceryItem{Name: "Milk", ExpiryDate: f.today(0)})
	eggs := f.addItem(t, model.GroceryItem{Name: "Eggs", ExpiryDate: f.today(1)})
	_, err := d.EvaluateAndDispatch(ctx, f.user, milk)
	require.NoError(t, err)
	_, err = d.EvaluateAndDispatch(ctx, f.user, eggs)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := d.SendDigest(ctx, f.user, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Emailed)

	require.Len(t, sender.digests, 1)
	dg := sender.digests[0]
	assert.Len(t, dg.Notifications, 2)
	assert.Equal(t, []string{"Eggs", "Milk"}, dg.Items)
	assert.Equal(t, 42.5, dg.Expense.Totals.Expense)

	// One digest per day, however often the job runs.
	res, err = d.SendDigest(ctx, f.user, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "already sent", res.Skipped)
	assert.Len(t, sender.digests, 1)

	// The stored digest carries a typed payload.
	notes, err := f.notes.ListSince(ctx, f.user.ID, f.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	var digest *model.Notification
	for i := range notes {
		if notes[i].Type == model.NotifTypeSystem {
			digest = &notes[i]
		}
	}
	require.NotNil(t, digest)
	payload, ok := digest.Payload.(model.DigestPayload)
	require.True(t, ok)
	assert.Equal(t, 2, payload.Alerts)
}

func TestSendDigestNothingToReport(t *testing.T) {
	f := newFixture(t, model.DefaultPreferences())
	sender := &fakeDigestSender{}
	d := NewDispatcher(f.items, f.notes, fakeReporter{}, nil, f.cfg, f.logger, WithClock(f.clock.Now), WithDigestSender(sender))

	res, err := d.SendDigest(context.Background(), f.user, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "nothing to report", res.Skipped)
	assert.Empty(t, sender.digests)
}

func TestSendDigestEmailDisabled(t *testing.T) {
	prefs := model.DefaultPreferences()
	prefs.EmailNotificationsEnabled = false
	f := newFixture(t, prefs)
	sender := &fakeDigestSender{}
	rep := fakeReporter{expense: model.Totals{Expense: 10, ItemCount: 1}}
	d := NewDispatcher(f.items, f.notes, rep, nil, f.cfg, f.logger, WithClock(f.clock.Now), WithDigestSender(sender))

	res, err := d.SendDigest(context.Background(), f.user, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Emailed)
	assert.Empty(t, sender.digests)
}

func TestSendDigestEmailFailure(t *testing.T) {
	f := newFixture(t, model.DefaultPreferences())
	sender := &fakeDigestSender{err: errors.New("postmark 500")}
	rep := fakeReporter{expense: model.Totals{Expense: 10, ItemCount: 1}}
	d := NewDispatcher(f.items, f.notes, rep, nil, f.cfg, f.logger, WithClock(f.clock.Now), WithDigestSender(sender))

	res, err := d.SendDigest(context.Background(), f.user, f.clock.Now())
	require.Error(t, err)
	var failure ChannelFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "email", failure.Channel)
	assert.True(t, res.Created, "in-app digest is kept even when email fails")
}

func TestSendMonthlySummary(t *testing.T) {
	f := newFixture(t, model.DefaultPreferences())
	rep := fakeReporter{
		expense: model.Totals{Expense: 120, ItemCount: 14},
		waste:   model.Totals{WasteValue: 9.5, WastedCount: 2, WastePercentage: 14.29},
	}
	d := NewDispatcher(f.items, f.notes, rep, nil, f.cfg, f.logger, WithClock(f.clock.Now))
	ctx := context.Background()
	monthStart := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

	n, err := d.SendMonthlySummary(ctx, f.user, monthStart)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "Your February 2026 summary", n.Title)
	assert.Contains(t, n.Message, "14 items for 120.00")

	again, err := d.SendMonthlySummary(ctx, f.user, monthStart)
	require.NoError(t, err)
	assert.Nil(t, again)
}
