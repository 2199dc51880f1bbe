package engagement

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/kimhsiao/wishwell/backend/internal/docstore"
	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/models"
	"github.com/kimhsiao/wishwell/backend/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func newTestLedger(t *testing.T, store docstore.Store, opts ...Option) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: day(2024, 1, 1)}
	base := []Option{
		WithClock(clock.Now),
		WithLocation(time.UTC),
		WithLogger(logging.New(&bytes.Buffer{}, logging.LevelDebug)),
	}
	return NewLedger(store, append(base, opts...)...), clock
}

func TestRecordEvent_continuationAndSameDayReplay(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t, docstore.NewMemoryStore())

	r1, err := l.RecordEvent(ctx, "u1", models.KindPosting)
	require.NoError(t, err)
	clock.Set(day(2024, 1, 2))
	r2, err := l.RecordEvent(ctx, "u1", models.KindPosting)
	require.NoError(t, err)
	r3, err := l.RecordEvent(ctx, "u1", models.KindPosting)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 2}, []int{r1.Current, r2.Current, r3.Current})
	assert.Equal(t, []string{"posting_1"}, r1.Unlocked)
	assert.Empty(t, r2.Unlocked)
	assert.NotNil(t, r2.Unlocked)
	assert.Empty(t, r3.Unlocked)
	assert.Equal(t, 2, r3.Longest)
	assert.Equal(t, models.KindPosting, r3.Kind)
}

func TestRecordEvent_resetAfterGap(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t, docstore.NewMemoryStore())

	for d := 1; d <= 3; d++ {
		clock.Set(day(2024, 1, d))
		_, err := l.RecordEvent(ctx, "u1", models.KindPosting)
		require.NoError(t, err)
	}

	clock.Set(day(2024, 1, 5))
	r, err := l.RecordEvent(ctx, "u1", models.KindPosting)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Current)
	assert.Equal(t, 3, r.Longest)
	assert.Empty(t, r.Unlocked)
}

func TestRecordEvent_milestonesUnlockOnce(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t, docstore.NewMemoryStore())

	var unlocked []string
	record := func(ts time.Time) *models.EngagementResult {
		clock.Set(ts)
		r, err := l.RecordEvent(ctx, "u1", models.KindFulfillment)
		require.NoError(t, err)
		unlocked = append(unlocked, r.Unlocked...)
		return r
	}

	record(day(2024, 1, 1))
	record(day(2024, 1, 2))
	r := record(day(2024, 1, 3))
	assert.Equal(t, []string{"fulfillment_3"}, r.Unlocked)

	// a new streak passes the same thresholds again without re-unlocking them
	record(day(2024, 2, 1))
	record(day(2024, 2, 2))
	record(day(2024, 2, 3))

	assert.Equal(t, []string{"fulfillment_1", "fulfillment_3"}, unlocked)

	stats, err := l.Stats(ctx, "u1")
	require.NoError(t, err)
	entry := stats.Entry(models.KindFulfillment)
	assert.Equal(t, "2024-01-01", entry.Milestones["fulfillment_1"])
	assert.Equal(t, "2024-01-03", entry.Milestones["fulfillment_3"])
	assert.Equal(t, 3, entry.Current)
	assert.Equal(t, 3, entry.Longest)
}

func TestRecordEvent_longestNeverDecreases(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t, docstore.NewMemoryStore())

	days := []time.Time{
		day(2024, 1, 1), day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4),
		day(2024, 1, 10), day(2024, 1, 11), day(2024, 1, 20),
	}
	prev := 0
	for _, d := range days {
		clock.Set(d)
		r, err := l.RecordEvent(ctx, "u1", models.KindGifting)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Longest, prev)
		assert.LessOrEqual(t, r.Current, r.Longest)
		prev = r.Longest
	}
	assert.Equal(t, 4, prev)
}

func TestRecordEvent_kindsDoNotDisturbEachOther(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	l, clock := newTestLedger(t, store)

	_, err := l.RecordEvent(ctx, "u1", models.KindPosting)
	require.NoError(t, err)
	clock.Set(day(2024, 1, 2))
	_, err = l.RecordEvent(ctx, "u1", models.KindPosting)
	require.NoError(t, err)
	_, err = l.RecordEvent(ctx, "u1", models.KindGifting)
	require.NoError(t, err)

	stats, err := l.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entry(models.KindPosting).Current)
	assert.Equal(t, 1, stats.Entry(models.KindGifting).Current)
	assert.Equal(t, 0, stats.Entry(models.KindFulfillment).Current)
	require.NotNil(t, stats.UpdatedAt)
	assert.Equal(t, day(2024, 1, 2).UnixMilli(), *stats.UpdatedAt)
}

func TestRecordEvent_concurrentSameDay(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, docstore.NewMemoryStore(docstore.WithMaxAttempts(1_000)))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		unlocked []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.RecordEvent(ctx, "u1", models.KindPosting)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, 1, r.Current)
			mu.Lock()
			unlocked = append(unlocked, r.Unlocked...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"posting_1"}, unlocked)
	stats, err := l.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entry(models.KindPosting).Current)
}

func TestRecordEvent_permissionDeniedIsSoft(t *testing.T) {
	store := docstore.NewMemoryStore(docstore.WithAuthorizer(docstore.OwnerOnly))
	l, _ := newTestLedger(t, store)

	r, err := l.RecordEvent(context.Background(), "u1", models.KindPosting)
	assert.NoError(t, err)
	assert.Nil(t, r)

	r, err = l.RecordEvent(docstore.WithUser(context.Background(), "u2"), "u1", models.KindPosting)
	assert.NoError(t, err)
	assert.Nil(t, r)

	r, err = l.RecordEvent(docstore.WithUser(context.Background(), "u1"), "u1", models.KindPosting)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Current)
}

type failingStore struct {
	err error
}

func (s failingStore) RunTransaction(context.Context, docstore.TxFunc) error { return s.err }
func (s failingStore) Get(context.Context, docstore.Ref) (docstore.Snapshot, error) {
	return docstore.Snapshot{}, s.err
}

func TestRecordEvent_otherErrorsPropagate(t *testing.T) {
	boom := errors.New("network down")
	l, _ := newTestLedger(t, failingStore{err: boom})

	r, err := l.RecordEvent(context.Background(), "u1", models.KindPosting)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, r)

	_, err = l.Stats(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}

func TestRecordEvent_inputValidation(t *testing.T) {
	store := docstore.NewMemoryStore()
	l, _ := newTestLedger(t, store)

	r, err := l.RecordEvent(context.Background(), "", models.KindPosting)
	assert.NoError(t, err)
	assert.Nil(t, r)

	_, err = l.RecordEvent(context.Background(), "u1", models.EngagementKind("dancing"))
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownKind))

	r, err = l.RecordEvent(context.Background(), "u1", models.EngagementKind(" Posting "))
	require.NoError(t, err)
	assert.Equal(t, models.KindPosting, r.Kind)
	assert.Equal(t, []string{"posting_1"}, r.Unlocked)

	snap, err := store.Get(context.Background(), StatsRef("u1"))
	require.NoError(t, err)
	assert.Contains(t, snap.Data, "posting")
	assert.NotContains(t, snap.Data, "Posting")
	assert.NotContains(t, snap.Data, " Posting ")

	stats, err := l.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, stats.Entries, 3)
}

func TestRecordEvent_malformedDocument(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	ref := StatsRef("u1")
	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ref, map[string]interface{}{
			"posting": "not a map",
			"gifting": map[string]interface{}{"current": "7", "lastDate": "yesterday"},
			"extra":   42,
		})
	}))
	l, _ := newTestLedger(t, store)

	r, err := l.RecordEvent(ctx, "u1", models.KindPosting)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Current)

	r, err = l.RecordEvent(ctx, "u1", models.KindGifting)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Current)

	snap, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 42, snap.Data["extra"])
}

func TestRecordEvent_dayBoundaryAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	l, clock := newTestLedger(t, docstore.NewMemoryStore(), WithLocation(ny))

	first := time.Date(2024, 3, 9, 23, 30, 0, 0, ny)
	clock.Set(first)
	_, err = l.RecordEvent(context.Background(), "u1", models.KindPosting)
	require.NoError(t, err)

	clock.Set(first.Add(23 * time.Hour))
	r, err := l.RecordEvent(context.Background(), "u1", models.KindPosting)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Current)
	assert.Equal(t, "2024-03-10", l.Today())
}

func TestRecordEvent_emitsTelemetry(t *testing.T) {
	var events []string
	rec := telemetry.RecorderFunc(func(_ context.Context, event string, props map[string]interface{}) {
		events = append(events, event)
	})
	l, _ := newTestLedger(t, docstore.NewMemoryStore(), WithTelemetry(rec))

	_, err := l.RecordEvent(context.Background(), "u1", models.KindGifting)
	require.NoError(t, err)

	assert.Equal(t, []string{telemetry.EventEngagementRecorded, telemetry.EventMilestoneUnlocked}, events)
}
