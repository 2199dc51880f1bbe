package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/wishwell/backend/internal/docstore"
	"github.com/kimhsiao/wishwell/backend/internal/engagement"
	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/kv"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/models"
	"github.com/kimhsiao/wishwell/backend/internal/sync/connectivity"
	"github.com/kimhsiao/wishwell/backend/internal/sync/queue"
	"github.com/kimhsiao/wishwell/backend/internal/telemetry"
	"github.com/kimhsiao/wishwell/backend/internal/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreator struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (c *fakeCreator) CreateRecord(_ context.Context, key string, _ models.WishPayload) (models.RecordRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	if c.err != nil {
		return models.RecordRef{}, c.err
	}
	return models.RecordRef{ID: "rec-" + key}, nil
}

type fakePostTypes struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (p *fakePostTypes) RecordPostType(_ context.Context, _ string, postType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, postType)
	return p.err
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk gone")
}
func (failingKV) Set(context.Context, string, string) error { return errors.New("disk gone") }
func (failingKV) Remove(context.Context, string) error      { return errors.New("disk gone") }

type harness struct {
	creator   *fakeCreator
	online    *connectivity.Reported
	queue     *queue.Queue
	ledger    *engagement.Ledger
	postTypes *fakePostTypes
	events    []string
	svc       *WishService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.New(io.Discard, logging.LevelError)
	now := func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }

	h := &harness{
		creator:   &fakeCreator{},
		online:    connectivity.NewReported(true),
		postTypes: &fakePostTypes{},
	}
	var mu sync.Mutex
	rec := telemetry.RecorderFunc(func(_ context.Context, event string, _ map[string]interface{}) {
		mu.Lock()
		defer mu.Unlock()
		h.events = append(h.events, event)
	})

	h.ledger = engagement.NewLedger(docstore.NewMemoryStore(),
		engagement.WithClock(now), engagement.WithLocation(time.UTC), engagement.WithLogger(logger))
	h.queue = queue.NewQueue(kv.NewMemoryStore(), h.creator, h.online,
		queue.WithClock(now), queue.WithLogger(logger))
	h.svc = NewWishService(h.creator, h.online, h.queue, h.ledger,
		WithPostTypes(h.postTypes), WithLogger(logger), WithTelemetry(rec))
	return h
}

func wish() models.WishPayload {
	return models.WishPayload{UserID: "u1", Type: models.WishTypeWish, Text: "a kite"}
}

func TestPost_onlineCreatesDirectly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Post(ctx, wish())
	require.NoError(t, err)
	assert.False(t, res.Queued)
	require.NotNil(t, res.Ref)
	require.Len(t, h.creator.keys, 1)
	assert.True(t, uuid.IsValid(h.creator.keys[0]), "idempotency key is a uuid")
	assert.Equal(t, "rec-"+h.creator.keys[0], res.Ref.ID)

	require.NotNil(t, res.Engagement)
	assert.Equal(t, 1, res.Engagement.Current)
	assert.Equal(t, []string{"posting_1"}, res.Engagement.Unlocked)
	assert.Equal(t, []string{models.WishTypeWish}, h.postTypes.types)
	assert.Contains(t, h.events, telemetry.EventWishPosted)

	st, err := h.queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Size)
}

func TestPost_offlineQueues(t *testing.T) {
	h := newHarness(t)
	h.online.SetOnline(false)
	ctx := context.Background()

	res, err := h.svc.Post(ctx, wish())
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Nil(t, res.Ref)
	assert.Nil(t, res.Engagement)
	assert.Equal(t, 1, res.QueueSize)
	assert.Empty(t, h.creator.keys, "no create attempted while offline")
	assert.Contains(t, h.events, telemetry.EventWishQueued)

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.QueueID, pending[0].ID)
	assert.Equal(t, 0, pending[0].Attempts)
}

func TestPost_createFailureFallsBackWithSameKey(t *testing.T) {
	h := newHarness(t)
	h.creator.err = apperrors.New(apperrors.ErrRemoteUnavailable, "503")
	ctx := context.Background()

	res, err := h.svc.Post(ctx, wish())
	require.NoError(t, err)
	assert.True(t, res.Queued)
	require.Len(t, h.creator.keys, 1)
	assert.Equal(t, h.creator.keys[0], res.QueueID, "queued entry reuses the idempotency key")
	assert.Empty(t, h.postTypes.types)

	// the queued entry delivers once the remote recovers
	h.creator.err = nil
	fr, err := h.queue.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fr.Posted)
	assert.Equal(t, []string{res.QueueID, res.QueueID}, h.creator.keys)
}

func TestPost_validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Post(context.Background(), models.WishPayload{Type: "wish"})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, h.creator.keys)
}

func TestPost_queueStorageFailureSurfaces(t *testing.T) {
	logger := logging.New(io.Discard, logging.LevelError)
	creator := &fakeCreator{}
	q := queue.NewQueue(failingKV{}, creator, connectivity.Static(false), queue.WithLogger(logger))
	svc := NewWishService(creator, connectivity.Static(false), q, nil, WithLogger(logger))

	_, err := svc.Post(context.Background(), wish())
	assert.True(t, apperrors.Is(err, apperrors.ErrQueueStorage))
}

func TestPost_sideEffectFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.postTypes.err = errors.New("db locked")

	res, err := h.svc.Post(context.Background(), wish())
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.NotNil(t, res.Engagement)
}

func TestPost_createTimeout(t *testing.T) {
	logger := logging.New(io.Discard, logging.LevelError)
	slow := queue.RecordCreator(slowCreator{})
	q := queue.NewQueue(kv.NewMemoryStore(), slow, connectivity.Static(true), queue.WithLogger(logger))
	svc := NewWishService(slow, connectivity.Static(true), q, nil,
		WithCreateTimeout(10*time.Millisecond), WithLogger(logger))

	res, err := svc.Post(context.Background(), wish())
	require.NoError(t, err)
	assert.True(t, res.Queued)
}

type slowCreator struct{}

func (slowCreator) CreateRecord(ctx context.Context, _ string, _ models.WishPayload) (models.RecordRef, error) {
	<-ctx.Done()
	return models.RecordRef{}, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "timeout", ctx.Err())
}

func TestRecordKinds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g, err := h.svc.RecordGift(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.KindGifting, g.Kind)
	assert.Equal(t, []string{"gifting_1"}, g.Unlocked)

	f, err := h.svc.RecordFulfillment(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.KindFulfillment, f.Kind)

	_, err = h.svc.Record(ctx, "u1", "dancing")
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownKind))

	anon, err := h.svc.RecordGift(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, anon)

	stats, err := h.svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entry(models.KindGifting).Current)
	assert.Equal(t, 0, stats.Entry(models.KindPosting).Current)
}

func TestNextMilestone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.svc.NextMilestone(ctx, "u1", models.KindGifting)
	require.NoError(t, err)
	assert.Equal(t, &models.Milestone{ID: "gifting_1", Target: 1}, m)

	_, err = h.svc.RecordGift(ctx, "u1")
	require.NoError(t, err)

	m, err = h.svc.NextMilestone(ctx, "u1", models.KindGifting)
	require.NoError(t, err)
	assert.Equal(t, &models.Milestone{ID: "gifting_5", Target: 5}, m)

	_, err = h.svc.NextMilestone(ctx, "u1", "nope")
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownKind))
}

type fakePreferences struct {
	counts map[string]int
	err    error
}

func (p fakePreferences) PreferredPostType(context.Context, string) (string, bool, error) {
	best, n := "", 0
	for t, c := range p.counts {
		if c > n {
			best, n = t, c
		}
	}
	return best, n > 0, p.err
}

func (p fakePreferences) PostTypeCounts(context.Context, string) (map[string]int, error) {
	return p.counts, p.err
}

func TestPostTypeUsage(t *testing.T) {
	ctx := context.Background()

	svc := NewWishService(nil, nil, nil, nil)
	usage, err := svc.PostTypeUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, usage.Preferred)
	assert.Empty(t, usage.Counts)

	svc = NewWishService(nil, nil, nil, nil, WithPreferences(fakePreferences{counts: map[string]int{"gift": 3, "wish": 1}}))
	usage, err = svc.PostTypeUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "gift", usage.Preferred)
	assert.Equal(t, 3, usage.Counts["gift"])

	svc = NewWishService(nil, nil, nil, nil, WithPreferences(fakePreferences{err: errors.New("locked")}))
	_, err = svc.PostTypeUsage(ctx, "u1")
	assert.Error(t, err)
}
