// Package queue keeps wishes that could not be posted yet and delivers them
// once the remote store is reachable again.
//
// The queue is a single JSON list persisted under one key of a kv.Store, so
// it survives restarts. It is bounded: when it grows past its maximum length
// the entry with the oldest enqueuedAt is dropped. Failed deliveries are
// retried with capped exponential backoff and never given up on; only
// capacity eviction removes an undelivered entry.
package queue

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/kv"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/models"
	"github.com/kimhsiao/wishwell/backend/internal/sync/connectivity"
	"github.com/kimhsiao/wishwell/backend/internal/telemetry"
	"github.com/kimhsiao/wishwell/backend/internal/uuid"
)

const (
	DefaultMaxLength  = 20
	DefaultRetryBase  = 15 * time.Second
	DefaultRetryMax   = 10 * time.Minute
	DefaultStorageKey = "pendingWishQueue.v1"
)

// RecordCreator performs the remote create of a wish. idempotencyKey is the
// queue entry id and stays the same across retries.
type RecordCreator interface {
	CreateRecord(ctx context.Context, idempotencyKey string, payload models.WishPayload) (models.RecordRef, error)
}

// EngagementRecorder is told about every delivered wish.
type EngagementRecorder interface {
	RecordEvent(ctx context.Context, userID string, kind models.EngagementKind) (*models.EngagementResult, error)
}

// PostTypeRecorder counts post types for personalization.
type PostTypeRecorder interface {
	RecordPostType(ctx context.Context, userID, postType string) error
}

// Status is a read-only view of the queue.
type Status struct {
	Size        int    `json:"size"`
	OldestMs    *int64 `json:"oldestMs"`
	NextRetryMs *int64 `json:"nextRetryMs"`
}

// FlushResult reports one flush.
type FlushResult struct {
	Online    bool   `json:"online"`
	Posted    int    `json:"posted"`
	Attempted int    `json:"attempted"`
	Remaining int    `json:"remaining"`
	OldestMs  *int64 `json:"oldestMs"`
}

// EnqueueResult reports one enqueue.
type EnqueueResult struct {
	ID      string `json:"id"`
	Size    int    `json:"size"`
	Evicted bool   `json:"evicted"`
}

// Queue is the offline wish queue.
type Queue struct {
	store   kv.Store
	creator RecordCreator
	prober  connectivity.Prober

	maxLength int
	retryBase time.Duration
	retryMax  time.Duration
	key       string
	now       func() time.Time

	logger     *logging.Logger
	telemetry  telemetry.Recorder
	engagement EngagementRecorder
	postTypes  PostTypeRecorder

	// mu guards the persisted list; every read-modify-write holds it.
	mu sync.Mutex
	// flushMu lets one flush run at a time.
	flushMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxLength sets the capacity.
func WithMaxLength(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxLength = n
		}
	}
}

// WithRetryBase sets the delay after the first failed delivery.
func WithRetryBase(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retryBase = d
		}
	}
}

// WithRetryMax caps the retry delay.
func WithRetryMax(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retryMax = d
		}
	}
}

// WithStorageKey sets the kv key the list is stored under.
func WithStorageKey(key string) Option {
	return func(q *Queue) {
		if key != "" {
			q.key = key
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithTelemetry sets the event recorder.
func WithTelemetry(r telemetry.Recorder) Option {
	return func(q *Queue) { q.telemetry = r }
}

// WithEngagement sets the recorder told about delivered wishes.
func WithEngagement(e EngagementRecorder) Option {
	return func(q *Queue) { q.engagement = e }
}

// WithPostTypes sets the post type usage recorder.
func WithPostTypes(p PostTypeRecorder) Option {
	return func(q *Queue) { q.postTypes = p }
}

// NewQueue creates a Queue persisted in store, delivering through creator
// whenever prober reports the network reachable.
func NewQueue(store kv.Store, creator RecordCreator, prober connectivity.Prober, opts ...Option) *Queue {
	q := &Queue{
		store:     store,
		creator:   creator,
		prober:    prober,
		maxLength: DefaultMaxLength,
		retryBase: DefaultRetryBase,
		retryMax:  DefaultRetryMax,
		key:       DefaultStorageKey,
		now:       time.Now,
		telemetry: telemetry.Noop{},
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.prober == nil {
		q.prober = connectivity.NewHTTPProber()
	}
	if q.logger == nil {
		q.logger = logging.Get()
	}
	q.logger = q.logger.With(map[string]interface{}{"component": "offline_queue"})
	q.telemetry = telemetry.Safe(q.telemetry)
	return q
}

// MaxLength returns the capacity.
func (q *Queue) MaxLength() int {
	return q.maxLength
}

// EnqueueOption primes an entry, e.g. when restoring entries from elsewhere.
type EnqueueOption func(*models.PendingWish)

// WithEnqueuedAt sets enqueuedAt instead of now.
func WithEnqueuedAt(ms int64) EnqueueOption {
	return func(w *models.PendingWish) { w.EnqueuedAt = ms }
}

// WithAttempts sets the failed attempt count.
func WithAttempts(n int) EnqueueOption {
	return func(w *models.PendingWish) { w.Attempts = n }
}

// WithNextAttemptAt sets when the entry becomes eligible again.
func WithNextAttemptAt(ms int64) EnqueueOption {
	return func(w *models.PendingWish) { w.NextAttemptAt = &ms }
}

// WithID sets the entry id; invalid ids are replaced.
func WithID(id string) EnqueueOption {
	return func(w *models.PendingWish) { w.ID = id }
}

// Enqueue appends payload to the queue. When the queue is full the oldest
// entry is dropped; overflow is not an error. Only storage failures are.
func (q *Queue) Enqueue(ctx context.Context, payload models.WishPayload, opts ...EnqueueOption) (EnqueueResult, error) {
	now := q.now().UnixMilli()
	entry := models.PendingWish{
		Payload:    payload,
		EnqueuedAt: now,
	}
	for _, opt := range opts {
		opt(&entry)
	}
	entry = normalizeEntry(entry, now)

	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx)
	if err != nil {
		return EnqueueResult{}, err
	}
	list = append(list, entry)
	list, evicted := q.bound(list)

	if err := q.save(ctx, list); err != nil {
		return EnqueueResult{}, err
	}

	q.telemetry.Track(ctx, telemetry.EventQueueEnqueue, map[string]interface{}{
		"size":    len(list),
		"evicted": len(evicted) > 0,
	})
	q.reportEvictions(ctx, evicted, now)

	q.logger.Debug("Wish queued", map[string]interface{}{
		"id":   entry.ID,
		"type": entry.Payload.Type,
		"size": len(list),
	})
	return EnqueueResult{ID: entry.ID, Size: len(list), Evicted: len(evicted) > 0}, nil
}

// Status scans the persisted list without changing it.
func (q *Queue) Status(ctx context.Context) (Status, error) {
	q.mu.Lock()
	list, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		return Status{}, err
	}

	now := q.now().UnixMilli()
	st := Status{Size: len(list), OldestMs: oldestAge(list, now)}

	var next *int64
	for _, w := range list {
		if w.NextAttemptAt != nil && (next == nil || *w.NextAttemptAt < *next) {
			v := *w.NextAttemptAt
			next = &v
		}
	}
	if next != nil {
		wait := *next - now
		if wait < 0 {
			wait = 0
		}
		st.NextRetryMs = &wait
	}
	return st, nil
}

// Pending returns a copy of the persisted entries in stored order.
func (q *Queue) Pending(ctx context.Context) ([]models.PendingWish, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.save(ctx, []models.PendingWish{}); err != nil {
		return err
	}
	q.logger.Info("Offline queue cleared")
	return nil
}

// Flush tries to deliver every entry that is not in backoff.
//
// When the probe reports offline nothing is touched. Otherwise each eligible
// entry is created remotely in stored order; delivered entries leave the
// queue and failed ones are rescheduled with backoff. Entries enqueued while
// the flush is delivering are kept, and entries evicted meanwhile stay gone.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	if !q.prober.Online(ctx) {
		return q.reportOffline(ctx)
	}

	q.mu.Lock()
	snapshot, repaired, err := q.loadRepaired(ctx)
	if err == nil && repaired {
		// later loads must see the same ids
		err = q.save(ctx, snapshot)
	}
	q.mu.Unlock()
	if err != nil {
		return FlushResult{Online: true}, err
	}

	start := q.now().UnixMilli()
	inSnapshot := make(map[string]bool, len(snapshot))
	var processable []models.PendingWish
	for _, w := range snapshot {
		inSnapshot[w.ID] = true
		if w.Eligible(start) {
			processable = append(processable, w)
		}
	}

	delivered := make(map[string]bool, len(processable))
	var failed []models.PendingWish
	for _, w := range processable {
		if q.deliver(ctx, w) {
			delivered[w.ID] = true
			continue
		}
		failed = append(failed, q.reschedule(w))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil {
		return FlushResult{Online: true, Posted: len(delivered), Attempted: len(processable)}, err
	}

	present := make(map[string]bool, len(current))
	var deferred, arrived []models.PendingWish
	for _, w := range current {
		present[w.ID] = true
		switch {
		case delivered[w.ID]:
		case !inSnapshot[w.ID]:
			arrived = append(arrived, w)
		case !isFailed(failed, w.ID):
			deferred = append(deferred, w)
		}
	}
	next := make([]models.PendingWish, 0, len(deferred)+len(failed)+len(arrived))
	next = append(next, deferred...)
	for _, w := range failed {
		if present[w.ID] {
			next = append(next, w)
		}
	}
	next = append(next, arrived...)

	now := q.now().UnixMilli()
	next, evicted := q.bound(next)
	if err := q.save(ctx, next); err != nil {
		return FlushResult{Online: true, Posted: len(delivered), Attempted: len(processable)}, err
	}
	q.reportEvictions(ctx, evicted, now)

	result := FlushResult{
		Online:    true,
		Posted:    len(delivered),
		Attempted: len(processable),
		Remaining: len(next),
		OldestMs:  oldestAge(next, now),
	}
	q.telemetry.Track(ctx, telemetry.EventQueueFlush, map[string]interface{}{
		"online":    true,
		"size":      result.Remaining,
		"oldest_ms": result.OldestMs,
		"posted":    result.Posted,
		"attempted": result.Attempted,
	})
	if result.Attempted > 0 {
		q.logger.Info("Offline queue flushed", map[string]interface{}{
			"posted":    result.Posted,
			"attempted": result.Attempted,
			"remaining": result.Remaining,
		})
	}
	return result, nil
}

func (q *Queue) reportOffline(ctx context.Context) (FlushResult, error) {
	q.mu.Lock()
	list, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		return FlushResult{}, err
	}

	now := q.now().UnixMilli()
	result := FlushResult{Remaining: len(list), OldestMs: oldestAge(list, now)}

	var headType interface{}
	if len(list) > 0 {
		headType = list[0].Payload.Type
	}
	q.telemetry.Track(ctx, telemetry.EventQueueState, map[string]interface{}{
		"online":    false,
		"size":      result.Remaining,
		"oldest_ms": result.OldestMs,
		"head_type": headType,
	})
	q.logger.Debug("Offline queue flush skipped: offline", map[string]interface{}{
		"size": result.Remaining,
	})
	return result, nil
}

// deliver creates w remotely and runs the post-delivery side effects.
// Failures of the side effects are logged and otherwise ignored.
func (q *Queue) deliver(ctx context.Context, w models.PendingWish) bool {
	ref, err := q.creator.CreateRecord(ctx, w.ID, w.Payload)
	if err != nil {
		q.logger.Warn("Queued wish delivery failed", map[string]interface{}{
			"id":         w.ID,
			"attempts":   w.Attempts + 1,
			"error":      err.Error(),
			"error_code": string(apperrors.Code(err)),
		})
		return false
	}

	now := q.now().UnixMilli()
	if q.engagement != nil {
		if _, err := q.engagement.RecordEvent(ctx, w.Payload.UserID, models.KindPosting); err != nil {
			q.logger.Warn("Engagement update after delivery failed", map[string]interface{}{
				"id":    w.ID,
				"error": err.Error(),
			})
		}
	}
	q.telemetry.Track(ctx, telemetry.EventQueuePostSuccess, map[string]interface{}{
		"id":        w.ID,
		"record_id": ref.ID,
		"type":      w.Payload.Type,
		"attempts":  w.Attempts,
		"age_ms":    now - w.EnqueuedAt,
	})
	if q.postTypes != nil && w.Payload.UserID != "" && w.Payload.Type != "" {
		if err := q.postTypes.RecordPostType(ctx, w.Payload.UserID, w.Payload.Type); err != nil {
			q.logger.Debug("Post type usage not recorded", map[string]interface{}{
				"id":    w.ID,
				"error": err.Error(),
			})
		}
	}
	return true
}

// reschedule counts a failed attempt and sets the next eligible time.
func (q *Queue) reschedule(w models.PendingWish) models.PendingWish {
	w = w.Clone()
	w.Attempts++
	next := q.now().Add(Backoff(w.Attempts, q.retryBase, q.retryMax)).UnixMilli()
	w.NextAttemptAt = &next
	return w
}

// Backoff returns the delay before the next attempt of an entry that has
// failed attempts times: base * 2^(attempts-1), capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// bound evicts oldest entries until list fits the capacity.
func (q *Queue) bound(list []models.PendingWish) ([]models.PendingWish, []models.PendingWish) {
	var evicted []models.PendingWish
	for len(list) > q.maxLength {
		i := oldestIndex(list)
		evicted = append(evicted, list[i])
		list = append(list[:i:i], list[i+1:]...)
	}
	return list, evicted
}

func (q *Queue) reportEvictions(ctx context.Context, evicted []models.PendingWish, now int64) {
	for _, w := range evicted {
		q.telemetry.Track(ctx, telemetry.EventQueueDrop, map[string]interface{}{
			"reason":   "overflow",
			"attempts": w.Attempts,
			"age_ms":   now - w.EnqueuedAt,
		})
		q.logger.Warn("Offline queue full, dropped oldest wish", map[string]interface{}{
			"id":       w.ID,
			"type":     w.Payload.Type,
			"attempts": w.Attempts,
		})
	}
}

// oldestIndex returns the index of the smallest enqueuedAt, first on ties.
func oldestIndex(list []models.PendingWish) int {
	idx := 0
	for i := 1; i < len(list); i++ {
		if list[i].EnqueuedAt < list[idx].EnqueuedAt {
			idx = i
		}
	}
	return idx
}

func oldestAge(list []models.PendingWish, now int64) *int64 {
	if len(list) == 0 {
		return nil
	}
	age := now - list[oldestIndex(list)].EnqueuedAt
	return &age
}

func isFailed(failed []models.PendingWish, id string) bool {
	for _, w := range failed {
		if w.ID == id {
			return true
		}
	}
	return false
}

// normalizeEntry enforces the entry invariants on primed or stored data.
func normalizeEntry(w models.PendingWish, now int64) models.PendingWish {
	w.ID = uuid.Ensure(w.ID)
	if w.EnqueuedAt <= 0 {
		w.EnqueuedAt = now
	}
	if w.Attempts < 0 {
		w.Attempts = 0
	}
	if w.Attempts == 0 {
		w.NextAttemptAt = nil
	}
	return w
}
