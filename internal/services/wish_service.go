// Package services provides the posting flow that sits on top of the
// offline queue and the engagement ledger.
package services

import (
	"context"
	"time"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/engagement"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/models"
	"github.com/kimhsiao/wishwell/backend/internal/sync/connectivity"
	"github.com/kimhsiao/wishwell/backend/internal/sync/queue"
	"github.com/kimhsiao/wishwell/backend/internal/telemetry"
	"github.com/kimhsiao/wishwell/backend/internal/uuid"
)

// Enqueuer is the part of the offline queue the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload models.WishPayload, opts ...queue.EnqueueOption) (queue.EnqueueResult, error)
}

// Ledger is the part of the engagement ledger the service needs.
type Ledger interface {
	RecordEvent(ctx context.Context, userID string, kind models.EngagementKind) (*models.EngagementResult, error)
	Stats(ctx context.Context, userID string) (models.EngagementStats, error)
}

// PostResult reports one Post call.
type PostResult struct {
	Queued     bool                     `json:"queued"`
	QueueID    string                   `json:"queueId,omitempty"`
	QueueSize  int                      `json:"queueSize,omitempty"`
	Ref        *models.RecordRef        `json:"ref,omitempty"`
	Engagement *models.EngagementResult `json:"engagement,omitempty"`
}

// PreferenceReader reads the post type usage recorded after creates.
type PreferenceReader interface {
	PreferredPostType(ctx context.Context, userID string) (string, bool, error)
	PostTypeCounts(ctx context.Context, userID string) (map[string]int, error)
}

// WishService posts wishes, falling back to the offline queue whenever the
// direct create cannot complete.
type WishService struct {
	creator   queue.RecordCreator
	prober    connectivity.Prober
	queue     Enqueuer
	ledger    Ledger
	postTypes queue.PostTypeRecorder
	prefs     PreferenceReader

	timeout   time.Duration
	logger    *logging.Logger
	telemetry telemetry.Recorder
}

// Option configures a WishService.
type Option func(*WishService)

// WithPostTypes records post type usage after direct creates.
func WithPostTypes(p queue.PostTypeRecorder) Option {
	return func(s *WishService) { s.postTypes = p }
}

// WithPreferences enables PostTypeUsage.
func WithPreferences(p PreferenceReader) Option {
	return func(s *WishService) { s.prefs = p }
}

// WithCreateTimeout bounds the direct create. Zero means no extra bound.
func WithCreateTimeout(d time.Duration) Option {
	return func(s *WishService) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *WishService) { s.logger = l }
}

// WithTelemetry sets the telemetry recorder.
func WithTelemetry(r telemetry.Recorder) Option {
	return func(s *WishService) { s.telemetry = r }
}

// NewWishService creates a WishService.
func NewWishService(creator queue.RecordCreator, prober connectivity.Prober, q Enqueuer, ledger Ledger, opts ...Option) *WishService {
	s := &WishService{
		creator:   creator,
		prober:    prober,
		queue:     q,
		ledger:    ledger,
		telemetry: telemetry.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prober == nil {
		s.prober = connectivity.Static(true)
	}
	if s.logger == nil {
		s.logger = logging.Get()
	}
	s.logger = s.logger.With(map[string]interface{}{"component": "wish_service"})
	s.telemetry = telemetry.Safe(s.telemetry)
	return s
}

// Post creates payload remotely when online. When offline, or when the
// create fails for any reason, the wish is queued instead; only a queue
// storage failure is returned as an error.
func (s *WishService) Post(ctx context.Context, payload models.WishPayload) (PostResult, error) {
	if err := payload.Validate(); err != nil {
		return PostResult{}, err
	}

	// The same id is the idempotency key now and for any queued retry.
	id := uuid.New()

	if s.prober.Online(ctx) {
		ref, err := s.create(ctx, id, payload)
		if err == nil {
			result := PostResult{Ref: &ref}
			result.Engagement = s.afterCreate(ctx, payload)
			s.telemetry.Track(ctx, telemetry.EventWishPosted, map[string]interface{}{
				"type":      payload.Type,
				"record_id": ref.ID,
			})
			return result, nil
		}
		s.logger.Warn("Direct wish create failed, queueing", map[string]interface{}{
			"id":         id,
			"type":       payload.Type,
			"error":      err.Error(),
			"error_code": string(apperrors.Code(err)),
		})
	}

	res, err := s.queue.Enqueue(ctx, payload, queue.WithID(id))
	if err != nil {
		return PostResult{}, err
	}
	s.telemetry.Track(ctx, telemetry.EventWishQueued, map[string]interface{}{
		"type":    payload.Type,
		"size":    res.Size,
		"evicted": res.Evicted,
	})
	return PostResult{Queued: true, QueueID: res.ID, QueueSize: res.Size}, nil
}

func (s *WishService) create(ctx context.Context, id string, payload models.WishPayload) (models.RecordRef, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.creator.CreateRecord(ctx, id, payload)
}

// afterCreate applies the same side effects a flushed entry gets.
func (s *WishService) afterCreate(ctx context.Context, payload models.WishPayload) *models.EngagementResult {
	var result *models.EngagementResult
	if s.ledger != nil {
		res, err := s.ledger.RecordEvent(ctx, payload.UserID, models.KindPosting)
		if err != nil {
			s.logger.Warn("Engagement update after post failed", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			result = res
		}
	}
	if s.postTypes != nil {
		if err := s.postTypes.RecordPostType(ctx, payload.UserID, payload.Type); err != nil {
			s.logger.Debug("Post type usage not recorded", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return result
}

// Record counts one engagement event of kind.
func (s *WishService) Record(ctx context.Context, userID string, kind models.EngagementKind) (*models.EngagementResult, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.RecordEvent(ctx, userID, kind)
}

// RecordGift counts a gift sent by userID.
func (s *WishService) RecordGift(ctx context.Context, userID string) (*models.EngagementResult, error) {
	return s.Record(ctx, userID, models.KindGifting)
}

// RecordFulfillment counts a wish fulfilled by userID.
func (s *WishService) RecordFulfillment(ctx context.Context, userID string) (*models.EngagementResult, error) {
	return s.Record(ctx, userID, models.KindFulfillment)
}

// Stats returns the engagement document of userID.
func (s *WishService) Stats(ctx context.Context, userID string) (models.EngagementStats, error) {
	if s.ledger == nil {
		return engagement.DefaultStats(), nil
	}
	return s.ledger.Stats(ctx, userID)
}

// NextMilestone returns the next locked milestone of kind for userID, or nil.
func (s *WishService) NextMilestone(ctx context.Context, userID string, kind models.EngagementKind) (*models.Milestone, error) {
	kind, err := models.ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return engagement.NextMilestone(kind, stats.Entry(kind)), nil
}

// PostTypeUsage returns the per-type post counts of userID and the type they
// post most. Counts is empty when no preferences are configured.
func (s *WishService) PostTypeUsage(ctx context.Context, userID string) (models.PostTypeUsage, error) {
	usage := models.PostTypeUsage{Counts: map[string]int{}}
	if s.prefs == nil || userID == "" {
		return usage, nil
	}
	counts, err := s.prefs.PostTypeCounts(ctx, userID)
	if err != nil {
		return usage, err
	}
	usage.Counts = counts
	preferred, ok, err := s.prefs.PreferredPostType(ctx, userID)
	if err != nil {
		return usage, err
	}
	if ok {
		usage.Preferred = preferred
	}
	return usage, nil
}
