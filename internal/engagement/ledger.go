// Package engagement keeps per-user streak and milestone records.
//
// A streak advances at most once per calendar day. RecordEvent runs the whole
// read-advance-write sequence inside one document store transaction, so two
// overlapping calls for the same user and kind cannot both count the same day.
package engagement

import (
	"context"
	"time"

	"github.com/kimhsiao/wishwell/backend/internal/datekey"
	"github.com/kimhsiao/wishwell/backend/internal/docstore"
	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/models"
	"github.com/kimhsiao/wishwell/backend/internal/telemetry"
)

// Ledger records engagement events against a document store.
type Ledger struct {
	store     docstore.Store
	now       func() time.Time
	loc       *time.Location
	logger    *logging.Logger
	telemetry telemetry.Recorder
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the time zone that decides where a calendar day starts.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithTelemetry sets the recorder milestone and streak events go to.
func WithTelemetry(r telemetry.Recorder) Option {
	return func(l *Ledger) { l.telemetry = r }
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store docstore.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		now:       time.Now,
		loc:       time.Local,
		telemetry: telemetry.Noop{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.Get()
	}
	l.logger = l.logger.With(map[string]interface{}{"component": "engagement"})
	l.telemetry = telemetry.Safe(l.telemetry)
	return l
}

// StatsRef is the engagement document of a user.
func StatsRef(userID string) docstore.Ref {
	return docstore.Doc("users", userID, "engagement", "stats")
}

// Today returns the date key of the current day in the ledger's time zone.
func (l *Ledger) Today() string {
	return datekey.Format(l.now(), l.loc)
}

// RecordEvent counts one event of kind for userID.
//
// It returns nil without error when userID is empty or the store denies
// access (e.g. the session is not authenticated yet). Any other store error
// is returned.
func (l *Ledger) RecordEvent(ctx context.Context, userID string, kind models.EngagementKind) (*models.EngagementResult, error) {
	if userID == "" {
		return nil, nil
	}
	kind, err := models.ParseKind(string(kind))
	if err != nil {
		return nil, err
	}

	ref := StatsRef(userID)
	now := l.now()
	today := datekey.Format(now, l.loc)

	var result *models.EngagementResult
	err = l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}

		entry := NormalizeEntry(snap.Data[string(kind)])
		next, unlocked, changed := Advance(kind, entry, today)
		result = &models.EngagementResult{
			Kind:     kind,
			Current:  next.Current,
			Longest:  next.Longest,
			Unlocked: unlocked,
		}
		if !changed {
			return nil
		}

		return tx.Set(ref, map[string]interface{}{
			string(kind): entryData(next),
			"updatedAt":  now.UnixMilli(),
		}, docstore.MergeAll)
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrPermission) {
			l.logger.Debug("Engagement update skipped: permission denied", map[string]interface{}{
				"user_id": userID,
				"kind":    string(kind),
			})
			return nil, nil
		}
		return nil, err
	}

	l.telemetry.Track(ctx, telemetry.EventEngagementRecorded, map[string]interface{}{
		"kind":    string(kind),
		"current": result.Current,
		"longest": result.Longest,
	})
	for _, id := range result.Unlocked {
		l.telemetry.Track(ctx, telemetry.EventMilestoneUnlocked, map[string]interface{}{
			"kind":      string(kind),
			"milestone": id,
			"current":   result.Current,
		})
	}
	return result, nil
}

// Stats reads the engagement document of userID outside a transaction.
func (l *Ledger) Stats(ctx context.Context, userID string) (models.EngagementStats, error) {
	if userID == "" {
		return DefaultStats(), nil
	}
	snap, err := l.store.Get(ctx, StatsRef(userID))
	if err != nil {
		return models.EngagementStats{}, err
	}
	return StatsFromSnapshot(snap.Data), nil
}

// Advance applies one event on day today to entry. It returns the new entry,
// the milestone ids unlocked by this event and whether anything changed.
// A second event on the same day changes nothing.
func Advance(kind models.EngagementKind, entry models.StreakEntry, today string) (models.StreakEntry, []string, bool) {
	unlocked := []string{}
	if entry.LastDate != nil && *entry.LastDate == today {
		return entry, unlocked, false
	}

	current := 1
	if entry.LastDate != nil {
		if gap, ok := datekey.DaysBetween(*entry.LastDate, today); ok && gap == 1 {
			current = entry.Current + 1
		}
	}

	next := models.StreakEntry{
		Current:    current,
		Longest:    entry.Longest,
		LastDate:   &today,
		Milestones: make(map[string]string, len(entry.Milestones)+1),
	}
	if current > next.Longest {
		next.Longest = current
	}
	for id, day := range entry.Milestones {
		next.Milestones[id] = day
	}

	for _, t := range thresholds[kind] {
		id := MilestoneID(kind, t)
		if current >= t && !next.HasMilestone(id) {
			next.Milestones[id] = today
			unlocked = append(unlocked, id)
		}
	}
	return next, unlocked, true
}
