// Package telemetry provides the observability hooks the offline queue and
// the engagement ledger emit to.
//
// Recorders are passed to components explicitly; there is no process-wide
// hook. Nothing leaves the device: the default recorder is a no-op, the log
// recorder writes to the local log and the metrics recorder only feeds a
// local Prometheus registry that the desktop server exposes when the user
// has enabled telemetry.
package telemetry

import (
	"context"

	"github.com/kimhsiao/wishwell/backend/internal/logging"
)

// Event names.
const (
	EventQueueEnqueue       = "offline_queue.enqueue"
	EventQueueDrop          = "offline_queue.drop"
	EventQueueState         = "offline_queue.state"
	EventQueuePostSuccess   = "offline_queue.post_success"
	EventQueueFlush         = "offline_queue.flush"
	EventWishPosted         = "wish.posted"
	EventWishQueued         = "wish.queued"
	EventEngagementRecorded = "engagement.recorded"
	EventMilestoneUnlocked  = "engagement.milestone_unlocked"
)

// Recorder receives fire-and-forget observability events.
type Recorder interface {
	Track(ctx context.Context, event string, props map[string]interface{})
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event string, props map[string]interface{})

// Track implements Recorder.
func (f RecorderFunc) Track(ctx context.Context, event string, props map[string]interface{}) {
	f(ctx, event, props)
}

// Noop discards every event.
type Noop struct{}

// Track implements Recorder.
func (Noop) Track(context.Context, string, map[string]interface{}) {}

type multi []Recorder

// Multi fans an event out to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	var m multi
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) Track(ctx context.Context, event string, props map[string]interface{}) {
	for _, r := range m {
		Safe(r).Track(ctx, event, props)
	}
}

type safe struct {
	next Recorder
}

// Safe wraps r so a panicking recorder cannot abort the caller.
// A nil r yields Noop.
func Safe(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	if s, ok := r.(safe); ok {
		return s
	}
	return safe{next: r}
}

func (s safe) Track(ctx context.Context, event string, props map[string]interface{}) {
	defer func() {
		if p := recover(); p != nil {
			logging.Warn("Telemetry recorder panicked", map[string]interface{}{
				"event": event,
				"panic": p,
			})
		}
	}()
	s.next.Track(ctx, event, props)
}

// LogRecorder writes events to a logger at debug level.
type LogRecorder struct {
	logger *logging.Logger
}

// NewLogRecorder creates a LogRecorder. A nil logger uses the global one.
func NewLogRecorder(logger *logging.Logger) *LogRecorder {
	if logger == nil {
		logger = logging.Get()
	}
	return &LogRecorder{logger: logger.With(map[string]interface{}{"component": "telemetry"})}
}

// Track implements Recorder.
func (r *LogRecorder) Track(_ context.Context, event string, props map[string]interface{}) {
	fields := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		fields[k] = v
	}
	fields["event"] = event
	r.logger.Debug("Telemetry event", fields)
}
