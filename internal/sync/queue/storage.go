package queue

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/models"
	"github.com/kimhsiao/wishwell/backend/internal/uuid"
)

// load reads the persisted list. Callers hold q.mu.
func (q *Queue) load(ctx context.Context) ([]models.PendingWish, error) {
	list, _, err := q.loadRepaired(ctx)
	return list, err
}

// loadRepaired reads the persisted list and reports whether anything in it
// had to be repaired, e.g. an entry without an id.
func (q *Queue) loadRepaired(ctx context.Context) ([]models.PendingWish, bool, error) {
	raw, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to read offline queue", err)
	}
	if !ok {
		return []models.PendingWish{}, false, nil
	}
	list, repaired := decodeList(raw, q.now().UnixMilli())
	if repaired {
		q.logger.Warn("Offline queue data repaired", map[string]interface{}{
			"size": len(list),
		})
	}
	return list, repaired, nil
}

// save replaces the persisted list in one write. Callers hold q.mu.
func (q *Queue) save(ctx context.Context, list []models.PendingWish) error {
	if list == nil {
		list = []models.PendingWish{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to encode offline queue", err)
	}
	if err := q.store.Set(ctx, q.key, string(b)); err != nil {
		return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to write offline queue", err)
	}
	return nil
}

// decodeList parses stored queue data. It never fails: data that is not a
// list yields an empty queue, elements that are not objects are dropped and
// bad fields get defaults.
func decodeList(raw string, now int64) ([]models.PendingWish, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return []models.PendingWish{}, strings.TrimSpace(raw) != ""
	}

	repaired := false
	list := make([]models.PendingWish, 0, len(elems))
	for _, elem := range elems {
		w, ok, fixed := decodeEntry(elem, now)
		if !ok {
			repaired = true
			continue
		}
		repaired = repaired || fixed
		list = append(list, w)
	}
	return list, repaired
}

func decodeEntry(elem json.RawMessage, now int64) (models.PendingWish, bool, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return models.PendingWish{}, false, true
	}

	fixed := false
	var w models.PendingWish

	var id string
	if err := json.Unmarshal(fields["id"], &id); err != nil || strings.TrimSpace(id) == "" {
		id = uuid.New()
		fixed = true
	}
	w.ID = strings.TrimSpace(id)

	if p, ok := fields["payload"]; ok {
		if err := json.Unmarshal(p, &w.Payload); err != nil {
			w.Payload = models.WishPayload{}
			fixed = true
		}
	}

	if n, ok := number(fields["enqueuedAt"]); ok && n > 0 {
		w.EnqueuedAt = n
	} else {
		w.EnqueuedAt = now
		fixed = true
	}

	if n, ok := number(fields["attempts"]); ok && n > 0 {
		w.Attempts = int(n)
	}
	if n, ok := number(fields["nextAttemptAt"]); ok && w.Attempts > 0 {
		w.NextAttemptAt = &n
	}
	return w, true, fixed
}

// number reads a finite JSON number, flooring fractions.
func number(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Floor(f)), true
}
