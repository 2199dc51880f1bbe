package engagement

import (
	"encoding/json"
	"math"

	"github.com/kimhsiao/wishwell/backend/internal/datekey"
	"github.com/kimhsiao/wishwell/backend/internal/models"
)

// DefaultStats returns the stats of a user with no recorded events.
func DefaultStats() models.EngagementStats {
	entries := make(map[models.EngagementKind]models.StreakEntry, len(models.EngagementKinds))
	for _, kind := range models.EngagementKinds {
		entries[kind] = models.NewStreakEntry()
	}
	return models.EngagementStats{Entries: entries}
}

// StatsFromSnapshot normalizes a raw engagement document. Missing or
// malformed fields fall back to defaults; nothing here fails.
func StatsFromSnapshot(data map[string]interface{}) models.EngagementStats {
	stats := DefaultStats()
	for _, kind := range models.EngagementKinds {
		stats.Entries[kind] = NormalizeEntry(data[string(kind)])
	}
	if ms, ok := toInt64(data["updatedAt"]); ok {
		stats.UpdatedAt = &ms
	}
	return stats
}

// NormalizeEntry coerces one raw kind field into a StreakEntry that holds
// current <= longest and a valid or nil lastDate.
func NormalizeEntry(raw interface{}) models.StreakEntry {
	entry := models.NewStreakEntry()
	m, ok := raw.(map[string]interface{})
	if !ok {
		return entry
	}

	if n, ok := toInt64(m["current"]); ok && n > 0 {
		entry.Current = int(n)
	}
	if n, ok := toInt64(m["longest"]); ok && n > 0 {
		entry.Longest = int(n)
	}
	if entry.Longest < entry.Current {
		entry.Longest = entry.Current
	}
	if s, ok := m["lastDate"].(string); ok && datekey.Valid(s) {
		entry.LastDate = &s
	}
	if ms, ok := m["milestones"].(map[string]interface{}); ok {
		for id, v := range ms {
			if day, ok := v.(string); ok {
				entry.Milestones[id] = day
			}
		}
	}
	return entry
}

// entryData is the document representation of an entry.
func entryData(e models.StreakEntry) map[string]interface{} {
	var lastDate interface{}
	if e.LastDate != nil {
		lastDate = *e.LastDate
	}
	milestones := make(map[string]interface{}, len(e.Milestones))
	for id, day := range e.Milestones {
		milestones[id] = day
	}
	return map[string]interface{}{
		"current":    e.Current,
		"longest":    e.Longest,
		"lastDate":   lastDate,
		"milestones": milestones,
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(math.Floor(n)), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return toInt64(f)
		}
	}
	return 0, false
}
