package models

import (
	"encoding/json"
	"strings"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// EngagementKind is a category of user activity tracked for streaks.
type EngagementKind string

const (
	KindPosting     EngagementKind = "posting"
	KindGifting     EngagementKind = "gifting"
	KindFulfillment EngagementKind = "fulfillment"
)

// EngagementKinds lists every kind in document field order.
var EngagementKinds = []EngagementKind{KindPosting, KindGifting, KindFulfillment}

// ParseKind validates a kind name.
func ParseKind(s string) (EngagementKind, error) {
	k := EngagementKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range EngagementKinds {
		if k == known {
			return k, nil
		}
	}
	return "", apperrors.Newf(apperrors.ErrUnknownKind, "unknown engagement kind %q", s)
}

// StreakEntry is the streak state for one kind of one user.
type StreakEntry struct {
	Current    int               `json:"current"`
	Longest    int               `json:"longest"`
	LastDate   *string           `json:"lastDate"`
	Milestones map[string]string `json:"milestones"`
}

// NewStreakEntry returns the zero entry with an allocated milestone map.
func NewStreakEntry() StreakEntry {
	return StreakEntry{Milestones: map[string]string{}}
}

// HasMilestone reports whether the milestone id was already unlocked.
func (e StreakEntry) HasMilestone(id string) bool {
	_, ok := e.Milestones[id]
	return ok
}

// EngagementStats is the per-user engagement document.
type EngagementStats struct {
	Entries   map[EngagementKind]StreakEntry
	UpdatedAt *int64
}

// Entry returns the entry for kind, or a default one.
func (s EngagementStats) Entry(kind EngagementKind) StreakEntry {
	if e, ok := s.Entries[kind]; ok {
		return e
	}
	return NewStreakEntry()
}

// MarshalJSON renders the document layout: one field per kind plus updatedAt.
func (s EngagementStats) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(EngagementKinds)+1)
	for _, kind := range EngagementKinds {
		out[string(kind)] = s.Entry(kind)
	}
	out["updatedAt"] = s.UpdatedAt
	return json.Marshal(out)
}

// EngagementResult is returned by a recorded engagement event.
type EngagementResult struct {
	Kind     EngagementKind `json:"kind"`
	Current  int            `json:"current"`
	Longest  int            `json:"longest"`
	Unlocked []string       `json:"unlocked"`
}

// Milestone is the next threshold a streak can reach.
type Milestone struct {
	ID     string `json:"id"`
	Target int    `json:"target"`
}
