package engagement

import (
	"fmt"

	"github.com/kimhsiao/wishwell/backend/internal/datekey"
	"github.com/kimhsiao/wishwell/backend/internal/models"
)

// thresholds are the streak lengths that unlock a milestone, ascending.
var thresholds = map[models.EngagementKind][]int{
	models.KindPosting:     {1, 3, 7, 14, 30},
	models.KindGifting:     {1, 5, 15},
	models.KindFulfillment: {1, 3, 10},
}

// MilestoneID is the stable id of the threshold milestone for kind.
func MilestoneID(kind models.EngagementKind, threshold int) string {
	return fmt.Sprintf("%s_%d", kind, threshold)
}

// NextMilestone returns the first milestone for kind not yet unlocked in
// entry, or nil when all of them are.
func NextMilestone(kind models.EngagementKind, entry models.StreakEntry) *models.Milestone {
	for _, t := range thresholds[kind] {
		id := MilestoneID(kind, t)
		if !entry.HasMilestone(id) {
			return &models.Milestone{ID: id, Target: t}
		}
	}
	return nil
}

// Lapsed reports whether the streak in entry can no longer continue on
// today, i.e. its last event is older than yesterday. An entry with no
// events has nothing to lapse.
func Lapsed(entry models.StreakEntry, today string) bool {
	if entry.LastDate == nil {
		return false
	}
	yesterday, err := datekey.AddDays(today, -1)
	if err != nil {
		return false
	}
	last := *entry.LastDate
	return last != today && last != yesterday
}
