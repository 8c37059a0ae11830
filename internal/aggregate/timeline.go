package aggregate

import (
	"sort"
	"time"

	"github.com/runnerr0/dwell/internal/storage"
)

// timeline is the sorted sub-sequence of one visit's events sharing an
// activity id. An empty activityID marks the visit's open-time timeline;
// each distinct non-empty activityID is one active-time timeline.
type timeline struct {
	visitID    string
	activityID string
	events     []storage.Event
}

// open reports whether this timeline accrues open time rather than active
// time.
func (tl *timeline) open() bool {
	return tl.activityID == ""
}

// complete reports whether the timeline has enough events to form at least
// one interval. Single events wait unprocessed for a counterpart.
func (tl *timeline) complete() bool {
	return len(tl.events) >= 2
}

// elapsedMS is the sum of consecutive gaps over the sorted events. Interior
// events close the interval opened by their predecessor and open the one
// closed by their successor, so a checkpoint with a neighbor on either side
// contributes even when the terminating end event never arrived.
func (tl *timeline) elapsedMS() int64 {
	var total int64
	for i := 0; i+1 < len(tl.events); i++ {
		total += tl.events[i+1].Timestamp - tl.events[i].Timestamp
	}
	return total
}

// day returns the UTC calendar day of the earliest event, which is the day
// the whole timeline's time is attributed to even when it spans midnight.
func (tl *timeline) day() string {
	return time.UnixMilli(tl.events[0].Timestamp).UTC().Format("2006-01-02")
}

// url returns the page URL the timeline belongs to.
func (tl *timeline) url() string {
	return tl.events[0].URL
}

// eventIDs returns the ids of every event in the timeline.
func (tl *timeline) eventIDs() []int64 {
	ids := make([]int64, len(tl.events))
	for i, e := range tl.events {
		ids[i] = e.ID
	}
	return ids
}

// partitionTimelines groups events by visit id and then by activity id, and
// sorts each group by timestamp. The sort is stable: events sharing a
// millisecond keep their fetch order, which FetchUnprocessed guarantees to
// be insertion order.
func partitionTimelines(events []storage.Event) []timeline {
	type key struct {
		visitID    string
		activityID string
	}

	groups := make(map[key][]storage.Event)
	var order []key
	for _, e := range events {
		k := key{visitID: e.VisitID, activityID: e.ActivityID}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	timelines := make([]timeline, 0, len(order))
	for _, k := range order {
		evs := groups[k]
		sort.SliceStable(evs, func(i, j int) bool {
			return evs[i].Timestamp < evs[j].Timestamp
		})
		timelines = append(timelines, timeline{
			visitID:    k.visitID,
			activityID: k.activityID,
			events:     evs,
		})
	}
	return timelines
}
