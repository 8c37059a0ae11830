package storage

import "time"

// EventType identifies which point of a tab lifecycle an event marks.
type EventType string

const (
	EventOpenStart   EventType = "open_time_start"
	EventOpenEnd     EventType = "open_time_end"
	EventActiveStart EventType = "active_time_start"
	EventActiveEnd   EventType = "active_time_end"
	EventCheckpoint  EventType = "checkpoint"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventOpenStart, EventOpenEnd, EventActiveStart, EventActiveEnd, EventCheckpoint:
		return true
	}
	return false
}

// Event is a single tab lifecycle event reported by the capture side.
// Events are append-only: once written, only IsProcessed ever changes,
// and only the aggregation engine flips it, false to true.
type Event struct {
	ID        int64
	Timestamp int64 // milliseconds since epoch
	Type      EventType
	TabID     int64
	URL       string
	// VisitID groups all events of one page-open lifecycle.
	VisitID string
	// ActivityID groups events of one interaction burst within a visit.
	// Empty for events on the visit's open-time timeline.
	ActivityID  string
	IsProcessed bool
	// Resolution marks events synthesized after the fact (crash recovery,
	// manual entry) rather than captured live. Empty for live events.
	Resolution string
}

// StatDelta is one additive contribution to a (day, url) accumulation.
type StatDelta struct {
	Day          string // UTC calendar day, "2006-01-02"
	URL          string
	Hostname     string
	ParentDomain string
	OpenMS       int64
	ActiveMS     int64
}

// SiteStat is the durable running total of open and active time for one
// (UTC day, url) pair. Totals only ever grow; upserts add, never replace.
type SiteStat struct {
	Key          string // "day:url"
	Day          string
	URL          string
	Hostname     string
	ParentDomain string
	OpenMS       int64
	ActiveMS     int64
	UpdatedAt    time.Time
}

// StatQuery defines filters for querying accumulated site stats.
type StatQuery struct {
	SinceDay     string // inclusive lower bound on Day; empty = no bound
	UntilDay     string // inclusive upper bound on Day; empty = no bound
	ParentDomain string
	Hostname     string
	Limit        int
	Offset       int
}

// DomainTotal pairs a parent domain with its summed time over a query window.
type DomainTotal struct {
	ParentDomain string
	OpenMS       int64
	ActiveMS     int64
}

// StatGroup names a column accumulations can be grouped by.
type StatGroup string

const (
	GroupByDay          StatGroup = "day"
	GroupByURL          StatGroup = "url"
	GroupByHostname     StatGroup = "hostname"
	GroupByParentDomain StatGroup = "parent_domain"
)

// Valid reports whether g names a known grouping column.
func (g StatGroup) Valid() bool {
	switch g {
	case GroupByDay, GroupByURL, GroupByHostname, GroupByParentDomain:
		return true
	}
	return false
}

// GroupedStat is one row of a grouped accumulation query: the grouped value
// plus summed time over the window.
type GroupedStat struct {
	Key      string
	OpenMS   int64
	ActiveMS int64
	Rows     int64
}

// EventCounts summarizes the event backlog.
type EventCounts struct {
	Pending   int64 // not yet folded into an accumulation
	Processed int64
}

// StatTotals summarizes the accumulation table.
type StatTotals struct {
	Rows      int64
	OpenMS    int64
	ActiveMS  int64
	OldestDay string
	NewestDay string
}

// StatKey builds the accumulation key for a day and url.
func StatKey(day, url string) string {
	return day + ":" + url
}
