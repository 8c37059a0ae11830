package daemon

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runnerr0/dwell/internal/metrics"
	"github.com/runnerr0/dwell/internal/schedule"
	"github.com/runnerr0/dwell/internal/storage"
)

// ingestRequest is the POST /v1/events payload: one batch of lifecycle
// events flushed by the extension.
type ingestRequest struct {
	Events []ingestEvent `json:"events"`
}

type ingestEvent struct {
	Timestamp  int64  `json:"timestamp"`
	Type       string `json:"type"`
	TabID      int64  `json:"tab_id"`
	URL        string `json:"url"`
	VisitID    string `json:"visit_id"`
	ActivityID string `json:"activity_id"`
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no events in batch"})
		return
	}

	batch := make([]storage.Event, 0, len(req.Events))
	rejected := 0
	for _, in := range req.Events {
		if reason := validateIngestEvent(in); reason != "" {
			metrics.IngestRejects.WithLabelValues(reason).Inc()
			rejected++
			continue
		}
		batch = append(batch, storage.Event{
			Timestamp:  in.Timestamp,
			Type:       storage.EventType(in.Type),
			TabID:      in.TabID,
			URL:        in.URL,
			VisitID:    in.VisitID,
			ActivityID: in.ActivityID,
		})
	}

	accepted := 0
	if len(batch) > 0 {
		n, err := s.opts.Events.AppendEvents(c.Request.Context(), batch)
		if err != nil {
			slog.Error("append events", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store events"})
			return
		}
		accepted = n
		// The store silently drops denylisted hosts.
		if excluded := len(batch) - n; excluded > 0 {
			metrics.IngestRejects.WithLabelValues("excluded").Add(float64(excluded))
			rejected += excluded
		}
	}
	metrics.EventsIngested.Add(float64(accepted))

	slog.Debug("event batch ingested", "accepted", accepted, "rejected", rejected)
	c.JSON(http.StatusAccepted, ingestResponse{Accepted: accepted, Rejected: rejected})
}

// validateIngestEvent returns a rejection reason, empty when the event is
// well-formed. URL semantics are not checked here; malformed URLs are kept
// so the aggregation engine sees them.
func validateIngestEvent(in ingestEvent) string {
	if !storage.EventType(in.Type).Valid() {
		return "invalid_type"
	}
	if in.Timestamp <= 0 {
		return "bad_timestamp"
	}
	if in.URL == "" {
		return "missing_url"
	}
	if in.VisitID == "" {
		return "missing_visit_id"
	}
	return ""
}

type dailyStatJSON struct {
	Day          string `json:"day"`
	URL          string `json:"url"`
	Hostname     string `json:"hostname"`
	ParentDomain string `json:"parent_domain"`
	OpenMS       int64  `json:"open_ms"`
	ActiveMS     int64  `json:"active_ms"`
}

func (s *Server) handleDailyStats(c *gin.Context) {
	q := storage.StatQuery{
		SinceDay:     c.Query("since"),
		UntilDay:     c.Query("until"),
		ParentDomain: c.Query("domain"),
		Hostname:     c.Query("host"),
	}

	var ok bool
	if q.Limit, ok = intQuery(c, "limit"); !ok {
		return
	}
	if q.Offset, ok = intQuery(c, "offset"); !ok {
		return
	}

	rows, err := s.opts.Stats.QueryDaily(c.Request.Context(), q)
	if err != nil {
		slog.Error("query daily stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query stats"})
		return
	}

	out := make([]dailyStatJSON, len(rows))
	for i, r := range rows {
		out[i] = dailyStatJSON{
			Day:          r.Day,
			URL:          r.URL,
			Hostname:     r.Hostname,
			ParentDomain: r.ParentDomain,
			OpenMS:       r.OpenMS,
			ActiveMS:     r.ActiveMS,
		}
	}
	c.JSON(http.StatusOK, gin.H{"stats": out})
}

// intQuery parses a non-negative integer query parameter. On a bad value it
// writes the 400 itself and reports false.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}

type statusResponse struct {
	InstanceID    string              `json:"instance_id"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Events        eventCountsJSON     `json:"events"`
	Stats         statTotalsJSON      `json:"stats"`
	LastRun       *schedule.RunRecord `json:"last_run,omitempty"`
}

type eventCountsJSON struct {
	Pending   int64 `json:"pending"`
	Processed int64 `json:"processed"`
}

type statTotalsJSON struct {
	Rows      int64  `json:"rows"`
	OpenMS    int64  `json:"open_ms"`
	ActiveMS  int64  `json:"active_ms"`
	OldestDay string `json:"oldest_day,omitempty"`
	NewestDay string `json:"newest_day,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := s.opts.Events.Counts(ctx)
	if err != nil {
		slog.Error("count events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count events"})
		return
	}
	totals, err := s.opts.Stats.Totals(ctx)
	if err != nil {
		slog.Error("total stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "total stats"})
		return
	}
	lastRun, err := schedule.LastRun(ctx, s.opts.KV)
	if err != nil {
		slog.Warn("read last run record", "error", err)
		lastRun = nil
	}

	c.JSON(http.StatusOK, statusResponse{
		InstanceID:    s.instanceID,
		Version:       s.opts.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Events: eventCountsJSON{
			Pending:   counts.Pending,
			Processed: counts.Processed,
		},
		Stats: statTotalsJSON{
			Rows:      totals.Rows,
			OpenMS:    totals.OpenMS,
			ActiveMS:  totals.ActiveMS,
			OldestDay: totals.OldestDay,
			NewestDay: totals.NewestDay,
		},
		LastRun: lastRun,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
