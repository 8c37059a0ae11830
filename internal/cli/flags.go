package cli

import (
	"database/sql"
	"io"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows backlog health, database statistics, and the last run.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// ReportCommand prints dwell-time totals over a window.
type ReportCommand struct {
	Since  string `long:"since" description:"Window start as a duration back from now (e.g., 7d, 24h, 2w)" default:"7d"`
	Until  string `long:"until" description:"Window end as a duration back from now"`
	By     string `long:"by" description:"Grouping: url | host | domain | day" default:"url"`
	Domain string `long:"domain" description:"Filter by parent domain"`
	Host   string `long:"host" description:"Filter by hostname"`
	Limit  int    `long:"limit" description:"Maximum rows" default:"20"`
	Offset int    `long:"offset" description:"Skip first N rows" default:"0"`

	globals *GlobalFlags
	version string
}

// RunCommand executes one aggregation pass under the run lock.
type RunCommand struct {
	NoPrune bool `long:"no-prune" description:"Skip the retention sweep after aggregation"`

	globals *GlobalFlags
	version string
}

// AddCommand records a manual dwell interval for a URL.
type AddCommand struct {
	URL      string `long:"url" description:"URL to credit (required)"`
	Duration string `long:"duration" description:"Dwell time to record, e.g. 45m or 2h (required)"`
	At       string `long:"at" description:"Interval end as an RFC 3339 timestamp (default: now)"`
	Active   bool   `long:"active" description:"Count the interval as active (focused) time too"`

	globals *GlobalFlags
	version string
}

// IngestCommand runs the dwell daemon in the foreground.
type IngestCommand struct {
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// PruneCommand applies the retention windows now.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override processed-event retention (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be removed without deleting"`
	Force     bool   `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	stdin   io.Reader // injectable for testing; nil means os.Stdin
}

// PurgeCommand deletes ALL dwell data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	db      *sql.DB   // injectable for testing; nil means open default DB
	stdin   io.Reader // injectable for testing; nil means os.Stdin
}
