package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/runnerr0/dwell/internal/aggregate"
	"github.com/runnerr0/dwell/internal/daemon"
	"github.com/runnerr0/dwell/internal/lock"
	"github.com/runnerr0/dwell/internal/retention"
	"github.com/runnerr0/dwell/internal/schedule"
)

// Execute implements the go-flags Commander interface for IngestCommand.
// It runs the daemon in the foreground until interrupted.
func (c *IngestCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}

	slog.SetDefault(cfg.Logging.NewLogger(os.Stderr))
	if strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := openStoresWith(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, c.version, st)
}

// runDaemon wires the aggregation scheduler into the HTTP daemon and blocks
// until ctx is done.
func runDaemon(ctx context.Context, version string, st *stores) error {
	timer := schedule.NewTickerTimer()
	defer timer.Close()

	scheduler := schedule.NewScheduler(schedule.Options{
		Timer:  timer,
		Runner: aggregate.NewEngine(st.events, st.stats),
		Pruner: retention.NewPruner(st.events, st.stats, st.cfg.Retention.EventDays, st.cfg.Retention.StatDays),
		Lock:   lock.New(st.kv, lock.DefaultKey, st.cfg.Aggregation.LockTTL()),
		KV:     st.kv,
		Period: st.cfg.Aggregation.Period(),
	})

	server := daemon.NewServer(daemon.Options{
		Host:           st.cfg.Daemon.Host,
		Port:           st.cfg.Daemon.Port,
		AuthToken:      st.cfg.Daemon.AuthToken,
		MaxRequestSize: int64(st.cfg.Daemon.MaxRequestSize),
		Version:        version,
		Events:         st.events,
		Stats:          st.stats,
		KV:             st.kv,
		Aggregation:    schedule.NewService(scheduler),
	})

	slog.Info("dwell daemon starting",
		"addr", st.cfg.Daemon.Host,
		"port", st.cfg.Daemon.Port,
		"db", st.path)

	return server.Run(ctx)
}
