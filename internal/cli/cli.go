package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status *StatusCommand
	Report *ReportCommand
	Run    *RunCommand
	Add    *AddCommand
	Ingest *IngestCommand
	Prune  *PruneCommand
	Purge  *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "dwell"
	parser.LongDescription = "Privacy-first local dwell-time aggregation and reporting for fabric."

	cmds := &commands{
		Status: &StatusCommand{globals: &globals, version: version},
		Report: &ReportCommand{globals: &globals, version: version},
		Run:    &RunCommand{globals: &globals, version: version},
		Add:    &AddCommand{globals: &globals, version: version},
		Ingest: &IngestCommand{globals: &globals, version: version},
		Prune:  &PruneCommand{globals: &globals, version: version},
		Purge:  &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show aggregation health and statistics", "Show aggregation backlog, database statistics, and the last run.", cmds.Status)
	parser.AddCommand("report", "Report dwell-time totals", "Report dwell-time totals grouped by url, host, domain, or day.", cmds.Report)
	parser.AddCommand("run", "Run one aggregation pass", "Run one aggregation pass over pending events, then apply retention.", cmds.Run)
	parser.AddCommand("add", "Manually record a dwell interval", "Manually record a dwell interval for a URL.", cmds.Add)
	parser.AddCommand("ingest", "Start the dwell daemon", "Start the dwell daemon (local HTTP service).", cmds.Ingest)
	parser.AddCommand("prune", "Apply retention windows", "Apply the event and stat retention windows to remove old rows.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL dwell data", "Delete ALL dwell data. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the dwell CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("dwell %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
