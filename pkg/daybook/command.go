package daybook

import (
	"flag"
	"fmt"
)

// Command is one discrete application operation. Parsing and execution are
// separated: Parse produces a Command plus the shared Config, and Main
// routes the command to the matching App method.
type Command interface {
	// Name is the CLI sub-command this command was parsed from.
	Name() string
}

// MigrateCommand initializes or updates the backend schema. Idempotent;
// safe to run before every deployment.
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string { return "migrate" }

// RunCommand starts the HTTP server.
type RunCommand struct{}

func (c *RunCommand) Name() string { return "run" }

// Parse reads flags and the sub-command from args. Flags override the
// environment-derived defaults.
func Parse(args []string) (Command, *Config, error) {
	config := ConfigFromEnv()

	flagSet := flag.NewFlagSet("daybook", flag.ContinueOnError)
	var (
		backend     = flagSet.String("backend", string(config.Backend), "Store backend: memory, surrealdb, postgres")
		port        = flagSet.String("port", config.ServerPort, "Server port")
		changeDelay = flagSet.Duration("change-delay", 0, "Editor change debounce (0 = default)")
		flushDelay  = flagSet.Duration("flush-delay", 0, "Operation queue flush debounce (0 = default)")
	)
	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	config.Backend = Backend(*backend)
	config.ServerPort = *port
	config.ChangeDelay = *changeDelay
	config.FlushDelay = *flushDelay

	switch config.Backend {
	case BackendMemory, BackendSurrealDB, BackendPostgres:
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want memory, surrealdb or postgres)", config.Backend)
	}
	if config.ChangeDelay < 0 || config.FlushDelay < 0 {
		return nil, nil, fmt.Errorf("debounce delays must be positive")
	}

	remaining := flagSet.Args()
	if len(remaining) == 0 {
		return nil, nil, fmt.Errorf(`subcommand required

Usage: daybook [flags] <command>

Commands:
  run       Start the daybook server
  migrate   Initialize or update the backend schema

Examples:
  daybook run                       # In-memory store, port 8080
  daybook -backend surrealdb run    # SurrealDB backend
  daybook -backend postgres migrate # Create postgres schema
  daybook -port 8090 run`)
	}

	switch remaining[0] {
	case "run":
		return &RunCommand{}, config, nil
	case "migrate":
		return &MigrateCommand{}, config, nil
	}
	return nil, nil, fmt.Errorf("unknown command %q (want run or migrate)", remaining[0])
}
