package daybook

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Main is the entry point shared by the binary and the tests: parse the
// arguments, build the application, route the command. The context carries
// cancellation for graceful shutdown.
func Main(ctx context.Context, args []string) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("parse configuration: %w", err)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	app, err := New(ctx, config, log)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer app.Close()

	switch c := cmd.(type) {
	case *MigrateCommand:
		if err := app.Migrate(ctx, c); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info().Msg("migration complete")
	case *RunCommand:
		if err := app.Migrate(ctx, &MigrateCommand{}); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if err := app.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		if err := app.Run(ctx, c); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown command type %T", cmd)
	}
	return nil
}
