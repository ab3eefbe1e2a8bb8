package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/herd/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)

	var run func(ctx context.Context, cli *migration.CLI, rest []string) error
	switch subcommand {
	case "up":
		run = func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunUp(ctx) }
	case "down":
		run = func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunDown(ctx) }
	case "status":
		run = func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunStatus(ctx) }
	case "version":
		run = func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunVersion(ctx) }
	case "info":
		run = func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunInfo(ctx) }
	case "steps":
		run = func(ctx context.Context, cli *migration.CLI, rest []string) error {
			n, err := intArg(rest, "steps")
			if err != nil {
				return err
			}
			return cli.RunSteps(ctx, n)
		}
	case "force":
		run = func(ctx context.Context, cli *migration.CLI, rest []string) error {
			v, err := intArg(rest, "version")
			if err != nil {
				return err
			}
			return cli.RunForce(ctx, v)
		}
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}

	// steps/force 的数值参数在 flag 之前，避免 "-1" 被当作 flag
	flagArgs, positional := args[1:], []string(nil)
	if (subcommand == "steps" || subcommand == "force") && len(flagArgs) > 0 {
		positional, flagArgs = flagArgs[:1], flagArgs[1:]
	}

	migrator, err := createMigrator(fs, flagArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := run(context.Background(), migration.NewCLI(migrator), positional); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  herd migrate <subcommand> [options]

Subcommands:
  up         Apply all pending migrations
  down       Rollback the last migration
  steps <n>  Apply (n>0) or roll back (n<0) n migrations
  status     Show migration status
  version    Show current migration version
  info       Show a one-line summary
  force <v>  Force set migration version (use with caution)
  help       Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  herd migrate up
  herd migrate up --config /etc/herd/config.yaml
  herd migrate steps -1
  herd migrate force 1`)
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	logger := zap.NewNop()

	// If db-type and db-url are provided, use them directly
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL, logger)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, initLogger(cfg.Log))
}

func intArg(args []string, name string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s argument required", name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, args[0], err)
	}
	return n, nil
}
