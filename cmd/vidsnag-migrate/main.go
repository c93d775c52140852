// Package main is the entry point for the Vidsnag database migration tool.
// It manages the schema of the SQLite or PostgreSQL store and imports
// snapshots and legacy flat files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/vidsnag/internal/app"
	"github.com/prn-tf/vidsnag/internal/config"
	"github.com/prn-tf/vidsnag/internal/logging"
	"github.com/prn-tf/vidsnag/internal/snapshot"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")

	var err error
	switch command {
	case "version":
		fmt.Printf("Vidsnag Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up", "down", "status", "db-version":
		if err = fs.Parse(os.Args[2:]); err == nil {
			err = withMigrator(ctx, *configPath, func(p *goose.Provider) error {
				return runGoose(ctx, command, p)
			})
		}

	case "import", "import-legacy":
		if err = fs.Parse(os.Args[2:]); err == nil {
			if fs.NArg() != 1 {
				err = fmt.Errorf("%s needs exactly one file argument", command)
				break
			}
			err = runImport(ctx, *configPath, fs.Arg(0), command == "import-legacy")
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Vidsnag Migration Tool

Usage:
  vidsnag-migrate <command> [-config FILE] [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back the last migration
  status                Show the state of every migration
  db-version            Print the current schema version
  import FILE           Load a snapshot written by "vidsnag-admin export" into an empty store
  import-legacy FILE    Load a legacy flat-file database into an empty store
  version               Print version information
  help                  Show this help message

The database is selected by database.driver (sqlite or postgres) in the config
file or the VIDSNAG_DATABASE_* environment variables.

Examples:
  vidsnag-migrate up
  vidsnag-migrate status -config /etc/vidsnag/config.yaml
  vidsnag-migrate import-legacy ./db.json`)
}

func setup(ctx context.Context, configPath string) (*app.Store, zerolog.Logger, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	logger, logCloser, err := logging.New(logCfg)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	store, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		logCloser.Close()
		return nil, logger, nil, err
	}

	cleanup := func() {
		_ = store.Close()
		_ = logCloser.Close()
	}
	return store, logger, cleanup, nil
}

func withMigrator(ctx context.Context, configPath string, fn func(*goose.Provider) error) error {
	store, _, cleanup, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	provider, closeProvider, err := store.NewMigrator()
	if err != nil {
		return err
	}
	defer closeProvider()

	return fn(provider)
}

func runGoose(ctx context.Context, command string, p *goose.Provider) error {
	switch command {
	case "up":
		results, err := p.Up(ctx)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No pending migrations")
		}
		for _, r := range results {
			fmt.Println(r)
		}

	case "down":
		result, err := p.Down(ctx)
		if err != nil {
			if errors.Is(err, goose.ErrNoNextVersion) {
				fmt.Println("Nothing to roll back")
				return nil
			}
			return err
		}
		fmt.Println(result)

	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
		}
		return tw.Flush()

	case "db-version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
	}
	return nil
}

func runImport(ctx context.Context, configPath, path string, legacy bool) error {
	store, logger, cleanup, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	snap, err := readSnapshot(f, legacy)
	if err != nil {
		return err
	}

	res, err := snapshot.Import(ctx, store.Repos, snap)
	if err != nil {
		return err
	}

	logger.Info().
		Str("file", path).
		Bool("legacy", legacy).
		Int("users", res.Users).
		Int("downloads", res.Downloads).
		Msg("import finished")
	fmt.Printf("Imported %d users and %d downloads\n", res.Users, res.Downloads)
	return nil
}

func readSnapshot(r io.Reader, legacy bool) (*snapshot.Snapshot, error) {
	if legacy {
		return snapshot.ParseLegacy(r, bcrypt.DefaultCost)
	}
	return snapshot.Read(r)
}
