// Package main is the entry point for the Vidsnag admin CLI.
// It manages users and exports snapshots directly against the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/app"
	"github.com/prn-tf/vidsnag/internal/config"
	"github.com/prn-tf/vidsnag/internal/logging"
	"github.com/prn-tf/vidsnag/internal/pkg/crypto"
	"github.com/prn-tf/vidsnag/internal/service"
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

	var err error
	switch command := os.Args[1]; command {
	case "version":
		fmt.Printf("Vidsnag Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "user":
		err = runUser(ctx, os.Args[2:])

	case "export":
		err = runExport(ctx, os.Args[2:])

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
	fmt.Println(`Vidsnag Admin CLI

Usage:
  vidsnag-admin <command> [arguments]

Commands:
  user list                                 List all users
  user create -username U [-password P]     Create a user [-role admin|user] [-limit N];
                                            prints a generated password when -password is omitted
  user update <id> [flags]                  Update a user [-ban] [-unban] [-ban-until DATE|none]
                                            [-limit N] [-password P]
  user delete <id>                          Delete a user; their download history is kept
  user reset-usage <id>|-all                Reset daily usage counters
  export [-out FILE] [-s3]                  Write a JSON snapshot to FILE, stdout or S3
  version                                   Print version information
  help                                      Show this help message

Every command accepts -config FILE. Settings are also read from VIDSNAG_* variables.`)
}

// env is the state shared by all commands.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *app.Store
	users  *service.UserService

	closeLog io.Closer
}

func openEnv(ctx context.Context, configPath string) (*env, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// CLI output goes to stdout; keep logs on stderr and quiet by default.
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	if logCfg.Level == "" || logCfg.Level == "info" || logCfg.Level == "debug" {
		logCfg.Level = "warn"
	}
	logger, closer, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	store, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		closer.Close()
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			closer.Close()
			return nil, err
		}
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		users:    service.NewUserService(store.Repos.User, nil, logger),
		closeLog: closer,
	}, nil
}

func (e *env) Close() {
	_ = e.store.Close()
	_ = e.closeLog.Close()
}

func runUser(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("missing user subcommand (list, create, update, delete, reset-usage)")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("user "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")

	switch sub {
	case "list":
		if err := fs.Parse(args); err != nil {
			return err
		}
		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.Close()
		return listUsers(ctx, e)

	case "create":
		username := fs.String("username", "", "username")
		password := fs.String("password", "", "password (generated when empty)")
		role := fs.String("role", "user", "role (admin or user)")
		limit := fs.Int("limit", -1, "daily limit (default 10)")
		if err := fs.Parse(args); err != nil {
			return err
		}

		generated := *password == ""
		if generated {
			pw, err := crypto.GeneratePassword(crypto.DefaultPasswordLength)
			if err != nil {
				return err
			}
			*password = pw
		}

		in := service.CreateUserInput{Username: *username, Password: *password, Role: *role}
		if *limit >= 0 {
			in.DailyLimit = limit
		}

		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.Close()

		u, err := e.users.Create(ctx, in)
		if err != nil {
			return err
		}
		fmt.Printf("Created user %q with id %d\n", u.Username, u.ID)
		if generated {
			fmt.Printf("Password: %s\n", *password)
		}
		return nil

	case "update":
		ban := fs.Bool("ban", false, "ban the user")
		unban := fs.Bool("unban", false, "lift the ban")
		banUntil := fs.String("ban-until", "", "ban expiry date (RFC3339 or YYYY-MM-DD), \"none\" clears it")
		limit := fs.Int("limit", -1, "daily limit")
		password := fs.String("password", "", "new password")
		id, err := parseIDThenFlags(fs, args)
		if err != nil {
			return err
		}
		if *ban && *unban {
			return errors.New("-ban and -unban are mutually exclusive")
		}

		var in service.UpdateUserInput
		switch {
		case *ban:
			in.IsBanned = ptr(true)
		case *unban:
			in.IsBanned = ptr(false)
		}
		if *limit >= 0 {
			in.DailyLimit = limit
		}
		if *password != "" {
			in.Password = password
		}
		switch *banUntil {
		case "":
		case "none":
			in.ClearBanUntil = true
		default:
			t, err := parseDate(*banUntil)
			if err != nil {
				return err
			}
			in.BanUntil = &t
		}
		if in.IsEmpty() {
			return errors.New("nothing to update")
		}

		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.Close()

		u, err := e.users.Update(ctx, id, in)
		if err != nil {
			return err
		}
		fmt.Printf("Updated user %q (banned=%t, limit=%d)\n", u.Username, u.IsBanned, u.DailyLimit)
		return nil

	case "delete":
		id, err := parseIDThenFlags(fs, args)
		if err != nil {
			return err
		}
		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.users.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Deleted user %d\n", id)
		return nil

	case "reset-usage":
		all := fs.Bool("all", false, "reset every user")
		var id int64
		if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
			var err error
			if id, err = parseIDThenFlags(fs, args); err != nil {
				return err
			}
		} else if err := fs.Parse(args); err != nil {
			return err
		}
		if !*all && id == 0 {
			return errors.New("pass a user id or -all")
		}

		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.Close()

		if *all {
			n, err := e.users.ResetAllUsage(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Reset usage for %d users\n", n)
			return nil
		}
		if err := e.users.ResetUsage(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Reset usage for user %d\n", id)
		return nil

	default:
		return fmt.Errorf("unknown user subcommand %q", sub)
	}
}

func listUsers(ctx context.Context, e *env) error {
	users, err := e.users.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tUSED/LIMIT\tBANNED\tLAST USED")
	for _, u := range users {
		lastUsed := "-"
		if u.LastUsedAt != nil {
			lastUsed = u.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%t\t%s\n",
			u.ID, u.Username, u.Role, u.UsedToday, u.DailyLimit, u.IsBanned, lastUsed)
	}
	return tw.Flush()
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	out := fs.String("out", "", "output file (default stdout)")
	toS3 := fs.Bool("s3", false, "upload to the configured S3 bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openEnv(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	snap, err := snapshot.Build(ctx, e.store.Repos)
	if err != nil {
		return err
	}

	if *toS3 {
		s3cfg := e.cfg.Export.S3
		if s3cfg.Bucket == "" {
			return errors.New("export.s3.bucket is not configured")
		}
		client, err := snapshot.NewS3Client(ctx, s3cfg)
		if err != nil {
			return err
		}
		key, err := snapshot.NewS3Uploader(client, s3cfg.Bucket, s3cfg.Prefix, e.logger).Upload(ctx, snap)
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded snapshot to s3://%s/%s\n", s3cfg.Bucket, key)
		return nil
	}

	if *out == "" {
		return snap.Write(os.Stdout)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := snap.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d users and %d downloads to %s\n", len(snap.Users), len(snap.Downloads), *out)
	return nil
}

// parseIDThenFlags reads a positional user id followed by flags.
func parseIDThenFlags(fs *flag.FlagSet, args []string) (int64, error) {
	if len(args) < 1 {
		return 0, errors.New("missing user id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", args[0])
	}
	return id, fs.Parse(args[1:])
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

func ptr[T any](v T) *T { return &v }
