package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/idealindiska/livs-backend/pkg/config"
	"github.com/idealindiska/livs-backend/pkg/db"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/migrate"
)

const usage = `usage: migrate [flags] <command>

commands:
  up          apply all pending migrations
  down        roll back the latest migration
  status      print applied and pending migrations
  to          migrate up or down to -version
  create      write a new migration named -name
  validate    check migration files without a database
`

type options struct {
	command string
	dir     string
	name    string
	version string
}

func main() {
	_ = godotenv.Load()

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.command, err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts options
	fs.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	fs.StringVar(&opts.name, "name", "", "description for create")
	fs.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for to")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch fs.NArg() {
	case 0:
		opts.command = "up"
	case 1:
		opts.command = fs.Arg(0)
	default:
		return opts, errors.New("expected a single command")
	}

	switch opts.command {
	case "create":
		if opts.name == "" {
			return opts, errors.New("create requires -name")
		}
	case "to":
		if opts.version == "" {
			return opts, errors.New("to requires -version")
		}
	case "up", "down", "status", "validate":
	default:
		return opts, fmt.Errorf("unknown command %q", opts.command)
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	switch opts.command {
	case "create":
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{"command": opts.command, "dir": opts.dir})

	if err := migrate.ValidateDir(opts.dir); err != nil {
		return fmt.Errorf("refusing to run invalid migrations: %w", err)
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("unwrap sql db: %w", err)
	}

	if opts.command == "to" {
		err = migrate.MigrateToVersion(ctx, sqlDB, client.Dialect(), opts.dir, opts.version)
	} else {
		err = migrate.Run(ctx, sqlDB, client.Dialect(), opts.dir, opts.command)
	}
	if err != nil {
		logg.Error(ctx, "migrate.failed", err)
		return err
	}
	logg.Info(ctx, "migrate.done")
	return nil
}
