package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"

	"github.com/kraikub/katrade-accounts/pkg/database"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

const usage = `Apply or inspect the embedded schema migrations.

The database is taken from DATABASE_DRIVER and DATABASE_URL.

Usage:
  migrate up
  migrate down [<steps>]
  migrate version
  migrate force <version>
  migrate -h | --help

A down without steps reverts one migration; 0 reverts everything.`

func main() {
	_ = godotenv.Load()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var cfg struct {
		Log      utilities.Config
		Database database.Config
	}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse environment: %v\n", err)
		os.Exit(1)
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	switch {
	case is(opts, "up"):
		v, err := database.Migrate(db)
		if err != nil {
			sugar.Fatalf("migrate up: %v", err)
		}
		sugar.Infow("migrated", "version", v)
	case is(opts, "down"):
		steps := 1
		if opts["<steps>"] != nil {
			if steps, err = opts.Int("<steps>"); err != nil {
				sugar.Fatalf("invalid steps: %v", err)
			}
		}
		if err := database.Rollback(db, steps); err != nil {
			sugar.Fatalf("migrate down: %v", err)
		}
		sugar.Infow("rolled back", "steps", steps)
	case is(opts, "version"):
		v, dirty, err := database.Version(db)
		if err != nil {
			sugar.Fatalf("version: %v", err)
		}
		fmt.Printf("version %d dirty=%t\n", v, dirty)
	case is(opts, "force"):
		v, err := opts.Int("<version>")
		if err != nil {
			sugar.Fatalf("invalid version: %v", err)
		}
		if err := database.Force(db, v); err != nil {
			sugar.Fatalf("force: %v", err)
		}
		sugar.Infow("forced", "version", v)
	}
}

func is(opts docopt.Opts, cmd string) bool {
	ok, _ := opts.Bool(cmd)
	return ok
}
