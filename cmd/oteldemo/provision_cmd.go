package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/oteldemo/pkg/downstream"
)

// runProvisionCmd implements `oteldemo provision`: create and seed the demo
// table without starting the server.
func runProvisionCmd(args []string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig("")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cmd := pflag.NewFlagSet("provision", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	cmd.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres URL; empty uses SQLite lite mode (DATABASE_URL)")
	cmd.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for the lite mode database (DATA_DIR)")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx := context.Background()
	db, dialect, err := downstream.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	if err := downstream.Provision(ctx, db, dialect); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	names, err := downstream.NewNameStore(db).Names(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "provisioned %s table %q with %d rows\n", dialect, downstream.TableName, len(names))
	return 0
}
