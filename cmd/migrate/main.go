// Command migrate applies, inspects and reverts the board's schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"noticeboard/internal/config"
	"noticeboard/internal/database"

	"gorm.io/gorm"
)

var errUsage = errors.New("usage: migrate <up|status|down> [version]")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}

	if err := run(context.Background(), os.Stdout, db, cfg, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, out io.Writer, db *gorm.DB, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "up":
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		fmt.Fprintln(out, "schema up to date")
	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return fmt.Errorf("schema status: %w", err)
		}
		fmt.Fprintf(out, "mode=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d\n",
			status.Mode, status.Environment, status.WillRunSQL, status.WillRunAutoMigrate,
			len(status.AppliedVersions), len(status.PendingMigrations))
		for _, m := range status.PendingMigrations {
			fmt.Fprintf(out, "pending: %s\n", m.String())
		}
	case "down":
		version := 0
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v <= 0 {
				return fmt.Errorf("invalid version %q", args[1])
			}
			version = v
		}
		m, err := database.RollbackMigration(ctx, db, version)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(out, "rolled back %s\n", m.String())
	default:
		return errUsage
	}
	return nil
}
