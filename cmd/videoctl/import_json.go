package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"imagetovideo/internal/db"
	"imagetovideo/internal/jsonstore"
)

func importJSONCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-json",
		Usage: "Copy users from the legacy JSON store into SQLite",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "json",
				Usage: "Path to the legacy JSON document",
				Value: "./data/db.json",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to the SQLite database",
				Value: "./data/imagetovideo.db",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			report, err := importJSON(ctx, cmd.String("json"), cmd.String("db"))
			if err != nil {
				return err
			}
			report.print(cmd.Root().Writer)
			return nil
		},
	}
}

type importReport struct {
	Backup   string
	Read     int
	Imported int
	Skipped  int
	Total    int
}

func (r *importReport) print(w io.Writer) {
	fmt.Fprintf(w, "backup written to %s\n", r.Backup)
	fmt.Fprintf(w, "users read: %d, imported: %d, already present: %d\n", r.Read, r.Imported, r.Skipped)
	fmt.Fprintf(w, "users in database: %d\n", r.Total)
}

// importJSON backs up the JSON document, inserts every user into SQLite and
// checks that the database holds at least as many users as were read.
// Users already present by email are skipped, so reruns are safe.
func importJSON(ctx context.Context, jsonPath, dbPath string) (*importReport, error) {
	if _, err := os.Stat(jsonPath); err != nil {
		return nil, fmt.Errorf("reading legacy store: %w", err)
	}

	report := &importReport{Backup: jsonPath + ".bak"}
	if err := copyFile(jsonPath, report.Backup); err != nil {
		return nil, fmt.Errorf("backing up legacy store: %w", err)
	}

	legacy, err := jsonstore.Open(jsonPath)
	if err != nil {
		return nil, err
	}
	users, err := legacy.Users(ctx)
	if err != nil {
		return nil, err
	}
	report.Read = len(users)

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer database.Close()
	repo := db.NewUserRepository(database)

	for _, u := range users {
		if jsonstore.LegacyNumericID(u.ID) {
			u.ID = ""
		}
		err := repo.Import(ctx, u)
		switch {
		case errors.Is(err, db.ErrDuplicate):
			report.Skipped++
			slog.Info("user already imported", "email", u.Email)
		case err != nil:
			return nil, fmt.Errorf("importing %s: %w", u.Email, err)
		default:
			report.Imported++
		}
	}

	report.Total, err = repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if report.Total < report.Read {
		return nil, fmt.Errorf("database holds %d users, expected at least %d", report.Total, report.Read)
	}

	return report, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
