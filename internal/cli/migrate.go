package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"replybot/internal/config"
	"replybot/internal/utils"
	"replybot/migrations"
)

type migration struct {
	Name     string
	SQL      string
	Checksum string
}

func runMigrate(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dir := flags.String("dir", defaultMigrationsDir(), "Directory containing *.sql migrations (empty uses the built-in set)")
	dryRun := flags.Bool("dry-run", false, "List pending migrations without applying")
	positional, err := parseInterleaved(flags, args)
	if err != nil {
		return err
	}

	action := "up"
	if len(positional) > 0 && strings.TrimSpace(positional[0]) != "" {
		action = strings.TrimSpace(positional[0])
	}
	if action != "up" {
		return fmt.Errorf("unsupported migrate action %q (supported: up)", action)
	}
	if !cfg.DBEnabled() {
		return errors.New("db is not configured (set [db] url or host)")
	}

	source, label := migrationSource(*dir)
	all, err := loadMigrations(source)
	if err != nil {
		return fmt.Errorf("read migrations from %s: %w", label, err)
	}
	if len(all) == 0 {
		return fmt.Errorf("no .sql files found in %s", label)
	}

	pool, err := pgxpool.New(ctx, cfg.DBConnString())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return err
	}

	var pending []migration
	for _, m := range all {
		applied, checksum, err := appliedChecksum(ctx, pool, m.Name)
		if err != nil {
			return err
		}
		if !applied {
			pending = append(pending, m)
			continue
		}
		if checksum != "" && checksum != m.Checksum {
			utils.Warn("migration changed after it was applied", "migration", m.Name)
		}
	}

	if *dryRun {
		for _, m := range pending {
			fmt.Fprintln(stdout, m.Name)
		}
		return nil
	}

	appliedCount := 0
	for _, m := range pending {
		start := time.Now()
		utils.Info("migrate apply", "migration", m.Name, "source", label)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		_, execErr := tx.Exec(ctx, m.SQL)
		if execErr == nil {
			_, execErr = tx.Exec(ctx, `INSERT INTO schema_migrations (filename, checksum, applied_at) VALUES ($1, $2, NOW())`, m.Name, m.Checksum)
		}
		if execErr != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", m.Name, execErr)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		appliedCount++
		utils.Info("migrate applied", "migration", m.Name, "dur", time.Since(start).Truncate(time.Millisecond).String())
	}

	fmt.Fprintf(stdout, "Applied %d migration(s)\n", appliedCount)
	return nil
}

// defaultMigrationsDir prefers a checked-out ./migrations over the embedded copy.
func defaultMigrationsDir() string {
	if utils.DirExists("migrations") {
		return "migrations"
	}
	return ""
}

func migrationSource(dir string) (fs.FS, string) {
	if strings.TrimSpace(dir) == "" {
		return migrations.FS, "built-in migrations"
	}
	return os.DirFS(dir), dir
}

// loadMigrations returns the non-empty *.sql files at the root of fsys in
// name order.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Clean(name))
		if err != nil {
			return nil, err
		}
		sqlText := strings.TrimSpace(string(data))
		if sqlText == "" {
			continue
		}
		out = append(out, migration{Name: name, SQL: sqlText, Checksum: utils.SHA256String(sqlText)})
	}
	return out, nil
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			checksum TEXT,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT`)
	return err
}

func appliedChecksum(ctx context.Context, pool *pgxpool.Pool, filename string) (bool, string, error) {
	var checksum *string
	err := pool.QueryRow(ctx, `SELECT checksum FROM schema_migrations WHERE filename = $1`, filename).Scan(&checksum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "", nil
		}
		return false, "", err
	}
	if checksum == nil {
		return true, "", nil
	}
	return true, *checksum, nil
}
