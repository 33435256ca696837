// Package migrate applies versioned SQL migrations and seeds. Each file runs
// in one transaction together with its bookkeeping row, so a failed file
// leaves neither schema changes nor a history entry behind.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"guildhall.org/internal/obs"
)

// ErrNothingApplied is returned by Down when the history is empty.
var ErrNothingApplied = errors.New("no migrations applied")

// fileSet is one kind of SQL file and the table that records it.
type fileSet struct {
	kind   string
	fsys   fs.FS
	suffix string
	table  string
}

// Manager runs the migrations embedded by internal/store/pg and optional
// seed files against a database.
type Manager struct {
	db         *sql.DB
	migrations fileSet
	seeds      fileSet
}

// Option configures Manager.
type Option func(*Manager)

// WithSeeds sets the file system holding seed files.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) { m.seeds.fsys = seeds }
}

// WithTables overrides the bookkeeping table names. Empty names keep the
// defaults.
func WithTables(migrations, seeds string) Option {
	return func(m *Manager) {
		if migrations != "" {
			m.migrations.table = migrations
		}
		if seeds != "" {
			m.seeds.table = seeds
		}
	}
}

func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: fileSet{kind: "migration", fsys: migrations, suffix: ".up.sql", table: "schema_migrations"},
		seeds:      fileSet{kind: "seed", suffix: ".sql", table: "schema_seeds"},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in file name order.
func (m *Manager) Up(ctx context.Context) error { return m.apply(ctx, m.migrations) }

// Seed applies pending seed files. Applied seeds are never re-run.
func (m *Manager) Seed(ctx context.Context) error { return m.apply(ctx, m.seeds) }

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrations.table)
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	file, ok, err := m.find(m.migrations, down)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
	if err := m.run(ctx, m.migrations.fsys, file, forget, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	obs.Logger().WithField("migration", last).Info("migration rolled back")
	return nil
}

func (m *Manager) apply(ctx context.Context, set fileSet) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	done, err := m.history(ctx, set.table)
	if err != nil {
		return err
	}
	files, err := collect(set)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, set.table)
	for _, file := range files {
		name := path.Base(file)
		if slices.Contains(done, name) {
			continue
		}
		if err := m.run(ctx, set.fsys, file, record, name, time.Now().UTC()); err != nil {
			return fmt.Errorf("apply %s %s: %w", set.kind, name, err)
		}
		obs.Logger().WithField(set.kind, name).Info(set.kind + " applied")
	}
	return nil
}

// run executes every statement of file and then the bookkeeping statement in
// one transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, file, bookkeeping string, args ...any) error {
	body, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrations.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// collect lists the files of set sorted by base name. A missing file system
// or directory yields nothing.
func collect(set fileSet) ([]string, error) {
	if set.fsys == nil {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(set.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), set.suffix) {
			files = append(files, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b string) int { return strings.Compare(path.Base(a), path.Base(b)) })
	return files, nil
}

func (m *Manager) find(set fileSet, base string) (string, bool, error) {
	files, err := collect(fileSet{fsys: set.fsys, suffix: ".down.sql"})
	if err != nil {
		return "", false, err
	}
	for _, f := range files {
		if path.Base(f) == base {
			return f, true, nil
		}
	}
	return "", false, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// drops blank statements and "--" comment lines.
func splitStatements(sql string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, line := range strings.SplitAfter(sql, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			current.WriteRune(r)
			switch {
			case r == '\'':
				inString = !inString
			case r == ';' && !inString:
				flush()
			}
		}
	}
	flush()
	return stmts
}
