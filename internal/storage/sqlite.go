package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dockmate/internal/schedule"
	logx "dockmate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskCols = `id, name, container, action, schedule, is_active, next_run_ts, created_at, updated_at, last_run_at, last_status`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var active int
	var created, updated string
	var lastRun sql.NullString
	err := row.Scan(&t.ID, &t.Name, &t.Container, &t.Action, &t.Schedule, &active, &t.NextRunTS, &created, &updated, &lastRun, &t.LastStatus)
	if err != nil {
		return Task{}, err
	}
	t.IsActive = active != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if lastRun.Valid {
		t.LastRunAt, _ = time.Parse(time.RFC3339Nano, lastRun.String)
	}
	return t, nil
}

func (s *sqliteStore) LoadTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	t.Action = strings.ToLower(strings.TrimSpace(t.Action))
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.NextRunTS == 0 {
		next, err := schedule.Next(t.Schedule, now)
		if err != nil {
			return Task{}, err
		}
		t.NextRunTS = next.Unix()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Container, t.Action, t.Schedule, boolInt(t.IsActive), t.NextRunTS,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
		nullTime(t.LastRunAt), t.LastStatus,
	)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *sqliteStore) UpdateTask(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET name=?, container=?, action=?, schedule=?, is_active=?, next_run_ts=?, updated_at=?, last_run_at=?, last_status=?
		 WHERE id=?`,
		t.Name, t.Container, strings.ToLower(strings.TrimSpace(t.Action)), t.Schedule, boolInt(t.IsActive), t.NextRunTS,
		time.Now().Format(time.RFC3339Nano), nullTime(t.LastRunAt), t.LastStatus, t.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET is_active=?, updated_at=? WHERE id=?`,
		boolInt(active), time.Now().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) Advance(ctx context.Context, id string, now time.Time) (int64, error) {
	t, err := s.FindTask(ctx, id)
	if err != nil {
		return 0, err
	}
	next, err := schedule.Next(t.Schedule, now)
	if err != nil {
		return 0, err
	}
	ts := next.Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET next_run_ts=?, last_run_at=?, last_status='ok', updated_at=? WHERE id=?`,
		ts, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return 0, err
	}
	if err := requireRow(res); err != nil {
		return 0, err
	}
	return ts, nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	// Stored in UTC so the retention cutoff can compare lexically.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, task_id, container, action, ok, err, took_ms) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.TaskID, e.Container, e.Action, boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
