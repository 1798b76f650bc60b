package record

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

	_ "modernc.org/sqlite"

	"periodically/pkg/logx"
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

	// Basic pragmas.
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

func (s *sqliteStore) Create(ctx context.Context, e *Execution) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e == nil || e.ID == "" {
		return ErrNotFound
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, task_id, schedule_id, start_ms, end_ms, success, message)
		 VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.ScheduleID, e.StartTime.UnixMilli(),
		nullMS(e.EndTime), nullBool(e.Success), nullStr(e.Message),
	)
	return err
}

func (s *sqliteStore) FindOpen(ctx context.Context, taskID string) ([]*Execution, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, schedule_id, start_ms, message
		 FROM executions
		 WHERE task_id = ? AND end_ms IS NULL
		 ORDER BY start_ms ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var e Execution
		var startMS int64
		var msg sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ScheduleID, &startMS, &msg); err != nil {
			return nil, err
		}
		e.StartTime = time.UnixMilli(startMS)
		e.Message = msg.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LastStart(ctx context.Context, taskID, scheduleID string) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, ErrDisabled
	}
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(start_ms) FROM executions WHERE task_id = ? AND schedule_id = ?`,
		taskID, scheduleID,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !ms.Valid) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms.Int64), nil
}

func (s *sqliteStore) Finish(ctx context.Context, id string, end time.Time, success bool, message string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	// The end_ms IS NULL guard makes the close first-writer-wins.
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET end_ms = ?, success = ?, message = ?
		 WHERE id = ? AND end_ms IS NULL`,
		end.UnixMilli(), boolInt(success), nullStr(message), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
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
