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

	_ "modernc.org/sqlite"

	logx "postpulse/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

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

const postColumns = `id, destination_id, destination_slug, destination_name, title, body, media_url,
 scheduled_at, status, created_at, updated_at, retry_count, last_error_code, last_error_message`

func (s *sqliteStore) List(ctx context.Context) ([]ScheduledPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY scheduled_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (ScheduledPost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduledPost{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) Create(ctx context.Context, post ScheduledPost) (ScheduledPost, error) {
	post = withCreateDefaults(post)
	var code, msg any
	if post.LastError != nil {
		code, msg = post.LastError.Code, post.LastError.Message
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(`+postColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		post.ID, post.DestinationID, post.DestinationSlug, post.DestinationName,
		post.Title, post.Body, post.MediaURL,
		post.ScheduledAt.Format(timeFormat), string(post.Status),
		post.CreatedAt.Format(timeFormat), post.UpdatedAt.Format(timeFormat),
		post.RetryCount, code, msg,
	)
	if err != nil {
		return ScheduledPost{}, err
	}
	return post, nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, patch Patch) (ScheduledPost, error) {
	// Single connection + single-writer caller: read-modify-write is safe
	// and keeps the patch semantics in one place.
	post, err := s.Get(ctx, id)
	if err != nil {
		return ScheduledPost{}, err
	}
	patch.apply(&post, time.Now().UTC())

	var code, msg any
	if post.LastError != nil {
		code, msg = post.LastError.Code, post.LastError.Message
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE posts SET destination_id=?, destination_slug=?, destination_name=?,
		 title=?, body=?, media_url=?, scheduled_at=?, status=?, updated_at=?,
		 retry_count=?, last_error_code=?, last_error_message=? WHERE id=?`,
		post.DestinationID, post.DestinationSlug, post.DestinationName,
		post.Title, post.Body, post.MediaURL,
		post.ScheduledAt.Format(timeFormat), string(post.Status),
		post.UpdatedAt.Format(timeFormat),
		post.RetryCount, code, msg, id,
	)
	if err != nil {
		return ScheduledPost{}, err
	}
	return post, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Paused(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_state WHERE key = 'paused'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (s *sqliteStore) SetPaused(ctx context.Context, paused bool) error {
	v := "0"
	if paused {
		v = "1"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_state(key, value) VALUES('paused', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, v)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (ScheduledPost, error) {
	var (
		p               ScheduledPost
		scheduledAt     string
		createdAt       string
		updatedAt       string
		status          string
		errCode, errMsg sql.NullString
	)
	err := r.Scan(
		&p.ID, &p.DestinationID, &p.DestinationSlug, &p.DestinationName,
		&p.Title, &p.Body, &p.MediaURL,
		&scheduledAt, &status, &createdAt, &updatedAt,
		&p.RetryCount, &errCode, &errMsg,
	)
	if err != nil {
		return ScheduledPost{}, err
	}
	p.Status = Status(status)
	if p.ScheduledAt, err = time.Parse(timeFormat, scheduledAt); err != nil {
		return ScheduledPost{}, fmt.Errorf("scheduled_at: %w", err)
	}
	if p.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return ScheduledPost{}, fmt.Errorf("created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return ScheduledPost{}, fmt.Errorf("updated_at: %w", err)
	}
	if errCode.Valid && errCode.String != "" {
		p.LastError = &PostError{Code: errCode.String, Message: errMsg.String}
	}
	return p, nil
}
