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

	"bumpbot/internal/bump"
	logx "bumpbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteBackend{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteBackend) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteBackend) LoadOneTime(ctx context.Context) ([]bump.OneTime, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, fires_at FROM one_time_bumps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bump.OneTime
	for rows.Next() {
		var o bump.OneTime
		if err := rows.Scan(&o.ChatID, &o.FiresAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) LoadRecurring(ctx context.Context) ([]bump.Recurring, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, interval_seconds, next_fires_at, description FROM recurring_bumps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bump.Recurring
	for rows.Next() {
		var r bump.Recurring
		if err := rows.Scan(&r.ChatID, &r.IntervalSeconds, &r.NextFiresAt, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) ReplaceOneTime(ctx context.Context, items []bump.OneTime) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM one_time_bumps`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO one_time_bumps(chat_id, fires_at) VALUES(?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, o := range items {
			if _, err := stmt.ExecContext(ctx, o.ChatID, o.FiresAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteBackend) ReplaceRecurring(ctx context.Context, items []bump.Recurring) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_bumps`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO recurring_bumps(chat_id, interval_seconds, next_fires_at, description) VALUES(?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range items {
			if _, err := stmt.ExecContext(ctx, r.ChatID, r.IntervalSeconds, r.NextFiresAt, r.Description); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteBackend) DeleteChat(ctx context.Context, chatID int64) (int, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM one_time_bumps WHERE chat_id = ?`,
			`DELETE FROM recurring_bumps WHERE chat_id = ?`,
		} {
			res, err := tx.ExecContext(ctx, q, chatID)
			if err != nil {
				return err
			}
			c, _ := res.RowsAffected()
			n += c
		}
		return nil
	})
	return int(n), err
}

func (s *sqliteBackend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
