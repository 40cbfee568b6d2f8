package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/extask/pkg/api"
)

// SQLiteQueue is a persistent Queue backed by SQLite. The columns used to
// select fetchable tasks are stored explicitly; the full task record is
// kept as a gob blob next to them.
type SQLiteQueue struct {
	db *sql.DB
}

// NewSQLiteQueue initializes the external_tasks table in the given DB and
// returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{db: db}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS external_tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL,
			worker_id TEXT NOT NULL,
			lock_expiration INTEGER NOT NULL,
			not_before INTEGER NOT NULL,
			data BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS external_tasks_fetch
			ON external_tasks (status, topic, not_before);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO external_tasks (id, topic, status, priority, worker_id, lock_expiration, not_before, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.TopicName,
		string(t.Status),
		t.Priority,
		t.WorkerID,
		unixNano(t.LockExpiration),
		unixNano(t.NotBefore),
		data,
	)
	return err
}

func (q *SQLiteQueue) Claim(ctx context.Context, c Claim) ([]Task, error) {
	if len(c.Topics) == 0 || c.MaxTasks <= 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := c.Now.UnixNano()
	args := []any{string(StatusOpen), now, now}
	marks := make([]string, len(c.Topics))
	for i, tl := range c.Topics {
		marks[i] = "?"
		args = append(args, tl.TopicName)
	}
	order := "seq"
	if c.UsePriority {
		order = "priority DESC, seq"
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, data FROM external_tasks
		WHERE status = ? AND not_before <= ? AND (worker_id = '' OR lock_expiration <= ?)
			AND topic IN (`+strings.Join(marks, ", ")+`)
		ORDER BY `+order, args...)
	if err != nil {
		return nil, err
	}

	cl := newClaimer(c)
	var out []Task
	for rows.Next() && !cl.done() {
		var (
			seq  int64
			data []byte
		)
		if err := rows.Scan(&seq, &data); err != nil {
			_ = rows.Close()
			return nil, err
		}
		t, err := DecodeTask(data)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode task: %w", err)
		}
		t.seq = seq
		if cl.take(t) {
			out = append(out, *t)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := q.write(ctx, tx, &out[i]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Task, error) {
	return q.get(ctx, q.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (q *SQLiteQueue) get(ctx context.Context, db queryer, id string) (*Task, error) {
	var (
		seq  int64
		data []byte
	)
	err := db.QueryRowContext(ctx, `SELECT seq, data FROM external_tasks WHERE id = ?`, id).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", api.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	t, err := DecodeTask(data)
	if err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t.seq = seq
	return t, nil
}

func (q *SQLiteQueue) Update(ctx context.Context, id string, fn func(*Task) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := q.get(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := q.write(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *SQLiteQueue) write(ctx context.Context, tx *sql.Tx, t *Task) error {
	data, err := EncodeTask(*t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE external_tasks
		SET status = ?, priority = ?, worker_id = ?, lock_expiration = ?, not_before = ?, data = ?
		WHERE seq = ?`,
		string(t.Status),
		t.Priority,
		t.WorkerID,
		unixNano(t.LockExpiration),
		unixNano(t.NotBefore),
		data,
		t.seq,
	)
	return err
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM external_tasks WHERE status = ?`, string(StatusOpen)).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
