// Package sqlqueue is a durable queue.Queue backed by SQLite, for hosts
// that need delivery state to survive a process restart (an in-process
// map does not). Grounded on this module's WAL-mode SQLite connection
// setup, generalized from a document store to a visibility-timeout FIFO.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/queue"
)

// Config carries the durability/redelivery knobs.
type Config struct {
	MaxDeliveryAttempts int
	VisibilityTimeout   time.Duration
	PollInterval        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = 5
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// Queue implements queue.Queue against a SQLite database file.
type Queue struct {
	db  *sql.DB
	cfg Config
}

var _ queue.Queue = (*Queue)(nil)

// handle identifies one delivered row for Ack/Nack.
type handle struct {
	id        int64
	queueName string
}

// Open opens (creating if absent) the SQLite database at path and
// prepares its schema.
func Open(path string, cfg Config) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA synchronous=NORMAL`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlqueue: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlqueue: init schema: %w", err)
	}
	return &Queue{db: db, cfg: cfg.withDefaults()}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_name      TEXT NOT NULL,
	index_name      TEXT NOT NULL,
	document_id     TEXT NOT NULL,
	step_name       TEXT NOT NULL,
	delivery_count  INTEGER NOT NULL DEFAULT 0,
	visible_at      INTEGER NOT NULL,
	poisoned        INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_queue_visible ON messages(queue_name, poisoned, visible_at);
`

func (q *Queue) Enqueue(ctx context.Context, queueName string, msg *queue.Message) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO messages (queue_name, index_name, document_id, step_name, delivery_count, visible_at, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		queueName, msg.IndexName, msg.DocumentID, msg.StepName, now, now)
	if err != nil {
		return kmerrors.New(kmerrors.Transient, "sqlqueue.Enqueue", err)
	}
	return nil
}

// Dequeue polls for the oldest visible, non-poisoned message on
// queueName, claiming it by pushing its visibility out by
// VisibilityTimeout and incrementing its delivery count.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*queue.Message, queue.Handle, error) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		msg, h, err := q.tryClaim(ctx, queueName)
		if err != nil {
			return nil, nil, err
		}
		if msg != nil {
			return msg, h, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryClaim(ctx context.Context, queueName string) (*queue.Message, queue.Handle, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, kmerrors.New(kmerrors.Transient, "sqlqueue.Dequeue", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	row := tx.QueryRowContext(ctx,
		`SELECT id, index_name, document_id, step_name, delivery_count FROM messages
		 WHERE queue_name = ? AND poisoned = 0 AND visible_at <= ?
		 ORDER BY id ASC LIMIT 1`, queueName, now)

	var id int64
	var m queue.Message
	if err := row.Scan(&id, &m.IndexName, &m.DocumentID, &m.StepName, &m.DeliveryCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, kmerrors.New(kmerrors.Transient, "sqlqueue.Dequeue", err)
	}

	m.DeliveryCount++
	visibleAt := time.Now().Add(q.cfg.VisibilityTimeout).UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET delivery_count = ?, visible_at = ? WHERE id = ?`,
		m.DeliveryCount, visibleAt, id); err != nil {
		return nil, nil, kmerrors.New(kmerrors.Transient, "sqlqueue.Dequeue", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, kmerrors.New(kmerrors.Transient, "sqlqueue.Dequeue", err)
	}
	return &m, handle{id: id, queueName: queueName}, nil
}

func (q *Queue) Ack(ctx context.Context, h queue.Handle) error {
	hh, ok := h.(handle)
	if !ok {
		return kmerrors.Newf(kmerrors.Fatal, "sqlqueue.Ack", "unexpected handle type %T", h)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, hh.id); err != nil {
		return kmerrors.New(kmerrors.Transient, "sqlqueue.Ack", err)
	}
	return nil
}

func (q *Queue) Nack(ctx context.Context, h queue.Handle) error {
	hh, ok := h.(handle)
	if !ok {
		return kmerrors.Newf(kmerrors.Fatal, "sqlqueue.Nack", "unexpected handle type %T", h)
	}
	var deliveryCount int
	row := q.db.QueryRowContext(ctx, `SELECT delivery_count FROM messages WHERE id = ?`, hh.id)
	if err := row.Scan(&deliveryCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil // already acked/gone
		}
		return kmerrors.New(kmerrors.Transient, "sqlqueue.Nack", err)
	}

	if deliveryCount >= q.cfg.MaxDeliveryAttempts {
		_, err := q.db.ExecContext(ctx, `UPDATE messages SET poisoned = 1 WHERE id = ?`, hh.id)
		if err != nil {
			return kmerrors.New(kmerrors.Transient, "sqlqueue.Nack", err)
		}
		return nil
	}
	_, err := q.db.ExecContext(ctx, `UPDATE messages SET visible_at = ? WHERE id = ?`, time.Now().UnixMilli(), hh.id)
	if err != nil {
		return kmerrors.New(kmerrors.Transient, "sqlqueue.Nack", err)
	}
	return nil
}

// PoisonMessages returns every message on queueName that exhausted its
// delivery attempts, for operator inspection or manual replay.
func (q *Queue) PoisonMessages(ctx context.Context, queueName string) ([]*queue.Message, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT index_name, document_id, step_name, delivery_count FROM messages
		 WHERE queue_name = ? AND poisoned = 1 ORDER BY id ASC`, queueName)
	if err != nil {
		return nil, kmerrors.New(kmerrors.Transient, "sqlqueue.PoisonMessages", err)
	}
	defer rows.Close()

	var out []*queue.Message
	for rows.Next() {
		var m queue.Message
		if err := rows.Scan(&m.IndexName, &m.DocumentID, &m.StepName, &m.DeliveryCount); err != nil {
			return nil, kmerrors.New(kmerrors.Transient, "sqlqueue.PoisonMessages", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Sweep requeues every poisoned message across every queue, making it
// visible immediately, clearing the poisoned flag and resetting its
// delivery count to zero so it gets MaxDeliveryAttempts fresh tries.
// Intended to be called periodically by a cron-driven maintenance job.
func (q *Queue) Sweep(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE messages SET poisoned = 0, delivery_count = 0, visible_at = ? WHERE poisoned = 1`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, kmerrors.New(kmerrors.Transient, "sqlqueue.Sweep", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (q *Queue) Close() error {
	if err := q.db.Close(); err != nil {
		return kmerrors.New(kmerrors.Transient, "sqlqueue.Close", err)
	}
	return nil
}

var _ io.Closer = (*Queue)(nil)
