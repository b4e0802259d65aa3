package pgstore

import (
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
)

// DefaultTable is the queue table name.
const DefaultTable = "mail_queue"

// Schema creates the default queue table. The store never runs it; it is
// published for operators and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS mail_queue (
    id                TEXT PRIMARY KEY,
    payload           BYTEA NOT NULL,
    queued_time       TIMESTAMPTZ NOT NULL,
    sent_time         TIMESTAMPTZ,
    attempts          INTEGER NOT NULL DEFAULT 0,
    last_attempt_time TIMESTAMPTZ,
    locked_until      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS mail_queue_eligible_idx
    ON mail_queue (queued_time, id) WHERE sent_time IS NULL;
`

const columns = "id, payload, queued_time, sent_time, attempts, last_attempt_time, locked_until"

type row struct {
	ID              string     `db:"id"`
	Payload         []byte     `db:"payload"`
	QueuedTime      time.Time  `db:"queued_time"`
	SentTime        *time.Time `db:"sent_time"`
	Attempts        int        `db:"attempts"`
	LastAttemptTime *time.Time `db:"last_attempt_time"`
	LockedUntil     *time.Time `db:"locked_until"`
}

func (r row) toRecord() mailqueue.QueueRecord {
	return mailqueue.QueueRecord{
		ID:              r.ID,
		Payload:         r.Payload,
		QueuedTime:      r.QueuedTime,
		SentTime:        r.SentTime,
		Attempts:        r.Attempts,
		LastAttemptTime: r.LastAttemptTime,
		LockedUntil:     r.LockedUntil,
	}
}

func toRecords(rows []row) []mailqueue.QueueRecord {
	out := make([]mailqueue.QueueRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out
}
