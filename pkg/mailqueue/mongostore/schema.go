package mongostore

import (
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
)

// CollectionName is the default queue collection.
const CollectionName = "mail_queue"

const (
	fieldID              = "_id"
	fieldPayload         = "payload"
	fieldQueuedTime      = "queuedTime"
	fieldSentTime        = "sentTime"
	fieldAttempts        = "attempts"
	fieldLastAttemptTime = "lastAttemptTime"
	fieldLockedUntil     = "lockedUntil"
)

type document struct {
	ID              string     `bson:"_id"`
	Payload         []byte     `bson:"payload"`
	QueuedTime      time.Time  `bson:"queuedTime"`
	SentTime        *time.Time `bson:"sentTime,omitempty"`
	Attempts        int        `bson:"attempts"`
	LastAttemptTime *time.Time `bson:"lastAttemptTime,omitempty"`
	LockedUntil     *time.Time `bson:"lockedUntil,omitempty"`
}

func toDocument(r mailqueue.QueueRecord) document {
	return document{
		ID:              r.ID,
		Payload:         r.Payload,
		QueuedTime:      r.QueuedTime.UTC(),
		SentTime:        utc(r.SentTime),
		Attempts:        r.Attempts,
		LastAttemptTime: utc(r.LastAttemptTime),
		LockedUntil:     utc(r.LockedUntil),
	}
}

func (d document) toRecord() mailqueue.QueueRecord {
	return mailqueue.QueueRecord{
		ID:              d.ID,
		Payload:         d.Payload,
		QueuedTime:      d.QueuedTime,
		SentTime:        d.SentTime,
		Attempts:        d.Attempts,
		LastAttemptTime: d.LastAttemptTime,
		LockedUntil:     d.LockedUntil,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
