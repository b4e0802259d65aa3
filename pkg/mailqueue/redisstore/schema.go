package redisstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
)

// document is the JSON stored per record. The update script edits the
// attempts, lastAttemptTime, sentTime and lockedUntil fields by name.
type document struct {
	ID              string     `json:"id"`
	Payload         []byte     `json:"payload"`
	QueuedTime      time.Time  `json:"queuedTime"`
	SentTime        *time.Time `json:"sentTime,omitempty"`
	Attempts        int        `json:"attempts"`
	LastAttemptTime *time.Time `json:"lastAttemptTime,omitempty"`
	LockedUntil     *time.Time `json:"lockedUntil,omitempty"`
}

func encode(r mailqueue.QueueRecord) (string, error) {
	data, err := json.Marshal(document{
		ID:              r.ID,
		Payload:         r.Payload,
		QueuedTime:      r.QueuedTime.UTC(),
		SentTime:        r.SentTime,
		Attempts:        r.Attempts,
		LastAttemptTime: r.LastAttemptTime,
		LockedUntil:     r.LockedUntil,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode queue record: %w", err)
	}
	return string(data), nil
}

func decode(raw string) (mailqueue.QueueRecord, error) {
	var d document
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return mailqueue.QueueRecord{}, fmt.Errorf("failed to decode queue record: %w", err)
	}
	return mailqueue.QueueRecord{
		ID:              d.ID,
		Payload:         d.Payload,
		QueuedTime:      d.QueuedTime,
		SentTime:        d.SentTime,
		Attempts:        d.Attempts,
		LastAttemptTime: d.LastAttemptTime,
		LockedUntil:     d.LockedUntil,
	}, nil
}

// score orders the pending set. Microseconds stay exact in a float64 and
// equal scores fall back to member order, which is the record id.
func score(queued time.Time) float64 {
	return float64(queued.UnixMicro())
}
