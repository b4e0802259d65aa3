// Package redisstore keeps the mail queue in Redis: a hash of record JSON, a
// sorted set of unsent record ids ordered by queued time and a sorted set of
// exhausted record ids scored by attempts.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const scanCount = 500

var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
if ARGV[3] ~= '' then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
end
return 1
`)

var updateScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
  return 0
end
local doc = cjson.decode(raw)
doc.attempts = tonumber(ARGV[2])
doc.lastAttemptTime = ARGV[3]
doc.lockedUntil = nil
if ARGV[4] ~= '' then
  doc.sentTime = ARGV[4]
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
end
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(doc))
return 1
`)

// Store does not implement mailqueue.Claimer; run a single dispatcher
// against it.
type Store struct {
	rdb          redis.UniversalClient
	recordsKey   string
	pendingKey   string
	exhaustedKey string
}

var _ mailqueue.Repository = (*Store)(nil)

// New uses keys under prefix. All keys share a hash tag so that the scripts
// and transactions work on Redis Cluster.
func New(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{
		rdb:          rdb,
		recordsKey:   fmt.Sprintf("{%s}:records", prefix),
		pendingKey:   fmt.Sprintf("{%s}:pending", prefix),
		exhaustedKey: fmt.Sprintf("{%s}:exhausted", prefix),
	}
}

func (s *Store) Enqueue(ctx context.Context, record mailqueue.QueueRecord) error {
	raw, err := encode(record)
	if err != nil {
		return err
	}
	pending := ""
	if record.SentTime == nil {
		pending = strconv.FormatFloat(score(record.QueuedTime), 'f', -1, 64)
	}

	added, err := enqueueScript.Run(ctx, s.rdb, []string{s.recordsKey, s.pendingKey}, record.ID, raw, pending).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue queue record: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("failed to enqueue %s: %w", record.ID, mailqueue.ErrDuplicateRecord)
	}
	return nil
}

// SelectEligible walks the pending set oldest first. Exhaustion depends on
// maxAttempts, so unsent records found at the ceiling are parked in the
// exhausted set here, and parked records below a raised ceiling go back to
// the pending set first.
func (s *Store) SelectEligible(ctx context.Context, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	if err := s.revive(ctx, maxAttempts); err != nil {
		return nil, err
	}

	chunk := int64(max(limit*2, 64))
	var out []mailqueue.QueueRecord

	for start := int64(0); len(out) < limit; {
		ids, err := s.rdb.ZRange(ctx, s.pendingKey, start, start+chunk-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read pending queue: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		records, err := s.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		var exhausted []mailqueue.QueueRecord
		for _, r := range records {
			switch {
			case r.Eligible(maxAttempts):
				if len(out) < limit {
					out = append(out, r)
				}
			case r.SentTime == nil:
				exhausted = append(exhausted, r)
			}
		}
		if err := s.park(ctx, exhausted); err != nil {
			return nil, err
		}
		// Parked ids left the pending set, so the next chunk starts earlier.
		start += int64(len(ids) - len(exhausted))
	}
	return out, nil
}

// park moves exhausted records from the pending set to the exhausted set.
func (s *Store) park(ctx context.Context, records []mailqueue.QueueRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			pipe.ZRem(ctx, s.pendingKey, r.ID)
			pipe.ZAdd(ctx, s.exhaustedKey, redis.Z{Score: float64(r.Attempts), Member: r.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to park exhausted queue records: %w", err)
	}
	return nil
}

// revive returns parked records with fewer than maxAttempts attempts to the
// pending set.
func (s *Store) revive(ctx context.Context, maxAttempts int) error {
	ids, err := s.rdb.ZRangeByScore(ctx, s.exhaustedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.Itoa(maxAttempts),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read exhausted queue: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	records, err := s.load(ctx, ids)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.exhaustedKey, lo.ToAnySlice(ids)...)
		for _, r := range records {
			if r.SentTime == nil {
				pipe.ZAdd(ctx, s.pendingKey, redis.Z{Score: score(r.QueuedTime), Member: r.ID})
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revive exhausted queue records: %w", err)
	}
	return nil
}

func (s *Store) UpdatePartial(ctx context.Context, id string, update mailqueue.Update) error {
	sent := ""
	if update.SentTime != nil {
		sent = update.SentTime.UTC().Format(time.RFC3339Nano)
	}

	found, err := updateScript.Run(ctx, s.rdb, []string{s.recordsKey, s.pendingKey, s.exhaustedKey},
		id, update.Attempts, update.LastAttemptTime.UTC().Format(time.RFC3339Nano), sent,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update queue record: %w", err)
	}
	if found == 0 {
		return fmt.Errorf("failed to update %s: %w", id, mailqueue.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (mailqueue.QueueRecord, error) {
	raw, err := s.rdb.HGet(ctx, s.recordsKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return mailqueue.QueueRecord{}, mailqueue.ErrRecordNotFound
		}
		return mailqueue.QueueRecord{}, fmt.Errorf("failed to get queue record: %w", err)
	}
	return decode(raw)
}

func (s *Store) ListByState(ctx context.Context, state mailqueue.State, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	var out []mailqueue.QueueRecord
	err := s.scan(ctx, func(r mailqueue.QueueRecord) {
		if r.State(maxAttempts) == state {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedTime.Equal(out[j].QueuedTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].QueuedTime.Before(out[j].QueuedTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Counts(ctx context.Context, maxAttempts int) (mailqueue.StateCounts, error) {
	var counts mailqueue.StateCounts
	err := s.scan(ctx, func(r mailqueue.QueueRecord) {
		switch r.State(maxAttempts) {
		case mailqueue.StatePending:
			counts.Pending++
		case mailqueue.StateSent:
			counts.Sent++
		case mailqueue.StateExhausted:
			counts.Exhausted++
		}
	})
	if err != nil {
		return mailqueue.StateCounts{}, err
	}
	return counts, nil
}

// load fetches records by id, dropping ids whose record is gone.
func (s *Store) load(ctx context.Context, ids []string) ([]mailqueue.QueueRecord, error) {
	values, err := s.rdb.HMGet(ctx, s.recordsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load queue records: %w", err)
	}

	records := make([]mailqueue.QueueRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decode(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// scan visits every stored record once. HSCAN may repeat fields across
// iterations, so visited ids are tracked.
func (s *Store) scan(ctx context.Context, visit func(mailqueue.QueueRecord)) error {
	var cursor uint64
	seen := make(map[string]struct{})
	for {
		kvs, next, err := s.rdb.HScan(ctx, s.recordsKey, cursor, "", scanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan queue records: %w", err)
		}
		// HSCAN returns field, value pairs.
		for i := 1; i < len(kvs); i += 2 {
			if _, dup := seen[kvs[i-1]]; dup {
				continue
			}
			seen[kvs[i-1]] = struct{}{}
			r, err := decode(kvs[i])
			if err != nil {
				return err
			}
			visit(r)
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
