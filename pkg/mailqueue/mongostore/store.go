// Package mongostore keeps the mail queue in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Store struct {
	coll    *mongo.Collection
	timeout time.Duration
}

var (
	_ mailqueue.Repository = (*Store)(nil)
	_ mailqueue.Claimer    = (*Store)(nil)
)

// New wraps a collection. Every operation runs with the given timeout;
// zero disables it.
func New(coll *mongo.Collection, timeout time.Duration) *Store {
	return &Store{coll: coll, timeout: timeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureIndexes creates the selection index if it does not exist.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: fieldSentTime, Value: 1},
			{Key: fieldAttempts, Value: 1},
			{Key: fieldQueuedTime, Value: 1},
		},
		Options: options.Index().SetName("eligible_fifo"),
	})
	if err != nil {
		return fmt.Errorf("failed to create queue index: %w", err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, record mailqueue.QueueRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.coll.InsertOne(ctx, toDocument(record)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to enqueue %s: %w", record.ID, mailqueue.ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to insert queue record: %w", err)
	}
	return nil
}

func (s *Store) SelectEligible(ctx context.Context, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	return s.find(ctx, stateFilter(mailqueue.StatePending, maxAttempts), limit)
}

// ClaimEligible leases records one at a time with FindOneAndUpdate, so a
// record is claimed by exactly one caller.
func (s *Store) ClaimEligible(ctx context.Context, maxAttempts int, limit int, now time.Time, leaseUntil time.Time) ([]mailqueue.QueueRecord, error) {
	filter := stateFilter(mailqueue.StatePending, maxAttempts)
	filter[fieldLockedUntil] = bson.M{"$not": bson.M{"$gt": now.UTC()}}
	update := bson.M{"$set": bson.M{fieldLockedUntil: leaseUntil.UTC()}}
	opts := options.FindOneAndUpdate().
		SetSort(fifo()).
		SetReturnDocument(options.After)

	var claimed []mailqueue.QueueRecord
	for len(claimed) < limit {
		var doc document
		err := func() error {
			ctx, cancel := s.withTimeout(ctx)
			defer cancel()
			return s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		}()
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			err = fmt.Errorf("failed to claim queue record: %w", err)
			if relErr := s.release(ctx, claimed); relErr != nil {
				err = errors.Join(err, relErr)
			}
			return nil, err
		}
		claimed = append(claimed, doc.toRecord())
	}
	return claimed, nil
}

// release drops the leases taken by a claim that failed partway.
func (s *Store) release(ctx context.Context, records []mailqueue.QueueRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	ids := lo.Map(records, func(r mailqueue.QueueRecord, _ int) string { return r.ID })
	_, err := s.coll.UpdateMany(ctx,
		bson.M{fieldID: bson.M{"$in": ids}},
		bson.M{"$unset": bson.M{fieldLockedUntil: ""}},
	)
	if err != nil {
		return fmt.Errorf("failed to release claimed queue records: %w", err)
	}
	return nil
}

func (s *Store) UpdatePartial(ctx context.Context, id string, update mailqueue.Update) error {
	set := bson.M{
		fieldAttempts:        update.Attempts,
		fieldLastAttemptTime: update.LastAttemptTime.UTC(),
	}
	if update.SentTime != nil {
		set[fieldSentTime] = update.SentTime.UTC()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{fieldID: id},
		bson.M{"$set": set, "$unset": bson.M{fieldLockedUntil: ""}},
	)
	if err != nil {
		return fmt.Errorf("failed to update queue record: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("failed to update %s: %w", id, mailqueue.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (mailqueue.QueueRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc document
	if err := s.coll.FindOne(ctx, bson.M{fieldID: id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return mailqueue.QueueRecord{}, mailqueue.ErrRecordNotFound
		}
		return mailqueue.QueueRecord{}, fmt.Errorf("failed to get queue record: %w", err)
	}
	return doc.toRecord(), nil
}

func (s *Store) ListByState(ctx context.Context, state mailqueue.State, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	return s.find(ctx, stateFilter(state, maxAttempts), limit)
}

func (s *Store) Counts(ctx context.Context, maxAttempts int) (mailqueue.StateCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var counts mailqueue.StateCounts
	for state, dst := range map[mailqueue.State]*int64{
		mailqueue.StatePending:   &counts.Pending,
		mailqueue.StateSent:      &counts.Sent,
		mailqueue.StateExhausted: &counts.Exhausted,
	} {
		n, err := s.coll.CountDocuments(ctx, stateFilter(state, maxAttempts))
		if err != nil {
			return mailqueue.StateCounts{}, fmt.Errorf("failed to count %s records: %w", state, err)
		}
		*dst = n
	}
	return counts, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, limit int) ([]mailqueue.QueueRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(fifo())
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find queue records: %w", err)
	}

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode queue records: %w", err)
	}

	records := make([]mailqueue.QueueRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.toRecord())
	}
	return records, nil
}

// stateFilter matches records in the given state. A missing sentTime and a
// null one are treated alike.
func stateFilter(state mailqueue.State, maxAttempts int) bson.M {
	switch state {
	case mailqueue.StateSent:
		return bson.M{fieldSentTime: bson.M{"$ne": nil}}
	case mailqueue.StateExhausted:
		return bson.M{fieldSentTime: nil, fieldAttempts: bson.M{"$gte": maxAttempts}}
	default:
		return bson.M{fieldSentTime: nil, fieldAttempts: bson.M{"$lt": maxAttempts}}
	}
}

func fifo() bson.D {
	return bson.D{{Key: fieldQueuedTime, Value: 1}, {Key: fieldID, Value: 1}}
}
