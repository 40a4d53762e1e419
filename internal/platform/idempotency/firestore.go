package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/inkfold/api/internal/platform/firestore"
)

const (
	defaultCollection  = "idempotencyKeys"
	defaultMaxAttempts = 5
	defaultCleanupSize = 100
)

type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection that holds idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collectionName = name
		}
	}
}

// WithMaxAttempts caps transaction retries on contention.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// FirestoreStore keeps one document per hashed key and reserves keys inside a
// transaction so concurrent first requests cannot both win.
type FirestoreStore struct {
	provider       *pfirestore.Provider
	collectionName string
	maxAttempts    int
	records        *pfirestore.Collection[Record]
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{
		provider:       provider,
		collectionName: defaultCollection,
		maxAttempts:    defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.records = pfirestore.NewCollection[Record](provider, s.collectionName)
	return s
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ref, err := s.records.Ref(ctx, storageKey(key))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.update(ctx, ref, func(existing *Record) (*Record, error) {
		if existing != nil && !existing.expired(now) {
			res, err := existing.resume(fingerprint)
			result = res
			return nil, err
		}
		record := pendingRecord(key, fingerprint, now, ttl)
		result = Reservation{State: ReservationStateNew, Record: record}
		return &record, nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.records.Ref(ctx, storageKey(key))
	if err != nil {
		return err
	}
	return s.update(ctx, ref, func(existing *Record) (*Record, error) {
		record := Record{Key: key, Fingerprint: fingerprint}
		if existing != nil {
			if existing.Fingerprint != fingerprint {
				return nil, ErrFingerprintMismatch
			}
			record = *existing
		}
		record.complete(resp, now, ttl)
		return &record, nil
	})
}

// update reads the document inside a transaction and writes whatever mutate returns.
// A nil record leaves the document untouched.
func (s *FirestoreStore) update(ctx context.Context, ref *firestore.DocumentRef, mutate func(*Record) (*Record, error)) error {
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing *Record
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var record Record
			if err := snap.DataTo(&record); err != nil {
				return fmt.Errorf("idempotency: decode %s: %w", ref.ID, err)
			}
			existing = &record
		case !isNotFound(err):
			return err
		}

		next, err := mutate(existing)
		if err != nil {
			return pfirestore.Abort(err)
		}
		if next == nil {
			return nil
		}
		return tx.Set(ref, *next)
	}, pfirestore.WithTxAttempts(s.maxAttempts))
}

func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	ref, err := s.records.Ref(ctx, storageKey(key))
	if err != nil {
		return err
	}
	// Deleting a missing document succeeds without a precondition.
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

// CleanupExpired deletes up to limit keys whose expiry has passed.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupSize
	}
	expired, err := s.records.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expires_at", "<=", now.UTC()).Limit(limit)
	})
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(expired))
	for _, doc := range expired {
		job, err := writer.Delete(client.Collection(s.collectionName).Doc(doc.ID))
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = pfirestore.WrapError("idempotency.cleanup", err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func isNotFound(err error) bool {
	var ferr *pfirestore.Error
	return errors.As(pfirestore.WrapError("idempotency.get", err), &ferr) && ferr.IsNotFound()
}
